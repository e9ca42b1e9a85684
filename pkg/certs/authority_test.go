package certs

import (
	"crypto/tls"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testKeyBits keeps identity generation fast.
const testKeyBits = 2048

func openTest(t *testing.T, dir string, opts ...Option) *Authority {
	t.Helper()
	a, err := Open(dir, "mockstage", append([]Option{WithKeyBits(testKeyBits)}, opts...)...)
	require.NoError(t, err)
	return a
}

func TestOpen_GeneratesAndExports(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	a := openTest(t, dir)

	assert.FileExists(t, filepath.Join(dir, "mockstage_keystore.jks"))
	assert.FileExists(t, a.CertPath())
	assert.Equal(t, "mockstage", a.CACertificate().Subject.CommonName)
	assert.True(t, a.CACertificate().IsCA)
	assert.Len(t, a.Fingerprint(), 64)

	exported, err := os.ReadFile(a.CertPath())
	require.NoError(t, err)
	assert.Contains(t, string(exported), "BEGIN CERTIFICATE")
}

func TestOpen_ReusesKeystore(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	first := openTest(t, dir)
	cert, err := first.CertificateFor("api.example.com")
	require.NoError(t, err)
	require.Equal(t, 1, first.Generated())

	second := openTest(t, dir)
	assert.Equal(t, first.Fingerprint(), second.Fingerprint(), "identity must not rotate")

	again, err := second.CertificateFor("api.example.com")
	require.NoError(t, err)
	assert.Equal(t, 0, second.Generated(), "host keystore is loaded, not regenerated")
	assert.Equal(t, cert.Leaf.SerialNumber, again.Leaf.SerialNumber)
}

func TestOpen_CorruptKeystore(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "mockstage_keystore.jks")
	require.NoError(t, os.WriteFile(path, []byte("not a keystore"), 0o600))

	_, err := Open(dir, "mockstage", WithKeyBits(testKeyBits))
	var cerr *CertificateError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, "load", cerr.Op)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "not a keystore", string(content), "corrupt keystore is left alone")
}

func TestOpen_WrongPassword(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	openTest(t, dir)

	_, err := Open(dir, "mockstage", WithPassword("another secret"))
	var cerr *CertificateError
	assert.True(t, errors.As(err, &cerr))
}

func TestOpen_InvalidArguments(t *testing.T) {
	t.Parallel()

	_, err := Open(t.TempDir(), "a/b")
	assert.Error(t, err)

	_, err = Open(t.TempDir(), "mockstage", WithPassword("short"))
	assert.Error(t, err)
}

func TestCertificateFor_ConcurrentGeneratesOnce(t *testing.T) {
	t.Parallel()

	a := openTest(t, t.TempDir())

	const workers = 16
	results := make([]*tls.Certificate, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = a.CertificateFor("shop.example.com")
		}(i)
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		assert.Same(t, results[0], results[i])
	}
	assert.Equal(t, 1, a.Generated())

	entries, err := os.ReadDir(filepath.Join(a.dir, hostsDir))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestCertificateFor_NormalizesHost(t *testing.T) {
	t.Parallel()

	a := openTest(t, t.TempDir())

	c1, err := a.CertificateFor("Example.COM:443")
	require.NoError(t, err)
	c2, err := a.CertificateFor("example.com")
	require.NoError(t, err)
	assert.Same(t, c1, c2)
	assert.Contains(t, c1.Leaf.DNSNames, "example.com")
	require.NoError(t, c1.Leaf.CheckSignatureFrom(a.CACertificate()))

	_, err = a.CertificateFor("")
	assert.ErrorIs(t, err, ErrInvalidHost)
	_, err = a.CertificateFor("../etc")
	assert.ErrorIs(t, err, ErrInvalidHost)
}

func TestCertificateFor_CorruptHostKeystore(t *testing.T) {
	t.Parallel()

	a := openTest(t, t.TempDir())
	path := a.hostPath("broken.example.com")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o700))
	require.NoError(t, os.WriteFile(path, []byte("junk"), 0o600))

	_, err := a.CertificateFor("broken.example.com")
	var cerr *CertificateError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, "broken.example.com", cerr.Host)
	assert.Equal(t, 0, a.Generated())
}

func TestServerConfig_Handshake(t *testing.T) {
	t.Parallel()

	a := openTest(t, t.TempDir())

	srv := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "secure")
	}))
	srv.TLS = a.ServerConfig("localhost")
	srv.StartTLS()
	defer srv.Close()

	client := &http.Client{Transport: &http.Transport{
		TLSClientConfig: &tls.Config{RootCAs: a.CertPool(), ServerName: "localhost", MinVersion: tls.VersionTLS12},
	}}
	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "secure", string(body))
}

func TestClientConfig(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	strict := openTest(t, dir)
	assert.False(t, strict.ClientConfig().InsecureSkipVerify)
	assert.Nil(t, strict.ClientConfig().GetClientCertificate)

	lax := openTest(t, dir, WithTrustAllServers(true), WithSendCerts(true))
	cfg := lax.ClientConfig()
	assert.True(t, cfg.InsecureSkipVerify)
	require.NotNil(t, cfg.GetClientCertificate)
	cert, err := cfg.GetClientCertificate(&tls.CertificateRequestInfo{})
	require.NoError(t, err)
	assert.Equal(t, lax.CACertificate().Raw, cert.Certificate[0])
}
