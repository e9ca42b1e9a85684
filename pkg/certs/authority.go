package certs

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cloudflare/cfssl/csr"
	"github.com/cloudflare/cfssl/helpers"
	cfsslLog "github.com/cloudflare/cfssl/log"
	"github.com/cloudflare/cfssl/signer"
	"github.com/cloudflare/cfssl/signer/local"

	"github.com/mockstage/mockstage/pkg/logging"
)

const (
	// DefaultKeyBits is the RSA key size of the identity key.
	DefaultKeyBits = 4096
	// DefaultValidityDays is the validity of the identity certificate.
	DefaultValidityDays = 36500
	// DefaultPassword protects the keystores.
	DefaultPassword = "Be Your Own Lantern"

	hostsDir = "hosts"
)

var quietCFSSL sync.Once

// Authority mints and caches per-host certificates signed by a persisted
// identity.
type Authority struct {
	dir       string
	name      string
	password  []byte
	keyBits   int
	trustAll  bool
	sendCerts bool
	log       *slog.Logger

	caCert   *x509.Certificate
	caKey    crypto.Signer
	identity tls.Certificate
	signer   signer.Signer

	hosts     sync.Map // host -> *hostEntry
	generated atomic.Int64
}

type hostEntry struct {
	mu   sync.Mutex
	cert *tls.Certificate
}

// Option configures an Authority.
type Option func(*Authority)

// WithKeyBits sets the RSA key size used when generating the identity.
func WithKeyBits(bits int) Option {
	return func(a *Authority) {
		if bits > 0 {
			a.keyBits = bits
		}
	}
}

// WithPassword sets the keystore password. JKS requires at least six
// characters.
func WithPassword(password string) Option {
	return func(a *Authority) {
		a.password = []byte(password)
	}
}

// WithTrustAllServers makes ClientConfig skip origin verification.
func WithTrustAllServers(trust bool) Option {
	return func(a *Authority) {
		a.trustAll = trust
	}
}

// WithSendCerts makes ClientConfig present the identity to origins.
func WithSendCerts(send bool) Option {
	return func(a *Authority) {
		a.sendCerts = send
	}
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(a *Authority) {
		if log != nil {
			a.log = log
		}
	}
}

// Open loads the identity keystore <dir>/<name>_keystore.jks, generating it
// when the file does not exist, and exports the identity certificate.
func Open(dir, name string, opts ...Option) (*Authority, error) {
	if name == "" || strings.ContainsAny(name, `/\`) {
		return nil, &CertificateError{Op: "open", Err: fmt.Errorf("invalid identity name %q", name)}
	}

	a := &Authority{
		dir:      dir,
		name:     name,
		password: []byte(DefaultPassword),
		keyBits:  DefaultKeyBits,
		log:      logging.Nop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if len(a.password) < 6 {
		return nil, &CertificateError{Op: "open", Err: errors.New("keystore password must be at least 6 characters")}
	}

	path := a.KeystorePath()
	pair, err := readKeystore(path, name, a.password)
	switch {
	case err == nil:
		a.log.Debug("loaded identity keystore", "path", path)
	case errors.Is(err, os.ErrNotExist):
		pair, err = a.generateIdentity()
		if err != nil {
			return nil, &CertificateError{Op: "generate", Path: path, Err: err}
		}
		if err := writeKeystore(path, name, a.password, pair); err != nil {
			return nil, &CertificateError{Op: "store", Path: path, Err: err}
		}
		a.log.Info("generated identity keystore", "path", path)
	default:
		return nil, &CertificateError{Op: "load", Path: path, Err: err}
	}

	a.caCert = pair.chain[0]
	a.caKey = pair.key
	a.identity = tls.Certificate{
		Certificate: [][]byte{a.caCert.Raw},
		PrivateKey:  a.caKey,
		Leaf:        a.caCert,
	}

	if err := a.exportCertificate(); err != nil {
		return nil, &CertificateError{Op: "export", Path: a.CertPath(), Err: err}
	}

	quietCFSSL.Do(func() {
		cfsslLog.Level = cfsslLog.LevelError
	})
	s, err := local.NewSigner(a.caKey, a.caCert, signer.DefaultSigAlgo(a.caKey), nil)
	if err != nil {
		return nil, &CertificateError{Op: "signer", Err: err}
	}
	a.signer = s

	return a, nil
}

// KeystorePath returns the identity keystore location.
func (a *Authority) KeystorePath() string {
	return filepath.Join(a.dir, a.name+"_keystore.jks")
}

// CertPath returns the exported identity certificate location.
func (a *Authority) CertPath() string {
	return filepath.Join(a.dir, a.name+"_cert.pem")
}

// CACertificate returns the identity certificate.
func (a *Authority) CACertificate() *x509.Certificate {
	return a.caCert
}

// Fingerprint returns the SHA-256 fingerprint of the identity certificate.
func (a *Authority) Fingerprint() string {
	sum := sha256.Sum256(a.caCert.Raw)
	return hex.EncodeToString(sum[:])
}

// Generated returns how many host certificates this process has signed.
// Hosts loaded from disk are not counted.
func (a *Authority) Generated() int {
	return int(a.generated.Load())
}

// CertificateFor returns the certificate for host, loading it from the
// host keystore or signing and persisting a new one. Concurrent calls for
// the same host sign at most once.
func (a *Authority) CertificateFor(host string) (*tls.Certificate, error) {
	host, err := normalizeHost(host)
	if err != nil {
		return nil, &CertificateError{Op: "lookup", Host: host, Err: err}
	}

	v, _ := a.hosts.LoadOrStore(host, &hostEntry{})
	entry := v.(*hostEntry)

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.cert != nil {
		return entry.cert, nil
	}

	path := a.hostPath(host)
	pair, err := readKeystore(path, host, a.password)
	switch {
	case err == nil:
		a.log.Debug("loaded host keystore", "host", host, "path", path)
	case errors.Is(err, os.ErrNotExist):
		pair, err = a.sign(host)
		if err != nil {
			return nil, &CertificateError{Op: "sign", Host: host, Err: err}
		}
		if err := writeKeystore(path, host, a.password, pair); err != nil {
			return nil, &CertificateError{Op: "store", Host: host, Path: path, Err: err}
		}
		a.generated.Add(1)
		a.log.Debug("generated host certificate", "host", host, "path", path)
	default:
		return nil, &CertificateError{Op: "load", Host: host, Path: path, Err: err}
	}

	cert := &tls.Certificate{PrivateKey: pair.key, Leaf: pair.chain[0]}
	for _, c := range pair.chain {
		cert.Certificate = append(cert.Certificate, c.Raw)
	}
	entry.cert = cert
	return cert, nil
}

// ServerConfig returns a TLS server configuration that presents the
// certificate for the SNI name of each handshake, or for defaultHost when
// the client sends none.
func (a *Authority) ServerConfig(defaultHost string) *tls.Config {
	return &tls.Config{
		MinVersion: tls.VersionTLS12,
		GetCertificate: func(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
			host := hello.ServerName
			if host == "" {
				host = defaultHost
			}
			return a.CertificateFor(host)
		},
	}
}

// ClientConfig returns the TLS configuration for connections to origins.
func (a *Authority) ClientConfig() *tls.Config {
	cfg := &tls.Config{
		MinVersion: tls.VersionTLS12,
		//nolint:gosec // G402: skipping verification is opt-in via TrustAllServers
		InsecureSkipVerify: a.trustAll,
	}
	if a.sendCerts {
		identity := a.identity
		cfg.GetClientCertificate = func(*tls.CertificateRequestInfo) (*tls.Certificate, error) {
			return &identity, nil
		}
	}
	return cfg
}

// CertPool returns a pool that trusts the identity certificate.
func (a *Authority) CertPool() *x509.CertPool {
	pool := x509.NewCertPool()
	pool.AddCert(a.caCert)
	return pool
}

func (a *Authority) hostPath(host string) string {
	return filepath.Join(a.dir, hostsDir, strings.ReplaceAll(host, ":", "_")+".jks")
}

// generateIdentity creates the self-signed identity certificate and key.
func (a *Authority) generateIdentity() (*keyPair, error) {
	key, err := rsa.GenerateKey(rand.Reader, a.keyBits)
	if err != nil {
		return nil, err
	}

	serialNumber, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, err
	}

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			CommonName:   a.name,
			Organization: []string{a.name},
		},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.AddDate(0, 0, DefaultValidityDays),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
		MaxPathLen:            0,
		MaxPathLenZero:        true,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, err
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, err
	}
	return &keyPair{key: key, chain: []*x509.Certificate{cert}}, nil
}

// sign creates a leaf for host signed by the identity.
func (a *Authority) sign(host string) (*keyPair, error) {
	req := &csr.CertificateRequest{
		CN:         host,
		Hosts:      []string{host},
		KeyRequest: csr.NewKeyRequest(),
	}
	csrPEM, keyPEM, err := csr.ParseRequest(req)
	if err != nil {
		return nil, fmt.Errorf("create CSR: %w", err)
	}

	certPEM, err := a.signer.Sign(signer.SignRequest{
		Hosts:     req.Hosts,
		Request:   string(csrPEM),
		Profile:   "web",
		NotBefore: time.Now().Add(-24 * time.Hour),
		NotAfter:  a.caCert.NotAfter,
	})
	if err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}

	key, err := helpers.ParsePrivateKeyPEM(keyPEM)
	if err != nil {
		return nil, fmt.Errorf("parse key: %w", err)
	}
	leaf, err := helpers.ParseCertificatePEM(certPEM)
	if err != nil {
		return nil, fmt.Errorf("parse certificate: %w", err)
	}
	return &keyPair{key: key, chain: []*x509.Certificate{leaf, a.caCert}}, nil
}

// exportCertificate writes the identity certificate as PEM when the export
// file is missing or stale.
func (a *Authority) exportCertificate() error {
	want := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: a.caCert.Raw})
	if have, err := os.ReadFile(a.CertPath()); err == nil && string(have) == string(want) {
		return nil
	}
	if err := os.MkdirAll(a.dir, 0o700); err != nil {
		return err
	}
	return os.WriteFile(a.CertPath(), want, 0o644)
}

// normalizeHost lower-cases host and strips any port and IPv6 brackets.
func normalizeHost(host string) (string, error) {
	host = strings.TrimSpace(strings.ToLower(host))
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
	if host == "" || host == "." || host == ".." || strings.ContainsAny(host, `/\`) {
		return host, ErrInvalidHost
	}
	return host, nil
}
