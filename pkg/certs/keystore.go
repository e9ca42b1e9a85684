package certs

import (
	"crypto"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pavlo-v-chernykh/keystore-go/v4"
)

// keyPair is a private key with its certificate chain, leaf first.
type keyPair struct {
	key   crypto.Signer
	chain []*x509.Certificate
}

// readKeystore loads the private key entry alias from the JKS file at path.
func readKeystore(path, alias string, password []byte) (*keyPair, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	ks := keystore.New()
	if err := ks.Load(f, clone(password)); err != nil {
		return nil, fmt.Errorf("load keystore: %w", err)
	}

	entry, err := ks.GetPrivateKeyEntry(strings.ToLower(alias), clone(password))
	if err != nil {
		return nil, fmt.Errorf("read entry %q: %w", alias, err)
	}
	if len(entry.CertificateChain) == 0 {
		return nil, errors.New("entry has no certificate chain")
	}

	parsed, err := x509.ParsePKCS8PrivateKey(entry.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	signer, ok := parsed.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("private key %T cannot sign", parsed)
	}

	chain := make([]*x509.Certificate, 0, len(entry.CertificateChain))
	for _, c := range entry.CertificateChain {
		cert, err := x509.ParseCertificate(c.Content)
		if err != nil {
			return nil, fmt.Errorf("parse certificate: %w", err)
		}
		chain = append(chain, cert)
	}

	return &keyPair{key: signer, chain: chain}, nil
}

// writeKeystore stores pair under alias in a new JKS file at path. The file
// is written to a temporary name and renamed into place.
func writeKeystore(path, alias string, password []byte, pair *keyPair) error {
	der, err := x509.MarshalPKCS8PrivateKey(pair.key)
	if err != nil {
		return fmt.Errorf("marshal private key: %w", err)
	}

	chain := make([]keystore.Certificate, 0, len(pair.chain))
	for _, c := range pair.chain {
		chain = append(chain, keystore.Certificate{Type: "X.509", Content: c.Raw})
	}

	ks := keystore.New()
	entry := keystore.PrivateKeyEntry{
		CreationTime:     time.Now(),
		PrivateKey:       der,
		CertificateChain: chain,
	}
	if err := ks.SetPrivateKeyEntry(strings.ToLower(alias), entry, clone(password)); err != nil {
		return fmt.Errorf("set entry %q: %w", alias, err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("create keystore: %w", err)
	}
	if err := ks.Store(f, clone(password)); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("store keystore: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("close keystore: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename keystore: %w", err)
	}
	return nil
}

// clone copies a password; the keystore library may clear the slices it is
// given.
func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
