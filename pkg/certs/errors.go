package certs

import (
	"errors"
	"fmt"
)

// ErrInvalidHost is returned for host names that cannot be certified.
var ErrInvalidHost = errors.New("invalid host")

// CertificateError reports a keystore or signing failure. The keystore named
// by Path is left untouched.
type CertificateError struct {
	Op   string
	Host string
	Path string
	Err  error
}

func (e *CertificateError) Error() string {
	switch {
	case e.Host != "" && e.Path != "":
		return fmt.Sprintf("certificate %s for %s (%s): %v", e.Op, e.Host, e.Path, e.Err)
	case e.Path != "":
		return fmt.Sprintf("certificate %s (%s): %v", e.Op, e.Path, e.Err)
	case e.Host != "":
		return fmt.Sprintf("certificate %s for %s: %v", e.Op, e.Host, e.Err)
	default:
		return fmt.Sprintf("certificate %s: %v", e.Op, e.Err)
	}
}

func (e *CertificateError) Unwrap() error {
	return e.Err
}
