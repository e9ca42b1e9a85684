// Package certs is the certificate authority cache behind the intercepting
// proxy and the secure listeners.
//
// An Authority owns one identity: a self-signed CA certificate and key kept
// in a JKS keystore at <dir>/<name>_keystore.jks, with the public certificate
// exported to <dir>/<name>_cert.pem so clients can trust it. The identity is
// generated on first use and reused from disk afterwards.
//
// CertificateFor mints a leaf certificate per host, signed by the identity.
// Each leaf is persisted to <dir>/hosts/<host>.jks, cached for the lifetime
// of the process and loaded from disk on the next run. A keystore that exists
// but cannot be read is reported as a *CertificateError and never replaced.
package certs
