// Package cli implements the mockstage command line: serve runs the
// listeners declared in an engine file, certs manages the identity
// certificate and version reports build information.
package cli
