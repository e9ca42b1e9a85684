package mock

import (
	"net/http"
	"net/url"
	"strings"
)

// Request is the protocol neutral descriptor the matcher evaluates. HTTP
// requests, WebSocket frames and MQTT publishes are all decoded into one.
type Request struct {
	Method   string
	Path     string
	Headers  http.Header
	Query    url.Values
	PathVars map[string]string
	Body     []byte

	// Host is the requested host. net/http moves it out of the headers.
	Host string

	// RemoteAddr is informational only.
	RemoteAddr string
}

// NewRequestFromHTTP builds a descriptor from an HTTP request whose body has
// already been read.
func NewRequestFromHTTP(r *http.Request, body []byte) *Request {
	return &Request{
		Method:     r.Method,
		Path:       r.URL.Path,
		Headers:    r.Header.Clone(),
		Query:      r.URL.Query(),
		Body:       body,
		Host:       r.Host,
		RemoteAddr: r.RemoteAddr,
	}
}

// Header returns the first value of the named header. Lookup is case
// insensitive. "Host" falls back to the Host field.
func (r *Request) Header(name string) (string, bool) {
	if r.Headers == nil {
		return r.hostHeader(name)
	}
	if v, ok := r.Headers[http.CanonicalHeaderKey(name)]; ok && len(v) > 0 {
		return v[0], true
	}
	for k, v := range r.Headers {
		if strings.EqualFold(k, name) && len(v) > 0 {
			return v[0], true
		}
	}
	return r.hostHeader(name)
}

func (r *Request) hostHeader(name string) (string, bool) {
	if r.Host != "" && strings.EqualFold(name, "Host") {
		return r.Host, true
	}
	return "", false
}

// QueryParam returns the first value of the named query parameter. Lookup is
// case insensitive.
func (r *Request) QueryParam(name string) (string, bool) {
	for k, v := range r.Query {
		if strings.EqualFold(k, name) && len(v) > 0 {
			return v[0], true
		}
	}
	return "", false
}

// PathVar returns the named path variable. A leading ':' on name is ignored
// and lookup is case insensitive.
func (r *Request) PathVar(name string) (string, bool) {
	name = strings.TrimPrefix(name, ":")
	for k, v := range r.PathVars {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return "", false
}

// Lookup resolves a named value from the given source.
func (r *Request) Lookup(source Source, key string) (string, bool) {
	switch source {
	case SourceHeader:
		return r.Header(key)
	case SourceQuery:
		return r.QueryParam(key)
	case SourcePath:
		return r.PathVar(key)
	case SourceBody:
		return string(r.Body), len(r.Body) > 0
	default:
		return "", false
	}
}
