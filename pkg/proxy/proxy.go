// Package proxy relays unmatched requests to their origin and intercepts
// CONNECT tunnels so TLS traffic can be answered by mock definitions.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrNoOrigin is returned when a request is forwarded without a target.
var ErrNoOrigin = errors.New("no origin to forward to")

// ErrBodyTooLarge is returned when an origin response exceeds the body limit.
var ErrBodyTooLarge = errors.New("upstream body too large")

// UpstreamError reports a failed forward.
type UpstreamError struct {
	URL     string
	Timeout bool
	Err     error
}

func (e *UpstreamError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("upstream %s timed out: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("upstream %s: %v", e.URL, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// StatusCode is the status a failed forward is answered with.
func (e *UpstreamError) StatusCode() int {
	if e.Timeout {
		return http.StatusGatewayTimeout
	}
	return http.StatusBadGateway
}

type originKey struct{}

// WithOrigin records the origin an intercepted request was addressed to.
func WithOrigin(ctx context.Context, origin string) context.Context {
	return context.WithValue(ctx, originKey{}, origin)
}

// OriginFrom returns the origin recorded by WithOrigin.
func OriginFrom(ctx context.Context) (string, bool) {
	origin, ok := ctx.Value(originKey{}).(string)
	return origin, ok && origin != ""
}
