package proxy

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/mockstage/mockstage/pkg/logging"
	"github.com/mockstage/mockstage/pkg/mock"
)

const (
	// DefaultMaxBodySize is the largest upstream body relayed (10MB).
	DefaultMaxBodySize = 10 * 1024 * 1024

	// DefaultTimeout bounds a forward when the caller sets no deadline.
	DefaultTimeout = 30 * time.Second
)

// UpstreamResponse is a relayed origin response.
type UpstreamResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Duration   time.Duration
}

// WriteTo relays the response to w verbatim, minus hop-by-hop headers.
func (u *UpstreamResponse) WriteTo(w http.ResponseWriter) {
	copyHeaders(w.Header(), u.Header)
	removeHopByHopHeaders(w.Header())
	w.Header().Del("Content-Length")
	w.WriteHeader(u.StatusCode)
	_, _ = w.Write(u.Body)
}

// Forwarder relays requests to origins over a pooled transport.
type Forwarder struct {
	client  *http.Client
	timeout time.Duration
	maxBody int64
	log     *slog.Logger
}

// ForwarderOption configures a Forwarder.
type ForwarderOption func(*forwarderOptions)

type forwarderOptions struct {
	timeout   time.Duration
	maxBody   int64
	tlsConfig *tls.Config
	log       *slog.Logger
}

// WithTimeout bounds each forward.
func WithTimeout(d time.Duration) ForwarderOption {
	return func(o *forwarderOptions) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithMaxBodySize limits the relayed response body.
func WithMaxBodySize(n int64) ForwarderOption {
	return func(o *forwarderOptions) {
		if n > 0 {
			o.maxBody = n
		}
	}
}

// WithTLSConfig sets the client TLS configuration used towards origins.
func WithTLSConfig(cfg *tls.Config) ForwarderOption {
	return func(o *forwarderOptions) {
		o.tlsConfig = cfg
	}
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) ForwarderOption {
	return func(o *forwarderOptions) {
		if log != nil {
			o.log = log
		}
	}
}

// NewForwarder creates a Forwarder.
func NewForwarder(opts ...ForwarderOption) *Forwarder {
	o := forwarderOptions{
		timeout: DefaultTimeout,
		maxBody: DefaultMaxBodySize,
		log:     logging.Nop(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = nil
	if o.tlsConfig != nil {
		transport.TLSClientConfig = o.tlsConfig
	}

	return &Forwarder{
		client: &http.Client{
			Transport: transport,
			// Redirects are relayed to the client, not followed.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		timeout: o.timeout,
		maxBody: o.maxBody,
		log:     o.log,
	}
}

// Forward sends req to target and returns the origin's response. target is
// an origin URL; its path, if any, is prefixed to the request path. Failures
// are reported as *UpstreamError.
func (f *Forwarder) Forward(ctx context.Context, req *mock.Request, target string) (*UpstreamResponse, error) {
	if target == "" {
		return nil, ErrNoOrigin
	}
	u, err := targetURL(target, req)
	if err != nil {
		return nil, &UpstreamError{URL: target, Err: err}
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	outReq, err := http.NewRequestWithContext(ctx, method, u.String(), bytes.NewReader(req.Body))
	if err != nil {
		return nil, &UpstreamError{URL: u.String(), Err: err}
	}
	copyHeaders(outReq.Header, req.Headers)
	removeHopByHopHeaders(outReq.Header)
	outReq.Header.Del("Content-Length")
	outReq.Host = u.Host

	if req.Host != "" {
		outReq.Header.Set("X-Forwarded-Host", req.Host)
	}
	if req.RemoteAddr != "" {
		clientIP := req.RemoteAddr
		if h, _, err := net.SplitHostPort(clientIP); err == nil {
			clientIP = h
		}
		outReq.Header.Set("X-Forwarded-For", clientIP)
	}

	start := time.Now()
	resp, err := f.client.Do(outReq)
	if err != nil {
		return nil, f.upstreamError(u.String(), err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBody+1))
	if err != nil {
		return nil, f.upstreamError(u.String(), err)
	}
	if int64(len(body)) > f.maxBody {
		return nil, f.upstreamError(u.String(), fmt.Errorf("%w: limit is %d bytes", ErrBodyTooLarge, f.maxBody))
	}

	out := &UpstreamResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
		Body:       body,
		Duration:   time.Since(start),
	}
	f.log.Debug("forwarded", "method", method, "url", u.String(), "status", resp.StatusCode, "duration", out.Duration)
	return out, nil
}

func (f *Forwarder) upstreamError(target string, err error) *UpstreamError {
	uerr := &UpstreamError{URL: target, Err: err, Timeout: isTimeout(err)}
	f.log.Warn("forward failed", "url", target, "timeout", uerr.Timeout, "error", err)
	return uerr
}

// CloseIdleConnections drops pooled origin connections.
func (f *Forwarder) CloseIdleConnections() {
	f.client.CloseIdleConnections()
}

func targetURL(target string, req *mock.Request) (*url.URL, error) {
	base, err := url.Parse(target)
	if err != nil {
		return nil, err
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, errors.New("origin must be an http or https URL")
	}
	if base.Host == "" {
		return nil, errors.New("origin has no host")
	}

	u := *base
	u.Path = strings.TrimSuffix(base.Path, "/") + req.Path
	u.RawPath = ""
	if len(req.Query) > 0 {
		u.RawQuery = req.Query.Encode()
	}
	return &u, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// copyHeaders copies headers from src to dst.
func copyHeaders(dst, src http.Header) {
	for key, values := range src {
		for _, value := range values {
			dst.Add(key, value)
		}
	}
}

// removeHopByHopHeaders removes headers that should not be forwarded.
func removeHopByHopHeaders(h http.Header) {
	for _, name := range h.Values("Connection") {
		for _, field := range strings.Split(name, ",") {
			if field = strings.TrimSpace(field); field != "" {
				h.Del(field)
			}
		}
	}

	hopByHopHeaders := []string{
		"Connection",
		"Keep-Alive",
		"Proxy-Authenticate",
		"Proxy-Authorization",
		"Proxy-Connection",
		"TE",
		"Trailers",
		"Transfer-Encoding",
		"Upgrade",
	}

	for _, header := range hopByHopHeaders {
		h.Del(header)
	}
}
