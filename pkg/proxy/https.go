package proxy

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/mockstage/mockstage/pkg/certs"
	"github.com/mockstage/mockstage/pkg/logging"
)

// DefaultIdleTimeout closes intercepted connections with no request for this
// long.
const DefaultIdleTimeout = 2 * time.Minute

// Interceptor is a forward proxy. Plain requests and requests read from
// intercepted CONNECT tunnels are handed to the dispatcher with their origin
// recorded on the context (see OriginFrom). Without a certificate authority
// CONNECT tunnels are relayed blind.
type Interceptor struct {
	certs       *certs.Authority
	dispatch    http.Handler
	idleTimeout time.Duration
	log         *slog.Logger

	mu     sync.Mutex
	conns  map[net.Conn]struct{}
	closed bool
}

// InterceptorOption configures an Interceptor.
type InterceptorOption func(*Interceptor)

// WithIdleTimeout sets how long an intercepted connection may sit idle.
func WithIdleTimeout(d time.Duration) InterceptorOption {
	return func(i *Interceptor) {
		if d > 0 {
			i.idleTimeout = d
		}
	}
}

// WithInterceptorLogger sets the logger.
func WithInterceptorLogger(log *slog.Logger) InterceptorOption {
	return func(i *Interceptor) {
		if log != nil {
			i.log = log
		}
	}
}

// NewInterceptor creates an Interceptor dispatching to dispatch. authority
// may be nil.
func NewInterceptor(authority *certs.Authority, dispatch http.Handler, opts ...InterceptorOption) *Interceptor {
	i := &Interceptor{
		certs:       authority,
		dispatch:    dispatch,
		idleTimeout: DefaultIdleTimeout,
		log:         logging.Nop(),
		conns:       make(map[net.Conn]struct{}),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// ServeHTTP implements http.Handler for the proxy.
func (i *Interceptor) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodConnect {
		i.HandleConnect(w, r)
		return
	}

	// Absolute-form requests carry their origin in the URL.
	if r.URL.IsAbs() {
		origin := r.URL.Scheme + "://" + r.URL.Host
		r = r.WithContext(WithOrigin(r.Context(), origin))
		r.URL.Scheme, r.URL.Host = "", ""
	}
	i.dispatch.ServeHTTP(w, r)
}

// HandleConnect answers a CONNECT request. With a certificate authority the
// tunnel is terminated with a certificate minted for the target host and the
// inner requests are dispatched in order.
func (i *Interceptor) HandleConnect(w http.ResponseWriter, r *http.Request) {
	host := r.Host
	if !strings.Contains(host, ":") {
		host += ":443"
	}

	if i.certs == nil {
		i.log.Debug("no certificate authority, tunneling", "host", host)
		i.tunnelConnect(w, host)
		return
	}

	hostOnly, _, err := net.SplitHostPort(host)
	if err != nil {
		http.Error(w, "invalid CONNECT target", http.StatusBadRequest)
		return
	}

	cert, err := i.certs.CertificateFor(hostOnly)
	if err != nil {
		i.log.Error("certificate for host failed", "host", hostOnly, "error", err)
		http.Error(w, "Error generating certificate", http.StatusInternalServerError)
		return
	}

	clientConn, ok := i.hijack(w)
	if !ok {
		return
	}

	if _, err := clientConn.Write([]byte("HTTP/1.1 200 Connection Established\r\n\r\n")); err != nil {
		i.log.Warn("sending CONNECT response failed", "error", err)
		i.release(clientConn)
		return
	}

	//nolint:gosec // G402: clients of a mock proxy use whatever TLS version they have
	tlsConn := tls.Server(clientConn, &tls.Config{
		Certificates: []tls.Certificate{*cert},
		NextProtos:   []string{"http/1.1"},
	})
	_ = tlsConn.SetDeadline(time.Now().Add(i.idleTimeout))
	if err := tlsConn.HandshakeContext(r.Context()); err != nil {
		i.log.Warn("TLS handshake with client failed", "host", hostOnly, "error", err)
		i.release(clientConn)
		return
	}

	i.log.Debug("intercepting", "host", host)
	i.handleTLSConnection(tlsConn, clientConn, host)
}

// handleTLSConnection serves the requests of one intercepted tunnel.
func (i *Interceptor) handleTLSConnection(tlsConn *tls.Conn, raw net.Conn, host string) {
	defer i.release(raw)
	defer func() { _ = tlsConn.Close() }()

	origin := "https://" + strings.TrimSuffix(host, ":443")
	reader := bufio.NewReader(tlsConn)

	for {
		_ = tlsConn.SetDeadline(time.Now().Add(i.idleTimeout))
		req, err := http.ReadRequest(reader)
		if err != nil {
			if !errors.Is(err, io.EOF) && !isTimeout(err) {
				i.log.Debug("reading intercepted request failed", "host", host, "error", err)
			}
			return
		}

		req.RemoteAddr = raw.RemoteAddr().String()
		req.URL.Scheme = ""
		req.URL.Host = ""
		req.TLS = &tls.ConnectionState{ServerName: tlsConn.ConnectionState().ServerName, HandshakeComplete: true}

		ctx, cancel := context.WithCancel(WithOrigin(context.Background(), origin))
		keepAlive := i.serveOne(tlsConn, req.WithContext(ctx))
		cancel()
		if !keepAlive {
			return
		}
	}
}

// serveOne dispatches one inner request and writes its response. It reports
// whether the connection stays open.
func (i *Interceptor) serveOne(conn net.Conn, req *http.Request) (keepAlive bool) {
	rw := newBufferedResponse()
	func() {
		defer func() {
			if rec := recover(); rec != nil {
				i.log.Error("panic serving intercepted request", "path", req.URL.Path, "panic", rec)
				rw = newBufferedResponse()
				rw.WriteHeader(http.StatusInternalServerError)
			}
		}()
		i.dispatch.ServeHTTP(rw, req)
	}()
	if req.Body != nil {
		_, _ = io.Copy(io.Discard, req.Body)
		_ = req.Body.Close()
	}

	resp := rw.response(req)
	if err := resp.Write(conn); err != nil {
		i.log.Debug("writing intercepted response failed", "error", err)
		return false
	}
	return !req.Close && !resp.Close
}

// tunnelConnect relays a CONNECT tunnel to host without looking inside.
func (i *Interceptor) tunnelConnect(w http.ResponseWriter, host string) {
	targetConn, err := net.DialTimeout("tcp", host, 30*time.Second)
	if err != nil {
		i.log.Warn("connecting to tunnel target failed", "host", host, "error", err)
		http.Error(w, "Error connecting to target", http.StatusBadGateway)
		return
	}

	clientConn, ok := i.hijack(w)
	if !ok {
		_ = targetConn.Close()
		return
	}
	defer i.release(clientConn)

	if _, err := clientConn.Write([]byte("HTTP/1.1 200 Connection Established\r\n\r\n")); err != nil {
		_ = targetConn.Close()
		return
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = io.Copy(targetConn, clientConn)
		_ = targetConn.Close()
	}()
	go func() {
		defer wg.Done()
		_, _ = io.Copy(clientConn, targetConn)
		_ = clientConn.Close()
	}()
	wg.Wait()
}

func (i *Interceptor) hijack(w http.ResponseWriter) (net.Conn, bool) {
	hijacker, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "HTTP server does not support hijacking", http.StatusInternalServerError)
		return nil, false
	}
	conn, _, err := hijacker.Hijack()
	if err != nil {
		i.log.Warn("hijacking connection failed", "error", err)
		return nil, false
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		_ = conn.Close()
		return nil, false
	}
	i.conns[conn] = struct{}{}
	return conn, true
}

func (i *Interceptor) release(conn net.Conn) {
	_ = conn.Close()
	i.mu.Lock()
	delete(i.conns, conn)
	i.mu.Unlock()
}

// Close closes every hijacked connection. An http.Server does not track
// hijacked connections, so the listener calls this on stop.
func (i *Interceptor) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.closed = true
	for conn := range i.conns {
		_ = conn.Close()
		delete(i.conns, conn)
	}
	return nil
}

// bufferedResponse collects a dispatched response so it can be written to a
// raw connection.
type bufferedResponse struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func newBufferedResponse() *bufferedResponse {
	return &bufferedResponse{header: make(http.Header)}
}

func (b *bufferedResponse) Header() http.Header {
	return b.header
}

func (b *bufferedResponse) WriteHeader(status int) {
	if b.status == 0 {
		b.status = status
	}
}

func (b *bufferedResponse) Write(p []byte) (int, error) {
	if b.status == 0 {
		b.status = http.StatusOK
	}
	return b.body.Write(p)
}

func (b *bufferedResponse) response(req *http.Request) *http.Response {
	status := b.status
	if status == 0 {
		status = http.StatusOK
	}
	header := b.header.Clone()
	header.Del("Content-Length")
	header.Del("Transfer-Encoding")
	return &http.Response{
		StatusCode:    status,
		Status:        http.StatusText(status),
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(b.body.Bytes())),
		ContentLength: int64(b.body.Len()),
		Close:         req.Close,
		Request:       req,
	}
}
