package httpmock

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"

	"golang.org/x/net/netutil"

	"github.com/mockstage/mockstage/pkg/config"
	"github.com/mockstage/mockstage/pkg/engine"
	"github.com/mockstage/mockstage/pkg/logging"
	"github.com/mockstage/mockstage/pkg/proxy"
)

// DefaultTLSHost is the name the listener's certificate is issued for.
const DefaultTLSHost = "localhost"

// Listener serves HTTP, WebSocket and SSE definitions.
type Listener struct {
	run       *engine.Run
	cfg       config.ServerConfig
	log       *slog.Logger
	forwarder *proxy.Forwarder
	hub       *Hub
	handler   http.Handler

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	server      *http.Server
	port        int
	proxyServer *http.Server
	proxyPort   int
	interceptor *proxy.Interceptor
}

// Factory builds a Listener for the supervisor.
func Factory(run *engine.Run) (engine.Listener, error) {
	return New(run)
}

// New creates a Listener for run. It does not bind anything.
func New(run *engine.Run) (*Listener, error) {
	if run == nil || run.Matcher == nil {
		return nil, errors.New("httpmock: run has no matcher")
	}

	log := run.Logger
	if log == nil {
		log = logging.Nop()
	}

	fwdOpts := []proxy.ForwarderOption{
		proxy.WithTimeout(run.Config.Timeout.Duration()),
		proxy.WithLogger(log),
	}
	if run.Certs != nil {
		fwdOpts = append(fwdOpts, proxy.WithTLSConfig(run.Certs.ClientConfig()))
	}

	ctx, cancel := context.WithCancel(context.Background())
	l := &Listener{
		run:       run,
		cfg:       run.Config,
		log:       log,
		forwarder: proxy.NewForwarder(fwdOpts...),
		hub:       NewHub(),
		ctx:       ctx,
		cancel:    cancel,
	}

	var h http.Handler = http.HandlerFunc(l.serveHTTP)
	if l.cfg.NativeBool(config.PropEnableCORS) {
		h = &corsMiddleware{handler: h}
	}
	l.handler = recoverMiddleware(h, log)
	return l, nil
}

// Start binds the listener port and, when enabled, the proxy port.
func (l *Listener) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.server != nil {
		return engine.ErrAlreadyRunning
	}

	var tlsConfig *tls.Config
	if l.cfg.TLS {
		if l.run.Certs == nil {
			return &config.ConfigError{Field: "secure", Message: "requires a certificate authority"}
		}
		tlsConfig = l.run.Certs.ServerConfig(DefaultTLSHost)
	}

	host := l.cfg.Native(config.PropBindHost)
	ln, err := listen(ctx, host, l.cfg.Port, l.cfg.MaxThreads)
	if err != nil {
		return err
	}
	if tlsConfig != nil {
		ln = tls.NewListener(ln, tlsConfig)
	}

	l.server = l.newServer(l.handler)
	l.port = ln.Addr().(*net.TCPAddr).Port
	go l.serve(l.server, ln, "http")

	if l.cfg.NativeBool(config.PropProxyServerEnabled) {
		proxyPort, _ := l.cfg.NativeInt(config.PropProxyServerPort)
		pln, err := listen(ctx, host, proxyPort, l.cfg.MaxThreads)
		if err != nil {
			_ = l.server.Close()
			l.server = nil
			return fmt.Errorf("proxy port %d: %w", proxyPort, err)
		}
		l.interceptor = proxy.NewInterceptor(l.run.Certs, l.handler,
			proxy.WithInterceptorLogger(l.log.With("component", "proxy")))
		l.proxyServer = l.newServer(l.interceptor)
		l.proxyPort = pln.Addr().(*net.TCPAddr).Port
		go l.serve(l.proxyServer, pln, "proxy")
	}

	return nil
}

func listen(ctx context.Context, host string, port, maxConns int) (net.Listener, error) {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, err
	}
	if maxConns > 0 {
		ln = netutil.LimitListener(ln, maxConns)
	}
	return ln, nil
}

func (l *Listener) newServer(h http.Handler) *http.Server {
	timeout := l.cfg.Timeout.Duration()
	return &http.Server{
		Handler:           h,
		ReadHeaderTimeout: timeout,
		ReadTimeout:       timeout,
		// No WriteTimeout: event streams and WebSockets stay open.
		BaseContext: func(net.Listener) context.Context { return l.ctx },
		ErrorLog:    slog.NewLogLogger(l.log.Handler(), slog.LevelDebug),
	}
}

func (l *Listener) serve(srv *http.Server, ln net.Listener, name string) {
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		l.log.Error("server error", "server", name, "error", err)
	}
}

// Port returns the bound listener port.
func (l *Listener) Port() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.port
}

// ProxyPort returns the bound proxy port, or 0 when the proxy is disabled.
func (l *Listener) ProxyPort() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.proxyPort
}

// Hub returns the registry of open WebSocket connections.
func (l *Listener) Hub() *Hub {
	return l.hub
}

// Shutdown stops accepting, ends streams and waits for in-flight requests.
func (l *Listener) Shutdown(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.cancel()
	l.hub.CloseAll("listener stopping")

	var errs []error
	if l.proxyServer != nil {
		errs = append(errs, l.proxyServer.Shutdown(ctx))
		_ = l.interceptor.Close()
	}
	if l.server != nil {
		errs = append(errs, l.server.Shutdown(ctx))
	}
	l.forwarder.CloseIdleConnections()
	return errors.Join(errs...)
}

// Close force-closes every connection.
func (l *Listener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.cancel()
	var errs []error
	if l.proxyServer != nil {
		errs = append(errs, l.proxyServer.Close(), l.interceptor.Close())
	}
	if l.server != nil {
		errs = append(errs, l.server.Close())
	}
	return errors.Join(errs...)
}
