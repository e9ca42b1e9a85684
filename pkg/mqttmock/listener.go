package mqttmock

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"sync"
	"time"

	mqtt "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"golang.org/x/net/netutil"

	"github.com/mockstage/mockstage/pkg/config"
	"github.com/mockstage/mockstage/pkg/engine"
	"github.com/mockstage/mockstage/pkg/logging"
)

// ErrNotRunning is returned by Publish before Start or after Shutdown.
var ErrNotRunning = errors.New("mqtt listener is not running")

// DefaultTLSHost is the name the listener's certificate is issued for.
const DefaultTLSHost = "localhost"

const listenerID = "mockstage-mqtt"

// Listener is an embedded MQTT broker answering from definitions.
type Listener struct {
	run    *engine.Run
	cfg    config.ServerConfig
	log    *slog.Logger
	server *mqtt.Server

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	running bool
	port    int
}

// Factory builds a Listener for the supervisor.
func Factory(run *engine.Run) (engine.Listener, error) {
	return New(run)
}

// New creates a Listener for run. It does not bind anything.
func New(run *engine.Run) (*Listener, error) {
	if run == nil || run.Matcher == nil {
		return nil, errors.New("mqttmock: run has no matcher")
	}
	log := run.Logger
	if log == nil {
		log = logging.Nop()
	}

	server := mqtt.New(&mqtt.Options{
		InlineClient: true,
		Logger:       log.With("component", "broker"),
	})

	ctx, cancel := context.WithCancel(context.Background())
	l := &Listener{
		run:    run,
		cfg:    run.Config,
		log:    log,
		server: server,
		ctx:    ctx,
		cancel: cancel,
	}

	// mochi-mqtt requires an auth hook; mocks accept every client.
	if err := server.AddHook(new(auth.AllowHook), nil); err != nil {
		return nil, fmt.Errorf("failed to add allow hook: %w", err)
	}
	if err := server.AddHook(newMatchHook(l), nil); err != nil {
		return nil, fmt.Errorf("failed to add match hook: %w", err)
	}
	return l, nil
}

// Address returns the host:port the listener binds. BROKER_URL overrides
// the configured port.
func (l *Listener) Address() (string, error) {
	if raw := l.cfg.Native(config.PropBrokerURL); raw != "" {
		u, err := url.Parse(raw)
		if err != nil || u.Host == "" {
			return "", &config.ConfigError{Field: config.PropBrokerURL, Message: "must look like tcp://host:port"}
		}
		return u.Host, nil
	}
	return net.JoinHostPort(l.cfg.Native(config.PropBindHost), strconv.Itoa(l.cfg.Port)), nil
}

// Start binds the broker and begins accepting clients.
func (l *Listener) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.running {
		return engine.ErrAlreadyRunning
	}

	var tlsConfig *tls.Config
	if l.cfg.TLS {
		if l.run.Certs == nil {
			return &config.ConfigError{Field: "secure", Message: "requires a certificate authority"}
		}
		tlsConfig = l.run.Certs.ServerConfig(DefaultTLSHost)
	}

	addr, err := l.Address()
	if err != nil {
		return err
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	l.port = ln.Addr().(*net.TCPAddr).Port
	if l.cfg.MaxThreads > 0 {
		ln = netutil.LimitListener(ln, l.cfg.MaxThreads)
	}
	if tlsConfig != nil {
		ln = tls.NewListener(ln, tlsConfig)
	}

	if err := l.server.AddListener(listeners.NewNet(listenerID, ln)); err != nil {
		_ = ln.Close()
		return fmt.Errorf("failed to add listener: %w", err)
	}

	go func() {
		if err := l.server.Serve(); err != nil {
			l.log.Error("MQTT server error", "error", err)
		}
	}()

	l.running = true
	return nil
}

// Port returns the bound port.
func (l *Listener) Port() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.port
}

// Publish pushes payload to every subscriber of topic.
func (l *Listener) Publish(topic string, payload []byte, qos byte, retain bool) error {
	l.mu.RLock()
	running := l.running
	l.mu.RUnlock()
	if !running {
		return ErrNotRunning
	}
	return l.server.Publish(topic, payload, retain, qos)
}

// Clients returns the ids of the connected clients.
func (l *Listener) Clients() []string {
	var ids []string
	for id, cl := range l.server.Clients.GetAll() {
		if !cl.Net.Inline {
			ids = append(ids, id)
		}
	}
	return ids
}

// Shutdown disconnects every client and stops the broker, giving up when ctx
// ends.
func (l *Listener) Shutdown(ctx context.Context) error {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return nil
	}
	l.running = false
	l.mu.Unlock()

	l.cancel()

	// Close triggers client disconnect hooks, so the lock is not held.
	done := make(chan error, 1)
	go func() {
		done <- l.server.Close()
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

// Close stops the broker without waiting.
func (l *Listener) Close() error {
	l.mu.Lock()
	l.running = false
	l.mu.Unlock()

	l.cancel()
	go func() { _ = l.server.Close() }()
	return nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
