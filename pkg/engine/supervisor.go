package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mockstage/mockstage/pkg/certs"
	"github.com/mockstage/mockstage/pkg/config"
	"github.com/mockstage/mockstage/pkg/logging"
	"github.com/mockstage/mockstage/pkg/mock"
	"github.com/mockstage/mockstage/pkg/store"
)

// DefaultShutdownGrace bounds how long Stop waits for in-flight work.
const DefaultShutdownGrace = 5 * time.Second

// ErrNotRunning is returned by Restart when the listener is not running.
var ErrNotRunning = errors.New("listener not running")

// State is a listener lifecycle state.
type State string

// Listener states.
const (
	StateStopped  State = "STOPPED"
	StateStarting State = "STARTING"
	StateRunning  State = "RUNNING"
	StateStopping State = "STOPPING"
	StateFailed   State = "FAILED"
)

// RuntimeState is the externally visible snapshot of a listener.
type RuntimeState struct {
	Running bool `json:"running"`
	Port    int  `json:"port"`
	Secure  bool `json:"secure"`
}

// status is published as one value so state and runtime never disagree.
type status struct {
	state   State
	runtime RuntimeState
	err     error
}

var stoppedStatus = &status{state: StateStopped}

type slot struct {
	mu       sync.Mutex
	status   atomic.Pointer[status]
	listener Listener
	cfg      config.ServerConfig
}

func (sl *slot) load() *status {
	if st := sl.status.Load(); st != nil {
		return st
	}
	return stoppedStatus
}

// Supervisor runs at most one listener per protocol.
type Supervisor struct {
	source    store.Source
	certs     *certs.Authority
	factories map[mock.Protocol]ListenerFactory
	log       *slog.Logger
	grace     time.Duration
	matchOpts []MatcherOption

	slots map[mock.Protocol]*slot
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithSource sets where definitions are read from.
func WithSource(src store.Source) Option {
	return func(s *Supervisor) {
		s.source = src
	}
}

// WithCertificates sets the certificate authority handed to listeners.
func WithCertificates(a *certs.Authority) Option {
	return func(s *Supervisor) {
		s.certs = a
	}
}

// WithListenerFactory registers the listener implementation for protocol.
func WithListenerFactory(protocol mock.Protocol, f ListenerFactory) Option {
	return func(s *Supervisor) {
		s.factories[protocol] = f
	}
}

// WithLogger sets the operational logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Supervisor) {
		if log != nil {
			s.log = log
		}
	}
}

// WithShutdownGrace sets how long Stop drains before force-closing.
func WithShutdownGrace(d time.Duration) Option {
	return func(s *Supervisor) {
		if d > 0 {
			s.grace = d
		}
	}
}

// WithMatcherOptions adds options to every Matcher the supervisor creates.
func WithMatcherOptions(opts ...MatcherOption) Option {
	return func(s *Supervisor) {
		s.matchOpts = append(s.matchOpts, opts...)
	}
}

// NewSupervisor creates a Supervisor with every listener STOPPED.
func NewSupervisor(opts ...Option) *Supervisor {
	s := &Supervisor{
		factories: make(map[mock.Protocol]ListenerFactory),
		log:       logging.Nop(),
		grace:     DefaultShutdownGrace,
		slots:     make(map[mock.Protocol]*slot, len(mock.Protocols)),
	}
	for _, p := range mock.Protocols {
		s.slots[p] = &slot{}
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Supervisor) slot(protocol mock.Protocol) (*slot, error) {
	sl, ok := s.slots[protocol]
	if !ok {
		return nil, &ConfigError{Field: "protocol", Message: fmt.Sprintf("unknown protocol %q", protocol)}
	}
	return sl, nil
}

// Start starts the listener for protocol with cfg. It fails with
// ErrAlreadyRunning unless the listener is STOPPED or FAILED, with a
// *ConfigError for an invalid cfg and with a *BindError when the port cannot
// be bound; both failures leave the listener FAILED.
func (s *Supervisor) Start(ctx context.Context, protocol mock.Protocol, cfg config.ServerConfig) (RuntimeState, error) {
	sl, err := s.slot(protocol)
	if err != nil {
		return RuntimeState{}, err
	}

	sl.mu.Lock()
	defer sl.mu.Unlock()

	return s.startLocked(ctx, sl, protocol, cfg)
}

func (s *Supervisor) startLocked(ctx context.Context, sl *slot, protocol mock.Protocol, cfg config.ServerConfig) (RuntimeState, error) {
	cur := sl.load()
	if cur.state != StateStopped && cur.state != StateFailed {
		return cur.runtime, ErrAlreadyRunning
	}

	fail := func(err error) (RuntimeState, error) {
		sl.status.Store(&status{state: StateFailed, err: err})
		s.log.Error("listener failed to start", "protocol", protocol, "port", cfg.Port, "error", err)
		return RuntimeState{}, err
	}

	cfg = cfg.Clone()
	if cfg.Protocol == "" {
		cfg.Protocol = protocol
	}
	if cfg.Protocol != protocol {
		return fail(&ConfigError{Field: "protocol", Message: fmt.Sprintf("config is for %s, not %s", cfg.Protocol, protocol)})
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return fail(err)
	}

	factory, ok := s.factories[protocol]
	if !ok {
		return fail(fmt.Errorf("%w: %s", ErrNoListener, protocol))
	}

	sl.status.Store(&status{state: StateStarting})

	log := s.log.With("protocol", protocol)
	matchOpts := append([]MatcherOption{WithMatcherLogger(log)}, s.matchOpts...)
	if origin := cfg.Native(config.PropForwardWhenNoMatch); origin != "" {
		matchOpts = append(matchOpts, WithForwardURL(origin))
	}

	run := &Run{
		Config:  cfg,
		Matcher: NewMatcher(protocol, matchOpts...),
		Certs:   s.certs,
		Logger:  log,
		Source:  s.source,
		Live:    cfg.AutoRefresh,
	}
	if !run.Live && s.source != nil {
		defs, err := s.source.LoadActiveDefinitions(ctx, protocol, store.Filter{})
		if err != nil {
			return fail(fmt.Errorf("load definitions: %w", err))
		}
		run.Snapshot = defs
	}

	listener, err := factory(run)
	if err != nil {
		return fail(err)
	}

	if err := listener.Start(ctx); err != nil {
		var cerr *ConfigError
		if errors.As(err, &cerr) {
			return fail(err)
		}
		return fail(&BindError{Protocol: protocol, Port: cfg.Port, Err: err})
	}

	rs := RuntimeState{Running: true, Port: listener.Port(), Secure: cfg.TLS}
	sl.listener = listener
	sl.cfg = cfg
	sl.status.Store(&status{state: StateRunning, runtime: rs})

	log.Info("listener started", "port", rs.Port, "secure", rs.Secure, "autoRefresh", cfg.AutoRefresh)
	return rs, nil
}

// Stop stops the listener for protocol. Stopping a listener that is not
// running is a no-op. In-flight work drains for up to the shutdown grace
// before the listener is force-closed.
func (s *Supervisor) Stop(ctx context.Context, protocol mock.Protocol) error {
	sl, err := s.slot(protocol)
	if err != nil {
		return err
	}

	sl.mu.Lock()
	defer sl.mu.Unlock()

	return s.stopLocked(ctx, sl, protocol)
}

func (s *Supervisor) stopLocked(ctx context.Context, sl *slot, protocol mock.Protocol) error {
	cur := sl.load()
	if cur.state != StateRunning || sl.listener == nil {
		if cur.state == StateFailed {
			sl.status.Store(stoppedStatus)
		}
		return nil
	}

	draining := cur.runtime
	draining.Running = false
	sl.status.Store(&status{state: StateStopping, runtime: draining})

	shutdownCtx, cancel := context.WithTimeout(ctx, s.grace)
	defer cancel()

	var closeErr error
	if err := sl.listener.Shutdown(shutdownCtx); err != nil {
		s.log.Warn("listener did not drain, closing", "protocol", protocol, "error", err)
		closeErr = sl.listener.Close()
	}

	sl.listener = nil
	sl.status.Store(stoppedStatus)
	s.log.Info("listener stopped", "protocol", protocol, "port", cur.runtime.Port)
	return closeErr
}

// Restart stops the running listener and starts it again with the same
// configuration, re-reading definitions and resetting sequences.
func (s *Supervisor) Restart(ctx context.Context, protocol mock.Protocol) error {
	sl, err := s.slot(protocol)
	if err != nil {
		return err
	}

	sl.mu.Lock()
	defer sl.mu.Unlock()

	if sl.load().state != StateRunning {
		return fmt.Errorf("%s: %w", protocol, ErrNotRunning)
	}
	return s.restartLocked(ctx, sl, protocol, sl.cfg)
}

// RestartIfAutoRefresh restarts the listener when it is running with
// AutoRefresh set, and does nothing otherwise. The listener configuration is
// re-read from the source so edits to it take effect; a source without a
// stored configuration keeps the current one.
func (s *Supervisor) RestartIfAutoRefresh(ctx context.Context, protocol mock.Protocol) error {
	sl, err := s.slot(protocol)
	if err != nil {
		return err
	}

	sl.mu.Lock()
	defer sl.mu.Unlock()

	if sl.load().state != StateRunning || !sl.cfg.AutoRefresh {
		return nil
	}

	cfg := sl.cfg
	if s.source != nil {
		stored, err := s.source.LoadServerConfig(ctx, protocol)
		switch {
		case err == nil:
			cfg = *stored
		case errors.Is(err, store.ErrNotFound):
		default:
			return fmt.Errorf("reload %s config: %w", protocol, err)
		}
	}
	return s.restartLocked(ctx, sl, protocol, cfg)
}

func (s *Supervisor) restartLocked(ctx context.Context, sl *slot, protocol mock.Protocol, cfg config.ServerConfig) error {
	if err := s.stopLocked(ctx, sl, protocol); err != nil {
		s.log.Warn("forced close during restart", "protocol", protocol, "error", err)
	}
	_, err := s.startLocked(ctx, sl, protocol, cfg)
	return err
}

// StopAll stops every listener concurrently.
func (s *Supervisor) StopAll(ctx context.Context) error {
	var g errgroup.Group
	for _, p := range mock.Protocols {
		g.Go(func() error {
			return s.Stop(ctx, p)
		})
	}
	return g.Wait()
}

// AutoStart starts every configuration flagged AutoStart. A failing listener
// does not prevent the others from starting; all failures are returned.
func (s *Supervisor) AutoStart(ctx context.Context, configs []config.ServerConfig) error {
	var errs []error
	for _, cfg := range configs {
		if !cfg.AutoStart {
			continue
		}
		if _, err := s.Start(ctx, cfg.Protocol, cfg); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", cfg.Protocol, err))
		}
	}
	return errors.Join(errs...)
}

// Status returns the runtime snapshot of protocol's listener.
func (s *Supervisor) Status(protocol mock.Protocol) RuntimeState {
	sl, err := s.slot(protocol)
	if err != nil {
		return RuntimeState{}
	}
	return sl.load().runtime
}

// State returns the lifecycle state of protocol's listener.
func (s *Supervisor) State(protocol mock.Protocol) State {
	sl, err := s.slot(protocol)
	if err != nil {
		return StateStopped
	}
	return sl.load().state
}

// LastError returns the error that left protocol's listener FAILED.
func (s *Supervisor) LastError(protocol mock.Protocol) error {
	sl, err := s.slot(protocol)
	if err != nil {
		return err
	}
	return sl.load().err
}

// Config returns the configuration of the running listener.
func (s *Supervisor) Config(protocol mock.Protocol) (config.ServerConfig, bool) {
	sl, err := s.slot(protocol)
	if err != nil {
		return config.ServerConfig{}, false
	}
	sl.mu.Lock()
	defer sl.mu.Unlock()
	if sl.load().state != StateRunning {
		return config.ServerConfig{}, false
	}
	return sl.cfg.Clone(), true
}
