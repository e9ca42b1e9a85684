package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/mockstage/mockstage/pkg/certs"
	"github.com/mockstage/mockstage/pkg/cli/internal/output"
	"github.com/mockstage/mockstage/pkg/config"
	"github.com/mockstage/mockstage/pkg/engine"
	"github.com/mockstage/mockstage/pkg/ftpmock"
	"github.com/mockstage/mockstage/pkg/httpmock"
	"github.com/mockstage/mockstage/pkg/mock"
	"github.com/mockstage/mockstage/pkg/mqttmock"
	"github.com/mockstage/mockstage/pkg/store"
)

// errNoConfig is returned when neither --config nor MOCKSTAGE_CONFIG is set.
var errNoConfig = errors.New("no engine file: pass --config or set " + EnvConfig)

// server wires an engine file to a supervisor.
type server struct {
	source *store.FileSource
	certs  *certs.Authority
	sup    *engine.Supervisor
	log    *slog.Logger
}

func newServer(configFile, certDir string, log *slog.Logger) (*server, error) {
	if configFile == "" {
		return nil, errNoConfig
	}
	source, err := store.OpenFile(configFile, store.WithLogger(log.With("component", "store")))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	authority, err := openAuthority(source.File().Certificates, certDir, log)
	if err != nil {
		return nil, err
	}

	sup := engine.NewSupervisor(
		engine.WithSource(source),
		engine.WithCertificates(authority),
		engine.WithListenerFactory(mock.ProtocolHTTP, httpmock.Factory),
		engine.WithListenerFactory(mock.ProtocolMQTT, mqttmock.Factory),
		engine.WithListenerFactory(mock.ProtocolFTP, ftpmock.Factory),
		engine.WithLogger(log.With("component", "supervisor")),
	)
	return &server{source: source, certs: authority, sup: sup, log: log}, nil
}

// openAuthority opens the identity keystore described by cc. A non-empty
// dir overrides the configured directory.
func openAuthority(cc config.CertConfig, dir string, log *slog.Logger) (*certs.Authority, error) {
	if dir == "" {
		dir = cc.Dir
	}
	if dir == "" {
		dir = config.DefaultCertDir
	}
	name := cc.Name
	if name == "" {
		name = config.DefaultCertName
	}

	opts := []certs.Option{
		certs.WithLogger(log.With("component", "certs")),
		certs.WithTrustAllServers(cc.TrustAllServers),
		certs.WithSendCerts(cc.SendCerts),
	}
	if cc.KeyBits > 0 {
		opts = append(opts, certs.WithKeyBits(cc.KeyBits))
	}
	a, err := certs.Open(dir, name, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to open certificates: %w", err)
	}
	return a, nil
}

// configs returns the listener configurations to auto-start. A file without
// servers gets a default HTTP listener.
func (s *server) configs() []config.ServerConfig {
	servers := s.source.File().Servers
	if len(servers) > 0 {
		return servers
	}
	cfg := config.DefaultServerConfig(mock.ProtocolHTTP)
	cfg.AutoStart = true
	return []config.ServerConfig{cfg}
}

// start auto-starts the configured listeners. Individual failures are
// logged; an error is returned only when nothing is running.
func (s *server) start(ctx context.Context) error {
	err := s.sup.AutoStart(ctx, s.configs())
	if err != nil {
		s.log.Error("listener failed to start", "error", err)
	}
	for _, p := range mock.Protocols {
		if s.sup.State(p) == engine.StateRunning {
			return nil
		}
	}
	if err == nil {
		err = errors.New("no listener is configured to auto-start")
	}
	return err
}

// watch restarts auto-refresh listeners whenever the engine file changes.
// It blocks until ctx is done.
func (s *server) watch(ctx context.Context) {
	err := s.source.Watch(ctx, func() {
		s.log.Info("engine file reloaded", "path", s.source.Path())
		for _, p := range mock.Protocols {
			if err := s.sup.RestartIfAutoRefresh(ctx, p); err != nil {
				s.log.Error("restart failed", "protocol", p, "error", err)
			}
		}
	})
	if err != nil {
		s.log.Warn("not watching engine file", "path", s.source.Path(), "error", err)
	}
}

func (s *server) stop(ctx context.Context) error {
	return s.sup.StopAll(ctx)
}

type listenerStatus struct {
	Protocol mock.Protocol `json:"protocol"`
	State    engine.State  `json:"state"`
	Port     int           `json:"port,omitempty"`
	Secure   bool          `json:"secure,omitempty"`
	Error    string        `json:"error,omitempty"`
}

func (s *server) statuses() []listenerStatus {
	out := make([]listenerStatus, 0, len(mock.Protocols))
	for _, p := range mock.Protocols {
		rt := s.sup.Status(p)
		st := listenerStatus{Protocol: p, State: s.sup.State(p), Port: rt.Port, Secure: rt.Secure}
		if err := s.sup.LastError(p); err != nil {
			st.Error = err.Error()
		}
		out = append(out, st)
	}
	return out
}

// printSummary writes the listener table.
func (s *server) printSummary(w io.Writer, asJSON bool) error {
	statuses := s.statuses()
	if asJSON {
		return output.JSON(w, statuses)
	}
	tw := output.Table(w)
	fmt.Fprintln(tw, "PROTOCOL\tSTATE\tPORT\tSECURE")
	for _, st := range statuses {
		port := "-"
		if st.State == engine.StateRunning {
			port = fmt.Sprint(st.Port)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%t\n", st.Protocol, st.State, port, st.Secure)
	}
	return tw.Flush()
}
