package engine

import (
	"context"
	"log/slog"

	"github.com/mockstage/mockstage/pkg/certs"
	"github.com/mockstage/mockstage/pkg/config"
	"github.com/mockstage/mockstage/pkg/mock"
	"github.com/mockstage/mockstage/pkg/store"
)

// Listener is one run of a protocol server.
type Listener interface {
	// Start binds the configured port and begins serving. It returns once
	// the socket accepts connections.
	Start(ctx context.Context) error

	// Port returns the bound port. Valid after Start succeeds.
	Port() int

	// Shutdown stops accepting and waits for in-flight work until ctx ends.
	Shutdown(ctx context.Context) error

	// Close force-closes whatever Shutdown left open.
	Close() error
}

// ListenerFactory builds the listener for one run.
type ListenerFactory func(run *Run) (Listener, error)

// Run is everything a listener needs for one start.
type Run struct {
	Config  config.ServerConfig
	Matcher *Matcher

	// Certs signs the listener's TLS and interception certificates. Nil
	// when no certificate authority is configured.
	Certs *certs.Authority

	Logger *slog.Logger

	// Snapshot holds the definitions taken at start.
	Snapshot []*mock.Definition

	// Source is read on every request instead of Snapshot when Live is set.
	Source store.Source
	Live   bool
}

// Definitions returns the definitions the listener serves right now.
func (r *Run) Definitions(ctx context.Context) ([]*mock.Definition, error) {
	if r.Live && r.Source != nil {
		return r.Source.LoadActiveDefinitions(ctx, r.Config.Protocol, store.Filter{})
	}
	return r.Snapshot, nil
}
