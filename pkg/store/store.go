// Package store defines where the engine reads mock definitions and listener
// configurations from.
//
// The engine only ever reads: persisted CRUD of definitions and accounts lives
// behind these interfaces in whatever admin layer embeds mockstage. Two
// read-side implementations ship here: MemorySource for programmatic use and
// tests, and FileSource which serves an engine file and reloads it on change.
package store

import (
	"context"
	"errors"
	"slices"

	"github.com/mockstage/mockstage/pkg/config"
	"github.com/mockstage/mockstage/pkg/mock"
)

// ErrNotFound is returned when no listener configuration exists for a
// protocol.
var ErrNotFound = errors.New("not found")

// Source is the read side of definition storage.
type Source interface {
	// LoadActiveDefinitions returns the ACTIVE definitions of protocol that
	// pass filter.
	LoadActiveDefinitions(ctx context.Context, protocol mock.Protocol, filter Filter) ([]*mock.Definition, error)

	// LoadServerConfig returns the stored listener configuration for
	// protocol, or an error wrapping ErrNotFound.
	LoadServerConfig(ctx context.Context, protocol mock.Protocol) (*config.ServerConfig, error)
}

// Owners resolves and authorizes definition ownership. It is implemented by
// the admin layer; the engine never calls it.
type Owners interface {
	ResolveOwner(ctx context.Context, token string) (string, error)
	AuthorizeOwnership(ctx context.Context, owner, token string) error
}

// Filter narrows LoadActiveDefinitions. The zero Filter matches everything.
type Filter struct {
	// Owner restricts to one owner's definitions.
	Owner string
	// Types restricts to the given behavior types.
	Types []mock.Type
}

// Match reports whether d passes the filter.
func (f Filter) Match(d *mock.Definition) bool {
	if f.Owner != "" && d.Owner != f.Owner {
		return false
	}
	if len(f.Types) > 0 && !slices.Contains(f.Types, d.Type) {
		return false
	}
	return true
}
