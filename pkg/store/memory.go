package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mockstage/mockstage/pkg/config"
	"github.com/mockstage/mockstage/pkg/mock"
)

// MemorySource is a thread-safe in-memory Source.
type MemorySource struct {
	mu          sync.RWMutex
	definitions map[string]*mock.Definition
	servers     map[mock.Protocol]config.ServerConfig
}

// NewMemorySource creates an empty MemorySource.
func NewMemorySource() *MemorySource {
	return &MemorySource{
		definitions: make(map[string]*mock.Definition),
		servers:     make(map[mock.Protocol]config.ServerConfig),
	}
}

// Put stores or replaces a definition. A missing ID is generated and a
// missing creation time is set to now.
func (s *MemorySource) Put(d *mock.Definition) *mock.Definition {
	if d == nil {
		return nil
	}
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.definitions[d.ID] = d
	return d
}

// Delete removes a definition by ID. Returns true if deleted, false if not found.
func (s *MemorySource) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.definitions[id]; exists {
		delete(s.definitions, id)
		return true
	}
	return false
}

// Get retrieves a definition by ID. Returns nil if not found.
func (s *MemorySource) Get(id string) *mock.Definition {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.definitions[id]
}

// PutServerConfig stores the listener configuration for cfg.Protocol.
func (s *MemorySource) PutServerConfig(cfg config.ServerConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.servers[cfg.Protocol] = cfg.Clone()
}

// Replace swaps the whole content in one step.
func (s *MemorySource) Replace(definitions []*mock.Definition, servers []config.ServerConfig) {
	defs := make(map[string]*mock.Definition, len(definitions))
	for _, d := range definitions {
		if d != nil {
			defs[d.ID] = d
		}
	}
	cfgs := make(map[mock.Protocol]config.ServerConfig, len(servers))
	for _, c := range servers {
		cfgs[c.Protocol] = c.Clone()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.definitions = defs
	s.servers = cfgs
}

// LoadActiveDefinitions returns matching definitions sorted by creation time,
// oldest first.
func (s *MemorySource) LoadActiveDefinitions(ctx context.Context, protocol mock.Protocol, filter Filter) ([]*mock.Definition, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*mock.Definition, 0, len(s.definitions))
	for _, d := range s.definitions {
		if d.Protocol == protocol && d.Active() && filter.Match(d) {
			result = append(result, d)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

// LoadServerConfig returns the stored configuration for protocol.
func (s *MemorySource) LoadServerConfig(ctx context.Context, protocol mock.Protocol) (*config.ServerConfig, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	cfg, ok := s.servers[protocol]
	if !ok {
		return nil, fmt.Errorf("%s server config: %w", protocol, ErrNotFound)
	}
	clone := cfg.Clone()
	return &clone, nil
}
