package memory

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/ailink-gateway/ailink/internal/domain/upstream"
)

// MemoryProviderStore implements upstream.ProviderStore with an in-memory
// map. Thread-safe for concurrent access via sync.RWMutex. Returns deep
// copies to prevent external mutation of stored data.
type MemoryProviderStore struct {
	providers map[string]*upstream.ProviderConfig
	mu        sync.RWMutex
}

// NewProviderStore creates a new in-memory provider store.
func NewProviderStore() *MemoryProviderStore {
	return &MemoryProviderStore{providers: make(map[string]*upstream.ProviderConfig)}
}

// List returns all configured providers as deep copies.
func (s *MemoryProviderStore) List(ctx context.Context) ([]upstream.ProviderConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]upstream.ProviderConfig, 0, len(s.providers))
	for _, p := range s.providers {
		result = append(result, *copyProviderConfig(p))
	}
	return result, nil
}

// Get returns a single provider by ID as a deep copy.
func (s *MemoryProviderStore) Get(ctx context.Context, id string) (*upstream.ProviderConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.providers[id]
	if !ok {
		return nil, upstream.ErrProviderNotFound
	}
	return copyProviderConfig(p), nil
}

// Add stores a new provider. Stores a deep copy to prevent external mutation.
func (s *MemoryProviderStore) Add(ctx context.Context, p *upstream.ProviderConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.providers[p.ID]; ok {
		return upstream.ErrDuplicateProviderID
	}
	s.providers[p.ID] = copyProviderConfig(p)
	return nil
}

// Update replaces an existing provider with a deep copy.
func (s *MemoryProviderStore) Update(ctx context.Context, p *upstream.ProviderConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.providers[p.ID]; !ok {
		return upstream.ErrProviderNotFound
	}
	s.providers[p.ID] = copyProviderConfig(p)
	return nil
}

// Delete removes a provider by ID.
func (s *MemoryProviderStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.providers[id]; !ok {
		return upstream.ErrProviderNotFound
	}
	delete(s.providers, id)
	return nil
}

func copyProviderConfig(p *upstream.ProviderConfig) *upstream.ProviderConfig {
	c := *p
	if p.Models != nil {
		c.Models = make([]string, len(p.Models))
		copy(c.Models, p.Models)
	}
	return &c
}

var _ upstream.ProviderStore = (*MemoryProviderStore)(nil)

// MemoryRouteStore implements upstream.RouteStore with an in-memory map,
// indexed both by ID and by model alias for GetRouteByAlias's hot path.
type MemoryRouteStore struct {
	routes map[string]*upstream.Route // by ID
	byAlia map[string]string          // model alias -> ID
	mu     sync.RWMutex
}

// NewRouteStore creates a new in-memory route store.
func NewRouteStore() *MemoryRouteStore {
	return &MemoryRouteStore{
		routes: make(map[string]*upstream.Route),
		byAlia: make(map[string]string),
	}
}

// List returns all configured routes as deep copies.
func (s *MemoryRouteStore) List(ctx context.Context) ([]upstream.Route, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]upstream.Route, 0, len(s.routes))
	for _, r := range s.routes {
		result = append(result, *copyRoute(r))
	}
	return result, nil
}

// GetRouteByAlias returns the route whose ModelAlias matches alias.
func (s *MemoryRouteStore) GetRouteByAlias(ctx context.Context, alias string) (*upstream.Route, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byAlia[alias]
	if !ok {
		return nil, upstream.ErrRouteNotFound
	}
	return copyRoute(s.routes[id]), nil
}

// Add stores a new route, indexing it by model alias.
func (s *MemoryRouteStore) Add(ctx context.Context, r *upstream.Route) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.routes[r.ID] = copyRoute(r)
	s.byAlia[r.ModelAlias] = r.ID
	return nil
}

// Update replaces an existing route, re-indexing its alias if it changed.
func (s *MemoryRouteStore) Update(ctx context.Context, r *upstream.Route) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.routes[r.ID]
	if !ok {
		return upstream.ErrRouteNotFound
	}
	if old.ModelAlias != r.ModelAlias {
		delete(s.byAlia, old.ModelAlias)
	}
	s.routes[r.ID] = copyRoute(r)
	s.byAlia[r.ModelAlias] = r.ID
	return nil
}

// Delete removes a route by ID.
func (s *MemoryRouteStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.routes[id]
	if !ok {
		return upstream.ErrRouteNotFound
	}
	delete(s.byAlia, r.ModelAlias)
	delete(s.routes, id)
	return nil
}

func copyRoute(r *upstream.Route) *upstream.Route {
	c := *r
	if r.Targets != nil {
		c.Targets = make(json.RawMessage, len(r.Targets))
		copy(c.Targets, r.Targets)
	}
	return &c
}

var _ upstream.RouteStore = (*MemoryRouteStore)(nil)
