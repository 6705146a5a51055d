package upstream

import (
	"fmt"
	"slices"
	"sync"

	"github.com/ailink-gateway/ailink/internal/domain/router"
)

// ProviderRegistry maps provider IDs to live router.Provider clients. Unlike
// ProviderStore (the persisted configuration), the registry holds the
// constructed HTTP clients -- each one's transport chain already carrying
// its credential.Injector -- so it is rebuilt in memory on startup and
// whenever an administrator adds, updates, or deletes a provider.
type ProviderRegistry struct {
	mu        sync.RWMutex
	providers map[string]router.Provider
}

// NewProviderRegistry returns an empty, ready-to-use registry.
func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{providers: make(map[string]router.Provider)}
}

// Register adds or replaces the provider client registered under id.
func (r *ProviderRegistry) Register(id string, p router.Provider) {
	r.mu.Lock()
	r.providers[id] = p
	r.mu.Unlock()
}

// Unregister removes the provider client registered under id, if any.
func (r *ProviderRegistry) Unregister(id string) {
	r.mu.Lock()
	delete(r.providers, id)
	r.mu.Unlock()
}

// Get returns the provider client registered under id.
func (r *ProviderRegistry) Get(id string) (router.Provider, error) {
	r.mu.RLock()
	p, ok := r.providers[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotFound, id)
	}
	return p, nil
}

// List returns the sorted IDs of all registered provider clients.
func (r *ProviderRegistry) List() []string {
	r.mu.RLock()
	ids := slices.Collect(func(yield func(string) bool) {
		for id := range r.providers {
			if !yield(id) {
				return
			}
		}
	})
	r.mu.RUnlock()
	slices.Sort(ids)
	return ids
}
