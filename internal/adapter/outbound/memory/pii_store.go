package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ailink-gateway/ailink/internal/domain/pii"
)

// MemoryPIIStore implements pii.Store as a guarded map keyed by
// "orgID/entryID", mirroring MemorySpendLedger's mutex+map+background
// cleanup shape (internal/adapter/outbound/memory/spend_ledger.go) since
// both are bounded-lifetime in-memory data with a TTL.
type MemoryPIIStore struct {
	mu      sync.RWMutex
	entries map[string]*pii.Entry

	stopChan        chan struct{}
	wg              sync.WaitGroup
	once            sync.Once
	cleanupInterval time.Duration
}

// NewPIIStore creates an empty in-memory PII vault store.
func NewPIIStore() *MemoryPIIStore {
	return &MemoryPIIStore{
		entries:         make(map[string]*pii.Entry),
		stopChan:        make(chan struct{}),
		cleanupInterval: 10 * time.Minute,
	}
}

var _ pii.Store = (*MemoryPIIStore)(nil)

func storeKey(orgID, id string) string { return orgID + "/" + id }

func (s *MemoryPIIStore) Put(_ context.Context, e *pii.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *e
	s.entries[storeKey(e.OrgID, e.ID)] = &cp
	return nil
}

func (s *MemoryPIIStore) Get(_ context.Context, orgID, id string) (*pii.Entry, error) {
	s.mu.RLock()
	e, ok := s.entries[storeKey(orgID, id)]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("pii: vault entry %q not found", id)
	}
	if !e.ExpiresAt.IsZero() && time.Now().UTC().After(e.ExpiresAt) {
		return nil, fmt.Errorf("pii: vault entry %q expired", id)
	}
	cp := *e
	return &cp, nil
}

func (s *MemoryPIIStore) Purge(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]*pii.Entry)
	return nil
}

// StartCleanup runs a background goroutine evicting expired entries every
// cleanupInterval until ctx is done or Stop is called.
func (s *MemoryPIIStore) StartCleanup(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.cleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.cleanup()
			case <-s.stopChan:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (s *MemoryPIIStore) cleanup() {
	now := time.Now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, e := range s.entries {
		if !e.ExpiresAt.IsZero() && now.After(e.ExpiresAt) {
			delete(s.entries, k)
		}
	}
}

// Stop halts the cleanup goroutine, if running.
func (s *MemoryPIIStore) Stop() {
	s.once.Do(func() { close(s.stopChan) })
	s.wg.Wait()
}

// Size returns the number of entries currently stored, for tests.
func (s *MemoryPIIStore) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
