package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/maypok86/otter/v2"
)

// shardCount is the number of independent otter caches a Memory instance
// fans requests out across. Each shard has its own W-TinyLFU admission
// window and its own internal synchronization, so spreading keys across
// shards by hash reduces contention under concurrent load compared to a
// single shared cache instance.
const shardCount = 16

// entry wraps a cached Entry with its absolute expiration time. otter's
// own ExpiryWriting calculator is configured with the shard's default TTL,
// but individual entries can carry a shorter per-route TTL (set by the dispatcher's
// RouterService.CacheTTL), so expiry is additionally enforced on read.
type shardEntry struct {
	value     Entry
	expiresAt time.Time
}

// Memory is an in-memory, sharded, W-TinyLFU response cache. Grounded on
// eugener/gandalf's internal/cache.Memory; generalized here to shard
// across several otter.Cache instances selected by xxhash of the key so a
// single hot shard cannot serialize every request.
type Memory struct {
	shards []*otter.Cache[string, shardEntry]
}

// NewMemory creates a sharded in-memory cache. maxSize is distributed
// evenly across shards; defaultTTL seeds each shard's expiry calculator
// and is used whenever Set is called with a zero TTL.
func NewMemory(maxSize int, defaultTTL time.Duration) (*Memory, error) {
	if maxSize <= 0 {
		maxSize = 1
	}
	perShard := maxSize / shardCount
	if perShard <= 0 {
		perShard = 1
	}

	shards := make([]*otter.Cache[string, shardEntry], shardCount)
	for i := range shards {
		c, err := otter.New[string, shardEntry](&otter.Options[string, shardEntry]{
			MaximumSize:      perShard,
			ExpiryCalculator: otter.ExpiryWriting[string, shardEntry](defaultTTL),
		})
		if err != nil {
			return nil, fmt.Errorf("create cache shard %d: %w", i, err)
		}
		shards[i] = c
	}
	return &Memory{shards: shards}, nil
}

var _ Cache = (*Memory)(nil)

func (m *Memory) shardFor(key string) *otter.Cache[string, shardEntry] {
	h := xxhash.Sum64String(key)
	return m.shards[h%uint64(len(m.shards))]
}

// Get retrieves a cached entry if present and not expired.
func (m *Memory) Get(_ context.Context, key string) (Entry, bool) {
	shard := m.shardFor(key)
	e, ok := shard.GetIfPresent(key)
	if !ok {
		return Entry{}, false
	}
	if !e.expiresAt.IsZero() && time.Now().After(e.expiresAt) {
		shard.Invalidate(key)
		return Entry{}, false
	}
	return e.value, true
}

// Set stores an entry with a per-entry TTL. A zero TTL falls back to the
// shard's default expiry calculator only (no explicit read-side check).
func (m *Memory) Set(_ context.Context, key string, val Entry, ttl time.Duration) {
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}
	m.shardFor(key).Set(key, shardEntry{value: val, expiresAt: expiresAt})
}

// Delete removes a cached entry.
func (m *Memory) Delete(_ context.Context, key string) {
	m.shardFor(key).Invalidate(key)
}

// Purge removes all cached entries across every shard.
func (m *Memory) Purge(_ context.Context) {
	for _, shard := range m.shards {
		shard.InvalidateAll()
	}
}
