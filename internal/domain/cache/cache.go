// Package cache implements the gateway's read-through response cache.
// It is consulted after the Pre-phase policy decision and before the upstream
// dispatcher is invoked: a hit short-circuits dispatch entirely, returning
// the previously-recorded response body at zero upstream cost.
//
// Grounded on eugener/gandalf's internal/cache package (Cache interface,
// otter-backed Memory implementation), generalized with a sharded front end
// that selects the backing shard by xxhash of the cache key so lock/latch
// contention on a single otter.Cache does not serialize every request
// through one shard under high QPS.
package cache

import (
	"context"
	"time"
)

// Entry is a cached, replayable response. The gateway writes one of these
// per cacheable request and replays it verbatim on a hit, including the
// original status code and the subset of headers worth preserving.
type Entry struct {
	StatusCode int               `json:"status_code"`
	Header     map[string]string `json:"header,omitempty"`
	Body       []byte            `json:"body"`
	Model      string            `json:"model"`
	CachedAt   time.Time         `json:"cached_at"`
}

// Cache is the interface for response caching. Implementations MUST be
// safe for concurrent use.
type Cache interface {
	// Get retrieves a cached entry by key. The bool is false on miss or
	// expiry.
	Get(ctx context.Context, key string) (Entry, bool)
	// Set stores an entry with the given TTL.
	Set(ctx context.Context, key string, val Entry, ttl time.Duration)
	// Delete removes a cached entry.
	Delete(ctx context.Context, key string)
	// Purge removes all cached entries.
	Purge(ctx context.Context)
}
