package cache

import (
	"context"
	"time"

	"github.com/ailink-gateway/ailink/internal/domain/router"
)

// HeaderCacheStatus is the response header the gateway sets to "HIT" or
// "MISS" so clients and operators can observe cache behavior.
const HeaderCacheStatus = "X-AILink-Cache"

// HeaderNoCache lets a caller opt a single request out of the cache
// regardless of its temperature and streaming settings.
const HeaderNoCache = "X-AILink-No-Cache"

// DefaultTTL is used when a route carries no explicit cache TTL
// (upstream.RouterService.CacheTTL returning 0).
const DefaultTTL = 60 * time.Second

// ResponseCache is the read-through front end the proxy orchestration consults
// before dispatch and writes to after a successful non-streaming response.
// It owns eligibility, key construction, and the backing Cache together so
// callers never build a key or check eligibility inconsistently.
type ResponseCache struct {
	store Cache
}

// NewResponseCache wraps a Cache implementation (typically *Memory) with
// the key-construction and eligibility rules above.
func NewResponseCache(store Cache) *ResponseCache {
	return &ResponseCache{store: store}
}

// Lookup checks the cache for a given chat request. It returns ok=false
// immediately, without consulting the store, for any request that is not
// cache-eligible (streaming, temperature above threshold, or the no-cache
// header present) -- those requests never key, per spec.
func (r *ResponseCache) Lookup(ctx context.Context, tokenID, method, path string, req *router.ChatRequest, rawBody []byte, headers map[string]string) (entry Entry, key string, ok bool) {
	noCache := headerLookup(headers, HeaderNoCache) != ""
	if !IsEligible(req, noCache) {
		return Entry{}, "", false
	}

	key = BuildKey(KeyInput{
		TokenID:     tokenID,
		Method:      method,
		Path:        path,
		Body:        rawBody,
		Temperature: req.Temperature,
		Headers:     headers,
	})

	entry, found := r.store.Get(ctx, key)
	return entry, key, found
}

// Store writes a successful, non-streaming response to the cache under
// the given key, provided the status code is cacheable. A zero ttl falls
// back to DefaultTTL.
func (r *ResponseCache) Store(ctx context.Context, key string, entry Entry, ttl time.Duration) {
	if !EligibleStatus(entry.StatusCode) {
		return
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	r.store.Set(ctx, key, entry, ttl)
}

// Purge clears the entire cache, e.g. after a route or provider config
// change invalidates what "the same request" means.
func (r *ResponseCache) Purge(ctx context.Context) {
	r.store.Purge(ctx)
}
