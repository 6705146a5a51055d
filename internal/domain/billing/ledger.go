package billing

import (
	"context"
	"time"
)

// SpendLedger is the shared-KV port the cost accountant reads and
// atomically increments spend counters through. Implementations MUST make
// CheckAndIncrement atomic with respect to concurrent callers on the same
// key: it is the authoritative gate against a check-then-act race between
// concurrent requests against the same cap, not Peek.
type SpendLedger interface {
	// Peek returns the current counter value for key without mutating it.
	// Used by the pre-flight check, which intentionally does not reserve
	// to keep the fast path lock-free.
	Peek(ctx context.Context, key string) (float64, error)

	// CheckAndIncrement atomically performs:
	//   current = get(key)
	//   if current + cost > limit: return false, current, nil
	//   incrby(key, cost); set ttl if newly created
	//   return true, current+cost, nil
	// ttlIfNew is only applied the first time a key is created; it is a
	// no-op (period.TTL() == 0) for lifetime caps.
	CheckAndIncrement(ctx context.Context, key string, cost, limit float64, ttlIfNew time.Duration) (ok bool, newValue float64, err error)
}
