package memory

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ailink-gateway/ailink/internal/domain/billing"
)

// spendCounter tracks one cap-period's running total for one token. A
// zero expiresAt means the counter never expires (lifetime caps).
type spendCounter struct {
	amount    float64
	expiresAt time.Time
}

// MemorySpendLedger implements billing.SpendLedger with a mutex-guarded
// map and per-key TTL, the same shape as MemoryRateLimiter's cell map:
// both are in-memory stand-ins for an atomic script against a shared KV
// store (a Redis Lua script or equivalent in production), with a
// background sweep bounding memory growth from abandoned tokens.
type MemorySpendLedger struct {
	mu              sync.Mutex
	counters        map[string]*spendCounter
	stopChan        chan struct{}
	wg              sync.WaitGroup
	once            sync.Once
	cleanupInterval time.Duration
}

// NewSpendLedger creates an in-memory spend ledger with a 10-minute
// cleanup sweep.
func NewSpendLedger() *MemorySpendLedger {
	return &MemorySpendLedger{
		counters:        make(map[string]*spendCounter),
		stopChan:        make(chan struct{}),
		cleanupInterval: 10 * time.Minute,
	}
}

var _ billing.SpendLedger = (*MemorySpendLedger)(nil)

// Peek returns the current counter value without mutating it, expiring
// the entry in place first if its TTL has passed.
func (l *MemorySpendLedger) Peek(_ context.Context, key string) (float64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	c, ok := l.counters[key]
	if !ok {
		return 0, nil
	}
	if l.expiredLocked(c) {
		delete(l.counters, key)
		return 0, nil
	}
	return c.amount, nil
}

// CheckAndIncrement is the atomic check-and-increment script,
// implemented as a single critical section: read, compare against
// limit, and increment (or not) all under one lock acquisition so no
// concurrent caller on the same key can observe a stale total.
func (l *MemorySpendLedger) CheckAndIncrement(_ context.Context, key string, cost, limit float64, ttlIfNew time.Duration) (bool, float64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	c, ok := l.counters[key]
	if !ok || l.expiredLocked(c) {
		c = &spendCounter{}
		if ttlIfNew > 0 {
			c.expiresAt = time.Now().Add(ttlIfNew)
		}
		l.counters[key] = c
	}

	if c.amount+cost > limit {
		return false, c.amount, nil
	}
	c.amount += cost
	return true, c.amount, nil
}

func (l *MemorySpendLedger) expiredLocked(c *spendCounter) bool {
	return !c.expiresAt.IsZero() && time.Now().After(c.expiresAt)
}

// StartCleanup starts the background sweep that evicts expired counters.
// Stops when ctx is cancelled or Stop is called.
func (l *MemorySpendLedger) StartCleanup(ctx context.Context) {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		ticker := time.NewTicker(l.cleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-l.stopChan:
				return
			case <-ticker.C:
				l.cleanup()
			}
		}
	}()
}

func (l *MemorySpendLedger) cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	cleaned := 0
	for key, c := range l.counters {
		if l.expiredLocked(c) {
			delete(l.counters, key)
			cleaned++
		}
	}
	if cleaned > 0 {
		slog.Debug("spend ledger cleanup completed", "cleaned_keys", cleaned, "remaining_keys", len(l.counters))
	}
}

// Stop gracefully stops the cleanup goroutine. Safe to call multiple times.
func (l *MemorySpendLedger) Stop() {
	l.once.Do(func() {
		close(l.stopChan)
	})
	l.wg.Wait()
}

// Size returns the number of tracked counters. Useful for tests.
func (l *MemorySpendLedger) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.counters)
}
