package approval

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ailink-gateway/ailink/internal/domain/policy"
)

// Broker owns the durable Store and the single-slot in-process
// waiters the request task blocks on while an approval is pending.
type Broker struct {
	store  Store
	logger *slog.Logger

	mu      sync.Mutex
	waiters map[string]chan Decision
}

// NewBroker creates a Broker over the given durable Store.
func NewBroker(store Store, logger *slog.Logger) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broker{store: store, logger: logger, waiters: make(map[string]chan Decision)}
}

// RequestApproval implements the RequireApproval policy action: insert
// a durable Pending row, register a single-slot waiter, then suspend
// until an admin decision arrives (Decide), the timeout elapses (in which
// case Status becomes Expired and fallback is applied), or ctx is
// canceled (client disconnect -- the caller's request task is being torn
// down, so the broker just stops waiting; it does not flip the durable
// row, since a reconnecting client could in principle still want the
// original decision recorded for audit).
func (b *Broker) RequestApproval(ctx context.Context, tokenID, reason string, timeout time.Duration, fallback policy.ActionKind) (Decision, error) {
	now := time.Now().UTC()
	req := &Request{
		ID:          uuid.New().String(),
		TokenID:     tokenID,
		Reason:      reason,
		RequestedAt: now,
		Timeout:     timeout,
		ExpiresAt:   now.Add(timeout),
		Fallback:    fallback,
		Status:      StatusPending,
	}
	if err := b.store.Add(ctx, req); err != nil {
		return Decision{}, fmt.Errorf("insert approval request: %w", err)
	}

	waiter := make(chan Decision, 1)
	b.mu.Lock()
	b.waiters[req.ID] = waiter
	b.mu.Unlock()
	defer b.forgetWaiter(req.ID)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case decision := <-waiter:
		return decision, nil
	case <-timer.C:
		return b.expire(context.WithoutCancel(ctx), req)
	case <-ctx.Done():
		b.logger.Info("approval wait canceled by client disconnect", "approval_id", req.ID)
		return Decision{}, ctx.Err()
	}
}

// expire durably flips req to Expired and applies its configured
// fallback. Durable write happens before any in-process effect, matching
// the Decide ordering requirement.
func (b *Broker) expire(ctx context.Context, req *Request) (Decision, error) {
	if err := b.store.UpdateStatus(ctx, req.ID, StatusExpired, "", "approval window elapsed"); err != nil {
		return Decision{}, fmt.Errorf("mark approval expired: %w", err)
	}
	approved := req.Fallback == policy.ActionKindAllow
	b.logger.Info("approval request expired, applying fallback",
		"approval_id", req.ID, "fallback", req.Fallback, "approved", approved)
	return Decision{Approved: approved, Reason: "approval timed out", Status: StatusExpired}, nil
}

// Decide is the admin-decision handler invoked from the admin REST
// surface. It writes durable status before signaling any waiter so a
// crash between the two still leaves the decision recorded: on restart,
// nothing needs to re-run -- the durable row already carries
// the final status, the only reason to wake a waiter is if one happens
// to still be connected.
func (b *Broker) Decide(ctx context.Context, id string, approved bool, decidedBy, reason string) error {
	status := StatusRejected
	if approved {
		status = StatusApproved
	}
	if err := b.store.UpdateStatus(ctx, id, status, decidedBy, reason); err != nil {
		return fmt.Errorf("update approval status: %w", err)
	}

	b.mu.Lock()
	waiter, ok := b.waiters[id]
	b.mu.Unlock()
	if !ok {
		// No connected waiter -- the requesting client already disconnected
		// or timed out client-side. The durable row still carries the
		// decision for audit; nothing more to do.
		return nil
	}

	select {
	case waiter <- Decision{Approved: approved, Reason: reason, Status: status}:
	default:
		// Waiter channel is buffered size 1 and only ever receives once;
		// a full channel here means the waiter already resolved via some
		// other path (timeout racing the decision). Non-blocking send
		// avoids stalling the admin-decision handler on a dead waiter.
	}
	return nil
}

// ReconcileExpired runs at boot: any row still Status == Pending whose
// ExpiresAt has already passed gets durably flipped to Expired. A client
// that was waiting across the restart cannot be re-signaled (its
// connection is gone); this only repairs the durable record so subsequent
// reads (audit, admin UI) see the correct status.
func (b *Broker) ReconcileExpired(ctx context.Context) (int, error) {
	pending, err := b.store.ListPending(ctx)
	if err != nil {
		return 0, fmt.Errorf("list pending approvals: %w", err)
	}
	now := time.Now().UTC()
	expired := 0
	for _, req := range pending {
		if now.Before(req.ExpiresAt) {
			continue
		}
		if err := b.store.UpdateStatus(ctx, req.ID, StatusExpired, "", "approval window elapsed before restart reconciliation"); err != nil {
			return expired, fmt.Errorf("expire stale approval %q: %w", req.ID, err)
		}
		expired++
	}
	if expired > 0 {
		b.logger.Info("reconciled stale pending approvals on boot", "count", expired)
	}
	return expired, nil
}

func (b *Broker) forgetWaiter(id string) {
	b.mu.Lock()
	delete(b.waiters, id)
	b.mu.Unlock()
}
