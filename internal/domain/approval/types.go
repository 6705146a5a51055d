// Package approval implements the approval broker: the state machine
// and waiter-signaling mechanism behind a policy's RequireApproval action
// on an LLM request. Generalized from the MCP-tool-call approval flow in
// internal/domain/action.ApprovalStore/ApprovalInterceptor (ephemeral,
// in-process only, no durable row and no restart reconciliation) to a
// durable Pending/Approved/Rejected/Expired state machine: a durable
// ApprovalRequest row written before the in-process waiter is signaled,
// and a restart sweep that expires any Pending row past its deadline.
package approval

import (
	"context"
	"time"

	"github.com/ailink-gateway/ailink/internal/domain/policy"
)

// Status is the lifecycle state of an ApprovalRequest.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusExpired  Status = "expired"
)

// Request is one durable approval row. It is written to the Store before
// the in-process waiter blocks, and its Status is written before the
// waiter is ever signaled -- a crash between those two writes simply
// leaves the row Pending, recoverable by ReconcileExpired on the next
// boot.
type Request struct {
	ID          string
	TokenID     string
	Reason      string
	RequestedAt time.Time
	Timeout     time.Duration
	ExpiresAt   time.Time
	// Fallback is the ActionKind (ActionKindAllow or ActionKindDeny)
	// applied if the request expires before an admin decides it, mirroring
	// policy.RequireApprovalConfig.Fallback.
	Fallback   policy.ActionKind
	Status     Status
	DecidedAt  *time.Time
	DecidedBy  string
	DenyReason string
}

// Store is the durable persistence port for approval requests. A crash
// after Add but before the waiter resolves must still leave the row
// recoverable by ID -- that recoverability is the whole point of writing
// here before signaling in-process.
type Store interface {
	Add(ctx context.Context, req *Request) error
	Get(ctx context.Context, id string) (*Request, error)
	// ListPending returns every row currently Status == StatusPending, for
	// the restart-reconciliation sweep and the admin "approvals needing a
	// decision" view.
	ListPending(ctx context.Context) ([]*Request, error)
	// UpdateStatus flips a row's status (and decision metadata) durably.
	// Implementations MUST make this call return before the broker
	// signals any in-process waiter.
	UpdateStatus(ctx context.Context, id string, status Status, decidedBy, denyReason string) error
}

// Decision is what RequestApproval returns once resolved, one way or
// another (admin decision, timeout+fallback, or context cancellation).
type Decision struct {
	Approved bool
	Reason   string
	Status   Status
}
