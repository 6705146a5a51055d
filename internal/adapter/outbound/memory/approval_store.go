package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ailink-gateway/ailink/internal/domain/approval"
)

// MemoryApprovalStore implements approval.Store as a guarded map. It
// plays the same role here that action.ApprovalStore plays for MCP
// tool-call approvals, generalized to hold a Status beyond "pending" and
// to survive a lookup after the decision has already been made (unlike
// the tool-call store, which deletes resolved entries, durability here
// means a resolved row must still answer Get/ListPending queries for
// audit, so nothing is ever deleted).
type MemoryApprovalStore struct {
	mu       sync.RWMutex
	requests map[string]*approval.Request
}

// NewApprovalStore creates an empty in-memory approval store.
func NewApprovalStore() *MemoryApprovalStore {
	return &MemoryApprovalStore{requests: make(map[string]*approval.Request)}
}

var _ approval.Store = (*MemoryApprovalStore)(nil)

func (s *MemoryApprovalStore) Add(_ context.Context, req *approval.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *req
	s.requests[req.ID] = &cp
	return nil
}

func (s *MemoryApprovalStore) Get(_ context.Context, id string) (*approval.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	req, ok := s.requests[id]
	if !ok {
		return nil, fmt.Errorf("approval request %q not found", id)
	}
	cp := *req
	return &cp, nil
}

func (s *MemoryApprovalStore) ListPending(_ context.Context) ([]*approval.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*approval.Request
	for _, req := range s.requests {
		if req.Status == approval.StatusPending {
			cp := *req
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryApprovalStore) UpdateStatus(_ context.Context, id string, status approval.Status, decidedBy, denyReason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok {
		return fmt.Errorf("approval request %q not found", id)
	}
	now := time.Now().UTC()
	req.Status = status
	req.DecidedAt = &now
	req.DecidedBy = decidedBy
	req.DenyReason = denyReason
	return nil
}
