package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Decision is a user's verdict on a pending tool approval.
type Decision string

const (
	// DecisionApprove allows this one call.
	DecisionApprove Decision = "approve"
	// DecisionApproveSession allows this call and auto-approves the same
	// server:tool key for the rest of the session.
	DecisionApproveSession Decision = "approve-session"
	// DecisionDeny refuses the call; the model sees a synthetic error
	// result and the tool is never dispatched.
	DecisionDeny Decision = "deny"
)

// Valid reports whether d is a known decision.
func (d Decision) Valid() bool {
	switch d {
	case DecisionApprove, DecisionApproveSession, DecisionDeny:
		return true
	}
	return false
}

var (
	// ErrApprovalNotFound means the approval id is unknown or already
	// resolved.
	ErrApprovalNotFound = errors.New("approval request not found")
	// ErrInvalidDecision means the decision is not approve,
	// approve-session, or deny.
	ErrInvalidDecision = errors.New("invalid approval decision")
)

type pendingApproval struct {
	turnID   string
	key      string // composite server:tool
	resolve  chan Decision
	resolved bool // guarded by the registry mutex
}

// ApprovalRegistry is the rendezvous between a chat turn blocked on a
// tool approval and the HTTP request that resolves it. Each pending
// approval resolves exactly once.
type ApprovalRegistry struct {
	mu      sync.Mutex
	pending map[string]*pendingApproval
	logger  *slog.Logger
}

// NewApprovalRegistry creates an empty registry.
func NewApprovalRegistry() *ApprovalRegistry {
	return &ApprovalRegistry{
		pending: make(map[string]*pendingApproval),
		logger:  slog.Default().With("component", "approvals"),
	}
}

// Request registers a pending approval and returns its id for the
// tool-approval-request event.
func (r *ApprovalRegistry) Request(turnID, key string) string {
	id := uuid.NewString()
	r.mu.Lock()
	r.pending[id] = &pendingApproval{
		turnID:  turnID,
		key:     key,
		resolve: make(chan Decision, 1),
	}
	r.mu.Unlock()
	r.logger.Info("Tool approval requested", "approval_id", id, "turn_id", turnID, "key", key)
	return id
}

// Wait blocks until the approval is resolved or ctx ends, then removes
// the record. A decision delivered before Wait is entered is not lost:
// the resolve channel buffers it. A ctx-ended wait also removes the
// record, so a late Resolve gets ErrApprovalNotFound instead of
// resolving into the void.
func (r *ApprovalRegistry) Wait(ctx context.Context, id string) (Decision, error) {
	r.mu.Lock()
	p, ok := r.pending[id]
	r.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrApprovalNotFound, id)
	}

	select {
	case d := <-p.resolve:
		r.mu.Lock()
		delete(r.pending, id)
		r.mu.Unlock()
		return d, nil
	case <-ctx.Done():
		r.mu.Lock()
		delete(r.pending, id)
		r.mu.Unlock()
		return "", ctx.Err()
	}
}

// Resolve delivers a decision to the waiting turn. Exactly one Resolve
// per id succeeds; later calls get ErrApprovalNotFound. The record stays
// registered until Wait consumes the decision, so Resolve racing ahead
// of Wait still lands.
func (r *ApprovalRegistry) Resolve(id string, decision Decision) error {
	if !decision.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidDecision, decision)
	}

	r.mu.Lock()
	p, ok := r.pending[id]
	if ok && p.resolved {
		ok = false
	}
	if ok {
		p.resolved = true
	}
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrApprovalNotFound, id)
	}

	p.resolve <- decision
	r.logger.Info("Tool approval resolved", "approval_id", id, "key", p.key, "decision", decision)
	return nil
}
