// Package approval implements the human-in-the-loop gate for sensitive
// control-plane operations. A [Policy] decides per operation whether it
// executes immediately or is held behind a pending [Request]; resolving
// the request to approved releases the held operation.
package approval

import (
	"context"
	"time"

	"github.com/invenflow/jobcore"
	"github.com/invenflow/jobcore/id"
)

// Action names a gated control-plane operation.
type Action string

const (
	ActionPauseQueue        Action = "queue.pause"
	ActionResumeQueue       Action = "queue.resume"
	ActionCleanQueue        Action = "queue.clean"
	ActionDrainQueue        Action = "queue.drain"
	ActionObliterateQueue   Action = "queue.obliterate"
	ActionRetryFailed       Action = "queue.retry_failed"
	ActionRotateCredentials Action = "credentials.rotate"
)

// Status is the lifecycle state of an approval request.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// Request records a gated operation awaiting a human decision.
type Request struct {
	jobcore.Entity

	ID        id.ApprovalID `json:"id"`
	Requester string        `json:"requester"`
	Action    Action        `json:"action"`
	// Target is the queue or resource the action applies to.
	Target string `json:"target"`
	// Params carries the operation's arguments so a held operation can
	// be re-derived and executed in any process once approved.
	Params     map[string]string `json:"params,omitempty"`
	Rationale  string            `json:"rationale"`
	Status     Status            `json:"status"`
	Resolver   string            `json:"resolver,omitempty"`
	ResolvedAt *time.Time        `json:"resolved_at,omitempty"`
}

// Resolved reports whether the request has reached a terminal status.
func (r *Request) Resolved() bool {
	return r.Status == StatusApproved || r.Status == StatusRejected
}

// Verdict is the policy's decision for one operation.
type Verdict int

const (
	// Immediate means the operation executes without approval.
	Immediate Verdict = iota
	// Pending means the operation is held behind an approval request.
	Pending
)

// Policy decides whether an action needs human approval in the current
// environment. Implementations must be safe for concurrent use.
type Policy interface {
	Evaluate(action Action, env jobcore.Environment) Verdict
}

// PolicyFunc adapts a function to the Policy interface.
type PolicyFunc func(action Action, env jobcore.Environment) Verdict

// Evaluate implements Policy.
func (f PolicyFunc) Evaluate(action Action, env jobcore.Environment) Verdict {
	return f(action, env)
}

// ProductionGate is the default policy: pausing a queue and rotating
// integration credentials require approval in production; everything
// else executes immediately.
func ProductionGate() Policy {
	return PolicyFunc(func(action Action, env jobcore.Environment) Verdict {
		if env != jobcore.EnvProduction {
			return Immediate
		}
		switch action {
		case ActionPauseQueue, ActionRotateCredentials:
			return Pending
		default:
			return Immediate
		}
	})
}

// AllowAll is a policy that never requires approval. Useful in tests and
// development environments.
func AllowAll() Policy {
	return PolicyFunc(func(Action, jobcore.Environment) Verdict { return Immediate })
}

// Store defines the persistence contract for approval requests.
type Store interface {
	// CreateApproval persists a new pending request.
	CreateApproval(ctx context.Context, r *Request) error

	// GetApproval retrieves a request by ID.
	GetApproval(ctx context.Context, approvalID id.ApprovalID) (*Request, error)

	// UpdateApproval persists changes to an existing request.
	UpdateApproval(ctx context.Context, r *Request) error

	// ListApprovals returns requests, optionally filtered by status.
	// An empty status matches all requests.
	ListApprovals(ctx context.Context, status Status) ([]*Request, error)
}
