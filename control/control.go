// Package control implements the administrative control plane: pausing
// and resuming dispatch, retrying and removing jobs, and purging queues.
//
// Sensitive operations pass through an injected [approval.Policy]. When
// the policy holds an operation, a pending [approval.Request] is
// persisted and the operation executes only once the request resolves
// to approved. Every mutation, held or immediate, writes an audit
// record.
package control

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/invenflow/jobcore"
	"github.com/invenflow/jobcore/approval"
	"github.com/invenflow/jobcore/audit"
	"github.com/invenflow/jobcore/ext"
	"github.com/invenflow/jobcore/id"
	"github.com/invenflow/jobcore/job"
	"github.com/invenflow/jobcore/queue"
)

// Store is the persistence the control plane needs.
type Store interface {
	job.Store
	approval.Store
}

// Rotator rotates integration credentials for a named target. Credential
// storage lives outside the job core; deployments inject their own.
type Rotator interface {
	Rotate(ctx context.Context, target string) error
}

// Plane is the administrative control plane for all registered queues.
type Plane struct {
	store      Store
	queues     *queue.Registry
	extensions *ext.Registry
	policy     approval.Policy
	env        jobcore.Environment
	recorder   audit.Recorder
	rotator    Rotator
	logger     *slog.Logger
}

// Option configures a Plane.
type Option func(*Plane)

// WithRotator injects the credential rotator used by RotateCredentials.
func WithRotator(r Rotator) Option {
	return func(p *Plane) { p.rotator = r }
}

// New creates a control plane. A nil policy defaults to the production
// gate; a nil recorder defaults to the slog recorder.
func New(
	store Store,
	queues *queue.Registry,
	extensions *ext.Registry,
	policy approval.Policy,
	env jobcore.Environment,
	recorder audit.Recorder,
	logger *slog.Logger,
	opts ...Option,
) *Plane {
	if policy == nil {
		policy = approval.ProductionGate()
	}
	if recorder == nil {
		recorder = audit.NewSlogRecorder(logger)
	}
	p := &Plane{
		store:      store,
		queues:     queues,
		extensions: extensions,
		policy:     policy,
		env:        env,
		recorder:   recorder,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Result is the outcome of a gated operation: either it executed and
// Count holds the number of affected jobs, or it is held behind the
// returned pending approval request.
type Result struct {
	// Count is the number of jobs the operation affected.
	Count int64
	// Approval is non-nil when the operation is held pending approval.
	Approval *approval.Request
}

// Held reports whether the operation is waiting on an approval.
func (r Result) Held() bool { return r.Approval != nil }

// ──────────────────────────────────────────────────
// Queue-level operations
// ──────────────────────────────────────────────────

// Pause stops the waiting→active transition for the queue. In-flight
// jobs are unaffected. Gated in production by the default policy.
func (p *Plane) Pause(ctx context.Context, actor, queueName, rationale string) (Result, error) {
	return p.gated(ctx, actor, approval.ActionPauseQueue, queueName, rationale, nil)
}

// Resume re-enables dispatch for a paused queue.
func (p *Plane) Resume(ctx context.Context, actor, queueName, rationale string) (Result, error) {
	return p.gated(ctx, actor, approval.ActionResumeQueue, queueName, rationale, nil)
}

// RetryFailed re-queues up to limit failed jobs for a fresh attempt
// budget. A zero limit retries all failed jobs.
func (p *Plane) RetryFailed(ctx context.Context, actor, queueName string, limit int, rationale string) (Result, error) {
	return p.gated(ctx, actor, approval.ActionRetryFailed, queueName, rationale, map[string]string{
		"limit": strconv.Itoa(limit),
	})
}

// Clean purges terminal jobs in the given state older than grace,
// bounded by limit. Idempotent: a second identical call purges nothing.
func (p *Plane) Clean(ctx context.Context, actor, queueName string, grace time.Duration, limit int, state job.State, rationale string) (Result, error) {
	if !state.Terminal() {
		return Result{}, jobcore.ErrInvalidState
	}
	return p.gated(ctx, actor, approval.ActionCleanQueue, queueName, rationale, map[string]string{
		"grace": grace.String(),
		"limit": strconv.Itoa(limit),
		"state": string(state),
	})
}

// Drain removes every non-active job from the queue.
func (p *Plane) Drain(ctx context.Context, actor, queueName, rationale string) (Result, error) {
	return p.gated(ctx, actor, approval.ActionDrainQueue, queueName, rationale, nil)
}

// Obliterate removes every job in the queue regardless of state.
func (p *Plane) Obliterate(ctx context.Context, actor, queueName, rationale string) (Result, error) {
	return p.gated(ctx, actor, approval.ActionObliterateQueue, queueName, rationale, nil)
}

// RotateCredentials rotates integration credentials for a target through
// the injected Rotator. Gated in production by the default policy.
func (p *Plane) RotateCredentials(ctx context.Context, actor, target, rationale string) (Result, error) {
	if p.rotator == nil {
		return Result{}, fmt.Errorf("control: no credential rotator configured")
	}
	verdict := p.policy.Evaluate(approval.ActionRotateCredentials, p.env)
	if verdict == approval.Pending {
		req, err := p.hold(ctx, actor, approval.ActionRotateCredentials, target, rationale, nil)
		if err != nil {
			return Result{}, err
		}
		return Result{Approval: req}, nil
	}
	if err := p.rotator.Rotate(ctx, target); err != nil {
		p.audit(ctx, audit.NewRecord(actor, string(approval.ActionRotateCredentials), target, rationale).Failed(err))
		return Result{}, err
	}
	p.audit(ctx, audit.NewRecord(actor, string(approval.ActionRotateCredentials), target, rationale))
	return Result{}, nil
}

// ──────────────────────────────────────────────────
// Job-level operations
// ──────────────────────────────────────────────────

// RetryJob re-queues one failed job with a fresh attempt budget.
func (p *Plane) RetryJob(ctx context.Context, actor string, jobID id.JobID, rationale string) error {
	j, err := p.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if j.State != job.StateFailed {
		return jobcore.ErrInvalidState
	}
	p.requeue(j)
	if err := p.store.UpdateJob(ctx, j); err != nil {
		return err
	}
	p.audit(ctx, audit.NewRecord(actor, "job.retry", jobID.String(), rationale))
	return nil
}

// RemoveJob deletes a waiting, delayed, or terminal job. Active jobs
// cannot be forcibly interrupted; removal of one is rejected.
func (p *Plane) RemoveJob(ctx context.Context, actor string, jobID id.JobID, rationale string) error {
	j, err := p.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if j.State == job.StateActive {
		return jobcore.ErrInvalidState
	}
	if err := p.store.DeleteJob(ctx, jobID); err != nil {
		return err
	}
	p.audit(ctx, audit.NewRecord(actor, "job.remove", jobID.String(), rationale))
	return nil
}

// ──────────────────────────────────────────────────
// Approval lifecycle
// ──────────────────────────────────────────────────

// Approvals lists approval requests, optionally filtered by status.
func (p *Plane) Approvals(ctx context.Context, status approval.Status) ([]*approval.Request, error) {
	return p.store.ListApprovals(ctx, status)
}

// Resolve approves or rejects a pending request. Approving executes the
// held operation; the request's action and params carry everything
// needed, so any process can resolve it.
func (p *Plane) Resolve(ctx context.Context, resolver string, approvalID id.ApprovalID, approve bool, rationale string) (Result, error) {
	req, err := p.store.GetApproval(ctx, approvalID)
	if err != nil {
		return Result{}, err
	}
	if req.Resolved() {
		return Result{}, jobcore.ErrApprovalResolved
	}

	now := time.Now().UTC()
	req.Resolver = resolver
	req.ResolvedAt = &now
	if approve {
		req.Status = approval.StatusApproved
	} else {
		req.Status = approval.StatusRejected
	}
	if err := p.store.UpdateApproval(ctx, req); err != nil {
		return Result{}, err
	}

	if !approve {
		p.audit(ctx, audit.NewRecord(resolver, "approval.rejected", string(req.Action)+" "+req.Target, rationale))
		return Result{}, jobcore.ErrApprovalNotGranted
	}

	p.audit(ctx, audit.NewRecord(resolver, "approval.approved", string(req.Action)+" "+req.Target, rationale))

	n, err := p.execute(ctx, req.Action, req.Target, req.Params)
	if err != nil {
		p.audit(ctx, audit.NewRecord(resolver, string(req.Action), req.Target, req.Rationale).Failed(err))
		return Result{}, err
	}
	p.audit(ctx, audit.NewRecord(resolver, string(req.Action), req.Target, req.Rationale))
	return Result{Count: n}, nil
}

// ──────────────────────────────────────────────────
// Internals
// ──────────────────────────────────────────────────

// gated runs one queue operation through the approval policy.
func (p *Plane) gated(ctx context.Context, actor string, action approval.Action, queueName, rationale string, params map[string]string) (Result, error) {
	if _, ok := p.queues.Lookup(queueName); !ok {
		return Result{}, jobcore.ErrUnknownQueue
	}

	if p.policy.Evaluate(action, p.env) == approval.Pending {
		req, err := p.hold(ctx, actor, action, queueName, rationale, params)
		if err != nil {
			return Result{}, err
		}
		return Result{Approval: req}, nil
	}

	n, err := p.execute(ctx, action, queueName, params)
	if err != nil {
		p.audit(ctx, audit.NewRecord(actor, string(action), queueName, rationale).Failed(err))
		return Result{}, err
	}
	p.audit(ctx, audit.NewRecord(actor, string(action), queueName, rationale))
	return Result{Count: n}, nil
}

// hold persists a pending approval request for a gated operation.
func (p *Plane) hold(ctx context.Context, actor string, action approval.Action, target, rationale string, params map[string]string) (*approval.Request, error) {
	req := &approval.Request{
		Entity:    jobcore.NewEntity(),
		ID:        id.NewApprovalID(),
		Requester: actor,
		Action:    action,
		Target:    target,
		Params:    params,
		Rationale: rationale,
		Status:    approval.StatusPending,
	}
	if err := p.store.CreateApproval(ctx, req); err != nil {
		return nil, err
	}
	p.audit(ctx, audit.NewRecord(actor, "approval.requested", string(action)+" "+target, rationale))
	p.logger.Info("operation held pending approval",
		slog.String("approval_id", req.ID.String()),
		slog.String("action", string(action)),
		slog.String("target", target),
		slog.String("requester", actor),
	)
	return req, nil
}

// execute dispatches an operation by action name.
func (p *Plane) execute(ctx context.Context, action approval.Action, target string, params map[string]string) (int64, error) {
	switch action {
	case approval.ActionPauseQueue:
		if err := p.store.PauseQueue(ctx, target); err != nil {
			return 0, err
		}
		p.extensions.EmitQueuePaused(ctx, target)
		return 0, nil

	case approval.ActionResumeQueue:
		if err := p.store.ResumeQueue(ctx, target); err != nil {
			return 0, err
		}
		p.extensions.EmitQueueResumed(ctx, target)
		return 0, nil

	case approval.ActionRetryFailed:
		return p.retryFailed(ctx, target, atoi(params["limit"]))

	case approval.ActionCleanQueue:
		grace, err := time.ParseDuration(params["grace"])
		if err != nil {
			return 0, fmt.Errorf("control: bad grace %q: %w", params["grace"], err)
		}
		cutoff := time.Now().UTC().Add(-grace)
		return p.store.PurgeJobs(ctx, target, job.State(params["state"]), cutoff, atoi(params["limit"]))

	case approval.ActionDrainQueue:
		return p.drain(ctx, target)

	case approval.ActionObliterateQueue:
		return p.store.ObliterateQueue(ctx, target)

	case approval.ActionRotateCredentials:
		if p.rotator == nil {
			return 0, fmt.Errorf("control: no credential rotator configured")
		}
		return 0, p.rotator.Rotate(ctx, target)

	default:
		return 0, fmt.Errorf("control: unknown action %q", action)
	}
}

// retryFailed re-queues up to limit failed jobs, newest first. The
// attempt budget resets so the replay gets a full run.
func (p *Plane) retryFailed(ctx context.Context, queueName string, limit int) (int64, error) {
	failed, err := p.store.ListJobsByState(ctx, job.StateFailed, job.ListOpts{Queue: queueName, Limit: limit})
	if err != nil {
		return 0, err
	}

	var n int64
	for _, j := range failed {
		p.requeue(j)
		if err := p.store.UpdateJob(ctx, j); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// drain removes every non-active job from the queue.
func (p *Plane) drain(ctx context.Context, queueName string) (int64, error) {
	var n int64
	for _, state := range job.States() {
		if state == job.StateActive {
			continue
		}
		jobs, err := p.store.ListJobsByState(ctx, state, job.ListOpts{Queue: queueName})
		if err != nil {
			return n, err
		}
		for _, j := range jobs {
			if err := p.store.DeleteJob(ctx, j.ID); err != nil {
				return n, err
			}
			n++
		}
	}
	return n, nil
}

// requeue resets a failed job for a fresh run.
func (p *Plane) requeue(j *job.Job) {
	j.State = job.StateWaiting
	j.AttemptsMade = 0
	j.Progress = 0
	j.FailureReason = ""
	j.FinishedAt = nil
	j.WorkerID = id.WorkerID{}
	j.ProcessedAt = nil
	j.HeartbeatAt = nil
	j.RunAt = time.Now().UTC()
}

func (p *Plane) audit(ctx context.Context, rec *audit.Record) {
	if err := p.recorder.Record(ctx, rec); err != nil {
		p.logger.Warn("failed to write audit record",
			slog.String("action", rec.Action),
			slog.String("target", rec.Target),
			slog.String("error", err.Error()),
		)
	}
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
