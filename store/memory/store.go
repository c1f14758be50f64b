// Package memory provides a fully in-memory store backend. Safe for
// concurrent access. Intended for unit testing and development.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/invenflow/jobcore"
	"github.com/invenflow/jobcore/approval"
	"github.com/invenflow/jobcore/audit"
	"github.com/invenflow/jobcore/cluster"
	"github.com/invenflow/jobcore/id"
	"github.com/invenflow/jobcore/job"
)

// Ensure Store implements store.Store at compile time.
// We can't import store here (import cycle), so we verify each subsystem.
var (
	_ job.Store      = (*Store)(nil)
	_ approval.Store = (*Store)(nil)
	_ audit.Store    = (*Store)(nil)
	_ cluster.Store  = (*Store)(nil)
)

// Store is a fully in-memory implementation of store.Store.
type Store struct {
	mu sync.RWMutex

	jobs      map[string]*job.Job
	approvals map[string]*approval.Request
	audits    []*audit.Record
	workers   map[string]*cluster.Worker
	paused    map[string]bool

	// leader tracks the current cluster leader worker ID string.
	leader      string
	leaderUntil time.Time
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		jobs:      make(map[string]*job.Job),
		approvals: make(map[string]*approval.Request),
		workers:   make(map[string]*cluster.Worker),
		paused:    make(map[string]bool),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle — Migrate / Ping / Close
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Job Store
// ──────────────────────────────────────────────────

// EnqueueJob persists a new job.
func (m *Store) EnqueueJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := j.ID.String()
	if _, exists := m.jobs[key]; exists {
		return jobcore.ErrJobAlreadyExists
	}
	cp := *j
	m.jobs[key] = &cp
	return nil
}

// ClaimJobs atomically leases up to limit due jobs from the given queue.
func (m *Store) ClaimJobs(_ context.Context, queue string, workerID id.WorkerID, limit int) ([]*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.paused[queue] {
		return nil, nil
	}

	now := time.Now().UTC()

	candidates := make([]*job.Job, 0, limit)
	for _, j := range m.jobs {
		if j.Queue != queue {
			continue
		}
		switch j.State {
		case job.StateWaiting:
		case job.StateDelayed:
			if j.RunAt.After(now) {
				continue
			}
		default:
			continue
		}
		candidates = append(candidates, j)
	}

	// Higher priority first, then earliest RunAt.
	sort.Slice(candidates, func(i, k int) bool {
		if candidates[i].Priority != candidates[k].Priority {
			return candidates[i].Priority > candidates[k].Priority
		}
		return candidates[i].RunAt.Before(candidates[k].RunAt)
	})

	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}

	claimed := make([]*job.Job, 0, len(candidates))
	for _, j := range candidates {
		j.State = job.StateActive
		j.AttemptsMade++
		j.WorkerID = workerID
		j.ProcessedAt = ptr(now)
		j.HeartbeatAt = ptr(now)
		j.UpdatedAt = now

		cp := *j
		claimed = append(claimed, &cp)
	}
	return claimed, nil
}

// GetJob retrieves a job by ID.
func (m *Store) GetJob(_ context.Context, jobID id.JobID) (*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, jobcore.ErrJobNotFound
	}
	cp := *j
	return &cp, nil
}

// UpdateJob persists changes to an existing job.
func (m *Store) UpdateJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := j.ID.String()
	if _, ok := m.jobs[key]; !ok {
		return jobcore.ErrJobNotFound
	}
	cp := *j
	cp.UpdatedAt = time.Now().UTC()
	m.jobs[key] = &cp
	return nil
}

// DeleteJob removes a job by ID.
func (m *Store) DeleteJob(_ context.Context, jobID id.JobID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := jobID.String()
	if _, ok := m.jobs[key]; !ok {
		return jobcore.ErrJobNotFound
	}
	delete(m.jobs, key)
	return nil
}

// ListJobsByState returns jobs matching the given state, newest first.
func (m *Store) ListJobsByState(_ context.Context, state job.State, opts job.ListOpts) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	matched := make([]*job.Job, 0)
	for _, j := range m.jobs {
		if j.State != state {
			continue
		}
		if opts.Queue != "" && j.Queue != opts.Queue {
			continue
		}
		if opts.TenantID != "" && j.TenantID != opts.TenantID {
			continue
		}
		cp := *j
		matched = append(matched, &cp)
	}

	sort.Slice(matched, func(i, k int) bool {
		return matched[i].CreatedAt.After(matched[k].CreatedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(matched) {
			return nil, nil
		}
		matched = matched[opts.Offset:]
	}
	if opts.Limit > 0 && len(matched) > opts.Limit {
		matched = matched[:opts.Limit]
	}
	return matched, nil
}

// CountJobs returns the number of jobs matching the given options.
func (m *Store) CountJobs(_ context.Context, opts job.CountOpts) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var n int64
	for _, j := range m.jobs {
		if opts.Queue != "" && j.Queue != opts.Queue {
			continue
		}
		if opts.State != "" && j.State != opts.State {
			continue
		}
		n++
	}
	return n, nil
}

// HeartbeatJob renews the lease on an active job.
func (m *Store) HeartbeatJob(_ context.Context, jobID id.JobID, workerID id.WorkerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return jobcore.ErrJobNotFound
	}
	if j.State != job.StateActive || j.WorkerID.String() != workerID.String() {
		return jobcore.ErrLeaseTimeout
	}
	now := time.Now().UTC()
	j.HeartbeatAt = ptr(now)
	j.UpdatedAt = now
	return nil
}

// ReclaimStalled returns stalled active jobs to waiting, or dead-ends them
// to failed when the attempt budget is spent.
func (m *Store) ReclaimStalled(_ context.Context, queue string, threshold time.Duration) ([]*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	cutoff := now.Add(-threshold)

	affected := make([]*job.Job, 0)
	for _, j := range m.jobs {
		if j.Queue != queue || j.State != job.StateActive {
			continue
		}
		last := j.ProcessedAt
		if j.HeartbeatAt != nil {
			last = j.HeartbeatAt
		}
		if last == nil || last.After(cutoff) {
			continue
		}

		if j.AttemptsMade >= j.MaxAttempts {
			j.State = job.StateFailed
			j.FailureReason = "lease expired without heartbeat"
			j.FinishedAt = ptr(now)
		} else {
			j.State = job.StateWaiting
			j.RunAt = now
			j.ProcessedAt = nil
			// The next attempt starts its progress from scratch.
			j.Progress = 0
		}
		j.WorkerID = id.WorkerID{}
		j.HeartbeatAt = nil
		j.UpdatedAt = now

		cp := *j
		affected = append(affected, &cp)
	}
	return affected, nil
}

// PurgeJobs removes terminal jobs finished before cutoff, oldest first.
func (m *Store) PurgeJobs(_ context.Context, queue string, state job.State, cutoff time.Time, limit int) (int64, error) {
	if !state.Terminal() {
		return 0, jobcore.ErrInvalidState
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	expired := make([]*job.Job, 0)
	for _, j := range m.jobs {
		if j.Queue != queue || j.State != state {
			continue
		}
		if j.FinishedAt == nil || !j.FinishedAt.Before(cutoff) {
			continue
		}
		expired = append(expired, j)
	}

	sort.Slice(expired, func(i, k int) bool {
		return expired[i].FinishedAt.Before(*expired[k].FinishedAt)
	})
	if limit > 0 && len(expired) > limit {
		expired = expired[:limit]
	}

	for _, j := range expired {
		delete(m.jobs, j.ID.String())
	}
	return int64(len(expired)), nil
}

// TrimJobs removes the oldest terminal jobs beyond maxCount.
func (m *Store) TrimJobs(_ context.Context, queue string, state job.State, maxCount int) (int64, error) {
	if !state.Terminal() {
		return 0, jobcore.ErrInvalidState
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	matched := make([]*job.Job, 0)
	for _, j := range m.jobs {
		if j.Queue == queue && j.State == state {
			matched = append(matched, j)
		}
	}
	if maxCount < 0 {
		maxCount = 0
	}
	if len(matched) <= maxCount {
		return 0, nil
	}

	// Newest first, then drop everything past maxCount.
	sort.Slice(matched, func(i, k int) bool {
		ti, tk := matched[i].FinishedAt, matched[k].FinishedAt
		if ti == nil || tk == nil {
			return matched[i].CreatedAt.After(matched[k].CreatedAt)
		}
		return ti.After(*tk)
	})

	excess := matched[maxCount:]
	for _, j := range excess {
		delete(m.jobs, j.ID.String())
	}
	return int64(len(excess)), nil
}

// ObliterateQueue removes every job in the queue regardless of state.
func (m *Store) ObliterateQueue(_ context.Context, queue string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for key, j := range m.jobs {
		if j.Queue == queue {
			delete(m.jobs, key)
			n++
		}
	}
	delete(m.paused, queue)
	return n, nil
}

// PauseQueue stops the waiting→active transition for the queue.
func (m *Store) PauseQueue(_ context.Context, queue string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.paused[queue] {
		return jobcore.ErrQueuePaused
	}
	m.paused[queue] = true
	return nil
}

// ResumeQueue re-enables dispatch for the queue.
func (m *Store) ResumeQueue(_ context.Context, queue string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.paused[queue] {
		return jobcore.ErrQueueNotPaused
	}
	delete(m.paused, queue)
	return nil
}

// IsQueuePaused reports whether dispatch is currently gated.
func (m *Store) IsQueuePaused(_ context.Context, queue string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.paused[queue], nil
}

// ──────────────────────────────────────────────────
// Approval Store
// ──────────────────────────────────────────────────

// CreateApproval persists a new pending request.
func (m *Store) CreateApproval(_ context.Context, r *approval.Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *r
	m.approvals[r.ID.String()] = &cp
	return nil
}

// GetApproval retrieves a request by ID.
func (m *Store) GetApproval(_ context.Context, approvalID id.ApprovalID) (*approval.Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.approvals[approvalID.String()]
	if !ok {
		return nil, jobcore.ErrApprovalNotFound
	}
	cp := *r
	return &cp, nil
}

// UpdateApproval persists changes to an existing request.
func (m *Store) UpdateApproval(_ context.Context, r *approval.Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := r.ID.String()
	if _, ok := m.approvals[key]; !ok {
		return jobcore.ErrApprovalNotFound
	}
	cp := *r
	cp.UpdatedAt = time.Now().UTC()
	m.approvals[key] = &cp
	return nil
}

// ListApprovals returns requests filtered by status, newest first.
func (m *Store) ListApprovals(_ context.Context, status approval.Status) ([]*approval.Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	matched := make([]*approval.Request, 0, len(m.approvals))
	for _, r := range m.approvals {
		if status != "" && r.Status != status {
			continue
		}
		cp := *r
		matched = append(matched, &cp)
	}
	sort.Slice(matched, func(i, k int) bool {
		return matched[i].CreatedAt.After(matched[k].CreatedAt)
	})
	return matched, nil
}

// ──────────────────────────────────────────────────
// Audit Store
// ──────────────────────────────────────────────────

// AppendAudit persists one audit record.
func (m *Store) AppendAudit(_ context.Context, rec *audit.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *rec
	m.audits = append(m.audits, &cp)
	return nil
}

// ListAudit returns the most recent records, newest first.
func (m *Store) ListAudit(_ context.Context, limit int) ([]*audit.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*audit.Record, 0, len(m.audits))
	for i := len(m.audits) - 1; i >= 0; i-- {
		cp := *m.audits[i]
		out = append(out, &cp)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// ──────────────────────────────────────────────────
// Cluster Store
// ──────────────────────────────────────────────────

// Register adds a worker to the in-memory registry.
func (m *Store) Register(_ context.Context, w *cluster.Worker) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *w
	m.workers[w.ID.String()] = &cp
	return nil
}

// Deregister removes a worker, releasing its leader lease if held.
func (m *Store) Deregister(_ context.Context, workerID id.WorkerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := workerID.String()
	if _, ok := m.workers[key]; !ok {
		return jobcore.ErrWorkerNotFound
	}
	delete(m.workers, key)
	if m.leader == key {
		m.leader = ""
	}
	return nil
}

// Heartbeat refreshes the last-seen timestamp for a worker.
func (m *Store) Heartbeat(_ context.Context, workerID id.WorkerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.workers[workerID.String()]
	if !ok {
		return jobcore.ErrWorkerNotFound
	}
	w.LastSeen = time.Now().UTC()
	return nil
}

// Workers returns every registered worker sorted by id.
func (m *Store) Workers(_ context.Context) ([]*cluster.Worker, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*cluster.Worker, 0, len(m.workers))
	for _, w := range m.workers {
		cp := *w
		cp.Leader = m.leader == w.ID.String() && time.Now().UTC().Before(m.leaderUntil)
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, k int) bool {
		return out[i].ID.String() < out[k].ID.String()
	})
	return out, nil
}

// ExpireWorkers transitions workers silent for longer than threshold
// to StateDead and returns them.
func (m *Store) ExpireWorkers(_ context.Context, threshold time.Duration) ([]*cluster.Worker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().UTC().Add(-threshold)
	dead := make([]*cluster.Worker, 0)
	for _, w := range m.workers {
		if w.State == cluster.StateDead || w.LastSeen.After(cutoff) {
			continue
		}
		w.State = cluster.StateDead
		cp := *w
		dead = append(dead, &cp)
	}
	return dead, nil
}

// Campaign takes the leader lease when it is vacant or lapsed.
func (m *Store) Campaign(_ context.Context, workerID id.WorkerID, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	key := workerID.String()
	if m.leader != "" && m.leader != key && now.Before(m.leaderUntil) {
		return false, nil
	}
	m.leader = key
	m.leaderUntil = now.Add(ttl)
	return true, nil
}

// Extend renews the lease for the current holder only.
func (m *Store) Extend(_ context.Context, workerID id.WorkerID, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.leader != workerID.String() {
		return false, nil
	}
	m.leaderUntil = time.Now().UTC().Add(ttl)
	return true, nil
}

// Leader returns the current lease holder, or nil when vacant.
func (m *Store) Leader(_ context.Context) (*cluster.Worker, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.leader == "" || !time.Now().UTC().Before(m.leaderUntil) {
		return nil, nil
	}
	w, ok := m.workers[m.leader]
	if !ok {
		return nil, nil
	}
	cp := *w
	cp.Leader = true
	until := m.leaderUntil
	cp.LeaderExpiry = &until
	return &cp, nil
}

func ptr(t time.Time) *time.Time { return &t }
