package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/invenflow/jobcore/ext"
	"github.com/invenflow/jobcore/id"
	"github.com/invenflow/jobcore/job"
)

// ErrStalled is the failure reason recorded when a stalled job dead-ends
// with its attempt budget spent.
var ErrStalled = errors.New("worker: lease expired without heartbeat")

// QueueManager controls per-queue and per-tenant rate limiting and
// concurrency. The worker pool calls Acquire before executing a claimed
// job and Release after execution completes.
type QueueManager interface {
	// Acquire checks rate limits and concurrency for the queue/tenant
	// combination. Returns true if the job is allowed to proceed.
	Acquire(queue, tenantID string) bool
	// Release decrements the active count for the queue/tenant pair.
	Release(queue, tenantID string)
}

// Pool manages the concurrent worker goroutines for one queue. Pools
// for different queues are fully independent; multiple pool instances
// across processes compete for the same jobs through the store's atomic
// claim primitive.
type Pool struct {
	store        job.Store
	executor     *Executor
	extensions   *ext.Registry
	queue        string
	concurrency  int
	pollInterval time.Duration
	workerID     id.WorkerID
	logger       *slog.Logger

	// Lease maintenance configuration.
	heartbeatInterval time.Duration
	stallThreshold    time.Duration

	queueManager QueueManager

	// claimCtx governs the polling loops; cancelling it stops claiming
	// without touching jobs already executing.
	claimCtx    context.Context
	cancelClaim context.CancelFunc
	wg          sync.WaitGroup

	mu     sync.Mutex
	leases map[id.JobID]context.CancelFunc
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithPoolConcurrency sets the number of concurrent worker goroutines.
func WithPoolConcurrency(n int) PoolOption {
	return func(p *Pool) { p.concurrency = n }
}

// WithPollInterval sets how often workers poll for new jobs.
func WithPollInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.pollInterval = d }
}

// WithHeartbeatInterval sets how often the pool renews leases for
// active jobs. A zero value disables heartbeats.
func WithHeartbeatInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.heartbeatInterval = d }
}

// WithStallThreshold sets the threshold after which active jobs without
// a heartbeat are considered stalled and reclaimed. A zero value
// disables stall reclaim.
func WithStallThreshold(d time.Duration) PoolOption {
	return func(p *Pool) { p.stallThreshold = d }
}

// WithQueueManager sets the queue manager for rate limiting and
// concurrency control.
func WithQueueManager(m QueueManager) PoolOption {
	return func(p *Pool) { p.queueManager = m }
}

// NewPool creates a worker pool for one queue.
func NewPool(
	store job.Store,
	executor *Executor,
	extensions *ext.Registry,
	logger *slog.Logger,
	queue string,
	opts ...PoolOption,
) *Pool {
	p := &Pool{
		store:        store,
		executor:     executor,
		extensions:   extensions,
		queue:        queue,
		concurrency:  5,
		pollInterval: time.Second,
		workerID:     id.NewWorkerID(),
		logger:       logger,
		leases:       make(map[id.JobID]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WorkerID returns the pool's unique worker identifier.
func (p *Pool) WorkerID() id.WorkerID { return p.workerID }

// Queue returns the queue this pool serves.
func (p *Pool) Queue() string { return p.queue }

// Start launches the worker goroutines. It returns immediately.
func (p *Pool) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.claimCtx != nil {
		return nil
	}
	p.claimCtx, p.cancelClaim = context.WithCancel(context.Background())

	p.logger.Info("worker pool starting",
		slog.String("worker_id", p.workerID.String()),
		slog.String("queue", p.queue),
		slog.Int("concurrency", p.concurrency),
	)

	for range p.concurrency {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.claimLoop(p.claimCtx)
		}()
	}
	if p.heartbeatInterval > 0 {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.everyTick(p.claimCtx, p.heartbeatInterval, p.renewLeases)
		}()
	}
	if p.stallThreshold > 0 {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.everyTick(p.claimCtx, p.stallThreshold, p.reclaimStalled)
		}()
	}
	return nil
}

// Stop halts claiming and waits for in-flight jobs. When the context
// deadline expires first, in-flight jobs are cancelled.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.claimCtx == nil {
		p.mu.Unlock()
		return nil
	}
	p.cancelClaim()
	p.mu.Unlock()

	p.logger.Info("worker pool stopping",
		slog.String("worker_id", p.workerID.String()),
		slog.String("queue", p.queue),
	)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out, cancelling active jobs")
		p.abortActive()
		p.wg.Wait()
	}
	return nil
}

// claimLoop is run by each worker goroutine. Each iteration leases at
// most one job, so the pool never holds more than concurrency leases.
func (p *Pool) claimLoop(ctx context.Context) {
	for ctx.Err() == nil {
		jobs, err := p.store.ClaimJobs(context.Background(), p.queue, p.workerID, 1)
		if err != nil {
			p.logger.Error("claim error",
				slog.String("queue", p.queue),
				slog.String("error", err.Error()),
			)
			p.idle(ctx)
			continue
		}
		if len(jobs) == 0 {
			p.idle(ctx)
			continue
		}
		p.run(jobs[0])
	}
}

// run executes one claimed job through the middleware stack, holding a
// queue-manager slot for the duration when one is configured.
func (p *Pool) run(j *job.Job) {
	if p.queueManager != nil {
		if !p.queueManager.Acquire(j.Queue, j.TenantID) {
			p.returnThrottled(j)
			return
		}
		defer p.queueManager.Release(j.Queue, j.TenantID)
	}

	p.extensions.EmitJobStarted(context.Background(), j)

	// Execution survives claim shutdown; graceful stop drains it.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.track(j.ID, cancel)
	defer p.untrack(j.ID)

	if err := p.executor.Execute(ctx, j); err != nil {
		p.logger.Debug("job execution failed",
			slog.String("job_id", j.ID.String()),
			slog.String("job_name", j.Name),
			slog.String("error", err.Error()),
		)
	}
}

// returnThrottled puts a rate-limited claim back without consuming the
// attempt budget. The claim incremented AttemptsMade, so it is rolled
// back here; no execution happened.
func (p *Pool) returnThrottled(j *job.Job) {
	j.State = job.StateDelayed
	j.RunAt = time.Now().UTC().Add(p.pollInterval)
	j.AttemptsMade--
	j.WorkerID = id.WorkerID{}
	j.ProcessedAt = nil
	j.HeartbeatAt = nil

	if err := p.store.UpdateJob(context.Background(), j); err != nil {
		p.logger.Error("failed to return throttled job",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
	}
}

// everyTick invokes fn on the interval until the context is cancelled.
func (p *Pool) everyTick(ctx context.Context, interval time.Duration, fn func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}

// renewLeases heartbeats every job this pool currently holds.
func (p *Pool) renewLeases() {
	p.mu.Lock()
	held := make([]id.JobID, 0, len(p.leases))
	for jobID := range p.leases {
		held = append(held, jobID)
	}
	p.mu.Unlock()

	for _, jobID := range held {
		if err := p.store.HeartbeatJob(context.Background(), jobID, p.workerID); err != nil {
			p.logger.Warn("heartbeat failed",
				slog.String("job_id", jobID.String()),
				slog.String("error", err.Error()),
			)
		}
	}
}

// reclaimStalled returns expired leases on this queue to the waiting
// state, or dead-ends them when the attempt budget is spent.
func (p *Pool) reclaimStalled() {
	stalled, err := p.store.ReclaimStalled(context.Background(), p.queue, p.stallThreshold)
	if err != nil {
		p.logger.Error("reclaim stalled jobs error",
			slog.String("queue", p.queue),
			slog.String("error", err.Error()),
		)
		return
	}

	for _, j := range stalled {
		p.extensions.EmitJobStalled(context.Background(), j)

		if j.State == job.StateFailed {
			p.extensions.EmitJobFailed(context.Background(), j, ErrStalled)
			p.logger.Warn("stalled job dead-ended",
				slog.String("job_id", j.ID.String()),
				slog.String("job_name", j.Name),
				slog.Int("attempts_made", j.AttemptsMade),
			)
			continue
		}
		p.logger.Info("reclaimed stalled job",
			slog.String("job_id", j.ID.String()),
			slog.String("job_name", j.Name),
		)
	}
}

func (p *Pool) idle(ctx context.Context) {
	select {
	case <-time.After(p.pollInterval):
	case <-ctx.Done():
	}
}

func (p *Pool) track(jobID id.JobID, cancel context.CancelFunc) {
	p.mu.Lock()
	p.leases[jobID] = cancel
	p.mu.Unlock()
}

func (p *Pool) untrack(jobID id.JobID) {
	p.mu.Lock()
	delete(p.leases, jobID)
	p.mu.Unlock()
}

func (p *Pool) abortActive() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for jobID, cancel := range p.leases {
		p.logger.Warn("cancelling active job", slog.String("job_id", jobID.String()))
		cancel()
	}
}
