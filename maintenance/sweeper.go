// Package maintenance runs the background housekeeping that keeps the
// job store bounded: retention purge of terminal jobs per queue policy
// and reaping of crashed workers from the cluster registry. The sweep
// is leader-gated so only one process in the cluster does the work.
package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/invenflow/jobcore/cluster"
	"github.com/invenflow/jobcore/job"
	"github.com/invenflow/jobcore/queue"
)

// DefaultWorkerThreshold is how long a worker may miss heartbeats
// before the sweep marks it dead.
const DefaultWorkerThreshold = time.Minute

// Sweeper applies retention policies on a cron tick. Retention never
// touches waiting, delayed, or active jobs; only completed and failed
// jobs age out, bounded by MaxAge or MaxCount, whichever bites first.
type Sweeper struct {
	store  job.Store
	queues *queue.Registry
	logger *slog.Logger

	// gate skips the sweep on non-leader processes.
	gate func() bool

	// clusterStore, when set, lets the sweep reap dead workers.
	clusterStore    cluster.Store
	workerThreshold time.Duration

	cron *cron.Cron
}

// Option configures a Sweeper.
type Option func(*Sweeper)

// WithGate restricts sweeps to processes for which the gate returns
// true, typically cluster.Presence.IsLeader.
func WithGate(gate func() bool) Option {
	return func(s *Sweeper) { s.gate = gate }
}

// WithClusterReaper enables dead-worker reaping against the given
// cluster store. Workers silent for longer than threshold are marked
// dead. A non-positive threshold uses DefaultWorkerThreshold.
func WithClusterReaper(cs cluster.Store, threshold time.Duration) Option {
	return func(s *Sweeper) {
		s.clusterStore = cs
		if threshold > 0 {
			s.workerThreshold = threshold
		}
	}
}

// New creates a Sweeper over the given store and queue registry.
func New(store job.Store, queues *queue.Registry, logger *slog.Logger, opts ...Option) *Sweeper {
	s := &Sweeper{
		store:           store,
		queues:          queues,
		logger:          logger,
		workerThreshold: DefaultWorkerThreshold,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start schedules the sweep on the given interval.
func (s *Sweeper) Start(interval time.Duration) error {
	if s.cron != nil {
		return nil
	}
	c := cron.New()
	spec := fmt.Sprintf("@every %s", interval)
	if _, err := c.AddFunc(spec, s.tick); err != nil {
		return fmt.Errorf("maintenance: schedule sweep: %w", err)
	}
	s.cron = c
	c.Start()
	return nil
}

// Stop halts the scheduled sweep and waits for a running one to finish.
func (s *Sweeper) Stop() {
	if s.cron == nil {
		return
	}
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.cron = nil
}

func (s *Sweeper) tick() {
	if s.gate != nil && !s.gate() {
		return
	}
	if err := s.Sweep(context.Background()); err != nil {
		s.logger.Error("maintenance sweep failed", slog.String("error", err.Error()))
	}
}

// Sweep runs one full pass: retention for every registered queue, then
// the dead-worker reap. Errors on one queue do not stop the others.
func (s *Sweeper) Sweep(ctx context.Context) error {
	var firstErr error
	for _, q := range s.queues.All() {
		if err := s.sweepQueue(ctx, q); err != nil {
			s.logger.Error("queue retention failed",
				slog.String("queue", q.Name),
				slog.String("error", err.Error()),
			)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	if s.clusterStore != nil {
		if err := s.reapWorkers(ctx); err != nil {
			s.logger.Error("worker reap failed", slog.String("error", err.Error()))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (s *Sweeper) sweepQueue(ctx context.Context, q queue.Queue) error {
	if err := s.applyRetention(ctx, q.Name, job.StateCompleted, q.Policy.CompletedRetention); err != nil {
		return err
	}
	return s.applyRetention(ctx, q.Name, job.StateFailed, q.Policy.FailedRetention)
}

func (s *Sweeper) applyRetention(ctx context.Context, queueName string, state job.State, r queue.Retention) error {
	var removed int64

	if r.MaxAge > 0 {
		cutoff := time.Now().Add(-r.MaxAge)
		n, err := s.store.PurgeJobs(ctx, queueName, state, cutoff, 0)
		if err != nil {
			return fmt.Errorf("purge %s %s: %w", queueName, state, err)
		}
		removed += n
	}
	if r.MaxCount > 0 {
		n, err := s.store.TrimJobs(ctx, queueName, state, r.MaxCount)
		if err != nil {
			return fmt.Errorf("trim %s %s: %w", queueName, state, err)
		}
		removed += n
	}

	if removed > 0 {
		s.logger.Info("retention purged jobs",
			slog.String("queue", queueName),
			slog.String("state", string(state)),
			slog.Int64("removed", removed),
		)
	}
	return nil
}

func (s *Sweeper) reapWorkers(ctx context.Context) error {
	reaped, err := s.clusterStore.ExpireWorkers(ctx, s.workerThreshold)
	if err != nil {
		return err
	}
	for _, w := range reaped {
		s.logger.Warn("marked worker dead",
			slog.String("worker_id", w.ID.String()),
			slog.String("hostname", w.Hostname),
			slog.Time("last_seen", w.LastSeen),
		)
	}
	return nil
}
