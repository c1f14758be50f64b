// Package worker provides the job execution engine: an Executor that
// invokes registered processors through middleware, and a per-queue Pool
// that manages concurrent worker goroutines leasing jobs.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/invenflow/jobcore/ext"
	"github.com/invenflow/jobcore/id"
	"github.com/invenflow/jobcore/job"
	"github.com/invenflow/jobcore/middleware"
)

// Executor runs a single job through middleware and the registered
// processor, then applies the retry decision, state updates, and
// lifecycle events.
type Executor struct {
	registry   *job.Registry
	extensions *ext.Registry
	store      job.Store
	mw         middleware.Middleware
	logger     *slog.Logger
}

// NewExecutor creates an Executor with the given dependencies.
func NewExecutor(
	registry *job.Registry,
	extensions *ext.Registry,
	store job.Store,
	logger *slog.Logger,
	mws ...middleware.Middleware,
) *Executor {
	return &Executor{
		registry:   registry,
		extensions: extensions,
		store:      store,
		mw:         middleware.Chain(mws...),
		logger:     logger,
	}
}

// Execute runs a job through the middleware chain and processor.
// On success: marks completed, emits JobCompleted.
// On failure with budget remaining: marks delayed with backoff, emits JobRetrying.
// On failure with budget exhausted: marks failed, emits JobFailed.
func (e *Executor) Execute(ctx context.Context, j *job.Job) error {
	processor, ok := e.registry.Lookup(j.Name)
	if !ok {
		return e.handleFailure(ctx, j, fmt.Errorf("no processor registered for job %q", j.Name), time.Now().UTC())
	}

	start := time.Now()

	// Hand the processor a reporter so it can publish fractional progress.
	ctx = job.WithReporter(ctx, &progressReporter{
		store:      e.store,
		extensions: e.extensions,
		j:          j,
	})

	var result []byte
	terminal := func(ctx context.Context) error {
		var procErr error
		result, procErr = processor(ctx, j)
		return procErr
	}

	err := e.mw(ctx, j, terminal)
	elapsed := time.Since(start)

	now := time.Now().UTC()
	j.UpdatedAt = now

	if err != nil {
		return e.handleFailure(ctx, j, err, now)
	}

	return e.handleSuccess(ctx, j, result, now, elapsed)
}

// handleSuccess marks the job as completed and emits the lifecycle event.
func (e *Executor) handleSuccess(ctx context.Context, j *job.Job, result []byte, now time.Time, elapsed time.Duration) error {
	j.State = job.StateCompleted
	j.Result = result
	j.Progress = 100
	j.FinishedAt = &now

	if updateErr := e.store.UpdateJob(ctx, j); updateErr != nil {
		e.logger.Error("failed to update job after success",
			slog.String("job_id", j.ID.String()),
			slog.String("job_name", j.Name),
			slog.String("error", updateErr.Error()),
		)
		return updateErr
	}

	e.extensions.EmitJobCompleted(ctx, j, elapsed)
	return nil
}

// handleFailure applies the retry decision and either reschedules the job
// or fails it terminally.
func (e *Executor) handleFailure(ctx context.Context, j *job.Job, procErr error, now time.Time) error {
	j.FailureReason = procErr.Error()

	decision := Decide(j.AttemptsMade, j.MaxAttempts, j.Backoff)
	if decision.Outcome == OutcomeRetry {
		return e.scheduleRetry(ctx, j, now, decision.Delay, procErr)
	}

	return e.failTerminally(ctx, j, now, procErr)
}

// scheduleRetry sets the job to StateDelayed with a backoff delay.
func (e *Executor) scheduleRetry(ctx context.Context, j *job.Job, now time.Time, delay time.Duration, procErr error) error {
	nextRunAt := now.Add(delay)
	j.RunAt = nextRunAt
	j.State = job.StateDelayed
	j.WorkerID = id.WorkerID{}
	j.HeartbeatAt = nil
	// Progress is monotonic within one attempt only; the retry reports
	// from zero again.
	j.Progress = 0

	if updateErr := e.store.UpdateJob(ctx, j); updateErr != nil {
		e.logger.Error("failed to update job for retry",
			slog.String("job_id", j.ID.String()),
			slog.String("error", updateErr.Error()),
		)
		return updateErr
	}

	e.extensions.EmitJobRetrying(ctx, j, j.AttemptsMade, nextRunAt)

	e.logger.Info("job scheduled for retry",
		slog.String("job_id", j.ID.String()),
		slog.String("job_name", j.Name),
		slog.Int("attempt", j.AttemptsMade),
		slog.Int("max_attempts", j.MaxAttempts),
		slog.Duration("delay", delay),
	)

	return fmt.Errorf("job %s attempt %d/%d: %w", j.Name, j.AttemptsMade, j.MaxAttempts, procErr)
}

// failTerminally marks the job as failed and emits events. Failed jobs
// stay listable until retention purges them.
func (e *Executor) failTerminally(ctx context.Context, j *job.Job, now time.Time, procErr error) error {
	j.State = job.StateFailed
	j.FinishedAt = &now

	if updateErr := e.store.UpdateJob(ctx, j); updateErr != nil {
		e.logger.Error("failed to update job as failed",
			slog.String("job_id", j.ID.String()),
			slog.String("error", updateErr.Error()),
		)
		return updateErr
	}

	e.extensions.EmitJobFailed(ctx, j, procErr)

	e.logger.Warn("job failed terminally",
		slog.String("job_id", j.ID.String()),
		slog.String("job_name", j.Name),
		slog.Int("attempts_made", j.AttemptsMade),
		slog.String("error", procErr.Error()),
	)

	return procErr
}

// progressReporter persists processor-reported progress and fans it out.
// Progress is clamped to 0..100 and monotonic within an attempt.
type progressReporter struct {
	store      job.Store
	extensions *ext.Registry
	j          *job.Job
}

func (r *progressReporter) ReportProgress(ctx context.Context, percent int) error {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	if percent <= r.j.Progress {
		return nil
	}
	r.j.Progress = percent

	if err := r.store.UpdateJob(ctx, r.j); err != nil {
		return fmt.Errorf("report progress: %w", err)
	}
	r.extensions.EmitJobProgress(ctx, r.j, percent)
	return nil
}
