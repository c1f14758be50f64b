package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/invenflow/jobcore"
	"github.com/invenflow/jobcore/approval"
	"github.com/invenflow/jobcore/audit"
	"github.com/invenflow/jobcore/cluster"
	"github.com/invenflow/jobcore/control"
	"github.com/invenflow/jobcore/ext"
	"github.com/invenflow/jobcore/id"
	"github.com/invenflow/jobcore/job"
	"github.com/invenflow/jobcore/maintenance"
	mw "github.com/invenflow/jobcore/middleware"
	"github.com/invenflow/jobcore/monitor"
	"github.com/invenflow/jobcore/observability"
	"github.com/invenflow/jobcore/queue"
	"github.com/invenflow/jobcore/scope"
	"github.com/invenflow/jobcore/store"
	"github.com/invenflow/jobcore/stream"
	"github.com/invenflow/jobcore/worker"
)

// Engine wraps a Coordinator with the full subsystem graph: one worker
// pool per registered queue, the monitor, the control plane, cluster
// presence, and the maintenance sweeper.
// Use Build() to create one from a Coordinator and a queue catalog.
type Engine struct {
	c          *jobcore.Coordinator
	store      store.Store
	queues     *queue.Registry
	registry   *job.Registry
	extensions *ext.Registry
	manager    *queue.Manager
	stream     *stream.Broker
	monitor    *monitor.Monitor
	plane      *control.Plane
	sweeper    *maintenance.Sweeper
	presence   *cluster.Presence
	pools      []*worker.Pool
	mws        []mw.Middleware
	logger     *slog.Logger

	// Control plane collaborators.
	policy   approval.Policy
	recorder audit.Recorder
	rotator  control.Rotator

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// Option configures an Engine.
type Option func(*Engine)

// WithExtension registers an extension with the engine.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) {
		eng.extensions.Register(e)
	}
}

// WithMiddleware adds middleware to the engine's chain, after the
// default stack.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) {
		eng.mws = append(eng.mws, m)
	}
}

// WithApprovalPolicy sets the control-plane approval policy. The
// default gates destructive operations in production.
func WithApprovalPolicy(p approval.Policy) Option {
	return func(eng *Engine) { eng.policy = p }
}

// WithAuditRecorder sets the audit recorder for control-plane
// mutations. The default writes structured log records.
func WithAuditRecorder(r audit.Recorder) Option {
	return func(eng *Engine) { eng.recorder = r }
}

// WithRotator wires a credential rotator into the control plane.
func WithRotator(r control.Rotator) Option {
	return func(eng *Engine) { eng.rotator = r }
}

// WithTracerProvider sets a custom OTel TracerProvider. When set, the
// tracing middleware uses this provider instead of the global one.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) { eng.tracerProvider = tp }
}

// WithMeterProvider sets a custom OTel MeterProvider. When set, both
// the metrics middleware and the observability extension use this
// provider instead of the global one.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) { eng.meterProvider = mp }
}

// Build creates an Engine from a Coordinator and the queue catalog.
// The Coordinator's store must implement store.Store.
func Build(c *jobcore.Coordinator, queues *queue.Registry, opts ...Option) (*Engine, error) {
	logger := c.Logger()

	if c.Store() == nil {
		return nil, jobcore.ErrNoStore
	}
	st, ok := c.Store().(store.Store)
	if !ok {
		return nil, fmt.Errorf("jobcore: store does not implement store.Store")
	}
	if queues == nil || queues.Len() == 0 {
		return nil, fmt.Errorf("jobcore: queue catalog is empty")
	}

	eng := &Engine{
		c:          c,
		store:      st,
		queues:     queues,
		registry:   job.NewRegistry(),
		extensions: ext.NewRegistry(logger),
		logger:     logger,
	}

	for _, opt := range opts {
		opt(eng)
	}

	// Real-time stream broker fans lifecycle events out to subscribers.
	eng.stream = stream.NewBroker(logger)
	eng.extensions.Register(eng.stream)

	// Observability metrics extension (custom provider or global).
	var obsExt *observability.MetricsExtension
	if eng.meterProvider != nil {
		obsExt = observability.NewMetricsExtensionWithMeter(eng.meterProvider.Meter("github.com/invenflow/jobcore/observability"))
	} else {
		obsExt = observability.NewMetricsExtension()
	}
	eng.extensions.Register(obsExt)

	// Build tracing middleware (custom provider or global).
	var tracingMw mw.Middleware
	if eng.tracerProvider != nil {
		tracingMw = mw.TracingWithTracer(eng.tracerProvider.Tracer("github.com/invenflow/jobcore"))
	} else {
		tracingMw = mw.Tracing()
	}

	// Build metrics middleware (custom provider or global).
	var metricsMw mw.Middleware
	if eng.meterProvider != nil {
		metricsMw = mw.MetricsWithMeter(eng.meterProvider.Meter("github.com/invenflow/jobcore"))
	} else {
		metricsMw = mw.Metrics()
	}

	// Default middleware stack: recover → tracing → metrics → logging →
	// identity → timeout, then caller-supplied middleware.
	defaultMws := []mw.Middleware{
		mw.Recover(logger),
		tracingMw,
		metricsMw,
		mw.Logging(logger),
		mw.Identity(),
		mw.Timeout(logger),
	}
	allMws := make([]mw.Middleware, 0, len(defaultMws)+len(eng.mws))
	allMws = append(allMws, defaultMws...)
	allMws = append(allMws, eng.mws...)

	// Cluster presence: one worker registration and leader lease per
	// process, shared by every pool.
	config := c.Config()
	eng.presence = cluster.NewPresence(st, id.NewWorkerID(), queues.Names(), logger,
		cluster.WithHeartbeat(config.HeartbeatInterval),
	)

	// The queue manager enforces per-queue rate limits and tenant caps
	// across all pools in this process.
	eng.manager = queue.NewManager(queues)

	executor := worker.NewExecutor(eng.registry, eng.extensions, st, logger, allMws...)

	// One pool per registered queue, sized by the queue policy.
	for _, q := range queues.All() {
		pool := worker.NewPool(st, executor, eng.extensions, logger, q.Name,
			worker.WithPoolConcurrency(q.Policy.Concurrency),
			worker.WithPollInterval(config.PollInterval),
			worker.WithHeartbeatInterval(config.HeartbeatInterval),
			worker.WithStallThreshold(config.StallThreshold),
			worker.WithQueueManager(eng.manager),
		)
		eng.pools = append(eng.pools, pool)
		c.AddPool(pool)
	}
	c.SetHooks(eng.extensions)

	// Monitor and sweeper run their periodic work only on the leader.
	eng.monitor = monitor.New(st, queues, logger,
		monitor.WithGate(eng.presence.IsLeader),
	)
	eng.sweeper = maintenance.New(st, queues, logger,
		maintenance.WithGate(eng.presence.IsLeader),
		maintenance.WithClusterReaper(st, 3*config.HeartbeatInterval),
	)

	planeOpts := []control.Option{}
	if eng.rotator != nil {
		planeOpts = append(planeOpts, control.WithRotator(eng.rotator))
	}
	eng.plane = control.New(st, queues, eng.extensions, eng.policy, config.Environment, eng.recorder, logger, planeOpts...)

	return eng, nil
}

// Register registers a typed job definition with the engine.
func Register[T any](eng *Engine, def job.Definition[T]) error {
	return job.RegisterDefinition(eng.registry, def)
}

// Submit marshals a typed payload and enqueues a job on the named queue.
func Submit[T any](ctx context.Context, eng *Engine, queueName, jobName string, payload T, opts ...job.Option) (*job.Job, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload for job %q: %w", jobName, err)
	}
	return eng.SubmitRaw(ctx, queueName, jobName, data, opts...)
}

// SubmitRaw enqueues a job with a pre-serialized payload. Submission
// options override the queue policy; everything else inherits from it.
// A caller-pinned ID is accepted as-is; duplicate IDs are rejected by
// the store, not deduplicated.
func (eng *Engine) SubmitRaw(ctx context.Context, queueName, jobName string, payload []byte, opts ...job.Option) (*job.Job, error) {
	q, ok := eng.queues.Lookup(queueName)
	if !ok {
		return nil, fmt.Errorf("submit to %q: %w", queueName, jobcore.ErrUnknownQueue)
	}

	jobOpts := job.ApplyOptions(opts...)

	// Identity travels with the job: explicit options win, then the
	// ambient scope on the context.
	tenantID, userID := scope.Capture(ctx)
	if jobOpts.TenantID != "" {
		tenantID = jobOpts.TenantID
	}
	if jobOpts.UserID != "" {
		userID = jobOpts.UserID
	}

	now := time.Now().UTC()
	j := &job.Job{
		Entity:      jobcore.NewEntity(),
		ID:          id.NewJobID(),
		Name:        jobName,
		Queue:       q.Name,
		Payload:     payload,
		State:       job.StateWaiting,
		Priority:    jobOpts.Priority,
		MaxAttempts: q.Policy.MaxAttempts,
		Backoff:     q.Policy.Backoff,
		Timeout:     q.Policy.Timeout,
		TenantID:    tenantID,
		UserID:      userID,
		RunAt:       now,
	}
	if !jobOpts.ID.IsNil() {
		j.ID = jobOpts.ID
	}
	if jobOpts.MaxAttempts > 0 {
		j.MaxAttempts = jobOpts.MaxAttempts
	}
	if jobOpts.Backoff.Base > 0 {
		j.Backoff = jobOpts.Backoff
	}
	if jobOpts.Timeout > 0 {
		j.Timeout = jobOpts.Timeout
	}
	if jobOpts.Delay > 0 {
		j.State = job.StateDelayed
		j.RunAt = now.Add(jobOpts.Delay)
	}

	if err := eng.store.EnqueueJob(ctx, j); err != nil {
		return nil, err
	}

	eng.extensions.EmitJobEnqueued(ctx, j)
	return j, nil
}

// Start registers cluster presence and launches every worker pool, the
// monitor, and the maintenance sweeper.
func (eng *Engine) Start(ctx context.Context) error {
	if err := eng.presence.Start(ctx); err != nil {
		return fmt.Errorf("start presence: %w", err)
	}

	config := eng.c.Config()
	if err := eng.monitor.Start(config.MonitorInterval); err != nil {
		return fmt.Errorf("start monitor: %w", err)
	}
	if err := eng.sweeper.Start(config.RetentionInterval); err != nil {
		return fmt.Errorf("start sweeper: %w", err)
	}

	// The Coordinator starts every registered pool concurrently.
	if err := eng.c.Start(ctx); err != nil {
		return fmt.Errorf("start pools: %w", err)
	}
	return nil
}

// Stop gracefully shuts down the engine: sweeper and monitor first,
// then the Coordinator (pools, shutdown hooks, store), then presence.
func (eng *Engine) Stop(ctx context.Context) error {
	eng.sweeper.Stop()
	eng.monitor.Stop()

	err := eng.c.Stop(ctx)

	if presErr := eng.presence.Stop(ctx); presErr != nil {
		eng.logger.Warn("presence stop error", slog.String("error", presErr.Error()))
	}
	return err
}

// Store returns the composite store.
func (eng *Engine) Store() store.Store { return eng.store }

// Queues returns the queue catalog.
func (eng *Engine) Queues() *queue.Registry { return eng.queues }

// Registry returns the job handler registry.
func (eng *Engine) Registry() *job.Registry { return eng.registry }

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// Stream returns the real-time event broker.
func (eng *Engine) Stream() *stream.Broker { return eng.stream }

// Monitor returns the queue health monitor.
func (eng *Engine) Monitor() *monitor.Monitor { return eng.monitor }

// Control returns the administrative control plane.
func (eng *Engine) Control() *control.Plane { return eng.plane }

// Manager returns the queue rate-limit manager.
func (eng *Engine) Manager() *queue.Manager { return eng.manager }

// Presence returns the cluster presence keeper.
func (eng *Engine) Presence() *cluster.Presence { return eng.presence }

// Coordinator returns the underlying Coordinator.
func (eng *Engine) Coordinator() *jobcore.Coordinator { return eng.c }
