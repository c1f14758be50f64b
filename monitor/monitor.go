// Package monitor derives per-queue health from the job store: state
// counts, error rate, throughput, and processing time, with threshold
// alerts. Records are recomputed snapshots; readers always see a
// consistent recent view, never a torn one.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/invenflow/jobcore/job"
	"github.com/invenflow/jobcore/queue"
)

// Default health thresholds.
const (
	// ErrorRateThreshold is the failed/total ratio above which a queue
	// is unhealthy.
	ErrorRateThreshold = 0.05
	// BacklogThreshold is the waiting count above which a queue is
	// unhealthy.
	BacklogThreshold = 1000
	// ProcessingTimeThresholdMs is the average processing time above
	// which a queue is unhealthy.
	ProcessingTimeThresholdMs = 300000

	// processingSampleSize is how many recent completions feed the
	// average processing time.
	processingSampleSize = 10
)

// Record is a recomputed per-queue health snapshot.
type Record struct {
	Queue               string              `json:"queue"`
	Counts              map[job.State]int64 `json:"counts"`
	ErrorRate           float64             `json:"error_rate"`
	Throughput          float64             `json:"throughput"`
	AvgProcessingTimeMs float64             `json:"avg_processing_time_ms"`
	IsPaused            bool                `json:"is_paused"`
	IsHealthy           bool                `json:"is_healthy"`
	ConsecutiveFailures int                 `json:"consecutive_failures"`
	LastCheckedAt       time.Time           `json:"last_checked_at"`
}

// Monitor recomputes queue health records on demand or on a cron tick.
type Monitor struct {
	store  job.Store
	queues *queue.Registry
	logger *slog.Logger

	// window is the throughput measurement window.
	window time.Duration

	// gate, when set, skips periodic recomputation on non-leader
	// processes. On-demand checks are never gated.
	gate func() bool

	mu      sync.RWMutex
	records map[string]*Record
	alerts  map[string][]Alert

	cron *cron.Cron
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithWindow sets the throughput measurement window. Default 15 minutes.
func WithWindow(d time.Duration) Option {
	return func(m *Monitor) { m.window = d }
}

// WithGate restricts periodic recomputation to processes for which the
// gate returns true, typically the cluster leader.
func WithGate(gate func() bool) Option {
	return func(m *Monitor) { m.gate = gate }
}

// New creates a Monitor over the given store and queue registry.
func New(store job.Store, queues *queue.Registry, logger *slog.Logger, opts ...Option) *Monitor {
	m := &Monitor{
		store:   store,
		queues:  queues,
		logger:  logger,
		window:  15 * time.Minute,
		records: make(map[string]*Record),
		alerts:  make(map[string][]Alert),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start schedules periodic recomputation of every registered queue.
func (m *Monitor) Start(interval time.Duration) error {
	if m.cron != nil {
		return nil
	}
	c := cron.New()
	spec := fmt.Sprintf("@every %s", interval)
	if _, err := c.AddFunc(spec, m.tick); err != nil {
		return fmt.Errorf("monitor: schedule recomputation: %w", err)
	}
	m.cron = c
	c.Start()
	return nil
}

// Stop halts periodic recomputation. On-demand checks keep working.
func (m *Monitor) Stop() {
	if m.cron == nil {
		return
	}
	ctx := m.cron.Stop()
	<-ctx.Done()
	m.cron = nil
}

func (m *Monitor) tick() {
	if m.gate != nil && !m.gate() {
		return
	}
	if _, err := m.CheckAll(context.Background()); err != nil {
		m.logger.Error("monitor recomputation failed", slog.String("error", err.Error()))
	}
}

// CheckQueue recomputes the health record for one queue and returns it
// together with any threshold alerts. The stored snapshot is replaced
// wholesale.
func (m *Monitor) CheckQueue(ctx context.Context, queueName string) (*Record, []Alert, error) {
	now := time.Now().UTC()

	counts := make(map[job.State]int64, len(job.States()))
	var total int64
	for _, state := range job.States() {
		n, err := m.store.CountJobs(ctx, job.CountOpts{Queue: queueName, State: state})
		if err != nil {
			return nil, nil, fmt.Errorf("monitor: count %s jobs: %w", state, err)
		}
		counts[state] = n
		total += n
	}

	paused, err := m.store.IsQueuePaused(ctx, queueName)
	if err != nil {
		return nil, nil, fmt.Errorf("monitor: paused check: %w", err)
	}

	var errorRate float64
	if total > 0 {
		errorRate = float64(counts[job.StateFailed]) / float64(total)
	}

	throughput := float64(counts[job.StateCompleted]) / m.window.Minutes()

	avgMs, err := m.avgProcessingTimeMs(ctx, queueName)
	if err != nil {
		return nil, nil, err
	}

	rec := &Record{
		Queue:               queueName,
		Counts:              counts,
		ErrorRate:           errorRate,
		Throughput:          throughput,
		AvgProcessingTimeMs: avgMs,
		IsPaused:            paused,
		LastCheckedAt:       now,
	}

	alerts := deriveAlerts(rec, now)
	rec.IsHealthy = len(alerts) == 0

	m.mu.Lock()
	if prev, ok := m.records[queueName]; ok && !rec.IsHealthy {
		rec.ConsecutiveFailures = prev.ConsecutiveFailures + 1
	} else if !rec.IsHealthy {
		rec.ConsecutiveFailures = 1
	}
	m.records[queueName] = rec
	m.alerts[queueName] = alerts
	m.mu.Unlock()

	for _, a := range alerts {
		m.logger.Warn("queue health alert",
			slog.String("queue", queueName),
			slog.String("type", string(a.Type)),
			slog.Float64("value", a.Value),
			slog.Float64("threshold", a.Threshold),
		)
	}

	return rec, alerts, nil
}

// CheckAll recomputes records for every registered queue.
func (m *Monitor) CheckAll(ctx context.Context) (map[string]*Record, error) {
	out := make(map[string]*Record)
	for _, q := range m.queues.Names() {
		rec, _, err := m.CheckQueue(ctx, q)
		if err != nil {
			return nil, err
		}
		out[q] = rec
	}
	return out, nil
}

// Snapshot returns the most recent record for the queue, or nil if the
// queue has not been checked yet. The returned record is a copy.
func (m *Monitor) Snapshot(queueName string) *Record {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[queueName]
	if !ok {
		return nil
	}
	cp := *rec
	cp.Counts = make(map[job.State]int64, len(rec.Counts))
	for k, v := range rec.Counts {
		cp.Counts[k] = v
	}
	return &cp
}

// Alerts returns the alerts from the queue's most recent check.
func (m *Monitor) Alerts(queueName string) []Alert {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Alert(nil), m.alerts[queueName]...)
}

// avgProcessingTimeMs averages FinishedAt - ProcessedAt over the most
// recent completions.
func (m *Monitor) avgProcessingTimeMs(ctx context.Context, queueName string) (float64, error) {
	recent, err := m.store.ListJobsByState(ctx, job.StateCompleted, job.ListOpts{
		Queue: queueName,
		Limit: processingSampleSize,
	})
	if err != nil {
		return 0, fmt.Errorf("monitor: sample completions: %w", err)
	}

	var sum time.Duration
	var n int
	for _, j := range recent {
		if d := j.ProcessingTime(); d > 0 {
			sum += d
			n++
		}
	}
	if n == 0 {
		return 0, nil
	}
	return float64(sum.Milliseconds()) / float64(n), nil
}
