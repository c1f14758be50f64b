package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/invenflow/jobcore/ext"
	"github.com/invenflow/jobcore/job"
)

// meterName is the instrumentation scope name for jobcore metrics.
const meterName = "github.com/invenflow/jobcore/observability"

// Compile-time interface checks.
var (
	_ ext.Extension    = (*MetricsExtension)(nil)
	_ ext.JobEnqueued  = (*MetricsExtension)(nil)
	_ ext.JobCompleted = (*MetricsExtension)(nil)
	_ ext.JobFailed    = (*MetricsExtension)(nil)
	_ ext.JobRetrying  = (*MetricsExtension)(nil)
	_ ext.JobStalled   = (*MetricsExtension)(nil)
)

// MetricsExtension records lifecycle metrics through OpenTelemetry.
// Register it on the extension registry to track enqueue rates,
// completion and terminal-failure counts, retries, stall reclaims, and
// the processing-time distribution per queue.
type MetricsExtension struct {
	enqueued   metric.Int64Counter
	completed  metric.Int64Counter
	failed     metric.Int64Counter
	retried    metric.Int64Counter
	stalled    metric.Int64Counter
	processing metric.Float64Histogram
}

// NewMetricsExtension creates a MetricsExtension on the global
// MeterProvider. Without a configured provider the instruments are
// noops, so registering the extension is always safe.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension on the
// provided meter. Use a sdk/metric ManualReader meter in tests.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	m := &MetricsExtension{}

	// On error the OTel API returns noop instruments, so the extension
	// degrades gracefully.
	m.enqueued, _ = meter.Int64Counter( //nolint:errcheck // noop fallback guaranteed by OTel API contract
		"jobcore.jobs.enqueued",
		metric.WithDescription("Jobs accepted into a queue"),
		metric.WithUnit("{job}"),
	)
	m.completed, _ = meter.Int64Counter( //nolint:errcheck // noop fallback guaranteed by OTel API contract
		"jobcore.jobs.completed",
		metric.WithDescription("Jobs finished successfully"),
		metric.WithUnit("{job}"),
	)
	m.failed, _ = meter.Int64Counter( //nolint:errcheck // noop fallback guaranteed by OTel API contract
		"jobcore.jobs.failed",
		metric.WithDescription("Jobs that exhausted their attempt budget"),
		metric.WithUnit("{job}"),
	)
	m.retried, _ = meter.Int64Counter( //nolint:errcheck // noop fallback guaranteed by OTel API contract
		"jobcore.jobs.retried",
		metric.WithDescription("Failed attempts scheduled for retry"),
		metric.WithUnit("{attempt}"),
	)
	m.stalled, _ = meter.Int64Counter( //nolint:errcheck // noop fallback guaranteed by OTel API contract
		"jobcore.jobs.stalled",
		metric.WithDescription("Leases reclaimed after a missed heartbeat"),
		metric.WithUnit("{job}"),
	)
	m.processing, _ = meter.Float64Histogram( //nolint:errcheck // noop fallback guaranteed by OTel API contract
		"jobcore.job.processing_time",
		metric.WithDescription("Time from claim to completion in seconds"),
		metric.WithUnit("s"),
	)
	return m
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

func queueAttrs(j *job.Job) metric.MeasurementOption {
	return metric.WithAttributes(
		attribute.String("queue", j.Queue),
		attribute.String("job_name", j.Name),
	)
}

// OnJobEnqueued implements ext.JobEnqueued.
func (m *MetricsExtension) OnJobEnqueued(ctx context.Context, j *job.Job) error {
	m.enqueued.Add(ctx, 1, queueAttrs(j))
	return nil
}

// OnJobCompleted implements ext.JobCompleted.
func (m *MetricsExtension) OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error {
	attrs := queueAttrs(j)
	m.completed.Add(ctx, 1, attrs)
	m.processing.Record(ctx, elapsed.Seconds(), attrs)
	return nil
}

// OnJobFailed implements ext.JobFailed.
func (m *MetricsExtension) OnJobFailed(ctx context.Context, j *job.Job, _ error) error {
	m.failed.Add(ctx, 1, queueAttrs(j))
	return nil
}

// OnJobRetrying implements ext.JobRetrying.
func (m *MetricsExtension) OnJobRetrying(ctx context.Context, j *job.Job, _ int, _ time.Time) error {
	m.retried.Add(ctx, 1, queueAttrs(j))
	return nil
}

// OnJobStalled implements ext.JobStalled.
func (m *MetricsExtension) OnJobStalled(ctx context.Context, j *job.Job) error {
	m.stalled.Add(ctx, 1, queueAttrs(j))
	return nil
}
