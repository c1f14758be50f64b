package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/invenflow/jobcore/job"
)

// meterName is the instrumentation scope name for jobcore metrics.
const meterName = "github.com/invenflow/jobcore"

// Metrics returns middleware recording per-run metrics through the
// global MeterProvider. Without one configured the OTel API hands back
// noop instruments, so the middleware is free.
//
// Instruments:
//   - jobcore.jobs.duration (histogram, seconds) — run time, by
//     job_name/queue/status
//   - jobcore.jobs.runs (counter) — runs, by job_name/queue/status
//   - jobcore.jobs.retries (counter) — runs past the first attempt,
//     by job_name/queue
func Metrics() Middleware {
	return MetricsWithMeter(otel.Meter(meterName))
}

// MetricsWithMeter is Metrics with an injected meter, for tests and
// multi-provider setups.
func MetricsWithMeter(meter metric.Meter) Middleware {
	// Instrument creation errors leave noop instruments behind, so the
	// errors are ignorable by the OTel API contract.
	duration, _ := meter.Float64Histogram( //nolint:errcheck
		"jobcore.jobs.duration",
		metric.WithDescription("Job run duration in seconds"),
		metric.WithUnit("s"),
	)
	runs, _ := meter.Int64Counter( //nolint:errcheck
		"jobcore.jobs.runs",
		metric.WithDescription("Total job runs"),
		metric.WithUnit("{run}"),
	)
	retries, _ := meter.Int64Counter( //nolint:errcheck
		"jobcore.jobs.retries",
		metric.WithDescription("Job runs past the first attempt"),
		metric.WithUnit("{run}"),
	)

	return func(ctx context.Context, j *job.Job, next Handler) error {
		start := time.Now()
		err := next(ctx)

		status := "ok"
		if err != nil {
			status = "error"
		}
		base := []attribute.KeyValue{
			attribute.String("job_name", j.Name),
			attribute.String("queue", j.Queue),
		}

		if j.AttemptsMade > 1 {
			retries.Add(ctx, 1, metric.WithAttributes(base...))
		}

		withStatus := metric.WithAttributes(append(base, attribute.String("status", status))...)
		duration.Record(ctx, time.Since(start).Seconds(), withStatus)
		runs.Add(ctx, 1, withStatus)

		return err
	}
}
