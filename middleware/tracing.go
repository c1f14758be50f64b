package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/invenflow/jobcore/job"
)

// tracerName is the instrumentation scope name for jobcore tracing.
const tracerName = "github.com/invenflow/jobcore"

// spanAttrs builds the standard attribute set for a job execution span.
func spanAttrs(j *job.Job) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("jobcore.job.id", j.ID.String()),
		attribute.String("jobcore.job.name", j.Name),
		attribute.String("jobcore.queue", j.Queue),
		attribute.Int("jobcore.attempt", j.AttemptsMade),
		attribute.String("jobcore.tenant_id", j.TenantID),
	}
}

// Tracing returns middleware wrapping each run in an OpenTelemetry span
// named "jobcore.job.execute". It resolves the tracer through the global
// provider; with none installed the noop tracer makes this free.
func Tracing() Middleware {
	return TracingWithTracer(otel.Tracer(tracerName))
}

// TracingWithTracer is Tracing with an injected tracer, for tests and
// multi-provider setups.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		ctx, span := tracer.Start(ctx, "jobcore.job.execute",
			trace.WithAttributes(spanAttrs(j)...),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
		defer span.End()

		err := next(ctx)
		if err == nil {
			span.SetStatus(codes.Ok, "")
			return nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
}
