// Package job defines the job model, its lifecycle states, the processor
// registry, and the persistence contract for jobs.
//
// # Lifecycle
//
// A job moves through the states
//
//	waiting → active → completed
//	                 → delayed → waiting (after backoff)
//	                 → failed            (attempt budget exhausted)
//
// An active job whose lease stops being renewed is reclaimed back to
// waiting (or dead-ended to failed if its budget is spent). AttemptsMade
// is incremented when a lease is acquired, so it never exceeds
// MaxAttempts at any observable instant.
//
// # Processors
//
// Processors are registered in a [Registry], a closed mapping from job
// names to handler implementations resolved at startup:
//
//	job.RegisterDefinition(reg, job.NewDefinition("reorder-forecast",
//	    func(ctx context.Context, p ForecastParams) error {
//	        return forecaster.Run(ctx, p)
//	    },
//	))
//
// Typed definitions are erased to a [ProcessorFunc] that unmarshals the
// JSON payload before invoking the typed handler. A processor may report
// fractional progress through the [Reporter] found on its context.
package job
