// Package middleware provides composable cross-cutting wrappers around
// job execution: panic recovery, identity restoration, structured
// logging, deadline enforcement, and OpenTelemetry instrumentation.
package middleware

import (
	"context"

	"github.com/invenflow/jobcore/job"
)

// Handler is the terminal function that runs the job's logic.
type Handler func(ctx context.Context) error

// Middleware wraps a Handler. It receives the job being executed and
// the next link in the chain; it must call next unless it is
// deliberately short-circuiting the run.
type Middleware func(ctx context.Context, j *job.Job, next Handler) error

// Chain composes middleware into one. The first middleware listed is
// the outermost wrapper, so Chain(recover, logging) recovers from
// panics raised inside the logging middleware as well as the handler.
func Chain(mws ...Middleware) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		var run func(ctx context.Context, i int) error
		run = func(ctx context.Context, i int) error {
			if i == len(mws) {
				return next(ctx)
			}
			return mws[i](ctx, j, func(ctx context.Context) error {
				return run(ctx, i+1)
			})
		}
		return run(ctx, 0)
	}
}
