package middleware

import (
	"context"

	"github.com/invenflow/jobcore/job"
	"github.com/invenflow/jobcore/scope"
)

// Identity returns middleware that restores the tenant/user identity
// captured at submission from the job's TenantID/UserID fields into the
// handler context. This ensures handlers see the same identity as the
// original enqueue caller.
func Identity() Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		ctx = scope.Restore(ctx, j.TenantID, j.UserID)
		return next(ctx)
	}
}
