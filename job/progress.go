package job

import "context"

// Reporter lets a processor publish fractional progress on the job it is
// executing. Values are clamped to 0..100.
type Reporter interface {
	ReportProgress(ctx context.Context, percent int) error
}

type reporterKey struct{}

// WithReporter attaches a progress reporter to the context handed to a
// processor.
func WithReporter(ctx context.Context, r Reporter) context.Context {
	return context.WithValue(ctx, reporterKey{}, r)
}

// ReporterFrom extracts the progress reporter, if any.
func ReporterFrom(ctx context.Context) (Reporter, bool) {
	r, ok := ctx.Value(reporterKey{}).(Reporter)
	return r, ok
}

// ReportProgress publishes progress through the context's reporter. It is
// a no-op when no reporter is attached, so processors can call it
// unconditionally.
func ReportProgress(ctx context.Context, percent int) error {
	if r, ok := ReporterFrom(ctx); ok {
		return r.ReportProgress(ctx, percent)
	}
	return nil
}
