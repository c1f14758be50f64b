// Package observability provides an OpenTelemetry-based metrics
// extension for jobcore. The MetricsExtension implements lifecycle
// hooks to record counters for enqueue, completion, terminal failure,
// retry, and stall-reclaim events, plus a processing-time histogram.
//
// For per-execution tracing and metrics, see the middleware package:
// middleware.Tracing() and middleware.Metrics().
package observability
