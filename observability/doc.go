// Package observability provides an OpenTelemetry metrics extension for
// the job queue. MetricsExtension implements lifecycle hooks to record
// queue-wide counters for enqueue, success, failure, retry, lease
// reclamation, and scheduler fires.
//
// For per-attempt tracing and latency, see the middleware package:
// middleware.Tracing() and middleware.Metrics().
package observability
