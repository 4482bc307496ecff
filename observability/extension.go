package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/UmairAbideen/cron-job-with-queue/ext"
	"github.com/UmairAbideen/cron-job-with-queue/id"
	"github.com/UmairAbideen/cron-job-with-queue/job"
)

// meterName is the instrumentation scope for lifecycle metrics.
const meterName = "github.com/UmairAbideen/cron-job-with-queue/observability"

// Compile-time interface checks.
var (
	_ ext.Extension     = (*MetricsExtension)(nil)
	_ ext.JobEnqueued   = (*MetricsExtension)(nil)
	_ ext.JobSucceeded  = (*MetricsExtension)(nil)
	_ ext.JobFailed     = (*MetricsExtension)(nil)
	_ ext.JobRetrying   = (*MetricsExtension)(nil)
	_ ext.LeasesReaped  = (*MetricsExtension)(nil)
	_ ext.ScheduleFired = (*MetricsExtension)(nil)
)

// MetricsExtension records queue-wide lifecycle metrics through
// OpenTelemetry. Register it as an extension to track enqueue rates,
// success and failure counts, retries, lease reclamations, and scheduler
// fires. Per-attempt execution latency lives in the metrics middleware;
// this extension covers lifecycle totals.
type MetricsExtension struct {
	enqueued  metric.Int64Counter
	succeeded metric.Int64Counter
	duration  metric.Float64Histogram
	failed    metric.Int64Counter
	retried   metric.Int64Counter
	reaped    metric.Int64Counter
	fired     metric.Int64Counter
}

// NewMetricsExtension creates a MetricsExtension on the global
// MeterProvider. Without a configured provider the instruments are noops.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension with the
// provided meter. Instrument construction errors are ignored; the OTel
// API returns usable noop instruments on failure.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	m := &MetricsExtension{}
	m.enqueued, _ = meter.Int64Counter("jobqueue.jobs.enqueued",
		metric.WithDescription("Jobs accepted into the queue"),
		metric.WithUnit("{job}"))
	m.succeeded, _ = meter.Int64Counter("jobqueue.jobs.succeeded",
		metric.WithDescription("Jobs that finished successfully"),
		metric.WithUnit("{job}"))
	m.duration, _ = meter.Float64Histogram("jobqueue.jobs.duration",
		metric.WithDescription("Handler time for successful jobs"),
		metric.WithUnit("s"))
	m.failed, _ = meter.Int64Counter("jobqueue.jobs.failed",
		metric.WithDescription("Jobs that failed terminally"),
		metric.WithUnit("{job}"))
	m.retried, _ = meter.Int64Counter("jobqueue.jobs.retried",
		metric.WithDescription("Failed attempts returned to pending"),
		metric.WithUnit("{attempt}"))
	m.reaped, _ = meter.Int64Counter("jobqueue.leases.reaped",
		metric.WithDescription("Expired leases returned to pending"),
		metric.WithUnit("{lease}"))
	m.fired, _ = meter.Int64Counter("jobqueue.schedule.fired",
		metric.WithDescription("Scheduler entry fires"),
		metric.WithUnit("{fire}"))
	return m
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

func kindAttr(j *job.Job) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("kind", j.Kind))
}

// ── Job lifecycle hooks ─────────────────────────────

// OnJobEnqueued implements ext.JobEnqueued.
func (m *MetricsExtension) OnJobEnqueued(ctx context.Context, j *job.Job) error {
	m.enqueued.Add(ctx, 1, kindAttr(j))
	return nil
}

// OnJobSucceeded implements ext.JobSucceeded.
func (m *MetricsExtension) OnJobSucceeded(ctx context.Context, j *job.Job, elapsed time.Duration) error {
	m.succeeded.Add(ctx, 1, kindAttr(j))
	m.duration.Record(ctx, elapsed.Seconds(), kindAttr(j))
	return nil
}

// OnJobFailed implements ext.JobFailed.
func (m *MetricsExtension) OnJobFailed(ctx context.Context, j *job.Job, _ error) error {
	m.failed.Add(ctx, 1, kindAttr(j))
	return nil
}

// OnJobRetrying implements ext.JobRetrying.
func (m *MetricsExtension) OnJobRetrying(ctx context.Context, j *job.Job, _ int, _ time.Time) error {
	m.retried.Add(ctx, 1, kindAttr(j))
	return nil
}

// ── Queue maintenance hooks ─────────────────────────

// OnLeasesReaped implements ext.LeasesReaped.
func (m *MetricsExtension) OnLeasesReaped(ctx context.Context, count int) error {
	m.reaped.Add(ctx, int64(count))
	return nil
}

// OnScheduleFired implements ext.ScheduleFired.
func (m *MetricsExtension) OnScheduleFired(ctx context.Context, entryName string, _ id.JobID) error {
	m.fired.Add(ctx, 1, metric.WithAttributes(attribute.String("entry", entryName)))
	return nil
}
