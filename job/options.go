package job

import "time"

// Options configures per-job behavior at enqueue time.
type Options struct {
	// MaxAttempts is the execution budget: once Attempts reaches it the
	// job fails terminally instead of being retried.
	MaxAttempts int

	// Delay postpones eligibility: available_at = now + Delay.
	Delay time.Duration

	// AvailableAt schedules the job for a specific instant. Takes
	// precedence over Delay when non-zero.
	AvailableAt time.Time
}

// DefaultOptions returns Options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		MaxAttempts: 3,
	}
}

// Option is a functional option for configuring an enqueued job.
type Option func(*Options)

// WithMaxAttempts sets the execution budget for the job.
func WithMaxAttempts(n int) Option {
	return func(o *Options) {
		o.MaxAttempts = n
	}
}

// WithDelay postpones the job's eligibility by d.
func WithDelay(d time.Duration) Option {
	return func(o *Options) {
		o.Delay = d
	}
}

// WithAvailableAt schedules the job for execution at a specific time.
func WithAvailableAt(t time.Time) Option {
	return func(o *Options) {
		o.AvailableAt = t
	}
}
