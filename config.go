package jobqueue

import "time"

// Config holds runtime configuration for the engine and its worker pool.
type Config struct {
	// Concurrency is the number of pollers leasing and executing jobs.
	Concurrency int

	// PollInterval is how long a poller sleeps when no job is eligible.
	PollInterval time.Duration

	// LeaseDuration is the exclusive claim window granted on a leased job.
	// A worker that neither completes nor extends within this window loses
	// the job to reclamation.
	LeaseDuration time.Duration

	// ExtendInterval is how often in-flight leases are pushed forward.
	// Must be comfortably shorter than LeaseDuration.
	ExtendInterval time.Duration

	// ReapInterval is how often expired leases are swept back to pending.
	ReapInterval time.Duration

	// JobTimeout bounds a single handler execution.
	JobTimeout time.Duration

	// ShutdownTimeout is the maximum time to wait for in-flight jobs on stop.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:     10,
		PollInterval:    1 * time.Second,
		LeaseDuration:   30 * time.Second,
		ExtendInterval:  10 * time.Second,
		ReapInterval:    15 * time.Second,
		JobTimeout:      5 * time.Minute,
		ShutdownTimeout: 30 * time.Second,
	}
}
