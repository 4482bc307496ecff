package store

import (
	"context"

	"github.com/UmairAbideen/cron-job-with-queue/job"
)

// Store is the aggregate persistence interface. It extends job.Store with
// the lifecycle operations every backend shares. A single backend (sqlite,
// postgres, etc.) implements all of it.
type Store interface {
	job.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close releases the backend connection.
	Close() error
}
