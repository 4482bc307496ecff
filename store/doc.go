// Package store defines the aggregate persistence interface.
//
// The job subsystem defines its own store interface; the composite [Store]
// adds the lifecycle operations (Migrate, Ping, Close) every backend shares.
// A backend need only implement Store to back the whole engine.
//
// The composite interface:
//
//	type Store interface {
//	    job.Store
//
//	    Migrate(ctx context.Context) error
//	    Ping(ctx context.Context) error
//	    Close() error
//	}
//
// # Available Backends
//
//   - store/memory — in-memory store for development and testing
//   - store/sqlite — embedded SQLite backend (modernc.org/sqlite, pure Go)
//   - store/postgres — PostgreSQL backend using pgx/v5
//   - store/redis — Redis backend using go-redis/v9
//   - store/mongo — MongoDB backend using mongo-driver/v2
//
// # Usage
//
//	import "github.com/UmairAbideen/cron-job-with-queue/store/sqlite"
//
//	s, err := sqlite.New(ctx, "jobs.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer s.Close()
//
//	eng, err := engine.New(s, jobqueue.DefaultConfig())
//
// # Migrations
//
// Call Migrate once at startup to create or update the schema:
//
//	if err := s.Migrate(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// The memory store's Migrate is a no-op.
package store
