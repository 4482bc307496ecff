// Package sqlite provides a SQLite-backed store using modernc.org/sqlite,
// a pure-Go driver that requires no cgo.
//
// The backend is intended for single-process deployments: the schema lives
// in one file (or in memory), WAL mode keeps readers and the single writer
// from blocking each other, and Lease claims jobs with a single UPDATE so
// concurrent pollers in the same process never double-claim.
//
//	s, err := sqlite.New("data/jobs.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer s.Close()
//	if err := s.Migrate(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// Timestamps are persisted as unix microseconds, payloads as JSON text.
package sqlite
