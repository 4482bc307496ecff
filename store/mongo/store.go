package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"

	jobqueue "github.com/UmairAbideen/cron-job-with-queue"
	"github.com/UmairAbideen/cron-job-with-queue/backoff"
	"github.com/UmairAbideen/cron-job-with-queue/job"
)

// colJobs is the collection holding job documents.
const colJobs = "jobqueue_jobs"

// Compile-time interface check.
var _ job.Store = (*Store)(nil)

// Option configures the Store.
type Option func(*Store)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithBackoff sets the retry backoff strategy applied by Fail.
// Defaults to exponential backoff with jitter.
func WithBackoff(strategy backoff.Strategy) Option {
	return func(s *Store) { s.backoff = strategy }
}

// Store implements the composite store.Store interface backed by MongoDB.
type Store struct {
	db      *mongod.Database
	logger  *slog.Logger
	backoff backoff.Strategy
}

// New creates a new MongoDB-backed store. The caller owns the client
// lifecycle; the store never closes it.
func New(db *mongod.Database, opts ...Option) *Store {
	s := &Store{
		db:      db,
		logger:  slog.Default(),
		backoff: backoff.DefaultStrategy(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Database returns the underlying database handle.
func (s *Store) Database() *mongod.Database { return s.db }

// SetBackoff replaces the retry backoff strategy applied by Fail. Call it
// before the store is shared with running workers.
func (s *Store) SetBackoff(strategy backoff.Strategy) {
	s.backoff = strategy
}

// Migrate creates the indexes the job collection needs.
func (s *Store) Migrate(ctx context.Context) error {
	indexes := []mongod.IndexModel{
		// Claim index: due pending jobs in FIFO order.
		{Keys: bson.D{
			{Key: "status", Value: 1},
			{Key: "available_at", Value: 1},
			{Key: "created_at", Value: 1},
		}},
		// Expiry index for reclaiming lapsed leases.
		{Keys: bson.D{
			{Key: "status", Value: 1},
			{Key: "lease_expires_at", Value: 1},
		}},
		// Listings filter by kind and sort newest first.
		{Keys: bson.D{{Key: "kind", Value: 1}}},
		{Keys: bson.D{{Key: "created_at", Value: -1}}},
	}

	if _, err := s.jobs().Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("%w: %w", jobqueue.ErrMigrationFailed, err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.Client().Ping(ctx, nil); err != nil {
		return fmt.Errorf("%w: %w", jobqueue.ErrStoreUnavailable, err)
	}
	return nil
}

// Close is a no-op. The caller owns the client lifecycle.
func (s *Store) Close() error { return nil }

// jobs returns the job collection handle.
func (s *Store) jobs() *mongod.Collection {
	return s.db.Collection(colJobs)
}

// ── helpers ──────────────────────────────────────────────────────

// now returns the current UTC time at millisecond precision, matching
// what BSON datetimes can represent.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

// isNoDocuments reports whether err indicates no matching document.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongod.ErrNoDocuments)
}

// isDuplicateKey reports whether err is a duplicate key violation.
func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "duplicate key") ||
		strings.Contains(err.Error(), "E11000")
}
