package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite" // register the pure-Go sqlite driver

	jobqueue "github.com/UmairAbideen/cron-job-with-queue"
	"github.com/UmairAbideen/cron-job-with-queue/backoff"
	"github.com/UmairAbideen/cron-job-with-queue/job"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// Ensure Store implements job.Store at compile time.
var _ job.Store = (*Store)(nil)

// Store is a SQLite implementation of store.Store using modernc.org/sqlite,
// a pure-Go driver that needs no cgo. Suitable for single-node deployments
// where the queue shares the process host.
type Store struct {
	db      *sql.DB
	logger  *slog.Logger
	backoff backoff.Strategy
}

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// WithBackoff sets the retry backoff strategy applied by Fail.
// Defaults to exponential backoff with jitter.
func WithBackoff(strategy backoff.Strategy) Option {
	return func(s *Store) { s.backoff = strategy }
}

// New opens (creating if necessary) the SQLite database at path.
// Use ":memory:" for an ephemeral database.
func New(path string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("jobqueue/sqlite: path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("jobqueue/sqlite: create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("jobqueue/sqlite: open: %w", err)
	}

	// SQLite prefers a single writer; one pooled connection also keeps
	// an in-memory database alive across calls.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	_, _ = db.Exec("PRAGMA busy_timeout = 5000")
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	s := &Store{
		db:      db,
		logger:  slog.Default(),
		backoff: backoff.DefaultStrategy(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// SetBackoff replaces the retry backoff strategy applied by Fail. Call it
// before the store is shared with running workers.
func (s *Store) SetBackoff(strategy backoff.Strategy) {
	s.backoff = strategy
}

// Migrate applies the embedded schema. The statements are idempotent, so
// calling Migrate on an up-to-date database is a no-op.
func (s *Store) Migrate(ctx context.Context) error {
	data, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return fmt.Errorf("%w: read embedded schema: %w", jobqueue.ErrMigrationFailed, err)
	}
	if _, err := s.db.ExecContext(ctx, string(data)); err != nil {
		return fmt.Errorf("%w: %w", jobqueue.ErrMigrationFailed, err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %w", jobqueue.ErrStoreUnavailable, err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for advanced usage.
func (s *Store) DB() *sql.DB {
	return s.db
}

// ── helpers ──────────────────────────────────────────────────────

// isNoRows returns true when err indicates no rows were found.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// isDuplicateKey checks if a SQLite error is a unique constraint violation.
func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
