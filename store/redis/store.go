// Package redis implements store.Store using Redis for high-throughput
// workloads where jobs are short-lived. Each job is a Hash; scheduling
// lives in two Sorted Sets (pending scored by available_at, leased scored
// by lease_expires_at), and claims run as Lua scripts so concurrent
// workers never obtain the same job.
//
// The backend targets a single Redis instance; the claim scripts compose
// keys dynamically, which Redis Cluster slot hashing does not permit.
//
// Usage:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	s := redisstore.New(client)
//	if err := s.Ping(ctx); err != nil { ... }
package redis

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	jobqueue "github.com/UmairAbideen/cron-job-with-queue"
	"github.com/UmairAbideen/cron-job-with-queue/backoff"
	"github.com/UmairAbideen/cron-job-with-queue/job"
)

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

// Store implements the composite store.Store interface backed by Redis.
type Store struct {
	client  redis.UniversalClient
	logger  *slog.Logger
	backoff backoff.Strategy
}

// New creates a new Redis-backed store. The caller owns the Redis client
// lifecycle.
func New(client redis.UniversalClient, opts ...Option) *Store {
	s := &Store{
		client:  client,
		logger:  slog.Default(),
		backoff: backoff.DefaultStrategy(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Client returns the underlying Redis client.
func (s *Store) Client() redis.UniversalClient { return s.client }

// SetBackoff replaces the retry backoff strategy applied by Fail. Call it
// before the store is shared with running workers.
func (s *Store) SetBackoff(strategy backoff.Strategy) {
	s.backoff = strategy
}

// Migrate is a no-op for Redis (schemaless).
func (s *Store) Migrate(_ context.Context) error { return nil }

// Ping verifies the Redis connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %w", jobqueue.ErrStoreUnavailable, err)
	}
	return nil
}

// Close is a no-op. The caller owns the Redis client lifecycle.
func (s *Store) Close() error { return nil }
