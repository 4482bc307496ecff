// Package memory provides a fully in-memory store implementation.
// Safe for concurrent access. Intended for unit testing and development;
// nothing survives a restart.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	jobqueue "github.com/UmairAbideen/cron-job-with-queue"
	"github.com/UmairAbideen/cron-job-with-queue/backoff"
	"github.com/UmairAbideen/cron-job-with-queue/id"
	"github.com/UmairAbideen/cron-job-with-queue/job"
)

// Ensure Store implements job.Store at compile time.
var _ job.Store = (*Store)(nil)

// Store is an in-memory implementation of store.Store.
type Store struct {
	mu      sync.RWMutex
	jobs    map[string]*job.Job
	backoff backoff.Strategy
	closed  bool
}

// Option configures a Store.
type Option func(*Store)

// WithBackoff sets the retry backoff strategy applied by Fail.
// Defaults to exponential backoff with jitter.
func WithBackoff(s backoff.Strategy) Option {
	return func(st *Store) { st.backoff = s }
}

// New returns a new empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		jobs:    make(map[string]*job.Job),
		backoff: backoff.DefaultStrategy(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetBackoff replaces the retry backoff strategy applied by Fail. Call it
// before the store is shared with running workers.
func (m *Store) SetBackoff(strategy backoff.Strategy) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.backoff = strategy
}

// ──────────────────────────────────────────────────
// Lifecycle — Migrate / Ping / Close
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping reports whether the store is usable.
func (m *Store) Ping(_ context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return jobqueue.ErrStoreClosed
	}
	return nil
}

// Close marks the store closed. Further operations fail with
// jobqueue.ErrStoreClosed.
func (m *Store) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// ──────────────────────────────────────────────────
// Job Store
// ──────────────────────────────────────────────────

// Enqueue persists a new job in pending state.
func (m *Store) Enqueue(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return jobqueue.ErrStoreClosed
	}

	key := j.ID.String()
	if _, exists := m.jobs[key]; exists {
		return jobqueue.ErrJobAlreadyExists
	}
	m.jobs[key] = j.Clone()
	return nil
}

// Lease atomically claims the single oldest eligible job for workerID.
// Eligible means pending with available_at due, or leased with an expired
// lease (reclaimed in place, attempts untouched).
func (m *Store) Lease(_ context.Context, workerID id.WorkerID, leaseFor time.Duration) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, jobqueue.ErrStoreClosed
	}

	now := time.Now().UTC()

	candidates := make([]*job.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		eligible := (j.Status == job.StatusPending && !j.AvailableAt.After(now)) || j.LeaseExpired(now)
		if eligible {
			candidates = append(candidates, j)
		}
	}
	if len(candidates) == 0 {
		return nil, jobqueue.ErrNoJobAvailable
	}

	// FIFO: oldest available_at first, creation order breaks ties.
	sort.Slice(candidates, func(i, k int) bool {
		if !candidates[i].AvailableAt.Equal(candidates[k].AvailableAt) {
			return candidates[i].AvailableAt.Before(candidates[k].AvailableAt)
		}
		return candidates[i].CreatedAt.Before(candidates[k].CreatedAt)
	})

	j := candidates[0]
	expires := now.Add(leaseFor)
	j.Status = job.StatusLeased
	j.LeasedBy = workerID
	j.LeaseExpiresAt = &expires
	j.UpdatedAt = now

	return j.Clone(), nil
}

// Complete marks a job succeeded and releases the lease.
func (m *Store) Complete(_ context.Context, jobID id.JobID, workerID id.WorkerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return jobqueue.ErrStoreClosed
	}

	j, ok := m.leasedBy(jobID, workerID)
	if !ok {
		return jobqueue.ErrNotFound
	}

	j.Status = job.StatusSucceeded
	j.LeasedBy = id.Nil
	j.LeaseExpiresAt = nil
	j.UpdatedAt = time.Now().UTC()
	return nil
}

// Fail records a failed attempt and either schedules a retry or marks the
// job terminally failed, depending on retry and the remaining budget.
func (m *Store) Fail(_ context.Context, jobID id.JobID, workerID id.WorkerID, retry bool, cause error) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, jobqueue.ErrStoreClosed
	}

	j, ok := m.leasedBy(jobID, workerID)
	if !ok {
		return nil, jobqueue.ErrNotFound
	}

	now := time.Now().UTC()
	j.Attempts++
	if cause != nil {
		j.LastError = cause.Error()
	}
	j.LeasedBy = id.Nil
	j.LeaseExpiresAt = nil
	j.UpdatedAt = now

	if retry && j.Attempts < j.MaxAttempts {
		j.Status = job.StatusPending
		j.AvailableAt = now.Add(m.backoff.Delay(j.Attempts))
	} else {
		j.Status = job.StatusFailed
	}

	return j.Clone(), nil
}

// ExtendLease pushes the lease expiry of a job leased by workerID.
func (m *Store) ExtendLease(_ context.Context, jobID id.JobID, workerID id.WorkerID, leaseFor time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return jobqueue.ErrStoreClosed
	}

	j, ok := m.leasedBy(jobID, workerID)
	if !ok {
		return jobqueue.ErrNotFound
	}

	now := time.Now().UTC()
	expires := now.Add(leaseFor)
	j.LeaseExpiresAt = &expires
	j.UpdatedAt = now
	return nil
}

// ReapExpired resets every leased job with a lapsed lease back to pending.
// Attempts and available_at are untouched, so reclaimed jobs keep their
// place in FIFO order.
func (m *Store) ReapExpired(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, jobqueue.ErrStoreClosed
	}

	now := time.Now().UTC()
	reaped := 0
	for _, j := range m.jobs {
		if !j.LeaseExpired(now) {
			continue
		}
		j.Status = job.StatusPending
		j.LeasedBy = id.Nil
		j.LeaseExpiresAt = nil
		j.UpdatedAt = now
		reaped++
	}
	return reaped, nil
}

// Get retrieves a job by ID.
func (m *Store) Get(_ context.Context, jobID id.JobID) (*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, jobqueue.ErrStoreClosed
	}

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, jobqueue.ErrNotFound
	}
	return j.Clone(), nil
}

// List returns jobs matching the given options, newest first.
func (m *Store) List(_ context.Context, opts job.ListOpts) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, jobqueue.ErrStoreClosed
	}

	result := make([]*job.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		if opts.Kind != "" && j.Kind != opts.Kind {
			continue
		}
		if opts.Status != "" && j.Status != opts.Status {
			continue
		}
		result = append(result, j.Clone())
	}

	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.After(result[k].CreatedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(result) {
			return nil, nil
		}
		result = result[opts.Offset:]
	}
	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}

	return result, nil
}

// Count returns the number of jobs matching the given options.
func (m *Store) Count(_ context.Context, opts job.CountOpts) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return 0, jobqueue.ErrStoreClosed
	}

	var n int64
	for _, j := range m.jobs {
		if opts.Kind != "" && j.Kind != opts.Kind {
			continue
		}
		if opts.Status != "" && j.Status != opts.Status {
			continue
		}
		n++
	}
	return n, nil
}

// Requeue returns a terminally failed job to pending with a fresh budget.
func (m *Store) Requeue(_ context.Context, jobID id.JobID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return jobqueue.ErrStoreClosed
	}

	j, ok := m.jobs[jobID.String()]
	if !ok || j.Status != job.StatusFailed {
		return jobqueue.ErrNotFound
	}

	now := time.Now().UTC()
	j.Status = job.StatusPending
	j.Attempts = 0
	j.AvailableAt = now
	j.UpdatedAt = now
	return nil
}

// Delete removes a job by ID.
func (m *Store) Delete(_ context.Context, jobID id.JobID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return jobqueue.ErrStoreClosed
	}

	key := jobID.String()
	if _, ok := m.jobs[key]; !ok {
		return jobqueue.ErrNotFound
	}
	delete(m.jobs, key)
	return nil
}

// leasedBy returns the stored job when it exists, is leased, and the lease
// is held by workerID. Callers hold m.mu.
func (m *Store) leasedBy(jobID id.JobID, workerID id.WorkerID) (*job.Job, bool) {
	j, ok := m.jobs[jobID.String()]
	if !ok || j.Status != job.StatusLeased || !j.LeasedBy.Equal(workerID) {
		return nil, false
	}
	return j, true
}
