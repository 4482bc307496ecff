package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	jobqueue "github.com/UmairAbideen/cron-job-with-queue"
	"github.com/UmairAbideen/cron-job-with-queue/id"
	"github.com/UmairAbideen/cron-job-with-queue/job"
)

// jobColumns is the canonical column list; scanJob expects this order.
const jobColumns = `id, kind, payload, status, attempts, max_attempts, last_error,
	leased_by, lease_expires_at, available_at, created_at, updated_at`

// Enqueue persists a new job in pending state.
func (s *Store) Enqueue(ctx context.Context, j *job.Job) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO jobqueue_jobs (
			id, kind, payload, status, attempts, max_attempts, last_error,
			leased_by, lease_expires_at, available_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		j.ID.String(), j.Kind, payloadArg(j.Payload), string(j.Status),
		j.Attempts, j.MaxAttempts, j.LastError,
		j.LeasedBy.String(), j.LeaseExpiresAt,
		j.AvailableAt, j.CreatedAt, j.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return jobqueue.ErrJobAlreadyExists
		}
		return fmt.Errorf("jobqueue/postgres: enqueue: %w", err)
	}
	return nil
}

// Lease atomically claims the single oldest eligible job for workerID.
// FOR UPDATE SKIP LOCKED keeps concurrent workers (in this process or any
// other) from claiming the same row. Expired leases are reclaimed in the
// same query, attempts untouched.
func (s *Store) Lease(ctx context.Context, workerID id.WorkerID, leaseFor time.Duration) (*job.Job, error) {
	now := time.Now().UTC()
	row := s.pool.QueryRow(ctx, `
		WITH eligible AS (
			SELECT id FROM jobqueue_jobs
			WHERE (status = 'pending' AND available_at <= $3)
			   OR (status = 'leased' AND lease_expires_at <= $3)
			ORDER BY available_at ASC, created_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		UPDATE jobqueue_jobs j SET
			status = 'leased', leased_by = $1, lease_expires_at = $2, updated_at = $3
		FROM eligible
		WHERE j.id = eligible.id
		RETURNING `+prefixedJobColumns("j."),
		workerID.String(), now.Add(leaseFor), now,
	)

	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, jobqueue.ErrNoJobAvailable
		}
		return nil, fmt.Errorf("jobqueue/postgres: lease: %w", err)
	}
	return j, nil
}

// Complete marks a job succeeded and releases the lease. The guard on
// leased_by makes a second Complete for the same attempt fail.
func (s *Store) Complete(ctx context.Context, jobID id.JobID, workerID id.WorkerID) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobqueue_jobs SET
			status = 'succeeded', leased_by = '', lease_expires_at = NULL, updated_at = $3
		WHERE id = $1 AND status = 'leased' AND leased_by = $2`,
		jobID.String(), workerID.String(), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("jobqueue/postgres: complete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return jobqueue.ErrNotFound
	}
	return nil
}

// Fail records a failed attempt and either schedules a retry or marks the
// job terminally failed. The row is locked for the read-decide-write cycle
// so concurrent reapers cannot interleave.
func (s *Store) Fail(ctx context.Context, jobID id.JobID, workerID id.WorkerID, retry bool, cause error) (*job.Job, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("jobqueue/postgres: fail: begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	row := tx.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobqueue_jobs
		 WHERE id = $1 AND status = 'leased' AND leased_by = $2
		 FOR UPDATE`,
		jobID.String(), workerID.String(),
	)
	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, jobqueue.ErrNotFound
		}
		return nil, fmt.Errorf("jobqueue/postgres: fail: %w", err)
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
		j.AvailableAt = now.Add(s.backoff.Delay(j.Attempts))
	} else {
		j.Status = job.StatusFailed
	}

	_, err = tx.Exec(ctx, `
		UPDATE jobqueue_jobs SET
			status = $2, attempts = $3, last_error = $4,
			leased_by = '', lease_expires_at = NULL,
			available_at = $5, updated_at = $6
		WHERE id = $1`,
		jobID.String(), string(j.Status), j.Attempts, j.LastError,
		j.AvailableAt, now,
	)
	if err != nil {
		return nil, fmt.Errorf("jobqueue/postgres: fail: update: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("jobqueue/postgres: fail: commit: %w", err)
	}
	return j, nil
}

// ExtendLease pushes the lease expiry of a job leased by workerID.
func (s *Store) ExtendLease(ctx context.Context, jobID id.JobID, workerID id.WorkerID, leaseFor time.Duration) error {
	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobqueue_jobs SET lease_expires_at = $3, updated_at = $4
		WHERE id = $1 AND status = 'leased' AND leased_by = $2`,
		jobID.String(), workerID.String(), now.Add(leaseFor), now,
	)
	if err != nil {
		return fmt.Errorf("jobqueue/postgres: extend lease: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return jobqueue.ErrNotFound
	}
	return nil
}

// ReapExpired resets every leased job with a lapsed lease back to pending.
func (s *Store) ReapExpired(ctx context.Context) (int, error) {
	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobqueue_jobs SET
			status = 'pending', leased_by = '', lease_expires_at = NULL, updated_at = $1
		WHERE status = 'leased' AND lease_expires_at <= $1`,
		now,
	)
	if err != nil {
		return 0, fmt.Errorf("jobqueue/postgres: reap expired: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// Get retrieves a job by ID.
func (s *Store) Get(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobqueue_jobs WHERE id = $1`,
		jobID.String(),
	)
	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, jobqueue.ErrNotFound
		}
		return nil, fmt.Errorf("jobqueue/postgres: get: %w", err)
	}
	return j, nil
}

// List returns jobs matching the given options, newest first.
func (s *Store) List(ctx context.Context, opts job.ListOpts) ([]*job.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobqueue_jobs WHERE 1=1`
	args := []any{}
	argIdx := 1

	if opts.Kind != "" {
		query += fmt.Sprintf(" AND kind = $%d", argIdx)
		args = append(args, opts.Kind)
		argIdx++
	}
	if opts.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, string(opts.Status))
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("jobqueue/postgres: list: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// Count returns the number of jobs matching the given options.
func (s *Store) Count(ctx context.Context, opts job.CountOpts) (int64, error) {
	query := `SELECT COUNT(*) FROM jobqueue_jobs WHERE 1=1`
	args := []any{}
	argIdx := 1

	if opts.Kind != "" {
		query += fmt.Sprintf(" AND kind = $%d", argIdx)
		args = append(args, opts.Kind)
		argIdx++
	}
	if opts.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, string(opts.Status))
	}

	var count int64
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("jobqueue/postgres: count: %w", err)
	}
	return count, nil
}

// Requeue returns a terminally failed job to pending with a fresh budget.
func (s *Store) Requeue(ctx context.Context, jobID id.JobID) error {
	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobqueue_jobs SET
			status = 'pending', attempts = 0, available_at = $2, updated_at = $2
		WHERE id = $1 AND status = 'failed'`,
		jobID.String(), now,
	)
	if err != nil {
		return fmt.Errorf("jobqueue/postgres: requeue: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return jobqueue.ErrNotFound
	}
	return nil
}

// Delete removes a job by ID.
func (s *Store) Delete(ctx context.Context, jobID id.JobID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM jobqueue_jobs WHERE id = $1`, jobID.String())
	if err != nil {
		return fmt.Errorf("jobqueue/postgres: delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return jobqueue.ErrNotFound
	}
	return nil
}

// ── row mapping ──────────────────────────────────────────────────

// prefixedJobColumns returns jobColumns with each column prefixed, for
// queries where the table carries an alias.
func prefixedJobColumns(prefix string) string {
	return prefix + `id, ` + prefix + `kind, ` + prefix + `payload, ` +
		prefix + `status, ` + prefix + `attempts, ` + prefix + `max_attempts, ` +
		prefix + `last_error, ` + prefix + `leased_by, ` + prefix + `lease_expires_at, ` +
		prefix + `available_at, ` + prefix + `created_at, ` + prefix + `updated_at`
}

// payloadArg normalizes a payload map for the JSONB column.
func payloadArg(p map[string]string) map[string]string {
	if p == nil {
		return map[string]string{}
	}
	return p
}

// scanJob scans a single job row in jobColumns order.
func scanJob(row pgx.Row) (*job.Job, error) {
	var (
		j         job.Job
		idStr     string
		statusStr string
		workerStr string
	)
	err := row.Scan(
		&idStr, &j.Kind, &j.Payload, &statusStr,
		&j.Attempts, &j.MaxAttempts, &j.LastError,
		&workerStr, &j.LeaseExpiresAt,
		&j.AvailableAt, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	j.Status = job.Status(statusStr)

	parsedID, parseErr := id.ParseJobID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("parse job id %q: %w", idStr, parseErr)
	}
	j.ID = parsedID

	if workerStr != "" {
		if parsed, workerErr := id.ParseWorkerID(workerStr); workerErr == nil {
			j.LeasedBy = parsed
		}
	}

	return &j, nil
}

// collectJobs collects all jobs from query rows.
func collectJobs(rows pgx.Rows) ([]*job.Job, error) {
	var jobs []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("jobqueue/postgres: scan job row: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("jobqueue/postgres: iterate job rows: %w", err)
	}
	return jobs, nil
}
