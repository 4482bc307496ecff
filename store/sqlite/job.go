package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	jobqueue "github.com/UmairAbideen/cron-job-with-queue"
	"github.com/UmairAbideen/cron-job-with-queue/id"
	"github.com/UmairAbideen/cron-job-with-queue/job"
)

// jobColumns is the canonical column list; scanJob expects this order.
const jobColumns = `id, kind, payload, status, attempts, max_attempts, last_error,
	leased_by, lease_expires_at, available_at, created_at, updated_at`

// Enqueue persists a new job in pending state.
func (s *Store) Enqueue(ctx context.Context, j *job.Job) error {
	payload, err := encodePayload(j.Payload)
	if err != nil {
		return fmt.Errorf("jobqueue/sqlite: enqueue: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO jobqueue_jobs (
			id, kind, payload, status, attempts, max_attempts, last_error,
			leased_by, lease_expires_at, available_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID.String(), j.Kind, payload, string(j.Status),
		j.Attempts, j.MaxAttempts, j.LastError,
		j.LeasedBy.String(), nullMicros(j.LeaseExpiresAt),
		toMicros(j.AvailableAt), toMicros(j.CreatedAt), toMicros(j.UpdatedAt),
	)
	if err != nil {
		if isDuplicateKey(err) {
			return jobqueue.ErrJobAlreadyExists
		}
		return fmt.Errorf("jobqueue/sqlite: enqueue: %w", err)
	}
	return nil
}

// Lease atomically claims the single oldest eligible job for workerID.
// Eligibility covers pending jobs whose available_at is due and leased
// jobs whose lease has expired (crash reclamation, attempts untouched).
// The claim is one UPDATE statement, so concurrent callers cannot obtain
// the same job.
func (s *Store) Lease(ctx context.Context, workerID id.WorkerID, leaseFor time.Duration) (*job.Job, error) {
	now := time.Now().UTC()
	row := s.db.QueryRowContext(ctx, `
		UPDATE jobqueue_jobs SET
			status = 'leased', leased_by = ?, lease_expires_at = ?, updated_at = ?
		WHERE id = (
			SELECT id FROM jobqueue_jobs
			WHERE (status = 'pending' AND available_at <= ?)
			   OR (status = 'leased' AND lease_expires_at <= ?)
			ORDER BY available_at ASC, created_at ASC
			LIMIT 1
		)
		RETURNING `+jobColumns,
		workerID.String(), toMicros(now.Add(leaseFor)), toMicros(now),
		toMicros(now), toMicros(now),
	)

	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, jobqueue.ErrNoJobAvailable
		}
		return nil, fmt.Errorf("jobqueue/sqlite: lease: %w", err)
	}
	return j, nil
}

// Complete marks a job succeeded and releases the lease. The guard on
// leased_by makes a second Complete for the same attempt fail.
func (s *Store) Complete(ctx context.Context, jobID id.JobID, workerID id.WorkerID) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobqueue_jobs SET
			status = 'succeeded', leased_by = '', lease_expires_at = NULL, updated_at = ?
		WHERE id = ? AND status = 'leased' AND leased_by = ?`,
		toMicros(time.Now().UTC()), jobID.String(), workerID.String(),
	)
	if err != nil {
		return fmt.Errorf("jobqueue/sqlite: complete: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return jobqueue.ErrNotFound
	}
	return nil
}

// Fail records a failed attempt and either schedules a retry or marks the
// job terminally failed. The decision is made here so the retry delay can
// come from the store's backoff strategy.
func (s *Store) Fail(ctx context.Context, jobID id.JobID, workerID id.WorkerID, retry bool, cause error) (*job.Job, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("jobqueue/sqlite: fail: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	row := tx.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobqueue_jobs
		 WHERE id = ? AND status = 'leased' AND leased_by = ?`,
		jobID.String(), workerID.String(),
	)
	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, jobqueue.ErrNotFound
		}
		return nil, fmt.Errorf("jobqueue/sqlite: fail: %w", err)
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

	_, err = tx.ExecContext(ctx, `
		UPDATE jobqueue_jobs SET
			status = ?, attempts = ?, last_error = ?,
			leased_by = '', lease_expires_at = NULL,
			available_at = ?, updated_at = ?
		WHERE id = ?`,
		string(j.Status), j.Attempts, j.LastError,
		toMicros(j.AvailableAt), toMicros(now), jobID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("jobqueue/sqlite: fail: update: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("jobqueue/sqlite: fail: commit: %w", err)
	}
	return j, nil
}

// ExtendLease pushes the lease expiry of a job leased by workerID.
func (s *Store) ExtendLease(ctx context.Context, jobID id.JobID, workerID id.WorkerID, leaseFor time.Duration) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobqueue_jobs SET lease_expires_at = ?, updated_at = ?
		WHERE id = ? AND status = 'leased' AND leased_by = ?`,
		toMicros(now.Add(leaseFor)), toMicros(now),
		jobID.String(), workerID.String(),
	)
	if err != nil {
		return fmt.Errorf("jobqueue/sqlite: extend lease: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return jobqueue.ErrNotFound
	}
	return nil
}

// ReapExpired resets every leased job with a lapsed lease back to pending.
func (s *Store) ReapExpired(ctx context.Context) (int, error) {
	now := toMicros(time.Now().UTC())
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobqueue_jobs SET
			status = 'pending', leased_by = '', lease_expires_at = NULL, updated_at = ?
		WHERE status = 'leased' AND lease_expires_at <= ?`,
		now, now,
	)
	if err != nil {
		return 0, fmt.Errorf("jobqueue/sqlite: reap expired: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Get retrieves a job by ID.
func (s *Store) Get(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobqueue_jobs WHERE id = ?`,
		jobID.String(),
	)
	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, jobqueue.ErrNotFound
		}
		return nil, fmt.Errorf("jobqueue/sqlite: get: %w", err)
	}
	return j, nil
}

// List returns jobs matching the given options, newest first.
func (s *Store) List(ctx context.Context, opts job.ListOpts) ([]*job.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobqueue_jobs WHERE 1=1`
	var args []any

	if opts.Kind != "" {
		query += " AND kind = ?"
		args = append(args, opts.Kind)
	}
	if opts.Status != "" {
		query += " AND status = ?"
		args = append(args, string(opts.Status))
	}

	query += " ORDER BY created_at DESC"

	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}
	if opts.Offset > 0 {
		if opts.Limit <= 0 {
			query += " LIMIT -1"
		}
		query += " OFFSET ?"
		args = append(args, opts.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("jobqueue/sqlite: list: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// Count returns the number of jobs matching the given options.
func (s *Store) Count(ctx context.Context, opts job.CountOpts) (int64, error) {
	query := `SELECT COUNT(*) FROM jobqueue_jobs WHERE 1=1`
	var args []any

	if opts.Kind != "" {
		query += " AND kind = ?"
		args = append(args, opts.Kind)
	}
	if opts.Status != "" {
		query += " AND status = ?"
		args = append(args, string(opts.Status))
	}

	var count int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("jobqueue/sqlite: count: %w", err)
	}
	return count, nil
}

// Requeue returns a terminally failed job to pending with a fresh budget.
func (s *Store) Requeue(ctx context.Context, jobID id.JobID) error {
	now := toMicros(time.Now().UTC())
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobqueue_jobs SET
			status = 'pending', attempts = 0, available_at = ?, updated_at = ?
		WHERE id = ? AND status = 'failed'`,
		now, now, jobID.String(),
	)
	if err != nil {
		return fmt.Errorf("jobqueue/sqlite: requeue: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return jobqueue.ErrNotFound
	}
	return nil
}

// Delete removes a job by ID.
func (s *Store) Delete(ctx context.Context, jobID id.JobID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM jobqueue_jobs WHERE id = ?`, jobID.String())
	if err != nil {
		return fmt.Errorf("jobqueue/sqlite: delete: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return jobqueue.ErrNotFound
	}
	return nil
}

// ── row mapping ──────────────────────────────────────────────────

type rowScanner interface {
	Scan(dest ...any) error
}

// scanJob scans a single job row in jobColumns order.
func scanJob(row rowScanner) (*job.Job, error) {
	var (
		j            job.Job
		idStr        string
		payloadStr   string
		statusStr    string
		workerStr    string
		leaseExpires sql.NullInt64
		availableAt  int64
		createdAt    int64
		updatedAt    int64
	)
	err := row.Scan(
		&idStr, &j.Kind, &payloadStr, &statusStr,
		&j.Attempts, &j.MaxAttempts, &j.LastError,
		&workerStr, &leaseExpires,
		&availableAt, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	j.Status = job.Status(statusStr)
	j.AvailableAt = fromMicros(availableAt)
	j.CreatedAt = fromMicros(createdAt)
	j.UpdatedAt = fromMicros(updatedAt)

	if payloadStr != "" && payloadStr != "{}" {
		if err := json.Unmarshal([]byte(payloadStr), &j.Payload); err != nil {
			return nil, fmt.Errorf("decode payload: %w", err)
		}
	}

	parsedID, err := id.ParseJobID(idStr)
	if err != nil {
		return nil, fmt.Errorf("parse job id %q: %w", idStr, err)
	}
	j.ID = parsedID

	if workerStr != "" {
		if parsed, err := id.ParseWorkerID(workerStr); err == nil {
			j.LeasedBy = parsed
		}
	}
	if leaseExpires.Valid {
		t := fromMicros(leaseExpires.Int64)
		j.LeaseExpiresAt = &t
	}

	return &j, nil
}

// collectJobs collects all jobs from query rows.
func collectJobs(rows *sql.Rows) ([]*job.Job, error) {
	var jobs []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("jobqueue/sqlite: scan job row: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("jobqueue/sqlite: iterate job rows: %w", err)
	}
	return jobs, nil
}

func encodePayload(p map[string]string) (string, error) {
	if len(p) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}
	return string(data), nil
}

// toMicros converts a time to the unix-microsecond representation used in
// the schema.
func toMicros(t time.Time) int64 {
	return t.UTC().UnixMicro()
}

func fromMicros(us int64) time.Time {
	return time.UnixMicro(us).UTC()
}

// nullMicros converts an optional time for a nullable column.
func nullMicros(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMicros(*t), Valid: true}
}
