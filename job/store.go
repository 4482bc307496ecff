package job

import (
	"context"
	"time"

	"github.com/UmairAbideen/cron-job-with-queue/id"
)

// ListOpts controls pagination and filtering for job list queries.
type ListOpts struct {
	// Limit is the maximum number of jobs to return. Zero means no limit.
	Limit int
	// Offset is the number of jobs to skip.
	Offset int
	// Kind filters by job kind. Empty means all kinds.
	Kind string
	// Status filters by job status. Empty means all statuses.
	Status Status
}

// CountOpts controls filtering for job count queries.
type CountOpts struct {
	// Kind filters by job kind. Empty means all kinds.
	Kind string
	// Status filters by job status. Empty means all statuses.
	Status Status
}

// Store defines the persistence contract for the queue. All mutation goes
// through its atomic operations; callers never need external locking.
type Store interface {
	// Enqueue persists a new job in pending state. It never blocks on
	// downstream processing. Inserting an existing ID returns
	// jobqueue.ErrJobAlreadyExists.
	Enqueue(ctx context.Context, j *Job) error

	// Lease atomically claims one eligible job for workerID and returns it
	// with status leased and a lease expiring leaseFor from now. Eligible
	// means pending with available_at due, or leased with an expired lease
	// (crash reclamation). Among eligible jobs the oldest available_at
	// wins, ties broken by creation order. At most one caller obtains a
	// given job even under concurrent Lease calls. Returns
	// jobqueue.ErrNoJobAvailable when nothing is eligible.
	Lease(ctx context.Context, workerID id.WorkerID, leaseFor time.Duration) (*Job, error)

	// Complete marks a job succeeded and releases the lease. It returns
	// jobqueue.ErrNotFound unless the job exists and is currently leased
	// by workerID, so a second Complete for the same attempt fails.
	Complete(ctx context.Context, jobID id.JobID, workerID id.WorkerID) error

	// Fail records a failed attempt for a job leased by workerID and
	// returns the post-transition record. Attempts is incremented and
	// cause recorded. With retry true and attempts still below the
	// record's budget the job returns to pending with a backoff delay on
	// available_at; otherwise it becomes failed (terminal). Returns
	// jobqueue.ErrNotFound unless leased by workerID.
	Fail(ctx context.Context, jobID id.JobID, workerID id.WorkerID, retry bool, cause error) (*Job, error)

	// ExtendLease pushes the lease expiry of a job leased by workerID to
	// leaseFor from now. Returns jobqueue.ErrNotFound if the lease is not
	// held by workerID.
	ExtendLease(ctx context.Context, jobID id.JobID, workerID id.WorkerID, leaseFor time.Duration) error

	// ReapExpired resets every leased job whose lease has expired back to
	// pending, leaving attempts untouched, and returns how many were
	// reclaimed.
	ReapExpired(ctx context.Context) (int, error)

	// Get retrieves a job by ID.
	Get(ctx context.Context, jobID id.JobID) (*Job, error)

	// List returns jobs matching the given options, newest first.
	List(ctx context.Context, opts ListOpts) ([]*Job, error)

	// Count returns the number of jobs matching the given options.
	Count(ctx context.Context, opts CountOpts) (int64, error)

	// Requeue returns a terminally failed job to pending with a fresh
	// attempt budget. Returns jobqueue.ErrNotFound unless the job exists
	// and is currently failed.
	Requeue(ctx context.Context, jobID id.JobID) error

	// Delete removes a job by ID.
	Delete(ctx context.Context, jobID id.JobID) error
}
