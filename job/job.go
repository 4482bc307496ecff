package job

import (
	"time"

	"github.com/UmairAbideen/cron-job-with-queue/id"
)

// Status represents the lifecycle status of a job record.
type Status string

const (
	// StatusPending means the job is waiting to be leased by a worker.
	StatusPending Status = "pending"
	// StatusLeased means a worker holds an active lease on the job.
	StatusLeased Status = "leased"
	// StatusSucceeded means the job finished successfully.
	StatusSucceeded Status = "succeeded"
	// StatusFailed means the job failed and will not be retried.
	StatusFailed Status = "failed"
)

// Terminal reports whether the status is an end state. Terminal records
// are never leased again.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// Valid reports whether s is one of the four known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusLeased, StatusSucceeded, StatusFailed:
		return true
	}
	return false
}

// Job is the unit of work enqueued for asynchronous execution.
//
// The ID is assigned at enqueue time and immutable. Kind selects the
// registered handler. Payload is an opaque string map, immutable once
// created; stores serialize it as JSON.
type Job struct {
	ID          id.JobID          `json:"id"`
	Kind        string            `json:"kind"`
	Payload     map[string]string `json:"payload,omitempty"`
	Status      Status            `json:"status"`
	Attempts    int               `json:"attempts"`
	MaxAttempts int               `json:"max_attempts"`
	LastError   string            `json:"last_error,omitempty"`

	// LeasedBy and LeaseExpiresAt are set while a worker holds the lease
	// and cleared on completion or reclamation.
	LeasedBy       id.WorkerID `json:"leased_by,omitempty"`
	LeaseExpiresAt *time.Time  `json:"lease_expires_at,omitempty"`

	// AvailableAt is the earliest instant the record may be leased.
	// Enqueue delay and retry backoff both move it forward.
	AvailableAt time.Time `json:"available_at"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// New builds a pending job record for kind with the given payload. The
// payload map is copied so later caller mutations do not leak into the
// record. Scheduling and retry budget come from opts.
func New(kind string, payload map[string]string, opts ...Option) *Job {
	o := DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	// The SQL backends persist microseconds; keep the in-memory record at
	// the same granularity so a stored job round-trips unchanged.
	now := time.Now().UTC().Truncate(time.Microsecond)
	availableAt := now
	switch {
	case !o.AvailableAt.IsZero():
		availableAt = o.AvailableAt.UTC().Truncate(time.Microsecond)
	case o.Delay > 0:
		availableAt = now.Add(o.Delay)
	}

	var p map[string]string
	if payload != nil {
		p = make(map[string]string, len(payload))
		for k, v := range payload {
			p[k] = v
		}
	}

	return &Job{
		ID:          id.NewJobID(),
		Kind:        kind,
		Payload:     p,
		Status:      StatusPending,
		MaxAttempts: o.MaxAttempts,
		AvailableAt: availableAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Clone returns a deep copy of the job. Stores hand out clones so callers
// cannot mutate the durable representation.
func (j *Job) Clone() *Job {
	c := *j
	if j.Payload != nil {
		c.Payload = make(map[string]string, len(j.Payload))
		for k, v := range j.Payload {
			c.Payload[k] = v
		}
	}
	if j.LeaseExpiresAt != nil {
		t := *j.LeaseExpiresAt
		c.LeaseExpiresAt = &t
	}
	return &c
}

// LeaseExpired reports whether the job is leased and its lease has lapsed
// as of now. Such records are eligible for reclamation.
func (j *Job) LeaseExpired(now time.Time) bool {
	return j.Status == StatusLeased && j.LeaseExpiresAt != nil && !now.Before(*j.LeaseExpiresAt)
}
