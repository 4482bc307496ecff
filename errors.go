package jobqueue

import "errors"

var (
	// Store errors.
	ErrNoStore          = errors.New("jobqueue: no store configured")
	ErrStoreUnavailable = errors.New("jobqueue: store unavailable")
	ErrStoreClosed      = errors.New("jobqueue: store closed")
	ErrMigrationFailed  = errors.New("jobqueue: migration failed")

	// Lookup errors.
	ErrNotFound       = errors.New("jobqueue: job not found")
	ErrNoJobAvailable = errors.New("jobqueue: no job available")

	// Registry errors.
	ErrUnknownJobKind = errors.New("jobqueue: unknown job kind")
	ErrDuplicateKind  = errors.New("jobqueue: job kind already registered")

	// Conflict errors.
	ErrJobAlreadyExists = errors.New("jobqueue: job already exists")

	// Handler outcome classification. Handlers wrap (or return) these to
	// steer retry behavior; an unclassified error is treated as transient.
	ErrTransient = errors.New("jobqueue: transient failure")
	ErrPermanent = errors.New("jobqueue: permanent failure")
)
