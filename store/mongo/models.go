package mongo

import (
	"fmt"
	"time"

	"github.com/UmairAbideen/cron-job-with-queue/id"
	"github.com/UmairAbideen/cron-job-with-queue/job"
)

// jobModel is the BSON document shape for a job.
type jobModel struct {
	ID             string            `bson:"_id"`
	Kind           string            `bson:"kind"`
	Payload        map[string]string `bson:"payload,omitempty"`
	Status         string            `bson:"status"`
	Attempts       int               `bson:"attempts"`
	MaxAttempts    int               `bson:"max_attempts"`
	LastError      string            `bson:"last_error,omitempty"`
	LeasedBy       string            `bson:"leased_by,omitempty"`
	LeaseExpiresAt *time.Time        `bson:"lease_expires_at,omitempty"`
	AvailableAt    time.Time         `bson:"available_at"`
	CreatedAt      time.Time         `bson:"created_at"`
	UpdatedAt      time.Time         `bson:"updated_at"`
}

func toJobModel(j *job.Job) *jobModel {
	m := &jobModel{
		ID:             j.ID.String(),
		Kind:           j.Kind,
		Payload:        j.Payload,
		Status:         string(j.Status),
		Attempts:       j.Attempts,
		MaxAttempts:    j.MaxAttempts,
		LastError:      j.LastError,
		LeaseExpiresAt: j.LeaseExpiresAt,
		AvailableAt:    j.AvailableAt,
		CreatedAt:      j.CreatedAt,
		UpdatedAt:      j.UpdatedAt,
	}
	if !j.LeasedBy.IsNil() {
		m.LeasedBy = j.LeasedBy.String()
	}
	return m
}

func fromJobModel(m *jobModel) (*job.Job, error) {
	parsedID, err := id.ParseJobID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse job id %q: %w", m.ID, err)
	}

	j := &job.Job{
		ID:             parsedID,
		Kind:           m.Kind,
		Payload:        m.Payload,
		Status:         job.Status(m.Status),
		Attempts:       m.Attempts,
		MaxAttempts:    m.MaxAttempts,
		LastError:      m.LastError,
		LeaseExpiresAt: m.LeaseExpiresAt,
		AvailableAt:    m.AvailableAt.UTC(),
		CreatedAt:      m.CreatedAt.UTC(),
		UpdatedAt:      m.UpdatedAt.UTC(),
	}

	if m.LeasedBy != "" {
		parsedWorker, wErr := id.ParseWorkerID(m.LeasedBy)
		if wErr == nil {
			j.LeasedBy = parsedWorker
		}
	}
	if j.LeaseExpiresAt != nil {
		t := j.LeaseExpiresAt.UTC()
		j.LeaseExpiresAt = &t
	}
	return j, nil
}
