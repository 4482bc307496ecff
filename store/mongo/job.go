package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	jobqueue "github.com/UmairAbideen/cron-job-with-queue"
	"github.com/UmairAbideen/cron-job-with-queue/id"
	"github.com/UmairAbideen/cron-job-with-queue/job"
)

// Enqueue persists a new job in pending state.
func (s *Store) Enqueue(ctx context.Context, j *job.Job) error {
	if _, err := s.jobs().InsertOne(ctx, toJobModel(j)); err != nil {
		if isDuplicateKey(err) {
			return jobqueue.ErrJobAlreadyExists
		}
		return fmt.Errorf("jobqueue/mongo: enqueue: %w", err)
	}
	return nil
}

// Lease atomically claims the single oldest eligible job for workerID.
// Eligible means pending with available_at due, or leased with an expired
// lease (reclaimed in place, attempts untouched). FindOneAndUpdate claims
// a single document, so concurrent workers never obtain the same job.
func (s *Store) Lease(ctx context.Context, workerID id.WorkerID, leaseFor time.Duration) (*job.Job, error) {
	t := now()

	filter := bson.M{"$or": []bson.M{
		{
			"status":       string(job.StatusPending),
			"available_at": bson.M{"$lte": t},
		},
		{
			"status":           string(job.StatusLeased),
			"lease_expires_at": bson.M{"$lte": t},
		},
	}}

	update := bson.M{"$set": bson.M{
		"status":           string(job.StatusLeased),
		"leased_by":        workerID.String(),
		"lease_expires_at": t.Add(leaseFor),
		"updated_at":       t,
	}}

	opts := options.FindOneAndUpdate().
		SetReturnDocument(options.After).
		SetSort(bson.D{
			{Key: "available_at", Value: 1},
			{Key: "created_at", Value: 1},
		})

	var m jobModel
	if err := s.jobs().FindOneAndUpdate(ctx, filter, update, opts).Decode(&m); err != nil {
		if isNoDocuments(err) {
			return nil, jobqueue.ErrNoJobAvailable
		}
		return nil, fmt.Errorf("jobqueue/mongo: lease: %w", err)
	}

	j, err := fromJobModel(&m)
	if err != nil {
		return nil, fmt.Errorf("jobqueue/mongo: lease: %w", err)
	}
	return j, nil
}

// Complete marks a job succeeded and releases the lease.
func (s *Store) Complete(ctx context.Context, jobID id.JobID, workerID id.WorkerID) error {
	res, err := s.jobs().UpdateOne(ctx,
		leasedByFilter(jobID, workerID),
		bson.M{
			"$set": bson.M{
				"status":     string(job.StatusSucceeded),
				"updated_at": now(),
			},
			"$unset": bson.M{"leased_by": "", "lease_expires_at": ""},
		},
	)
	if err != nil {
		return fmt.Errorf("jobqueue/mongo: complete: %w", err)
	}
	if res.MatchedCount == 0 {
		return jobqueue.ErrNotFound
	}
	return nil
}

// Fail records a failed attempt and either schedules a retry or marks the
// job terminally failed, depending on retry and the remaining budget.
func (s *Store) Fail(ctx context.Context, jobID id.JobID, workerID id.WorkerID, retry bool, cause error) (*job.Job, error) {
	var m jobModel
	if err := s.jobs().FindOne(ctx, leasedByFilter(jobID, workerID)).Decode(&m); err != nil {
		if isNoDocuments(err) {
			return nil, jobqueue.ErrNotFound
		}
		return nil, fmt.Errorf("jobqueue/mongo: fail: %w", err)
	}

	j, err := fromJobModel(&m)
	if err != nil {
		return nil, fmt.Errorf("jobqueue/mongo: fail: %w", err)
	}

	t := now()
	j.Attempts++
	if cause != nil {
		j.LastError = cause.Error()
	}
	if retry && j.Attempts < j.MaxAttempts {
		j.Status = job.StatusPending
		j.AvailableAt = t.Add(s.backoff.Delay(j.Attempts))
	} else {
		j.Status = job.StatusFailed
	}

	// The filter re-guards ownership, so a lease lost between the read
	// above and this write surfaces as ErrNotFound.
	res, err := s.jobs().UpdateOne(ctx,
		leasedByFilter(jobID, workerID),
		bson.M{
			"$set": bson.M{
				"status":       string(j.Status),
				"attempts":     j.Attempts,
				"last_error":   j.LastError,
				"available_at": j.AvailableAt,
				"updated_at":   t,
			},
			"$unset": bson.M{"leased_by": "", "lease_expires_at": ""},
		},
	)
	if err != nil {
		return nil, fmt.Errorf("jobqueue/mongo: fail: %w", err)
	}
	if res.MatchedCount == 0 {
		return nil, jobqueue.ErrNotFound
	}

	j.LeasedBy = id.Nil
	j.LeaseExpiresAt = nil
	j.UpdatedAt = t
	return j, nil
}

// ExtendLease pushes the lease expiry of a job leased by workerID.
func (s *Store) ExtendLease(ctx context.Context, jobID id.JobID, workerID id.WorkerID, leaseFor time.Duration) error {
	t := now()
	res, err := s.jobs().UpdateOne(ctx,
		leasedByFilter(jobID, workerID),
		bson.M{"$set": bson.M{
			"lease_expires_at": t.Add(leaseFor),
			"updated_at":       t,
		}},
	)
	if err != nil {
		return fmt.Errorf("jobqueue/mongo: extend lease: %w", err)
	}
	if res.MatchedCount == 0 {
		return jobqueue.ErrNotFound
	}
	return nil
}

// ReapExpired resets every leased job with a lapsed lease back to pending.
// Attempts and available_at are untouched, so reclaimed jobs keep their
// place in FIFO order.
func (s *Store) ReapExpired(ctx context.Context) (int, error) {
	res, err := s.jobs().UpdateMany(ctx,
		bson.M{
			"status":           string(job.StatusLeased),
			"lease_expires_at": bson.M{"$lte": now()},
		},
		bson.M{
			"$set":   bson.M{"status": string(job.StatusPending), "updated_at": now()},
			"$unset": bson.M{"leased_by": "", "lease_expires_at": ""},
		},
	)
	if err != nil {
		return 0, fmt.Errorf("jobqueue/mongo: reap expired: %w", err)
	}
	return int(res.ModifiedCount), nil
}

// Get retrieves a job by ID.
func (s *Store) Get(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	var m jobModel
	if err := s.jobs().FindOne(ctx, bson.M{"_id": jobID.String()}).Decode(&m); err != nil {
		if isNoDocuments(err) {
			return nil, jobqueue.ErrNotFound
		}
		return nil, fmt.Errorf("jobqueue/mongo: get: %w", err)
	}

	j, err := fromJobModel(&m)
	if err != nil {
		return nil, fmt.Errorf("jobqueue/mongo: get: %w", err)
	}
	return j, nil
}

// List returns jobs matching the given options, newest first.
func (s *Store) List(ctx context.Context, opts job.ListOpts) ([]*job.Job, error) {
	filter := bson.M{}
	if opts.Kind != "" {
		filter["kind"] = opts.Kind
	}
	if opts.Status != "" {
		filter["status"] = string(opts.Status)
	}

	findOpts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	if opts.Limit > 0 {
		findOpts.SetLimit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		findOpts.SetSkip(int64(opts.Offset))
	}

	cursor, err := s.jobs().Find(ctx, filter, findOpts)
	if err != nil {
		return nil, fmt.Errorf("jobqueue/mongo: list: %w", err)
	}
	defer cursor.Close(ctx)

	var models []jobModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("jobqueue/mongo: list decode: %w", err)
	}

	jobs := make([]*job.Job, 0, len(models))
	for i := range models {
		j, convErr := fromJobModel(&models[i])
		if convErr != nil {
			return nil, fmt.Errorf("jobqueue/mongo: list convert: %w", convErr)
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// Count returns the number of jobs matching the given options.
func (s *Store) Count(ctx context.Context, opts job.CountOpts) (int64, error) {
	filter := bson.M{}
	if opts.Kind != "" {
		filter["kind"] = opts.Kind
	}
	if opts.Status != "" {
		filter["status"] = string(opts.Status)
	}

	n, err := s.jobs().CountDocuments(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("jobqueue/mongo: count: %w", err)
	}
	return n, nil
}

// Requeue returns a terminally failed job to pending with a fresh budget.
func (s *Store) Requeue(ctx context.Context, jobID id.JobID) error {
	t := now()
	res, err := s.jobs().UpdateOne(ctx,
		bson.M{"_id": jobID.String(), "status": string(job.StatusFailed)},
		bson.M{"$set": bson.M{
			"status":       string(job.StatusPending),
			"attempts":     0,
			"available_at": t,
			"updated_at":   t,
		}},
	)
	if err != nil {
		return fmt.Errorf("jobqueue/mongo: requeue: %w", err)
	}
	if res.MatchedCount == 0 {
		return jobqueue.ErrNotFound
	}
	return nil
}

// Delete removes a job by ID.
func (s *Store) Delete(ctx context.Context, jobID id.JobID) error {
	res, err := s.jobs().DeleteOne(ctx, bson.M{"_id": jobID.String()})
	if err != nil {
		return fmt.Errorf("jobqueue/mongo: delete: %w", err)
	}
	if res.DeletedCount == 0 {
		return jobqueue.ErrNotFound
	}
	return nil
}

// leasedByFilter matches a job currently leased by workerID.
func leasedByFilter(jobID id.JobID, workerID id.WorkerID) bson.M {
	return bson.M{
		"_id":       jobID.String(),
		"status":    string(job.StatusLeased),
		"leased_by": workerID.String(),
	}
}
