// Package worker provides the job execution engine — an Executor that
// runs leased jobs through middleware and the registered handler, then
// reports the outcome to the store, and a Pool that manages concurrent
// worker goroutines leasing jobs.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	jobqueue "github.com/UmairAbideen/cron-job-with-queue"
	"github.com/UmairAbideen/cron-job-with-queue/ext"
	"github.com/UmairAbideen/cron-job-with-queue/id"
	"github.com/UmairAbideen/cron-job-with-queue/job"
	"github.com/UmairAbideen/cron-job-with-queue/middleware"
)

// Executor runs a single leased job through middleware and the registered
// handler, then converts the outcome into a store transition: Complete on
// success, Fail with a retry flag otherwise. The store decides whether a
// retryable failure returns to pending or exhausts the attempt budget.
type Executor struct {
	registry   *job.Registry
	extensions *ext.Registry
	store      job.Store
	mw         middleware.Middleware
	logger     *slog.Logger
}

// NewExecutor creates an Executor with the given dependencies.
func NewExecutor(
	registry *job.Registry,
	extensions *ext.Registry,
	store job.Store,
	logger *slog.Logger,
	mws ...middleware.Middleware,
) *Executor {
	return &Executor{
		registry:   registry,
		extensions: extensions,
		store:      store,
		mw:         middleware.Chain(mws...),
		logger:     logger,
	}
}

// Execute runs a leased job and reports its outcome to the store on behalf
// of workerID, the lease holder.
//
// On success the job is completed and JobSucceeded fires. On failure the
// job is failed with retry=true unless the handler error wraps
// jobqueue.ErrPermanent or the kind is unknown; JobRetrying or JobFailed
// fires depending on the resulting status. A store rejection (lease lost
// to reclamation) is logged and swallowed — the job is already back in
// someone else's hands.
func (e *Executor) Execute(ctx context.Context, workerID id.WorkerID, j *job.Job) error {
	handler, ok := e.registry.Get(j.Kind)
	if !ok {
		// No handler can ever run this job; failing it without retry
		// keeps it from bouncing through the queue forever.
		cause := fmt.Errorf("%w: %q", jobqueue.ErrUnknownJobKind, j.Kind)
		e.logger.Error("no handler registered",
			slog.String("job_id", j.ID.String()),
			slog.String("kind", j.Kind),
		)
		return e.reportFailure(ctx, workerID, j, cause, false)
	}

	e.extensions.EmitJobStarted(ctx, j)

	// The terminal handler that calls the registered job handler.
	terminal := func(ctx context.Context) error {
		return handler(ctx, j.Payload)
	}

	start := time.Now()
	err := e.mw(ctx, j, terminal)
	elapsed := time.Since(start)

	if err != nil {
		return e.reportFailure(ctx, workerID, j, err, !errors.Is(err, jobqueue.ErrPermanent))
	}
	return e.reportSuccess(ctx, workerID, j, elapsed)
}

// reportSuccess marks the job succeeded and emits the lifecycle event.
func (e *Executor) reportSuccess(ctx context.Context, workerID id.WorkerID, j *job.Job, elapsed time.Duration) error {
	if err := e.store.Complete(ctx, j.ID, workerID); err != nil {
		if errors.Is(err, jobqueue.ErrNotFound) {
			// Lease expired mid-execution and the job was reclaimed.
			// The handler's work stands; at-least-once semantics mean
			// another worker may repeat it.
			e.logger.Warn("lease lost before completion",
				slog.String("job_id", j.ID.String()),
				slog.String("kind", j.Kind),
			)
			return nil
		}
		e.logger.Error("failed to complete job",
			slog.String("job_id", j.ID.String()),
			slog.String("kind", j.Kind),
			slog.String("error", err.Error()),
		)
		return err
	}

	e.extensions.EmitJobSucceeded(ctx, j, elapsed)
	return nil
}

// reportFailure records a failed attempt and emits JobRetrying or
// JobFailed depending on the post-transition status.
func (e *Executor) reportFailure(ctx context.Context, workerID id.WorkerID, j *job.Job, cause error, retry bool) error {
	failed, err := e.store.Fail(ctx, j.ID, workerID, retry, cause)
	if err != nil {
		if errors.Is(err, jobqueue.ErrNotFound) {
			e.logger.Warn("lease lost before failure report",
				slog.String("job_id", j.ID.String()),
				slog.String("kind", j.Kind),
			)
			return nil
		}
		e.logger.Error("failed to record job failure",
			slog.String("job_id", j.ID.String()),
			slog.String("kind", j.Kind),
			slog.String("error", err.Error()),
		)
		return err
	}

	if failed.Status == job.StatusPending {
		e.extensions.EmitJobRetrying(ctx, failed, failed.Attempts, failed.AvailableAt)
		e.logger.Info("job scheduled for retry",
			slog.String("job_id", failed.ID.String()),
			slog.String("kind", failed.Kind),
			slog.Int("attempt", failed.Attempts),
			slog.Int("max_attempts", failed.MaxAttempts),
			slog.Time("available_at", failed.AvailableAt),
		)
		return cause
	}

	e.extensions.EmitJobFailed(ctx, failed, cause)
	e.logger.Warn("job failed terminally",
		slog.String("job_id", failed.ID.String()),
		slog.String("kind", failed.Kind),
		slog.Int("attempts", failed.Attempts),
		slog.String("error", cause.Error()),
	)
	return cause
}
