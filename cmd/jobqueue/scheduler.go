package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/UmairAbideen/cron-job-with-queue/id"
	"github.com/UmairAbideen/cron-job-with-queue/job"
	"github.com/UmairAbideen/cron-job-with-queue/mailer"
	"github.com/UmairAbideen/cron-job-with-queue/scheduler"
)

// newSchedulerCmd runs the periodic enqueuer in the foreground until SIGINT
// or SIGTERM. It only inserts pending jobs on the configured cadence; a
// worker process draining the same store executes them.
func newSchedulerCmd(cfg *config, logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "scheduler",
		Short: "Run the periodic enqueuer until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			entries, err := scheduleEntries(cfg.Schedule)
			if err != nil {
				return err
			}

			st, cleanup, err := openStore(cmd.Context(), cfg.Store, logger)
			if err != nil {
				return err
			}
			defer cleanup()
			defer st.Close()

			enqueue := func(ctx context.Context, kind string, payload map[string]string, opts ...job.Option) (id.JobID, error) {
				j := job.New(kind, payload, opts...)
				if err := st.Enqueue(ctx, j); err != nil {
					return id.Nil, err
				}
				return j.ID, nil
			}
			sched, err := scheduler.New(enqueue, entries, scheduler.WithLogger(logger))
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return sched.Run(ctx)
		},
	}
}

// scheduleEntries builds the recurring entries from configuration. Today
// that is a single digest email on a cron cadence.
func scheduleEntries(cfg scheduleConfig) ([]scheduler.Entry, error) {
	if cfg.DigestTo == "" {
		return nil, errors.New("scheduler requires a digest recipient (JOBQUEUE_DIGEST_TO)")
	}
	msg := mailer.Message{To: cfg.DigestTo, Subject: cfg.DigestSubject}
	if err := msg.Validate(); err != nil {
		return nil, fmt.Errorf("digest entry: %w", err)
	}

	return []scheduler.Entry{{
		Name:     "daily-digest",
		Schedule: cfg.DigestSchedule,
		Kind:     mailer.Kind,
		Payload:  mailer.NewMessagePayload(msg),
	}}, nil
}
