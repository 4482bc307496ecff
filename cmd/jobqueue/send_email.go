package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/UmairAbideen/cron-job-with-queue/job"
	"github.com/UmairAbideen/cron-job-with-queue/mailer"
)

// newSendEmailCmd enqueues a single email job and prints its id. The job is
// picked up by whichever worker process is draining the same store.
func newSendEmailCmd(cfg *config, logger *slog.Logger) *cobra.Command {
	var (
		to      string
		subject string
		title   string
		body    string
		delay   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "send-email",
		Short: "Enqueue one email job",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			msg := mailer.Message{To: to, Subject: subject, Title: title, Body: body}
			if err := msg.Validate(); err != nil {
				return err
			}

			st, cleanup, err := openStore(ctx, cfg.Store, logger)
			if err != nil {
				return err
			}
			defer cleanup()
			defer st.Close()

			var opts []job.Option
			if delay > 0 {
				opts = append(opts, job.WithDelay(delay))
			}
			j := job.New(mailer.Kind, mailer.NewMessagePayload(msg), opts...)
			if err := st.Enqueue(ctx, j); err != nil {
				return fmt.Errorf("enqueue: %w", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), j.ID.String())
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&to, "to", "", "recipient address")
	f.StringVar(&subject, "subject", "", "email subject")
	f.StringVar(&title, "title", "", "heading shown at the top of the email body")
	f.StringVar(&body, "body", "", "plain-text body")
	f.DurationVar(&delay, "delay", 0, "hold the job for this long before it becomes due")
	_ = cmd.MarkFlagRequired("to")
	_ = cmd.MarkFlagRequired("subject")

	return cmd
}
