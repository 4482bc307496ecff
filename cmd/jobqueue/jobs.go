package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/UmairAbideen/cron-job-with-queue/id"
	"github.com/UmairAbideen/cron-job-with-queue/job"
	"github.com/UmairAbideen/cron-job-with-queue/store"
)

// newJobsCmd groups the operator subcommands for inspecting and recovering
// job records.
func newJobsCmd(cfg *config, logger *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and recover job records",
	}
	cmd.AddCommand(
		newJobsListCmd(cfg, logger),
		newJobsGetCmd(cfg, logger),
		newJobsRequeueCmd(cfg, logger),
		newJobsDeleteCmd(cfg, logger),
	)
	return cmd
}

// withStore opens the configured store, runs fn, and releases the store and
// any underlying client handle afterwards.
func withStore(cmd *cobra.Command, cfg storeConfig, logger *slog.Logger, fn func(ctx context.Context, st store.Store) error) error {
	ctx := cmd.Context()
	st, cleanup, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()
	defer st.Close()
	return fn(ctx, st)
}

func newJobsListCmd(cfg *config, logger *slog.Logger) *cobra.Command {
	var (
		status string
		kind   string
		limit  int
		offset int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts := job.ListOpts{Kind: kind, Limit: limit, Offset: offset}
			if status != "" {
				s := job.Status(status)
				if !s.Valid() {
					return fmt.Errorf("invalid status %q (want pending, leased, succeeded, or failed)", status)
				}
				opts.Status = s
			}

			return withStore(cmd, cfg.Store, logger, func(ctx context.Context, st store.Store) error {
				jobs, err := st.List(ctx, opts)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(jobs) == 0 {
					fmt.Fprintln(out, "no jobs found")
					return nil
				}

				w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tKIND\tSTATUS\tATTEMPTS\tAVAILABLE AT\tLAST ERROR")
				for _, j := range jobs {
					fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%s\t%s\n",
						j.ID, j.Kind, j.Status, j.Attempts, j.MaxAttempts,
						j.AvailableAt.UTC().Format(time.RFC3339), j.LastError)
				}
				return w.Flush()
			})
		},
	}

	f := cmd.Flags()
	f.StringVar(&status, "status", "", "filter by status (pending|leased|succeeded|failed)")
	f.StringVar(&kind, "kind", "", "filter by job kind")
	f.IntVar(&limit, "limit", 50, "maximum rows to print (0 = all)")
	f.IntVar(&offset, "offset", 0, "rows to skip")
	return cmd
}

func newJobsGetCmd(cfg *config, logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "get <job-id>",
		Short: "Print one job record as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID, err := id.ParseJobID(args[0])
			if err != nil {
				return fmt.Errorf("invalid job id %q: %w", args[0], err)
			}
			return withStore(cmd, cfg.Store, logger, func(ctx context.Context, st store.Store) error {
				j, err := st.Get(ctx, jobID)
				if err != nil {
					return err
				}
				data, err := json.MarshalIndent(j, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(data))
				return nil
			})
		},
	}
}

func newJobsRequeueCmd(cfg *config, logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "requeue <job-id>",
		Short: "Return a failed job to pending with a fresh attempt budget",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID, err := id.ParseJobID(args[0])
			if err != nil {
				return fmt.Errorf("invalid job id %q: %w", args[0], err)
			}
			return withStore(cmd, cfg.Store, logger, func(ctx context.Context, st store.Store) error {
				if err := st.Requeue(ctx, jobID); err != nil {
					return fmt.Errorf("requeue %s: %w", jobID, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s requeued\n", jobID)
				return nil
			})
		},
	}
}

func newJobsDeleteCmd(cfg *config, logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <job-id>",
		Short: "Delete a job record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID, err := id.ParseJobID(args[0])
			if err != nil {
				return fmt.Errorf("invalid job id %q: %w", args[0], err)
			}
			return withStore(cmd, cfg.Store, logger, func(ctx context.Context, st store.Store) error {
				if err := st.Delete(ctx, jobID); err != nil {
					return fmt.Errorf("delete %s: %w", jobID, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s deleted\n", jobID)
				return nil
			})
		},
	}
}
