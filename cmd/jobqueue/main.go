// Command jobqueue runs and operates the job queue: worker pools, the
// periodic scheduler, store migrations, one-off email enqueues, and job
// inspection. Configuration comes from environment variables (.env
// supported); the store driver and DSN can be overridden per invocation
// with --store and --dsn.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "jobqueue:", err)
		os.Exit(1)
	}
	logger := newLogger(cfg.LogLevel)

	if err := newRootCmd(cfg, logger).Execute(); err != nil {
		logger.Error("command failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func newRootCmd(cfg *config, logger *slog.Logger) *cobra.Command {
	root := &cobra.Command{
		Use:           "jobqueue",
		Short:         "Durable job queue with leases, retries, and scheduling",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&cfg.Store.Driver, "store", cfg.Store.Driver,
		"store driver (memory|sqlite|postgres|redis|mongo)")
	pf.StringVar(&cfg.Store.DSN, "dsn", cfg.Store.DSN,
		"store DSN: file path for sqlite, connection URL otherwise")

	root.AddCommand(
		newSendEmailCmd(cfg, logger),
		newWorkerCmd(cfg, logger),
		newSchedulerCmd(cfg, logger),
		newMigrateCmd(cfg, logger),
		newJobsCmd(cfg, logger),
	)
	return root
}
