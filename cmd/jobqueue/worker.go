package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	jobqueue "github.com/UmairAbideen/cron-job-with-queue"
	"github.com/UmairAbideen/cron-job-with-queue/api"
	"github.com/UmairAbideen/cron-job-with-queue/engine"
	"github.com/UmairAbideen/cron-job-with-queue/mailer"
	"github.com/UmairAbideen/cron-job-with-queue/observability"
)

// newWorkerCmd runs the worker pool against the configured store until
// SIGINT or SIGTERM, then drains in-flight jobs within the shutdown
// timeout. When an API address is configured the admin HTTP server runs
// alongside the pool.
func newWorkerCmd(cfg *config, logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run the worker pool until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			sender, err := newSender(cfg.Mailer)
			if err != nil {
				return err
			}

			st, cleanup, err := openStore(ctx, cfg.Store, logger)
			if err != nil {
				return err
			}
			defer cleanup()

			eng, err := engine.New(st, engineConfig(cfg.Worker),
				engine.WithLogger(logger),
				engine.WithExtension(observability.NewMetricsExtension()),
			)
			if err != nil {
				st.Close()
				return err
			}
			if err := eng.Register(mailer.Kind, mailer.Handler(sender)); err != nil {
				st.Close()
				return err
			}

			if err := eng.Start(ctx); err != nil {
				st.Close()
				return fmt.Errorf("start engine: %w", err)
			}

			var apiSrv *http.Server
			if cfg.Worker.APIAddr != "" {
				apiSrv = &http.Server{
					Addr:    cfg.Worker.APIAddr,
					Handler: api.New(eng, logger).Handler(),
				}
				go func() {
					logger.Info("admin api listening", slog.String("addr", apiSrv.Addr))
					if err := apiSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						logger.Error("admin api server error", slog.String("error", err.Error()))
					}
				}()
			}

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			sig := <-quit
			logger.Info("shutting down", slog.String("signal", sig.String()))

			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Worker.ShutdownTimeout)
			defer cancel()

			if apiSrv != nil {
				if err := apiSrv.Shutdown(shutdownCtx); err != nil {
					logger.Error("admin api shutdown", slog.String("error", err.Error()))
				}
			}
			// Stop drains in-flight jobs and closes the store.
			return eng.Stop(shutdownCtx)
		},
	}
}

// newSender builds the mail transport named by the mailer driver.
func newSender(cfg mailerConfig) (mailer.Sender, error) {
	switch cfg.Driver {
	case "dev":
		return mailer.NewDevSender(cfg.DevDir), nil
	case "postmark":
		return mailer.NewPostmark(cfg.Postmark)
	default:
		return nil, fmt.Errorf("unknown mailer driver %q (want dev or postmark)", cfg.Driver)
	}
}

func engineConfig(cfg workerConfig) jobqueue.Config {
	return jobqueue.Config{
		Concurrency:     cfg.Concurrency,
		PollInterval:    cfg.PollInterval,
		LeaseDuration:   cfg.LeaseDuration,
		ExtendInterval:  cfg.ExtendInterval,
		ReapInterval:    cfg.ReapInterval,
		JobTimeout:      cfg.JobTimeout,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}
}
