package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/UmairAbideen/cron-job-with-queue/mailer"
)

// config is assembled from environment variables; a .env file in the
// working directory is loaded first when present.
type config struct {
	LogLevel string `env:"JOBQUEUE_LOG_LEVEL" envDefault:"info"`

	Store    storeConfig
	Worker   workerConfig
	Mailer   mailerConfig
	Schedule scheduleConfig
}

// storeConfig selects and addresses the queue backend.
type storeConfig struct {
	// Driver is one of memory, sqlite, postgres, redis, mongo.
	Driver string `env:"JOBQUEUE_STORE" envDefault:"memory"`

	// DSN is driver-specific: a file path for sqlite, a connection URL
	// for postgres/redis/mongo. Unused by memory.
	DSN string `env:"JOBQUEUE_DSN"`

	// MongoDatabase names the database for the mongo driver.
	MongoDatabase string `env:"JOBQUEUE_MONGO_DB" envDefault:"jobqueue"`
}

// workerConfig tunes the worker pool and the optional admin API.
type workerConfig struct {
	Concurrency     int           `env:"JOBQUEUE_CONCURRENCY" envDefault:"10"`
	PollInterval    time.Duration `env:"JOBQUEUE_POLL_INTERVAL" envDefault:"1s"`
	LeaseDuration   time.Duration `env:"JOBQUEUE_LEASE_DURATION" envDefault:"30s"`
	ExtendInterval  time.Duration `env:"JOBQUEUE_EXTEND_INTERVAL" envDefault:"10s"`
	ReapInterval    time.Duration `env:"JOBQUEUE_REAP_INTERVAL" envDefault:"15s"`
	JobTimeout      time.Duration `env:"JOBQUEUE_JOB_TIMEOUT" envDefault:"5m"`
	ShutdownTimeout time.Duration `env:"JOBQUEUE_SHUTDOWN_TIMEOUT" envDefault:"30s"`

	// APIAddr, when set (e.g. ":8080"), mounts the admin API alongside
	// the worker pool.
	APIAddr string `env:"JOBQUEUE_API_ADDR"`
}

// mailerConfig selects the email transport for worker processes.
type mailerConfig struct {
	// Driver is dev (writes files) or postmark.
	Driver string `env:"JOBQUEUE_MAILER" envDefault:"dev"`

	// DevDir is where the dev driver writes outgoing messages.
	DevDir string `env:"JOBQUEUE_MAILER_DIR" envDefault:"./outbox"`

	Postmark mailer.Config
}

// scheduleConfig configures the scheduler command's digest entry.
type scheduleConfig struct {
	// DigestSchedule is a cron expression or descriptor for the digest
	// email entry.
	DigestSchedule string `env:"JOBQUEUE_DIGEST_SCHEDULE" envDefault:"0 9 * * *"`

	// DigestTo is the digest recipient; required by the scheduler command.
	DigestTo string `env:"JOBQUEUE_DIGEST_TO"`

	// DigestSubject is the subject line for digest emails.
	DigestSubject string `env:"JOBQUEUE_DIGEST_SUBJECT" envDefault:"Daily digest"`
}

// loadConfig reads .env (if present) and the process environment.
func loadConfig() (*config, error) {
	_ = godotenv.Load()

	cfg := &config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, nil
}

// newLogger builds the process logger writing to stderr.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
