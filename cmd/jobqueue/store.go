package main

import (
	"context"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/UmairAbideen/cron-job-with-queue/store"
	"github.com/UmairAbideen/cron-job-with-queue/store/memory"
	"github.com/UmairAbideen/cron-job-with-queue/store/mongo"
	"github.com/UmairAbideen/cron-job-with-queue/store/postgres"
	"github.com/UmairAbideen/cron-job-with-queue/store/redis"
	"github.com/UmairAbideen/cron-job-with-queue/store/sqlite"
)

// openStore builds the configured backend. The returned cleanup releases
// client handles the store does not own (redis client, mongo client); it
// is safe to call after the store is closed.
func openStore(ctx context.Context, cfg storeConfig, logger *slog.Logger) (store.Store, func(), error) {
	noop := func() {}

	switch cfg.Driver {
	case "memory":
		return memory.New(), noop, nil

	case "sqlite":
		if cfg.DSN == "" {
			return nil, nil, fmt.Errorf("sqlite driver requires JOBQUEUE_DSN (database file path)")
		}
		st, err := sqlite.New(cfg.DSN, sqlite.WithLogger(logger))
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return st, noop, nil

	case "postgres":
		if cfg.DSN == "" {
			return nil, nil, fmt.Errorf("postgres driver requires JOBQUEUE_DSN (connection URL)")
		}
		st, err := postgres.New(ctx, cfg.DSN, postgres.WithLogger(logger))
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres store: %w", err)
		}
		return st, noop, nil

	case "redis":
		if cfg.DSN == "" {
			return nil, nil, fmt.Errorf("redis driver requires JOBQUEUE_DSN (connection URL)")
		}
		opt, err := goredis.ParseURL(cfg.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("parse redis url: %w", err)
		}
		client := goredis.NewClient(opt)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("connect redis: %w", err)
		}
		cleanup := func() { _ = client.Close() }
		return redis.New(client, redis.WithLogger(logger)), cleanup, nil

	case "mongo":
		if cfg.DSN == "" {
			return nil, nil, fmt.Errorf("mongo driver requires JOBQUEUE_DSN (connection URL)")
		}
		client, err := mongod.Connect(options.Client().ApplyURI(cfg.DSN))
		if err != nil {
			return nil, nil, fmt.Errorf("connect mongo: %w", err)
		}
		if err := client.Ping(ctx, nil); err != nil {
			_ = client.Disconnect(context.Background())
			return nil, nil, fmt.Errorf("ping mongo: %w", err)
		}
		cleanup := func() { _ = client.Disconnect(context.Background()) }
		db := client.Database(cfg.MongoDatabase)
		return mongo.New(db, mongo.WithLogger(logger)), cleanup, nil

	default:
		return nil, nil, fmt.Errorf("unknown store driver %q (want memory, sqlite, postgres, redis, or mongo)", cfg.Driver)
	}
}
