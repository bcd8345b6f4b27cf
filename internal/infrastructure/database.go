// Package infrastructure provides connection setup for the storage
// backends: a shared pgx pool for the event store, the search index and
// River, plus the Redis client behind the read-model store.
package infrastructure

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"go.uber.org/zap"

	"nodelife.io/nodelife/internal/config"
	"nodelife.io/nodelife/internal/pkg/logger"
)

// Clients contains the storage backend clients. Everything Postgres-backed
// shares a single pgxpool; separate pools would double connections and
// break transaction sharing between the scheduler and River.
type Clients struct {
	// Pool is the shared connection pool (event store + search + River).
	Pool *pgxpool.Pool

	// Redis backs the read-model store.
	Redis *redis.Client

	// RiverClient is the job queue client, set by InitRiverClient.
	RiverClient *river.Client[pgx.Tx]
}

// NewClients connects to PostgreSQL and Redis and verifies both.
func NewClients(ctx context.Context, dbCfg config.DatabaseConfig, redisCfg config.RedisConfig) (*Clients, error) {
	poolConfig, err := pgxpool.ParseConfig(dbCfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}
	poolConfig.MaxConns = dbCfg.MaxConns
	poolConfig.MinConns = dbCfg.MinConns
	poolConfig.MaxConnLifetime = dbCfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = dbCfg.MaxConnIdleTime
	poolConfig.HealthCheckPeriod = time.Minute

	// Event timestamps are stored and compared in UTC.
	poolConfig.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		_, err := conn.Exec(ctx, "SET timezone = 'UTC'")
		return err
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	logger.Info("Database connection pool created",
		zap.Int32("max_conns", dbCfg.MaxConns),
		zap.Int32("min_conns", dbCfg.MinConns),
	)

	rdb := redis.NewClient(&redis.Options{
		Addr:     redisCfg.Addr,
		Password: redisCfg.Password,
		DB:       redisCfg.DB,
		PoolSize: redisCfg.PoolSize,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	logger.Info("Redis client created", zap.String("addr", redisCfg.Addr))

	return &Clients{Pool: pool, Redis: rdb}, nil
}

// MigrateRiver creates River's queue tables. Adapter-owned tables
// (node_events, node_search, node_jobs) migrate through their stores.
func (c *Clients) MigrateRiver(ctx context.Context) error {
	migrator, err := rivermigrate.New(riverpgxv5.New(c.Pool), nil)
	if err != nil {
		return fmt.Errorf("create river migrator: %w", err)
	}
	res, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil)
	if err != nil {
		return fmt.Errorf("river migrate up: %w", err)
	}
	if len(res.Versions) > 0 {
		logger.Info("River migration completed",
			zap.Int("versions_applied", len(res.Versions)),
		)
	}
	return nil
}

// InitRiverClient creates the River client over a prepared worker
// registry. Called after NewClients; workers come from bootstrap.
func (c *Clients) InitRiverClient(workers *river.Workers, cfg config.RiverConfig) error {
	riverClient, err := river.NewClient(riverpgxv5.New(c.Pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: cfg.MaxWorkers},
			"node_commands":    {MaxWorkers: cfg.MaxWorkers},
		},
		Workers:                     workers,
		CompletedJobRetentionPeriod: cfg.CompletedJobRetentionPeriod,
	})
	if err != nil {
		return fmt.Errorf("create river client: %w", err)
	}
	c.RiverClient = riverClient
	logger.Info("River client initialized", zap.Int("max_workers", cfg.MaxWorkers))
	return nil
}

// Close closes all connections gracefully.
func (c *Clients) Close() {
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			logger.Warn("redis close failed", zap.Error(err))
		}
	}
	if c.Pool != nil {
		c.Pool.Close()
	}
}
