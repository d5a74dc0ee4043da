package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/authgate/internal/config"
	"github.com/jackc/pgx/v5/pgxpool"
)

type DB struct {
	Pool         *pgxpool.Pool
	QueryTimeout time.Duration
	logger       *slog.Logger
}

func NewConnection(cfg *config.DatabaseConfig, logger *slog.Logger) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	// Configure connection pool
	poolConfig.MaxConns = cfg.MaxConns
	poolConfig.MinConns = cfg.MinConns
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	poolConfig.HealthCheckPeriod = cfg.HealthCheckPeriod

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	logger.Info("database connection established",
		slog.Int("max_conns", int(cfg.MaxConns)),
		slog.Int("min_conns", int(cfg.MinConns)),
		slog.Duration("query_timeout", cfg.QueryTimeout),
	)

	return &DB{Pool: pool, QueryTimeout: cfg.QueryTimeout, logger: logger}, nil
}

// NewFromPool wraps an existing pool, e.g. one created by a test container
func NewFromPool(pool *pgxpool.Pool, queryTimeout time.Duration, logger *slog.Logger) *DB {
	return &DB{Pool: pool, QueryTimeout: queryTimeout, logger: logger}
}

// WithTimeout bounds a single store call. A zero QueryTimeout leaves ctx unchanged.
func (db *DB) WithTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if db.QueryTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, db.QueryTimeout)
}

func (db *DB) Close() {
	if db.logger != nil {
		db.logger.Info("closing database connection pool")
	}
	db.Pool.Close()
}

func (db *DB) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := db.Pool.Ping(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}
