package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"consultcall-backend/pkg/config"
	"consultcall-backend/pkg/constants"
	"consultcall-backend/pkg/logger"
)

// CockroachDB connection using pgx (PostgreSQL-compatible driver)
type CockroachDB struct {
	Pool *pgxpool.Pool
}

// NewCockroachDB creates a new CockroachDB connection pool
func NewCockroachDB(ctx context.Context, cfg config.DatabaseConfig) (*CockroachDB, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConns)
	poolConfig.MinConns = int32(cfg.MinConns)
	poolConfig.MaxConnLifetime = constants.MaxConnLifetime
	poolConfig.MaxConnIdleTime = constants.MaxConnIdleTime
	poolConfig.HealthCheckPeriod = constants.HealthCheckPeriod

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &CockroachDB{Pool: pool}, nil
}

// ConnectWithRetry dials with exponential backoff (1s, 2s, 4s, ...).
// It gives up after cfg.ConnectRetries attempts or when ctx is done.
func ConnectWithRetry(ctx context.Context, cfg config.DatabaseConfig) (*CockroachDB, error) {
	attempts := cfg.ConnectRetries
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		db, err := NewCockroachDB(ctx, cfg)
		if err == nil {
			if i > 0 {
				logger.Info("Connected to CockroachDB after retry", zap.Int("attempt", i+1))
			}
			return db, nil
		}
		lastErr = err
		if i == attempts-1 {
			break
		}

		backoff := time.Duration(1<<uint(i)) * time.Second
		logger.Warn("Failed to connect to CockroachDB, retrying",
			zap.Int("attempt", i+1),
			zap.Int("max_attempts", attempts),
			zap.Duration("backoff", backoff),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}
	return nil, fmt.Errorf("failed to connect to CockroachDB after %d attempts: %w", attempts, lastErr)
}

// Close closes the connection pool
func (db *CockroachDB) Close() {
	db.Pool.Close()
}

// PoolUsage reports acquired connections and the pool maximum
func (db *CockroachDB) PoolUsage() (acquired, max int32) {
	stat := db.Pool.Stat()
	return stat.AcquiredConns(), stat.MaxConns()
}

// Ping tests the database connection
func (db *CockroachDB) Ping(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}
