// Package db bootstraps the PostgreSQL pool and applies schema migrations.
package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

var ErrNoDatabaseURL = errors.New("db: empty connection string")

// NewPool parses connString and connects, waiting up to a minute for the
// server to accept a ping.
func NewPool(ctx context.Context, connString string, logger *zap.Logger) (*pgxpool.Pool, error) {
	if connString == "" {
		return nil, ErrNoDatabaseURL
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("db: parse config: %w", err)
	}
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("db: connect: %w", err)
	}

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = time.Minute
	err = backoff.RetryNotify(func() error {
		return pool.Ping(ctx)
	}, backoff.WithContext(policy, ctx), func(err error, wait time.Duration) {
		logger.Warn("database not ready", zap.Duration("retry_in", wait), zap.Error(err))
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("db: ping: %w", err)
	}
	return pool, nil
}
