// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 authd Contributors

// Package store opens the PostgreSQL connection pool and manages the
// schema of the users table.
package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// PoolOptions tune Connect.
type PoolOptions struct {
	// MaxConns caps the pool size. Zero keeps the pgxpool default.
	MaxConns int32
	// ConnectAttempts is how many times the first ping is tried.
	ConnectAttempts uint64
	// ConnectBackoff is the initial delay between ping attempts; it doubles
	// after each failure.
	ConnectBackoff time.Duration
}

// DefaultPoolOptions returns the options used when none are configured.
func DefaultPoolOptions() PoolOptions {
	return PoolOptions{
		ConnectAttempts: 5,
		ConnectBackoff:  500 * time.Millisecond,
	}
}

type pinger interface {
	Ping(ctx context.Context) error
}

// Connect opens a pool for dsn and waits until the database answers a
// ping, retrying with exponential backoff.
func Connect(ctx context.Context, dsn string, opts PoolOptions, logger *slog.Logger) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, oops.Code("STORE_INVALID_DSN").Wrap(err)
	}
	if opts.MaxConns > 0 {
		cfg.MaxConns = opts.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, oops.Code("STORE_CONNECT_FAILED").
			With("operation", "create pool").
			Wrap(err)
	}
	if err := waitForDatabase(ctx, pool, opts, logger); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

func waitForDatabase(ctx context.Context, p pinger, opts PoolOptions, logger *slog.Logger) error {
	if opts.ConnectAttempts == 0 {
		opts.ConnectAttempts = 1
	}
	if opts.ConnectBackoff <= 0 {
		opts.ConnectBackoff = DefaultPoolOptions().ConnectBackoff
	}
	backoff := retry.WithMaxRetries(opts.ConnectAttempts-1, retry.NewExponential(opts.ConnectBackoff))

	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		if err := p.Ping(ctx); err != nil {
			logger.WarnContext(ctx, "database not ready",
				"attempt", attempt,
				"max_attempts", opts.ConnectAttempts,
				"error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return oops.Code("STORE_CONNECT_FAILED").
			With("operation", "ping database").
			With("attempts", attempt).
			Wrap(err)
	}
	return nil
}
