// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FusionAI Contributors

package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// RetryPolicy bounds how long startup waits for a backing store.
type RetryPolicy struct {
	MaxRetries uint64
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Logger     *slog.Logger
}

// DefaultRetryPolicy waits roughly half a minute before giving up.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 8, BaseDelay: 250 * time.Millisecond, MaxDelay: 5 * time.Second}
}

func (p RetryPolicy) backoff() retry.Backoff {
	base := p.BaseDelay
	if base <= 0 {
		base = 250 * time.Millisecond
	}
	b := retry.NewExponential(base)
	if p.MaxDelay > 0 {
		b = retry.WithCappedDuration(p.MaxDelay, b)
	}
	return retry.WithMaxRetries(p.MaxRetries, b)
}

// withRetry runs probe until it succeeds, ctx ends or the policy gives up.
func (p RetryPolicy) withRetry(ctx context.Context, target string, probe func(context.Context) error) error {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attempt := 0
	return retry.Do(ctx, p.backoff(), func(ctx context.Context) error {
		attempt++
		if err := probe(ctx); err != nil {
			logger.Warn("backing store not reachable yet", "target", target, "attempt", attempt, "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
}

// ConnectPostgres opens a pool for dsn and waits until it answers a ping.
func ConnectPostgres(ctx context.Context, dsn string, policy RetryPolicy) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, oops.Code("STORE_INVALID_DSN").Wrap(err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, oops.Code("STORE_POOL_FAILED").Wrap(err)
	}
	if err := policy.withRetry(ctx, "postgres", pool.Ping); err != nil {
		pool.Close()
		return nil, oops.Code("STORE_CONNECT_FAILED").With("target", "postgres").Wrap(err)
	}
	return pool, nil
}

// ConnectRedis opens a client for url (redis://...) and waits until it
// answers a PING.
func ConnectRedis(ctx context.Context, url string, policy RetryPolicy) (redis.UniversalClient, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, oops.Code("STORE_INVALID_REDIS_URL").Wrap(err)
	}
	client := redis.NewClient(opts)
	ping := func(ctx context.Context) error { return client.Ping(ctx).Err() }
	if err := policy.withRetry(ctx, "redis", ping); err != nil {
		_ = client.Close()
		return nil, oops.Code("STORE_CONNECT_FAILED").With("target", "redis").Wrap(err)
	}
	return client, nil
}
