// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FusionAI Contributors

package main

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"

	"github.com/fusionai/accountd/internal/auth"
	"github.com/fusionai/accountd/internal/auth/memory"
	"github.com/fusionai/accountd/internal/auth/postgres"
	"github.com/fusionai/accountd/internal/auth/redisstore"
	"github.com/fusionai/accountd/internal/config"
	"github.com/fusionai/accountd/internal/httpapi"
	"github.com/fusionai/accountd/internal/observability"
	"github.com/fusionai/accountd/internal/store"
)

// withDefaults fills the nil fields of deps. A nil deps is allowed.
func withDefaults(deps *ServeDeps, logger *slog.Logger) *ServeDeps {
	if deps == nil {
		deps = &ServeDeps{}
	}
	policy := store.DefaultRetryPolicy()
	policy.Logger = logger

	if deps.PostgresConnector == nil {
		deps.PostgresConnector = func(ctx context.Context, url string) (PostgresPool, error) {
			return store.ConnectPostgres(ctx, url, policy)
		}
	}
	if deps.RedisConnector == nil {
		deps.RedisConnector = func(ctx context.Context, url string) (redis.UniversalClient, error) {
			return store.ConnectRedis(ctx, url, policy)
		}
	}
	if deps.MigratorFactory == nil {
		deps.MigratorFactory = func(url string) (AutoMigrator, error) {
			return store.NewMigrator(url)
		}
	}
	if deps.HTTPServerFactory == nil {
		deps.HTTPServerFactory = func(addr string, handler http.Handler, logger *slog.Logger) HTTPServer {
			return httpapi.NewServer(addr, handler, logger)
		}
	}
	if deps.ObservabilityServerFactory == nil {
		deps.ObservabilityServerFactory = func(addr string, logger *slog.Logger, checks ...observability.Check) ObservabilityServer {
			return observability.NewServer(addr, logger, checks...)
		}
	}
	return deps
}

// backends holds the opened account and code stores.
type backends struct {
	accounts auth.CredentialStore
	codes    auth.CodeRepository
	checks   []observability.Check
	closers  []func()
}

// Close releases connections in reverse order of opening.
func (b *backends) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
	b.closers = nil
}

func usesPostgres(cfg *config.Config) bool {
	return cfg.Storage.Backend == config.BackendPostgres || cfg.CodeStore() == config.BackendPostgres
}

// openBackends connects the stores cfg selects. On error everything opened
// so far is closed.
func openBackends(ctx context.Context, cfg *config.Config, deps *ServeDeps) (_ *backends, err error) {
	b := &backends{}
	defer func() {
		if err != nil {
			b.Close()
		}
	}()

	var pool PostgresPool
	if usesPostgres(cfg) {
		if cfg.Database.URL == "" {
			return nil, oops.Code("CONFIG_INVALID").
				With("field", "database.url").
				Errorf("database url is required for the postgres backend")
		}
		pool, err = deps.PostgresConnector(ctx, cfg.Database.URL)
		if err != nil {
			return nil, oops.Code("DB_CONNECT_FAILED").With("operation", "connect to database").Wrap(err)
		}
		b.closers = append(b.closers, pool.Close)
		b.checks = append(b.checks, observability.Check{Name: "postgres", Probe: pool.Ping})
	}

	switch cfg.Storage.Backend {
	case config.BackendPostgres:
		b.accounts = postgres.NewAccountRepository(pool)
	default:
		b.accounts = memory.NewAccountStore()
	}

	switch cfg.CodeStore() {
	case config.BackendPostgres:
		b.codes = postgres.NewCodeRepository(pool)
	case config.BackendRedis:
		client, err := deps.RedisConnector(ctx, cfg.Redis.URL)
		if err != nil {
			return nil, oops.Code("REDIS_CONNECT_FAILED").With("operation", "connect to redis").Wrap(err)
		}
		b.closers = append(b.closers, func() { _ = client.Close() })
		b.checks = append(b.checks, observability.Check{
			Name:  "redis",
			Probe: func(ctx context.Context) error { return client.Ping(ctx).Err() },
		})
		b.codes = redisstore.NewCodeRepository(client,
			redisstore.WithPrefix(cfg.Redis.Prefix),
			redisstore.WithRetention(cfg.Codes.Retention),
		)
	default:
		b.codes = memory.NewCodeStore()
	}
	return b, nil
}

// runAutoMigration applies pending migrations. A failure to close the
// migrator is logged, not returned.
func runAutoMigration(url string, factory func(string) (AutoMigrator, error)) error {
	migrator, err := factory(url)
	if err != nil {
		return oops.Code("MIGRATION_INIT_FAILED").With("operation", "create migrator").Wrap(err)
	}
	defer func() {
		if closeErr := migrator.Close(); closeErr != nil {
			slog.Warn("error closing migrator", "error", closeErr, "note", "connection may leak")
		}
	}()

	if err := migrator.Up(); err != nil {
		return oops.Code("AUTO_MIGRATION_FAILED").With("operation", "apply migrations").Wrap(err)
	}
	slog.Info("database migrations applied")
	return nil
}
