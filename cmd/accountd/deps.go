// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FusionAI Contributors

package main

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/redis/go-redis/v9"

	"github.com/fusionai/accountd/internal/auth/postgres"
	"github.com/fusionai/accountd/internal/observability"
	"github.com/fusionai/accountd/internal/store"
)

// ServeDeps contains injectable dependencies for the serve command and the
// commands that open the backing stores. Nil fields use their defaults.
type ServeDeps struct {
	// PostgresConnector opens a pool for a database URL.
	// Default: store.ConnectPostgres with store.DefaultRetryPolicy
	PostgresConnector func(ctx context.Context, url string) (PostgresPool, error)

	// RedisConnector opens a Redis client for a redis:// URL.
	// Default: store.ConnectRedis with store.DefaultRetryPolicy
	RedisConnector func(ctx context.Context, url string) (redis.UniversalClient, error)

	// MigratorFactory creates the migrator used for auto-migration.
	// Default: store.NewMigrator
	MigratorFactory func(url string) (AutoMigrator, error)

	// HTTPServerFactory creates the API server.
	// Default: httpapi.NewServer
	HTTPServerFactory func(addr string, handler http.Handler, logger *slog.Logger) HTTPServer

	// ObservabilityServerFactory creates the metrics and health server.
	// Default: observability.NewServer
	ObservabilityServerFactory func(addr string, logger *slog.Logger, checks ...observability.Check) ObservabilityServer
}

// PostgresPool wraps the methods used from pgxpool.Pool.
type PostgresPool interface {
	postgres.DB
	Ping(ctx context.Context) error
	Close()
}

// AutoMigrator wraps the methods used from store.Migrator on startup.
type AutoMigrator interface {
	Up() error
	Close() error
}

// Migrator wraps the methods the migrate command uses from store.Migrator.
type Migrator interface {
	Up() error
	Down() error
	Steps(n int) error
	Force(version int) error
	Status() (*store.Status, error)
	Close() error
}

// HTTPServer wraps the methods used from httpapi.Server.
type HTTPServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
}

// ObservabilityServer wraps the methods used from observability.Server.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
	Metrics() *observability.Metrics
}
