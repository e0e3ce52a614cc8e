// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FusionAI Contributors

// Package config loads accountd settings from defaults, a YAML file, the
// environment and command-line flags, in that order of precedence.
package config

import (
	"time"

	"github.com/samber/oops"
	"golang.org/x/crypto/bcrypt"

	"github.com/fusionai/accountd/internal/auth"
	"github.com/fusionai/accountd/internal/logging"
	"github.com/fusionai/accountd/internal/mail"
)

// Storage backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Config is the full service configuration.
type Config struct {
	Server       ServerConfig       `koanf:"server" json:"server,omitempty"`
	Metrics      MetricsConfig      `koanf:"metrics" json:"metrics,omitempty"`
	Log          LogConfig          `koanf:"log" json:"log,omitempty"`
	Storage      StorageConfig      `koanf:"storage" json:"storage,omitempty"`
	Database     DatabaseConfig     `koanf:"database" json:"database,omitempty"`
	Redis        RedisConfig        `koanf:"redis" json:"redis,omitempty"`
	Hashing      HashingConfig      `koanf:"hashing" json:"hashing,omitempty"`
	Token        TokenConfig        `koanf:"token" json:"token,omitempty"`
	Codes        CodesConfig        `koanf:"codes" json:"codes,omitempty"`
	Registration RegistrationConfig `koanf:"registration" json:"registration,omitempty"`
	SMTP         SMTPConfig         `koanf:"smtp" json:"smtp,omitempty"`
	Upload       UploadConfig       `koanf:"upload" json:"upload,omitempty"`
	Chat         ChatConfig         `koanf:"chat" json:"chat,omitempty"`
}

// ServerConfig configures the HTTP API listener.
type ServerConfig struct {
	Addr string `koanf:"addr" json:"addr,omitempty"`
	// AllowedOrigins lists CORS origins. Empty or "*" allows any origin.
	AllowedOrigins  []string      `koanf:"allowed_origins" json:"allowed_origins,omitempty"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" json:"shutdown_timeout,omitempty" jsonschema:"type=string,pattern=^([0-9]+([.][0-9]+)?(ns|us|ms|s|m|h))+$"`
}

// MetricsConfig configures the observability listener. An empty Addr
// disables it.
type MetricsConfig struct {
	Addr string `koanf:"addr" json:"addr,omitempty"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level  string `koanf:"level" json:"level,omitempty" jsonschema:"enum=debug,enum=info,enum=warn,enum=error"`
	Format string `koanf:"format" json:"format,omitempty" jsonschema:"enum=json,enum=text"`
}

// StorageConfig selects where accounts live.
type StorageConfig struct {
	Backend string `koanf:"backend" json:"backend,omitempty" jsonschema:"enum=memory,enum=postgres"`
}

// DatabaseConfig configures PostgreSQL.
type DatabaseConfig struct {
	URL         string `koanf:"url" json:"url,omitempty"`
	AutoMigrate bool   `koanf:"auto_migrate" json:"auto_migrate,omitempty"`
}

// RedisConfig configures Redis.
type RedisConfig struct {
	URL    string `koanf:"url" json:"url,omitempty"`
	Prefix string `koanf:"prefix" json:"prefix,omitempty"`
}

// HashingConfig selects the password hashing algorithm.
type HashingConfig struct {
	Algorithm string `koanf:"algorithm" json:"algorithm,omitempty" jsonschema:"enum=bcrypt,enum=argon2id"`
	Cost      int    `koanf:"cost" json:"cost,omitempty" jsonschema:"minimum=4,maximum=31"`
}

// TokenConfig configures session tokens.
type TokenConfig struct {
	Secret string        `koanf:"secret" json:"secret,omitempty"`
	TTL    time.Duration `koanf:"ttl" json:"ttl,omitempty" jsonschema:"type=string,pattern=^([0-9]+([.][0-9]+)?(ns|us|ms|s|m|h))+$"`
	Issuer string        `koanf:"issuer" json:"issuer,omitempty"`
}

// CodesConfig configures one-time codes.
type CodesConfig struct {
	TTL time.Duration `koanf:"ttl" json:"ttl,omitempty" jsonschema:"type=string,pattern=^([0-9]+([.][0-9]+)?(ns|us|ms|s|m|h))+$"`
	// Store overrides storage.backend for codes only.
	Store         string        `koanf:"store" json:"store,omitempty" jsonschema:"enum=,enum=memory,enum=postgres,enum=redis"`
	PurgeInterval time.Duration `koanf:"purge_interval" json:"purge_interval,omitempty" jsonschema:"type=string,pattern=^([0-9]+([.][0-9]+)?(ns|us|ms|s|m|h))+$"`
	// Retention keeps expired records in Redis so they report as expired.
	Retention time.Duration `koanf:"retention" json:"retention,omitempty" jsonschema:"type=string,pattern=^([0-9]+([.][0-9]+)?(ns|us|ms|s|m|h))+$"`
}

// RegistrationConfig configures sign-up.
type RegistrationConfig struct {
	Policy               string `koanf:"policy" json:"policy,omitempty" jsonschema:"enum=verified,enum=direct"`
	DiscloseUnknownEmail bool   `koanf:"disclose_unknown_email" json:"disclose_unknown_email,omitempty"`
}

// SMTPConfig configures outgoing mail. When disabled, codes are logged.
type SMTPConfig struct {
	Enabled            bool          `koanf:"enabled" json:"enabled,omitempty"`
	Host               string        `koanf:"host" json:"host,omitempty"`
	Port               int           `koanf:"port" json:"port,omitempty" jsonschema:"minimum=1,maximum=65535"`
	Username           string        `koanf:"username" json:"username,omitempty"`
	Password           string        `koanf:"password" json:"password,omitempty"`
	From               string        `koanf:"from" json:"from,omitempty"`
	InsecureSkipVerify bool          `koanf:"insecure_skip_verify" json:"insecure_skip_verify,omitempty"`
	Timeout            time.Duration `koanf:"timeout" json:"timeout,omitempty" jsonschema:"type=string,pattern=^([0-9]+([.][0-9]+)?(ns|us|ms|s|m|h))+$"`
}

// UploadConfig bounds /api/upload.
type UploadConfig struct {
	MaxBytes int64 `koanf:"max_bytes" json:"max_bytes,omitempty" jsonschema:"minimum=1"`
}

// ChatConfig configures the /api/chat proxy. An empty Upstream disables it.
type ChatConfig struct {
	Upstream string        `koanf:"upstream" json:"upstream,omitempty"`
	Timeout  time.Duration `koanf:"timeout" json:"timeout,omitempty" jsonschema:"type=string,pattern=^([0-9]+([.][0-9]+)?(ns|us|ms|s|m|h))+$"`
}

// Default returns the built-in configuration. Token.Secret is deliberately
// empty: it must be supplied.
func Default() Config {
	return Config{
		Server:   ServerConfig{Addr: ":4000", ShutdownTimeout: 10 * time.Second},
		Metrics:  MetricsConfig{Addr: "127.0.0.1:9100"},
		Log:      LogConfig{Level: "info", Format: logging.FormatJSON},
		Storage:  StorageConfig{Backend: BackendMemory},
		Redis:    RedisConfig{Prefix: "accountd:code"},
		Hashing:  HashingConfig{Algorithm: auth.AlgorithmBcrypt, Cost: auth.DefaultBcryptCost},
		Token:    TokenConfig{TTL: auth.DefaultSessionTTL, Issuer: auth.DefaultSessionIssuer},
		Codes:    CodesConfig{TTL: auth.DefaultCodeTTL, PurgeInterval: 5 * time.Minute, Retention: time.Hour},
		Registration: RegistrationConfig{
			Policy: auth.PolicyVerified,
		},
		SMTP: SMTPConfig{
			Host:     "smtp.sendgrid.net",
			Port:     587,
			Username: "apikey",
			From:     mail.DefaultFrom,
			Timeout:  auth.DefaultMailTimeout,
		},
		Upload: UploadConfig{MaxBytes: 10 << 20},
		Chat:   ChatConfig{Timeout: 60 * time.Second},
	}
}

// CodeStore returns the backend holding one-time codes.
func (c *Config) CodeStore() string {
	if c.Codes.Store != "" {
		return c.Codes.Store
	}
	return c.Storage.Backend
}

func invalid(field, format string, args ...any) error {
	return oops.Code("CONFIG_INVALID").With("field", field).Errorf(format, args...)
}

// Validate reports the first setting that cannot work.
func (c *Config) Validate() error {
	if c.Token.Secret == "" {
		return oops.Code("CONFIG_TOKEN_SECRET_MISSING").
			With("field", "token.secret").
			Hint("set ACCOUNTD_TOKEN__SECRET or token.secret in the config file").
			Errorf("token secret is required")
	}
	if c.Token.TTL <= 0 {
		return invalid("token.ttl", "token ttl must be positive, got %s", c.Token.TTL)
	}
	if c.Codes.TTL <= 0 {
		return invalid("codes.ttl", "code ttl must be positive, got %s", c.Codes.TTL)
	}
	if c.Codes.Retention < 0 {
		return invalid("codes.retention", "code retention cannot be negative")
	}

	switch c.Hashing.Algorithm {
	case auth.AlgorithmBcrypt, "":
		if c.Hashing.Cost < bcrypt.MinCost || c.Hashing.Cost > bcrypt.MaxCost {
			return invalid("hashing.cost", "bcrypt cost must be between %d and %d, got %d",
				bcrypt.MinCost, bcrypt.MaxCost, c.Hashing.Cost)
		}
	case auth.AlgorithmArgon2id:
	default:
		return invalid("hashing.algorithm", "unknown hashing algorithm %q", c.Hashing.Algorithm)
	}

	switch c.Registration.Policy {
	case auth.PolicyVerified, auth.PolicyDirect, "":
	default:
		return invalid("registration.policy", "unknown registration policy %q", c.Registration.Policy)
	}

	switch c.Storage.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.Database.URL == "" {
			return invalid("database.url", "database url is required for the postgres backend")
		}
	default:
		return invalid("storage.backend", "unknown storage backend %q", c.Storage.Backend)
	}

	switch c.CodeStore() {
	case BackendMemory:
	case BackendPostgres:
		if c.Database.URL == "" {
			return invalid("database.url", "database url is required for postgres code storage")
		}
	case BackendRedis:
		if c.Redis.URL == "" {
			return invalid("redis.url", "redis url is required for redis code storage")
		}
	default:
		return invalid("codes.store", "unknown code store %q", c.Codes.Store)
	}

	if c.SMTP.Enabled {
		if c.SMTP.Host == "" {
			return invalid("smtp.host", "smtp host is required when smtp is enabled")
		}
		if c.SMTP.Port <= 0 || c.SMTP.Port > 65535 {
			return invalid("smtp.port", "smtp port out of range: %d", c.SMTP.Port)
		}
	}

	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return invalid("log.level", "unknown log level %q", c.Log.Level)
	}
	if !logging.ValidFormat(c.Log.Format) {
		return invalid("log.format", "unknown log format %q", c.Log.Format)
	}
	if c.Upload.MaxBytes <= 0 {
		return invalid("upload.max_bytes", "upload limit must be positive")
	}
	if c.Server.Addr == "" {
		return invalid("server.addr", "server address is required")
	}
	return nil
}
