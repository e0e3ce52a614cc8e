// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FusionAI Contributors

package config

import (
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"
)

// EnvPrefix prefixes every environment override. A double underscore
// separates nesting levels: ACCOUNTD_TOKEN__SECRET sets token.secret.
const EnvPrefix = "ACCOUNTD_"

// listKeys are split on commas when they come from the environment.
var listKeys = map[string]bool{
	"server.allowed_origins": true,
}

// flagKeys maps command-line flags to config keys.
var flagKeys = map[string]string{
	"addr":                "server.addr",
	"metrics-addr":        "metrics.addr",
	"log-level":           "log.level",
	"log-format":          "log.format",
	"storage":             "storage.backend",
	"database-url":        "database.url",
	"redis-url":           "redis.url",
	"code-store":          "codes.store",
	"registration-policy": "registration.policy",
	"auto-migrate":        "database.auto_migrate",
}

// RegisterFlags adds the overridable settings to fs, defaulted from Default().
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String("addr", d.Server.Addr, "API listen address")
	fs.String("metrics-addr", d.Metrics.Addr, "metrics and health listen address (empty disables)")
	fs.String("log-level", d.Log.Level, "log level (debug, info, warn, error)")
	fs.String("log-format", d.Log.Format, "log format (json, text)")
	fs.String("storage", d.Storage.Backend, "account storage backend (memory, postgres)")
	fs.String("database-url", d.Database.URL, "PostgreSQL connection string")
	fs.String("redis-url", d.Redis.URL, "Redis URL for code storage")
	fs.String("code-store", d.Codes.Store, "code storage override (memory, postgres, redis)")
	fs.String("registration-policy", d.Registration.Policy, "registration policy (verified, direct)")
	fs.Bool("auto-migrate", d.Database.AutoMigrate, "apply database migrations on startup")
}

func envKey(name string) string {
	key := strings.TrimPrefix(name, EnvPrefix)
	return strings.ToLower(strings.ReplaceAll(key, "__", "."))
}

// Load builds the configuration. path may be empty; fs may be nil.
// The result is not validated; call Validate.
func Load(path string, fs *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, oops.Code("CONFIG_READ_FAILED").With("path", path).Wrap(err)
		}
		if err := ValidateYAML(data); err != nil {
			return nil, oops.Code("CONFIG_SCHEMA_INVALID").With("path", path).Wrap(err)
		}
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.Code("CONFIG_PARSE_FAILED").With("path", path).Wrap(err)
		}
	}

	databaseURL := env.Provider("DATABASE_URL", ".", func(name string) string {
		if name == "DATABASE_URL" {
			return "database.url"
		}
		return ""
	})
	if err := k.Load(databaseURL, nil); err != nil {
		return nil, oops.Code("CONFIG_ENV_FAILED").Wrap(err)
	}

	overrides := env.ProviderWithValue(EnvPrefix, ".", func(name, value string) (string, any) {
		key := envKey(name)
		if listKeys[key] {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			return key, parts
		}
		return key, value
	})
	if err := k.Load(overrides, nil); err != nil {
		return nil, oops.Code("CONFIG_ENV_FAILED").Wrap(err)
	}

	if fs != nil {
		flags := posflag.ProviderWithFlag(fs, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := flagKeys[f.Name]
			if !ok {
				return "", nil
			}
			return key, posflag.FlagVal(fs, f)
		})
		if err := k.Load(flags, nil); err != nil {
			return nil, oops.Code("CONFIG_FLAGS_FAILED").Wrap(err)
		}
	}

	cfg := Default()
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, oops.Code("CONFIG_DECODE_FAILED").Wrap(err)
	}
	return &cfg, nil
}
