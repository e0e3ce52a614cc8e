// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FusionAI Contributors

package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fusionai/accountd/internal/config"
	"github.com/fusionai/accountd/pkg/errutil"
)

func validConfig() config.Config {
	cfg := config.Default()
	cfg.Token.Secret = "s3cret"
	return cfg
}

func TestDefault(t *testing.T) {
	cfg := config.Default()
	assert.Equal(t, ":4000", cfg.Server.Addr)
	assert.Equal(t, time.Hour, cfg.Token.TTL)
	assert.Equal(t, 10*time.Minute, cfg.Codes.TTL)
	assert.Equal(t, 10, cfg.Hashing.Cost)
	assert.Equal(t, "verified", cfg.Registration.Policy)
	assert.False(t, cfg.Registration.DiscloseUnknownEmail)
	assert.Empty(t, cfg.Token.Secret)

	errutil.AssertErrorCode(t, cfg.Validate(), "CONFIG_TOKEN_SECRET_MISSING")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*config.Config)
		wantField string
	}{
		{"valid", func(*config.Config) {}, ""},
		{"zero token ttl", func(c *config.Config) { c.Token.TTL = 0 }, "token.ttl"},
		{"zero code ttl", func(c *config.Config) { c.Codes.TTL = 0 }, "codes.ttl"},
		{"bcrypt cost too low", func(c *config.Config) { c.Hashing.Cost = 3 }, "hashing.cost"},
		{"argon2id ignores cost", func(c *config.Config) { c.Hashing.Algorithm = "argon2id"; c.Hashing.Cost = 0 }, ""},
		{"unknown algorithm", func(c *config.Config) { c.Hashing.Algorithm = "md5" }, "hashing.algorithm"},
		{"unknown policy", func(c *config.Config) { c.Registration.Policy = "open" }, "registration.policy"},
		{"postgres without url", func(c *config.Config) { c.Storage.Backend = "postgres" }, "database.url"},
		{"redis codes without url", func(c *config.Config) { c.Codes.Store = "redis" }, "redis.url"},
		{"redis codes with url", func(c *config.Config) {
			c.Codes.Store = "redis"
			c.Redis.URL = "redis://localhost:6379/0"
		}, ""},
		{"unknown backend", func(c *config.Config) { c.Storage.Backend = "sqlite" }, "storage.backend"},
		{"smtp without host", func(c *config.Config) { c.SMTP.Enabled = true; c.SMTP.Host = "" }, "smtp.host"},
		{"bad log level", func(c *config.Config) { c.Log.Level = "loud" }, "log.level"},
		{"bad log format", func(c *config.Config) { c.Log.Format = "xml" }, "log.format"},
		{"zero upload limit", func(c *config.Config) { c.Upload.MaxBytes = 0 }, "upload.max_bytes"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantField == "" {
				assert.NoError(t, err)
				return
			}
			errutil.AssertErrorCode(t, err, "CONFIG_INVALID")
			errutil.AssertErrorContext(t, err, "field", tt.wantField)
		})
	}
}

func TestCodeStore(t *testing.T) {
	cfg := validConfig()
	assert.Equal(t, config.BackendMemory, cfg.CodeStore())
	cfg.Storage.Backend = config.BackendPostgres
	assert.Equal(t, config.BackendPostgres, cfg.CodeStore())
	cfg.Codes.Store = config.BackendRedis
	assert.Equal(t, config.BackendRedis, cfg.CodeStore())
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "accountd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_DefaultsOnly(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	cfg, err := config.Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, config.Default(), *cfg)
}

func TestLoad_Layering(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: ":8080"
  allowed_origins: ["https://app.example.com"]
token:
  secret: from-file
  ttl: 30m
codes:
  ttl: 5m
registration:
  policy: direct
`)

	t.Setenv("ACCOUNTD_TOKEN__SECRET", "from-env")
	t.Setenv("ACCOUNTD_SMTP__PORT", "2525")
	t.Setenv("ACCOUNTD_SERVER__ALLOWED_ORIGINS", "https://a.example.com, https://b.example.com")
	t.Setenv("DATABASE_URL", "postgres://u:p@db:5432/accountd")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	config.RegisterFlags(fs)
	require.NoError(t, fs.Parse([]string{"--addr", ":9090", "--storage", "postgres"}))

	cfg, err := config.Load(path, fs)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr, "set flag beats file")
	assert.Equal(t, "from-env", cfg.Token.Secret, "env beats file")
	assert.Equal(t, 30*time.Minute, cfg.Token.TTL, "file beats default")
	assert.Equal(t, 5*time.Minute, cfg.Codes.TTL)
	assert.Equal(t, "direct", cfg.Registration.Policy)
	assert.Equal(t, 2525, cfg.SMTP.Port)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "postgres://u:p@db:5432/accountd", cfg.Database.URL)
	assert.Equal(t, "postgres", cfg.Storage.Backend)
	assert.Equal(t, "info", cfg.Log.Level, "unset flag keeps default")
	require.NoError(t, cfg.Validate())
}

func TestLoad_UnsetFlagDoesNotOverrideFile(t *testing.T) {
	path := writeConfig(t, "log:\n  level: debug\n")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	config.RegisterFlags(fs)
	require.NoError(t, fs.Parse(nil))

	cfg, err := config.Load(path, fs)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_Errors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"), nil)
		errutil.AssertErrorCode(t, err, "CONFIG_READ_FAILED")
	})

	t.Run("schema violation", func(t *testing.T) {
		path := writeConfig(t, "token:\n  ttl: forever\n")
		_, err := config.Load(path, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "ttl")
	})
}

func TestValidateYAML(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		wantErr bool
	}{
		{"empty", "", false},
		{"full", `
server: {addr: ":4000", shutdown_timeout: 15s}
hashing: {algorithm: bcrypt, cost: 12}
codes: {ttl: 10m, store: redis, retention: 1h}
smtp: {enabled: true, host: smtp.example.com, port: 465}
upload: {max_bytes: 1048576}
`, false},
		{"unknown key", "tokens:\n  secret: x\n", true},
		{"bad enum", "registration:\n  policy: open\n", true},
		{"cost out of range", "hashing:\n  cost: 40\n", true},
		{"duration as number", "codes:\n  ttl: 600\n", true},
		{"not yaml", "server: [unclosed", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := config.ValidateYAML([]byte(tt.doc))
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestGenerateSchema(t *testing.T) {
	data, err := config.GenerateSchema()
	require.NoError(t, err)
	assert.Contains(t, string(data), config.SchemaID)
	assert.Contains(t, string(data), `"allowed_origins"`)
	assert.Contains(t, string(data), `"additionalProperties": false`)
}
