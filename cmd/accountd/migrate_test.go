// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FusionAI Contributors

package main

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fusionai/accountd/internal/config"
	"github.com/fusionai/accountd/internal/store"
	"github.com/fusionai/accountd/pkg/errutil"
)

func TestParseForceVersion(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		wantVersion int
		wantErr     bool
	}{
		{"valid integer", "3", 3, false},
		{"zero is valid", "0", 0, false},
		{"sscanf stops at dot", "1.5", 1, false},
		{"trailing chars are ignored", "3abc", 3, false},
		{"negative parses", "-1", -1, false},
		{"non-numeric", "abc", 0, true},
		{"empty", "", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			version, err := parseForceVersion(tt.input)
			if tt.wantErr {
				errutil.AssertErrorCode(t, err, "INVALID_VERSION")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantVersion, version)
		})
	}
}

func TestDatabaseURL(t *testing.T) {
	cfg := config.Default()
	_, err := databaseURL(&cfg)
	errutil.AssertErrorCode(t, err, "CONFIG_INVALID")

	cfg.Database.URL = "postgres://localhost:5432/accountd"
	url, err := databaseURL(&cfg)
	require.NoError(t, err)
	assert.Equal(t, "postgres://localhost:5432/accountd", url)
}

type mockMigrator struct {
	calls    []string
	steps    int
	forced   int
	status   *store.Status
	upErr    error
	closeErr error
}

func (m *mockMigrator) Up() error   { m.calls = append(m.calls, "up"); return m.upErr }
func (m *mockMigrator) Down() error { m.calls = append(m.calls, "down"); return nil }
func (m *mockMigrator) Steps(n int) error {
	m.calls = append(m.calls, "steps")
	m.steps = n
	return nil
}
func (m *mockMigrator) Force(v int) error {
	m.calls = append(m.calls, "force")
	m.forced = v
	return nil
}
func (m *mockMigrator) Status() (*store.Status, error) {
	m.calls = append(m.calls, "status")
	return m.status, nil
}
func (m *mockMigrator) Close() error { m.calls = append(m.calls, "close"); return m.closeErr }

func useMockMigrator(t *testing.T, m *mockMigrator) *string {
	t.Helper()
	var gotURL string
	prev := migratorFactory
	migratorFactory = func(url string) (Migrator, error) {
		gotURL = url
		return m, nil
	}
	t.Cleanup(func() { migratorFactory = prev })
	return &gotURL
}

func TestMigrateCommands(t *testing.T) {
	t.Setenv("DATABASE_URL", "")

	tests := []struct {
		name      string
		args      []string
		wantCalls []string
		wantOut   string
		check     func(t *testing.T, m *mockMigrator)
	}{
		{
			name:      "up",
			args:      []string{"migrate", "up"},
			wantCalls: []string{"up", "close"},
			wantOut:   "Migrations completed successfully",
		},
		{
			name:      "down all",
			args:      []string{"migrate", "down"},
			wantCalls: []string{"down", "close"},
			wantOut:   "All migrations rolled back",
		},
		{
			name:      "down steps",
			args:      []string{"migrate", "down", "--steps", "1"},
			wantCalls: []string{"steps", "close"},
			wantOut:   "Rolled back 1 migration(s)",
			check:     func(t *testing.T, m *mockMigrator) { assert.Equal(t, -1, m.steps) },
		},
		{
			name:      "status",
			args:      []string{"migrate", "status"},
			wantCalls: []string{"status", "close"},
			wantOut:   "000002_create_one_time_codes",
		},
		{
			name:      "version",
			args:      []string{"migrate", "version"},
			wantCalls: []string{"status", "close"},
			wantOut:   "1",
		},
		{
			name:      "force",
			args:      []string{"migrate", "force", "2"},
			wantCalls: []string{"force", "close"},
			wantOut:   "Forced schema version to 2",
			check:     func(t *testing.T, m *mockMigrator) { assert.Equal(t, 2, m.forced) },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &mockMigrator{status: &store.Status{Version: 1, Name: "000001_create_accounts", Pending: []uint{2}}}
			gotURL := useMockMigrator(t, m)

			args := append(tt.args, "--database-url", "postgres://db/accountd")
			out, err := execute(t, args...)
			require.NoError(t, err)
			assert.Contains(t, out, tt.wantOut)
			assert.Equal(t, tt.wantCalls, m.calls)
			assert.Equal(t, "postgres://db/accountd", *gotURL)
			if tt.check != nil {
				tt.check(t, m)
			}
		})
	}
}

func TestMigrateCommands_Errors(t *testing.T) {
	t.Setenv("DATABASE_URL", "")

	t.Run("missing database url", func(t *testing.T) {
		m := &mockMigrator{}
		useMockMigrator(t, m)
		_, err := execute(t, "migrate", "up")
		errutil.AssertErrorCode(t, err, "CONFIG_INVALID")
		assert.Empty(t, m.calls)
	})

	t.Run("up failure still closes", func(t *testing.T) {
		m := &mockMigrator{upErr: errors.New("schema error")}
		useMockMigrator(t, m)
		_, err := execute(t, "migrate", "up", "--database-url", "postgres://db/accountd")
		require.Error(t, err)
		assert.Equal(t, []string{"up", "close"}, m.calls)
	})

	t.Run("bad force version", func(t *testing.T) {
		m := &mockMigrator{}
		useMockMigrator(t, m)
		_, err := execute(t, "migrate", "force", "abc", "--database-url", "postgres://db/accountd")
		errutil.AssertErrorCode(t, err, "INVALID_VERSION")
		assert.Empty(t, m.calls)
	})
}

func TestFormatMigrationStatus(t *testing.T) {
	tests := []struct {
		name   string
		status store.Status
		want   []string
	}{
		{"fresh", store.Status{Pending: []uint{1, 2}}, []string{"Version: none", "000001_create_accounts", "000002_create_one_time_codes"}},
		{"latest", store.Status{Version: 2, Name: "000002_create_one_time_codes"}, []string{"Version: 2 (000002_create_one_time_codes)", "Pending: none"}},
		{"dirty", store.Status{Version: 2, Dirty: true}, []string{"dirty", "migrate force"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := formatMigrationStatus(&tt.status)
			for _, want := range tt.want {
				assert.Contains(t, out, want)
			}
		})
	}
}
