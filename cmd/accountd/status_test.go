// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FusionAI Contributors

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fusionai/accountd/pkg/errutil"
)

func TestStatusURL(t *testing.T) {
	assert.Equal(t, "http://127.0.0.1:9100/healthz/readiness", statusURL("127.0.0.1:9100"))
	assert.Equal(t, "http://127.0.0.1:9100/healthz/readiness", statusURL(":9100"))
	assert.Equal(t, "https://ops.example.com/healthz/readiness", statusURL("https://ops.example.com/"))
}

func readinessServer(t *testing.T, status int, body string) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/healthz/readiness", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv.URL
}

func runStatusCmd(t *testing.T, addr string, jsonOutput bool) (string, error) {
	t.Helper()
	cmd := NewStatusCmd()
	out := new(bytes.Buffer)
	cmd.SetOut(out)
	err := runStatus(context.Background(), cmd, &statusConfig{jsonOutput: jsonOutput, timeout: 2 * time.Second}, addr, http.DefaultClient)
	return out.String(), err
}

func TestRunStatus(t *testing.T) {
	t.Run("ready", func(t *testing.T) {
		addr := readinessServer(t, http.StatusOK, `{"status":"ok","checks":{"redis":"ok","postgres":"ok"}}`)
		out, err := runStatusCmd(t, addr, false)
		require.NoError(t, err)
		assert.Contains(t, out, "accountd  ready")
		assert.Less(t, strings.Index(out, "postgres"), strings.Index(out, "redis"), "checks are sorted")
	})

	t.Run("not ready", func(t *testing.T) {
		addr := readinessServer(t, http.StatusServiceUnavailable, `{"status":"not ready","checks":{"postgres":"unavailable"}}`)
		out, err := runStatusCmd(t, addr, false)
		errutil.AssertErrorCode(t, err, "NOT_READY")
		assert.Contains(t, out, "not ready")
		assert.Contains(t, out, "unavailable")
	})

	t.Run("json", func(t *testing.T) {
		addr := readinessServer(t, http.StatusOK, `{"status":"ok"}`)
		out, err := runStatusCmd(t, addr, true)
		require.NoError(t, err)

		var got ReadinessStatus
		require.NoError(t, json.Unmarshal([]byte(out), &got))
		assert.True(t, got.Ready)
		assert.Equal(t, addr, got.Addr)
	})

	t.Run("unreachable", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		addr := srv.URL
		srv.Close()

		out, err := runStatusCmd(t, addr, false)
		errutil.AssertErrorCode(t, err, "NOT_READY")
		assert.Contains(t, out, "unreachable")
	})

	t.Run("garbage body", func(t *testing.T) {
		addr := readinessServer(t, http.StatusOK, `<html>`)
		out, err := runStatusCmd(t, addr, false)
		errutil.AssertErrorCode(t, err, "NOT_READY")
		assert.Contains(t, out, "failed to decode")
	})
}

func TestStatusCommand_RequiresMetricsAddr(t *testing.T) {
	_, err := execute(t, "status", "--metrics-addr", "")
	errutil.AssertErrorCode(t, err, "CONFIG_INVALID")
}
