// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FusionAI Contributors

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"
)

// ReadinessStatus is the parsed answer of /healthz/readiness.
type ReadinessStatus struct {
	Addr   string            `json:"addr"`
	Ready  bool              `json:"ready"`
	Status string            `json:"status,omitempty"`
	Checks map[string]string `json:"checks,omitempty"`
	Error  string            `json:"error,omitempty"`
}

// statusConfig holds configuration for the status command.
type statusConfig struct {
	jsonOutput bool
	timeout    time.Duration
}

// NewStatusCmd creates the status subcommand.
func NewStatusCmd() *cobra.Command {
	cfg := &statusConfig{}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show readiness of a running accountd",
		Long: `Query the readiness probe on metrics.addr and show the state of each
backing store. Exits non-zero when the service is not ready.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appCfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if appCfg.Metrics.Addr == "" {
				return oops.Code("CONFIG_INVALID").
					With("field", "metrics.addr").
					Errorf("status needs metrics.addr; the health server is disabled")
			}
			return runStatus(cmdContext(cmd), cmd, cfg, appCfg.Metrics.Addr, http.DefaultClient)
		},
	}

	cmd.Flags().BoolVar(&cfg.jsonOutput, "json", false, "output status as JSON")
	cmd.Flags().DurationVar(&cfg.timeout, "timeout", 3*time.Second, "probe timeout")

	return cmd
}

func runStatus(ctx context.Context, cmd *cobra.Command, cfg *statusConfig, addr string, client *http.Client) error {
	ctx, cancel := context.WithTimeout(ctx, cfg.timeout)
	defer cancel()

	status := queryReadiness(ctx, client, addr)

	var output string
	if cfg.jsonOutput {
		data, err := json.MarshalIndent(status, "", "  ")
		if err != nil {
			return oops.Code("STATUS_FORMAT_FAILED").Wrap(err)
		}
		output = string(data)
	} else {
		output = formatStatusTable(status)
	}
	cmd.Println(output)

	if !status.Ready {
		return oops.Code("NOT_READY").With("addr", addr).Errorf("accountd is not ready")
	}
	return nil
}

// statusURL accepts host:port or a full URL.
func statusURL(addr string) string {
	base := addr
	if !strings.Contains(addr, "://") {
		if strings.HasPrefix(addr, ":") {
			base = "127.0.0.1" + addr
		}
		base = "http://" + base
	}
	return strings.TrimSuffix(base, "/") + "/healthz/readiness"
}

func queryReadiness(ctx context.Context, client *http.Client, addr string) ReadinessStatus {
	status := ReadinessStatus{Addr: addr}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, statusURL(addr), nil)
	if err != nil {
		status.Error = fmt.Sprintf("invalid address: %v", err)
		return status
	}
	resp, err := client.Do(req)
	if err != nil {
		status.Error = fmt.Sprintf("failed to connect: %v", err)
		return status
	}
	defer func() { _ = resp.Body.Close() }()

	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&body); err != nil {
		status.Error = fmt.Sprintf("failed to decode readiness response: %v", err)
		return status
	}
	status.Status = body.Status
	status.Checks = body.Checks
	status.Ready = resp.StatusCode == http.StatusOK
	return status
}

// formatStatusTable formats the status as a human-readable table.
func formatStatusTable(status ReadinessStatus) string {
	var b strings.Builder
	w := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)

	_, _ = fmt.Fprintln(w, "CHECK\tSTATE")
	_, _ = fmt.Fprintln(w, "-----\t-----")

	switch {
	case status.Error != "":
		_, _ = fmt.Fprintf(w, "accountd\tunreachable: %s\n", status.Error)
	default:
		state := "ready"
		if !status.Ready {
			state = status.Status
		}
		_, _ = fmt.Fprintf(w, "accountd\t%s\n", state)
		names := make([]string, 0, len(status.Checks))
		for name := range status.Checks {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			_, _ = fmt.Fprintf(w, "%s\t%s\n", name, status.Checks[name])
		}
	}

	_ = w.Flush()
	return strings.TrimRight(b.String(), "\n")
}
