// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FusionAI Contributors

package errutil

import (
	"context"
	"log/slog"

	"github.com/samber/oops"
)

// LogError logs an error at error level with structured context if it's an oops error.
func LogError(logger *slog.Logger, msg string, err error) {
	LogAt(logger, slog.LevelError, msg, err)
}

// LogAt logs an error at the given level.
// For oops errors, it extracts the code, context and public message.
// For standard errors, it logs the error string.
// Extra attrs are appended as key/value pairs.
func LogAt(logger *slog.Logger, level slog.Level, msg string, err error, attrs ...any) {
	if logger == nil {
		logger = slog.Default()
	}
	if oopsErr, ok := oops.AsOops(err); ok {
		fields := []any{"error", oopsErr.Error()}
		if code := oopsErr.Code(); code != nil {
			fields = append(fields, "code", code)
		}
		if ctx := oopsErr.Context(); len(ctx) > 0 {
			fields = append(fields, "context", ctx)
		}
		if public := oopsErr.Public(); public != "" {
			fields = append(fields, "public", public)
		}
		logger.Log(context.Background(), level, msg, append(fields, attrs...)...)
		return
	}
	logger.Log(context.Background(), level, msg, append([]any{"error", err}, attrs...)...)
}
