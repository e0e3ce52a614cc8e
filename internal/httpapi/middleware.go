// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FusionAI Contributors

package httpapi

import (
	"log/slog"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/fusionai/accountd/internal/auth"
)

const sessionKey = "accountd.session"

// bearerToken extracts the token from "Authorization: Bearer <token>".
// Anything else yields "", which the lifecycle reports as a missing token.
func bearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func requireSession(accounts AccountService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c.GetHeader("Authorization"))
		claims, err := accounts.Authenticate(c.Request.Context(), token)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.Set(sessionKey, claims)
		c.Next()
	}
}

// sessionFrom returns the claims requireSession stored on c.
func sessionFrom(c *gin.Context) *auth.SessionClaims {
	v, _ := c.Get(sessionKey)
	claims, _ := v.(*auth.SessionClaims)
	return claims
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		level := slog.LevelInfo
		if status >= 500 {
			level = slog.LevelWarn
		}
		logger.LogAttrs(c.Request.Context(), level, "http request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.Int("status", status),
			slog.Duration("latency", time.Since(start)),
		)
	}
}
