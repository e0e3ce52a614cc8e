// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FusionAI Contributors

package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/samber/oops"

	"github.com/fusionai/accountd/pkg/errutil"
)

const (
	msgPromptRequired   = "Prompt is required"
	msgChatFailed       = "AI API request failed"
	msgChatUnconfigured = "Chat is not configured"

	defaultChatTimeout = 60 * time.Second
	maxChatResponse    = 4 << 20
)

type chatRequest struct {
	Prompt string `json:"prompt"`
}

// chatProxy forwards prompts to an upstream completion API and relays its
// JSON reply unchanged.
type chatProxy struct {
	upstream string
	client   *http.Client
}

func newChatProxy(upstream string, client *http.Client) *chatProxy {
	if client == nil {
		client = &http.Client{Timeout: defaultChatTimeout}
	}
	return &chatProxy{upstream: upstream, client: client}
}

func (p *chatProxy) forward(ctx context.Context, prompt string) ([]byte, error) {
	body, err := json.Marshal(chatRequest{Prompt: prompt})
	if err != nil {
		return nil, oops.Code("CHAT_ENCODE_FAILED").Wrap(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.upstream, bytes.NewReader(body))
	if err != nil {
		return nil, oops.Code("CHAT_REQUEST_FAILED").Wrap(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, oops.Code("CHAT_REQUEST_FAILED").Wrap(err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxChatResponse))
	if err != nil {
		return nil, oops.Code("CHAT_READ_FAILED").Wrap(err)
	}
	if !json.Valid(data) {
		return nil, oops.Code("CHAT_INVALID_RESPONSE").
			With("status", resp.StatusCode).
			Errorf("upstream returned non-JSON body")
	}
	return data, nil
}

func (h *Handler) chatPrompt(c *gin.Context) {
	if h.chat == nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": msgChatUnconfigured})
		return
	}

	var req chatRequest
	bind(c, &req)
	if req.Prompt == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": msgPromptRequired})
		return
	}

	data, err := h.chat.forward(c.Request.Context(), req.Prompt)
	if err != nil {
		errutil.LogAt(h.logger, slog.LevelWarn, "chat upstream failed", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": msgChatFailed})
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", data)
}
