// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FusionAI Contributors

package httpapi

import (
	"encoding/base64"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	msgNoFile       = "No file uploaded"
	msgFileTooLarge = "File too large"
)

type uploadResponse struct {
	Filename string `json:"filename"`
	Mimetype string `json:"mimetype"`
	Size     int64  `json:"size"`
	Base64   string `json:"base64"`
}

func (h *Handler) upload(c *gin.Context) {
	if c.Request.ContentLength > h.maxBytes {
		c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{"error": msgFileTooLarge})
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBytes)

	header, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{"error": msgFileTooLarge})
			return
		}
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": msgNoFile})
		return
	}

	f, err := header.Open()
	if err != nil {
		h.logger.Warn("open uploaded file", "error", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": msgNoFile})
		return
	}
	defer func() { _ = f.Close() }()

	data, err := io.ReadAll(f)
	if err != nil {
		h.logger.Warn("read uploaded file", "error", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": msgNoFile})
		return
	}

	c.JSON(http.StatusOK, uploadResponse{
		Filename: header.Filename,
		Mimetype: header.Header.Get("Content-Type"),
		Size:     header.Size,
		Base64:   base64.StdEncoding.EncodeToString(data),
	})
}
