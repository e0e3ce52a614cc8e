// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FusionAI Contributors

// Package httpapi exposes the account lifecycle over HTTP/JSON.
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/fusionai/accountd/internal/auth"
)

// DefaultUploadMaxBytes caps multipart uploads when no limit is configured.
const DefaultUploadMaxBytes int64 = 10 << 20

// AccountService is the lifecycle surface the HTTP layer drives.
type AccountService interface {
	Register(ctx context.Context, email, password string) (*auth.Result, error)
	Verify(ctx context.Context, email, code string) (*auth.Result, error)
	ResendVerification(ctx context.Context, email string) (*auth.Result, error)
	Login(ctx context.Context, email, password string) (*auth.LoginResult, error)
	ForgotPassword(ctx context.Context, email string) (*auth.Result, error)
	ResetPassword(ctx context.Context, email, code, newPassword string) (*auth.Result, error)
	Authenticate(ctx context.Context, token string) (*auth.SessionClaims, error)
}

var _ AccountService = (*auth.Lifecycle)(nil)

// Options configures the router.
type Options struct {
	Logger *slog.Logger
	// AllowedOrigins lists CORS origins. "*" or an empty list allows any origin.
	AllowedOrigins []string
	UploadMaxBytes int64
	// ChatUpstream is the URL /api/chat forwards prompts to. Empty disables chat.
	ChatUpstream string
	ChatClient   *http.Client
}

// Handler serves the /api routes.
type Handler struct {
	accounts AccountService
	logger   *slog.Logger
	maxBytes int64
	chat     *chatProxy
}

// NewHandler creates a Handler.
func NewHandler(accounts AccountService, opts Options) *Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxBytes := opts.UploadMaxBytes
	if maxBytes <= 0 {
		maxBytes = DefaultUploadMaxBytes
	}
	h := &Handler{
		accounts: accounts,
		logger:   logger,
		maxBytes: maxBytes,
	}
	if opts.ChatUpstream != "" {
		h.chat = newChatProxy(opts.ChatUpstream, opts.ChatClient)
	}
	return h
}

// NewRouter builds the gin engine with middleware and every route registered.
func NewRouter(accounts AccountService, opts Options) *gin.Engine {
	h := NewHandler(accounts, opts)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(h.logger))
	r.Use(cors.New(corsConfig(opts.AllowedOrigins)))

	h.Mount(r)
	return r
}

// Mount registers the routes on r.
func (h *Handler) Mount(r gin.IRouter) {
	api := r.Group("/api")

	api.POST("/register", h.register)
	api.POST("/verify", h.verify)
	api.POST("/resend-verification", h.resendVerification)
	api.POST("/login", h.login)
	api.POST("/forgot-password", h.forgotPassword)
	api.POST("/reset-password", h.resetPassword)

	protected := api.Group("", requireSession(h.accounts))
	protected.GET("/me", h.me)
	protected.POST("/upload", h.upload)
	protected.POST("/chat", h.chatPrompt)
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	allowAll := len(origins) == 0
	for _, o := range origins {
		if o == "*" {
			allowAll = true
		}
	}
	if allowAll {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cfg
}

// StatusFor maps a lifecycle error to its HTTP status.
func StatusFor(err error) int {
	switch auth.KindOf(err) {
	case auth.KindValidation, auth.KindConflict, auth.KindAuth, auth.KindCode:
		return http.StatusBadRequest
	case auth.KindToken:
		if errors.Is(err, auth.ErrTokenMissing) {
			return http.StatusUnauthorized
		}
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func abortWithError(c *gin.Context, err error) {
	c.AbortWithStatusJSON(StatusFor(err), gin.H{"error": auth.PublicMessage(err)})
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type verifyRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

type emailRequest struct {
	Email string `json:"email"`
}

type resetRequest struct {
	Email       string `json:"email"`
	Code        string `json:"code"`
	NewPassword string `json:"newPassword"`
}

// bind decodes the JSON body into req. A malformed body leaves req zeroed so
// the lifecycle reports the operation's missing-fields message.
func bind[T any](c *gin.Context, req *T) {
	if err := c.ShouldBindJSON(req); err != nil {
		var zero T
		*req = zero
	}
}

func (h *Handler) register(c *gin.Context) {
	var req credentialsRequest
	bind(c, &req)
	res, err := h.accounts.Register(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) verify(c *gin.Context) {
	var req verifyRequest
	bind(c, &req)
	res, err := h.accounts.Verify(c.Request.Context(), req.Email, req.Code)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) resendVerification(c *gin.Context) {
	var req emailRequest
	bind(c, &req)
	res, err := h.accounts.ResendVerification(c.Request.Context(), req.Email)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) login(c *gin.Context) {
	var req credentialsRequest
	bind(c, &req)
	res, err := h.accounts.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) forgotPassword(c *gin.Context) {
	var req emailRequest
	bind(c, &req)
	res, err := h.accounts.ForgotPassword(c.Request.Context(), req.Email)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) resetPassword(c *gin.Context) {
	var req resetRequest
	bind(c, &req)
	res, err := h.accounts.ResetPassword(c.Request.Context(), req.Email, req.Code, req.NewPassword)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) me(c *gin.Context) {
	claims := sessionFrom(c)
	c.JSON(http.StatusOK, gin.H{
		"email":     claims.Email,
		"expiresAt": claims.ExpiresAt.Time,
	})
}
