// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FusionAI Contributors

package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/fusionai/accountd/internal/auth"
	"github.com/fusionai/accountd/internal/config"
	"github.com/fusionai/accountd/internal/httpapi"
	"github.com/fusionai/accountd/internal/mail"
	"github.com/fusionai/accountd/pkg/errutil"
)

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the account API",
		Long: `Start the HTTP API for registration, verification, login and password
reset, plus the metrics and health server when metrics.addr is set.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runServeWithDeps(cmd.Context(), cfg, cmd, nil)
		},
	}
}

// newMailer returns the SMTP sender, or a logging sender when SMTP is off.
func newMailer(cfg *config.Config, logger *slog.Logger) (auth.Mailer, error) {
	if !cfg.SMTP.Enabled {
		logger.Warn("smtp disabled, one-time codes will be written to the log")
		return mail.NewLogSender(logger), nil
	}
	return mail.NewSMTPSender(mail.SMTPConfig{
		Host:               cfg.SMTP.Host,
		Port:               cfg.SMTP.Port,
		Username:           cfg.SMTP.Username,
		Password:           cfg.SMTP.Password,
		From:               cfg.SMTP.From,
		InsecureSkipVerify: cfg.SMTP.InsecureSkipVerify,
	})
}

// buildLifecycle assembles the account lifecycle over the opened stores.
func buildLifecycle(cfg *config.Config, b *backends, recorder auth.Recorder, logger *slog.Logger) (*auth.Lifecycle, *auth.CodeLedger, error) {
	hasher, err := auth.NewHasher(cfg.Hashing.Algorithm, cfg.Hashing.Cost)
	if err != nil {
		return nil, nil, err
	}
	ledger, err := auth.NewCodeLedger(b.codes, cfg.Codes.TTL)
	if err != nil {
		return nil, nil, err
	}
	sessions, err := auth.NewSessionIssuer(cfg.Token.Secret, cfg.Token.TTL, auth.WithIssuer(cfg.Token.Issuer))
	if err != nil {
		return nil, nil, err
	}
	policy, err := auth.NewRegistrationPolicy(cfg.Registration.Policy, b.accounts, ledger)
	if err != nil {
		return nil, nil, err
	}
	mailer, err := newMailer(cfg, logger)
	if err != nil {
		return nil, nil, err
	}

	lifecycle, err := auth.NewLifecycle(auth.LifecycleConfig{
		Accounts:             b.accounts,
		Codes:                ledger,
		Hasher:               hasher,
		Sessions:             sessions,
		Mailer:               mailer,
		Policy:               policy,
		Logger:               logger,
		Recorder:             recorder,
		DiscloseUnknownEmail: cfg.Registration.DiscloseUnknownEmail,
		MailTimeout:          cfg.SMTP.Timeout,
	})
	if err != nil {
		return nil, nil, err
	}
	return lifecycle, ledger, nil
}

// runServeWithDeps starts the service with injectable dependencies and
// blocks until a signal arrives, ctx ends or a server fails.
func runServeWithDeps(ctx context.Context, cfg *config.Config, cmd *cobra.Command, deps *ServeDeps) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := setupLogger(cmd, cfg)
	if err != nil {
		return err
	}
	deps = withDefaults(deps, logger)

	logger.Info("starting accountd",
		"addr", cfg.Server.Addr,
		"storage", cfg.Storage.Backend,
		"code_store", cfg.CodeStore(),
		"registration_policy", cfg.Registration.Policy,
	)

	if usesPostgres(cfg) && cfg.Database.AutoMigrate {
		if err := runAutoMigration(cfg.Database.URL, deps.MigratorFactory); err != nil {
			return err
		}
	}

	b, err := openBackends(ctx, cfg, deps)
	if err != nil {
		return err
	}
	defer b.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var recorder auth.Recorder
	var obsServer ObservabilityServer
	if cfg.Metrics.Addr != "" {
		obsServer = deps.ObservabilityServerFactory(cfg.Metrics.Addr, logger, b.checks...)
		recorder = obsServer.Metrics()
	}

	lifecycle, ledger, err := buildLifecycle(cfg, b, recorder, logger)
	if err != nil {
		return oops.Code("SERVE_INIT_FAILED").Wrap(err)
	}

	router := httpapi.NewRouter(lifecycle, httpapi.Options{
		Logger:         logger,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		UploadMaxBytes: cfg.Upload.MaxBytes,
		ChatUpstream:   cfg.Chat.Upstream,
		ChatClient:     &http.Client{Timeout: cfg.Chat.Timeout},
	})
	apiServer := deps.HTTPServerFactory(cfg.Server.Addr, router, logger)
	apiErrChan, err := apiServer.Start()
	if err != nil {
		return err
	}
	go monitorServerErrors(ctx, cancel, apiErrChan, "api", logger)

	if obsServer != nil {
		obsErrChan, err := obsServer.Start()
		if err != nil {
			stopCtx, stopCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer stopCancel()
			if stopErr := apiServer.Stop(stopCtx); stopErr != nil {
				logger.Warn("failed to stop api server during cleanup", "error", stopErr)
			}
			return err
		}
		go monitorServerErrors(ctx, cancel, obsErrChan, "observability", logger)
	}

	sweeperDone := make(chan struct{})
	go func() {
		defer close(sweeperDone)
		runCodeSweeper(ctx, ledger, cfg.Codes.PurgeInterval, logger)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	cmd.Println("accountd started")
	logger.Info("accountd ready", "addr", apiServer.Addr())

	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig)
	case <-ctx.Done():
		logger.Info("context cancelled, shutting down")
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := apiServer.Stop(shutdownCtx); err != nil {
		logger.Warn("error stopping api server", "error", err)
	}
	if obsServer != nil {
		if err := obsServer.Stop(shutdownCtx); err != nil {
			logger.Warn("error stopping observability server", "error", err)
		}
	}
	<-sweeperDone

	logger.Info("shutdown complete")
	return nil
}

// runCodeSweeper purges expired one-time codes every interval until ctx
// ends. A non-positive interval disables it.
func runCodeSweeper(ctx context.Context, ledger *auth.CodeLedger, interval time.Duration, logger *slog.Logger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := ledger.PurgeExpired(ctx)
			if err != nil {
				if ctx.Err() == nil {
					errutil.LogAt(logger, slog.LevelWarn, "code purge failed", err)
				}
				continue
			}
			if n > 0 {
				logger.Debug("purged expired codes", "count", n)
			}
		}
	}
}

// monitorServerErrors cancels ctx when a server reports a failure. It exits
// when the channel closes or ctx ends.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string, logger *slog.Logger) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			logger.Error("server error, triggering shutdown", "server", serverName, "error", err)
			cancel()
		}
	case <-ctx.Done():
	}
}
