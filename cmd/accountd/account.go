// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FusionAI Contributors

package main

import (
	"context"
	"errors"
	"log/slog"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/fusionai/accountd/internal/auth"
	"github.com/fusionai/accountd/internal/config"
)

// adminDeps is used by the account and codes commands. Tests replace it.
var adminDeps *ServeDeps

// openAdminBackends loads config and opens the stores for an operator
// command. durable rejects the in-memory backend, whose contents
// would vanish with the command.
func openAdminBackends(cmd *cobra.Command, durable func(*config.Config) bool) (*config.Config, *backends, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	if !durable(cfg) {
		return nil, nil, oops.Code("CONFIG_INVALID").
			With("storage", cfg.Storage.Backend).
			With("code_store", cfg.CodeStore()).
			Errorf("this command needs a persistent backend, not memory")
	}
	logger := slog.New(slog.DiscardHandler)
	if l, logErr := setupLogger(cmd, cfg); logErr == nil {
		logger = l
	}
	deps := withDefaults(adminDeps, logger)
	b, err := openBackends(cmdContext(cmd), cfg, deps)
	if err != nil {
		return nil, nil, err
	}
	return cfg, b, nil
}

func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func accountsDurable(cfg *config.Config) bool {
	return cfg.Storage.Backend == config.BackendPostgres
}

// NewAccountCmd creates the account command for operator maintenance.
func NewAccountCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Inspect and manage accounts",
	}

	var (
		email    string
		password string
		verified bool
	)
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an account without sending a verification email",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, b, err := openAdminBackends(cmd, accountsDurable)
			if err != nil {
				return err
			}
			defer b.Close()
			account, err := createAccount(cmdContext(cmd), cfg, b.accounts, email, password, verified)
			if err != nil {
				return err
			}
			cmd.Printf("Created account %s (%s)\n", account.Email, account.ID)
			return nil
		},
	}
	create.Flags().StringVar(&email, "email", "", "account email")
	create.Flags().StringVar(&password, "password", "", "initial password")
	create.Flags().BoolVar(&verified, "verified", true, "mark the email as verified")
	_ = create.MarkFlagRequired("email")
	_ = create.MarkFlagRequired("password")

	cmd.AddCommand(
		create,
		&cobra.Command{
			Use:   "verify EMAIL",
			Short: "Mark an account's email as verified",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				_, b, err := openAdminBackends(cmd, accountsDurable)
				if err != nil {
					return err
				}
				defer b.Close()
				if _, err := b.accounts.SetVerified(cmdContext(cmd), args[0]); err != nil {
					return err
				}
				cmd.Printf("Verified %s\n", args[0])
				return nil
			},
		},
		&cobra.Command{
			Use:   "show EMAIL",
			Short: "Show an account",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				_, b, err := openAdminBackends(cmd, accountsDurable)
				if err != nil {
					return err
				}
				defer b.Close()
				account, err := b.accounts.Find(cmdContext(cmd), args[0])
				if err != nil {
					return err
				}
				cmd.Printf("ID:       %s\nEmail:    %s\nVerified: %t\nCreated:  %s\n",
					account.ID, account.Email, account.Verified, account.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"))
				return nil
			},
		},
	)
	return cmd
}

// createAccount hashes password with the configured algorithm and stores a
// new account.
func createAccount(ctx context.Context, cfg *config.Config, accounts auth.CredentialStore, email, password string, verified bool) (*auth.Account, error) {
	if email == "" || password == "" {
		return nil, oops.Code("ACCOUNT_INVALID_INPUT").Errorf("email and password are required")
	}
	hasher, err := auth.NewHasher(cfg.Hashing.Algorithm, cfg.Hashing.Cost)
	if err != nil {
		return nil, err
	}
	hash, err := hasher.Hash(password)
	if err != nil {
		return nil, oops.Code("ACCOUNT_HASH_FAILED").Wrap(err)
	}
	account, err := auth.NewAccount(email, hash, verified)
	if err != nil {
		return nil, err
	}
	if err := accounts.Create(ctx, account); err != nil {
		if errors.Is(err, auth.ErrAlreadyExists) {
			return nil, oops.With("email", email).Hint("use account verify for an existing account").Wrap(err)
		}
		return nil, err
	}
	return account, nil
}
