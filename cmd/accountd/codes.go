// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FusionAI Contributors

package main

import (
	"github.com/spf13/cobra"

	"github.com/fusionai/accountd/internal/auth"
	"github.com/fusionai/accountd/internal/config"
)

func codesDurable(cfg *config.Config) bool {
	return cfg.CodeStore() != config.BackendMemory
}

// NewCodesCmd creates the codes command.
func NewCodesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "codes",
		Short: "Maintain one-time codes",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "purge",
		Short: "Delete expired one-time codes",
		Long: `Delete every expired verification and reset code. The server does this
periodically; run it by hand after a long outage.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, b, err := openAdminBackends(cmd, codesDurable)
			if err != nil {
				return err
			}
			defer b.Close()

			ledger, err := auth.NewCodeLedger(b.codes, cfg.Codes.TTL)
			if err != nil {
				return err
			}
			n, err := ledger.PurgeExpired(cmdContext(cmd))
			if err != nil {
				return err
			}
			cmd.Printf("Purged %d expired code(s)\n", n)
			return nil
		},
	})
	return cmd
}
