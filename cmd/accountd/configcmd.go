// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FusionAI Contributors

package main

import (
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/fusionai/accountd/internal/config"
)

// NewConfigCmd creates the config command.
func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "schema",
			Short: "Print the JSON Schema for the config file",
			Long: `Print the JSON Schema that config files are validated against. Point
an editor's YAML language server at it for completion.`,
			RunE: func(cmd *cobra.Command, _ []string) error {
				data, err := config.GenerateSchema()
				if err != nil {
					return err
				}
				cmd.Println(string(data))
				return nil
			},
		},
		&cobra.Command{
			Use:   "validate",
			Short: "Check the effective configuration without starting the server",
			Long: `Load the config file, environment and flags, then run the same checks
serve does. Exits non-zero on the first problem.

Useful in CI pipelines and deploy hooks:
  accountd config validate --config /etc/accountd.yaml`,
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, err := loadConfig(cmd)
				if err != nil {
					return err
				}
				if err := cfg.Validate(); err != nil {
					if o, ok := oops.AsOops(err); ok && o.Hint() != "" {
						cmd.PrintErrln("hint:", o.Hint())
					}
					return err
				}
				cmd.Printf("configuration valid (storage=%s, codes=%s, policy=%s)\n",
					cfg.Storage.Backend, cfg.CodeStore(), cfg.Registration.Policy)
				return nil
			},
		},
	)
	return cmd
}
