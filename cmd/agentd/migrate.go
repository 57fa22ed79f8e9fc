package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/coreforge/agentd/internal/config"
)

// buildMigrateCmd creates a Task Store schema check: opening either back-end
// applies its CREATE TABLE IF NOT EXISTS schema, so "migrate" here confirms
// the configured database is reachable and current.
func buildMigrateCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the task store schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			store, err := openTaskStore(cfg.Scheduler)
			if err != nil {
				return fmt.Errorf("open task store: %w", err)
			}
			defer store.Close()
			fmt.Fprintln(cmd.OutOrStdout(), "task store schema is current")
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to YAML configuration file")
	return cmd
}
