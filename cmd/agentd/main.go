// Package main is the CLI entry point for agentd: it loads the declarative
// agent/model/tool-server configuration, wires the Agent Registry, Task
// Scheduler, and Session Hub, and serves the HTTP/WebSocket surfaces
// described in spec §6.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	root := buildRootCmd()
	if err := root.Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "agentd",
		Short:        "agentd - agent execution core",
		Version:      fmt.Sprintf("%s (%s)", version, commit),
		SilenceUsage: true,
	}
	cmd.AddCommand(buildServeCmd(), buildMigrateCmd())
	return cmd
}
