// Package main provides the livelink CLI.
//
// livelink holds a live, bidirectional session with a real-time model
// service and keeps the conversation going across the service's connection
// limits and transient drops.
//
// # Basic Usage
//
// Chat over stdin:
//
//	livelink chat --config ~/.livelink/config.yaml
//
// Inspect persisted conversation state:
//
//	livelink continuity show phone:+15551234567
//	livelink continuity sweep
//
// Check a configuration file:
//
//	livelink config validate
//
// # Environment Variables
//
//   - LIVELINK_CONFIG: Path to configuration file (default: ~/.livelink/config.yaml)
//   - Any ${VAR} or ${VAR:-default} reference inside the configuration file
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information - populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "livelink",
		Short: "livelink - self-healing sessions with a live model service",
		Long: `livelink connects to a real-time model service over a duplex websocket,
routes tool calls to registered capabilities and carries the conversation
across reconnects with a persisted log and summary.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildChatCmd(),
		buildContinuityCmd(),
		buildConfigCmd(),
	)
	return rootCmd
}
