package main

import (
	"github.com/spf13/cobra"

	"github.com/haasonsaas/livelink/internal/config"
)

// =============================================================================
// Chat Command
// =============================================================================

type chatOptions struct {
	configPath     string
	key            string
	conversationID string
	userID         string
	recipient      string
	admin          bool
	textOnly       bool
	debug          bool
}

// buildChatCmd creates the "chat" command that runs one session over stdin.
func buildChatCmd() *cobra.Command {
	var opts chatOptions

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Open a live session and chat over stdin",
		Long: `Open a live session and send each stdin line as a user turn.

Transcripts and text output are printed as they arrive. The session
reconnects on its own at the service time limit and after drops; the
conversation log and summary carry over. Ctrl-D or Ctrl-C ends the session
and persists its state.`,
		Example: `  # Chat with the default profile
  livelink chat

  # Resume a named conversation with the phone profile limits
  livelink chat --key phone:+15551234567 --config phone.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout(), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.configPath, "config", "c", config.DefaultConfigPath(), "Path to configuration file")
	cmd.Flags().StringVar(&opts.key, "key", "", "Continuity key (defaults to the conversation id)")
	cmd.Flags().StringVar(&opts.conversationID, "conversation", "cli", "Conversation id")
	cmd.Flags().StringVar(&opts.userID, "user", "cli", "User id used for permission checks")
	cmd.Flags().StringVar(&opts.recipient, "recipient", "", "Side channel recipient (defaults to the configured chat)")
	cmd.Flags().BoolVar(&opts.admin, "admin", false, "Treat the caller as an admin")
	cmd.Flags().BoolVar(&opts.textOnly, "text", false, "Request text responses instead of audio")
	cmd.Flags().BoolVarP(&opts.debug, "debug", "d", false, "Enable debug logging")

	return cmd
}

// =============================================================================
// Continuity Commands
// =============================================================================

// buildContinuityCmd creates the "continuity" command group.
func buildContinuityCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "continuity",
		Short: "Inspect and maintain persisted conversation state",
	}
	cmd.AddCommand(buildContinuityShowCmd(), buildContinuityListCmd(), buildContinuitySweepCmd())
	return cmd
}

func buildContinuityShowCmd() *cobra.Command {
	var (
		configPath string
		asJSON     bool
	)
	cmd := &cobra.Command{
		Use:   "show <key>",
		Short: "Print the stored log and summary for a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runContinuityShow(cmd.Context(), cmd.OutOrStdout(), configPath, args[0], asJSON)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultConfigPath(), "Path to configuration file")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the raw snapshot as JSON")
	return cmd
}

func buildContinuityListCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored continuity keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runContinuityList(cmd.Context(), cmd.OutOrStdout(), configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultConfigPath(), "Path to configuration file")
	return cmd
}

func buildContinuitySweepCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Delete snapshots older than the staleness window",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runContinuitySweep(cmd.Context(), cmd.OutOrStdout(), configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultConfigPath(), "Path to configuration file")
	return cmd
}

// =============================================================================
// Config Commands
// =============================================================================

// buildConfigCmd creates the "config" command group.
func buildConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Validate configuration and print its schema",
	}
	cmd.AddCommand(buildConfigValidateCmd(), buildConfigSchemaCmd())
	return cmd
}

func buildConfigValidateCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Load, default and validate a configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigValidate(cmd.OutOrStdout(), configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultConfigPath(), "Path to configuration file")
	return cmd
}

func buildConfigSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON Schema of the configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigSchema(cmd.OutOrStdout())
		},
	}
}
