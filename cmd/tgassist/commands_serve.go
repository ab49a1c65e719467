package main

import (
	"github.com/spf13/cobra"
)

// buildServeCmd creates the "serve" command that runs the bot.
func buildServeCmd() *cobra.Command {
	var debug bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Telegram bot",
		Long: `Start the Telegram bot with the configured tool servers and LLM.

The server will:
1. Load configuration from the specified file (or the environment)
2. Connect to the calendar, mail and sheet MCP servers
3. Open the knowledge base and conversation memory
4. Receive Telegram updates by long polling or webhook

Graceful shutdown is handled on SIGINT/SIGTERM signals.`,
		Example: `  # Start with default config
  tgassist serve

  # Start with custom config
  tgassist serve --config /etc/tgassist/production.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), debug)
		},
	}
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}
