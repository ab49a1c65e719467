package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/tgassist/internal/channels/telegram"
)

// buildBotCmd creates the "bot" command group for Telegram bot settings.
func buildBotCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bot",
		Short: "Manage the Telegram bot",
	}
	cmd.AddCommand(buildBotCommandsCmd())
	return cmd
}

func buildBotCommandsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "commands",
		Short: "Register the bot command menu with Telegram",
		Long: `Register the /help, /health and /today commands with Telegram so
clients show them in the command menu.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Telegram.Token == "" {
				return fmt.Errorf("telegram.token is required")
			}
			client, err := telegram.NewBotClient(cfg.Telegram.Token)
			if err != nil {
				return fmt.Errorf("failed to connect to telegram: %w", err)
			}
			if err := telegram.SetCommands(cmd.Context(), client, nil); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Registered commands:")
			for _, c := range telegram.DefaultCommands {
				fmt.Fprintf(out, "  /%s - %s\n", c.Command, c.Description)
			}
			return nil
		},
	}
}
