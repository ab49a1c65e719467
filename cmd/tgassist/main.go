// Package main provides the CLI entry point for tgassist, a Telegram
// assistant that answers through an LLM agent with calendar, mail, sheet and
// knowledge-base tools.
//
// # Basic Usage
//
// Start the bot:
//
//	tgassist serve --config tgassist.yaml
//
// Run a tool server:
//
//	tgassist mcp calendar --transport http --addr :8001
//
// Load documents into the knowledge base:
//
//	tgassist ingest handbook.pdf
//
// # Environment Variables
//
// Without a config file the settings are read from the environment (a .env
// file in the working directory is loaded first):
//
//   - TELEGRAM_BOT_TOKEN: Telegram bot token
//   - MISTRAL_API_KEY or LLM_API_KEY: LLM API key
//   - MCP_CALENDAR_URL, MCP_MAIL_URL, MCP_SHEET_URL: tool server endpoints
//   - REDIS_URL: conversation memory
//   - QDRANT_URL: knowledge base
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/tgassist/internal/config"
	"github.com/haasonsaas/tgassist/internal/observability"
)

// Build information - populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// Persistent flags.
var (
	configPath string
	envFiles   []string
)

const defaultConfigPath = "tgassist.yaml"

func main() {
	slog.SetDefault(observability.NewLogger(observability.LogConfig{
		Level:  "info",
		Format: "json",
		Output: os.Stderr,
	}))

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "tgassist",
		Short: "tgassist - Telegram assistant with MCP tools",
		Long: `tgassist connects a Telegram bot to an LLM agent.

The agent can use the calendar, mail and sheet tool servers over MCP and
search a knowledge base of ingested documents.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return config.LoadDotEnv(envFiles...)
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", envOr("TGASSIST_CONFIG", defaultConfigPath),
		"Path to YAML configuration file (environment variables are used when it does not exist)")
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", nil,
		"Additional .env files to load (default: .env)")

	rootCmd.AddCommand(
		buildServeCmd(),
		buildMcpCmd(),
		buildIngestCmd(),
		buildBotCmd(),
		buildAuthCmd(),
		buildToolsCmd(),
		buildConfigCmd(),
	)
	return rootCmd
}

// loadConfig reads the configuration and installs the configured logger as
// the default.
func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.LoadOrEnv(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger := observability.NewLogger(observability.LogConfig{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Output:    os.Stderr,
		AddSource: cfg.Logging.AddSource,
	})
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
