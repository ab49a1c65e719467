package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"google.golang.org/api/option"

	"github.com/haasonsaas/tgassist/internal/config"
	"github.com/haasonsaas/tgassist/internal/googleauth"
	"github.com/haasonsaas/tgassist/internal/tools/calendar"
	"github.com/haasonsaas/tgassist/internal/tools/mail"
	"github.com/haasonsaas/tgassist/internal/tools/sheet"
	"github.com/haasonsaas/tgassist/internal/tools/toolserver"
)

type mcpStopper interface {
	Stop() error
}

func stopMCPManager(mgr mcpStopper) {
	if mgr == nil {
		return
	}
	if err := mgr.Stop(); err != nil {
		slog.Warn("failed to stop MCP manager", "error", err)
	}
}

// runMcpCalendar serves the calendar tools backed by Google Calendar.
func runMcpCalendar(cmd *cobra.Command, opts toolserver.Options) error {
	return serveToolServer(cmd, opts, "calendar", func(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*server.MCPServer, error) {
		client, err := googleauth.HTTPClient(ctx, cfg.ToolServers.Google, googleauth.ScopeCalendar)
		if err != nil {
			return nil, err
		}
		backend, err := calendar.NewGoogleBackend(ctx, option.WithHTTPClient(client))
		if err != nil {
			return nil, err
		}
		return calendar.NewServer(backend, logger), nil
	})
}

// runMcpMail serves the mail tools backed by SMTP and IMAP.
func runMcpMail(cmd *cobra.Command, opts toolserver.Options) error {
	return serveToolServer(cmd, opts, "mail", func(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*server.MCPServer, error) {
		backend, err := mail.NewMailboxBackend(cfg.ToolServers.Mail)
		if err != nil {
			return nil, err
		}
		return mail.NewServer(backend, logger), nil
	})
}

// runMcpSheet serves the spreadsheet tools backed by Google Sheets.
func runMcpSheet(cmd *cobra.Command, opts toolserver.Options) error {
	return serveToolServer(cmd, opts, "sheet", func(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*server.MCPServer, error) {
		client, err := googleauth.HTTPClient(ctx, cfg.ToolServers.Google, googleauth.ScopeSheets)
		if err != nil {
			return nil, err
		}
		backend, err := sheet.NewGoogleBackend(ctx, option.WithHTTPClient(client))
		if err != nil {
			return nil, err
		}
		return sheet.NewServer(backend, logger), nil
	})
}

type serverFactory func(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*server.MCPServer, error)

// serveToolServer builds a tool server and serves it until a shutdown
// signal. Logs go to stderr, so stdout stays free for the stdio transport.
func serveToolServer(cmd *cobra.Command, opts toolserver.Options, name string, build serverFactory) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	logger = logger.With("server", name)
	srv, err := build(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to start %s server: %w", name, err)
	}
	opts.Logger = logger
	return toolserver.Serve(ctx, srv, opts)
}
