package main

import (
	"github.com/spf13/cobra"

	"github.com/haasonsaas/tgassist/internal/tools/toolserver"
)

// buildMcpCmd creates the "mcp" command group that runs the bundled tool
// servers.
func buildMcpCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Run a bundled MCP tool server",
		Long: `Run one of the bundled MCP tool servers.

Each server speaks MCP over streamable HTTP (default) or stdio, so the bot
can reach it by URL or start it as a subprocess.`,
	}
	cmd.AddCommand(
		buildMcpServerCmd("calendar", "Google Calendar tools", ":8001", runMcpCalendar),
		buildMcpServerCmd("mail", "SMTP/IMAP mail tools", ":8002", runMcpMail),
		buildMcpServerCmd("sheet", "Google Sheets tools", ":8003", runMcpSheet),
	)
	return cmd
}

type mcpServerFunc func(cmd *cobra.Command, opts toolserver.Options) error

func buildMcpServerCmd(name, short, defaultAddr string, run mcpServerFunc) *cobra.Command {
	var opts toolserver.Options
	cmd := &cobra.Command{
		Use:   name,
		Short: short,
		Example: "  tgassist mcp " + name + " --addr " + defaultAddr + `
  tgassist mcp ` + name + " --transport stdio",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.Transport, "transport", toolserver.TransportHTTP, "Transport: http or stdio")
	cmd.Flags().StringVar(&opts.Addr, "addr", defaultAddr, "Listen address for the http transport")
	return cmd
}
