package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/tgassist/internal/agent"
	"github.com/haasonsaas/tgassist/internal/mcp"
)

// buildToolsCmd creates the "tools" command that shows what the agent sees.
func buildToolsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List the tools exposed to the agent",
		Long: `Connect to the configured MCP servers and print the flattened tool list
with the namespaced names the agent uses, plus each server's status.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTools(cmd)
		},
	}
	cmd.AddCommand(buildToolsCallCmd())
	return cmd
}

func buildToolsCallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "call <server.tool|tool> [json-args]",
		Short: "Invoke a tool directly",
		Example: `  tgassist tools call calendar.list_today_events
  tgassist tools call get_data '{"spreadsheet_url":"https://...","range":"A1:B2"}'`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw := "{}"
			if len(args) == 2 {
				raw = args[1]
			}
			if !json.Valid([]byte(raw)) {
				return fmt.Errorf("arguments must be a JSON object")
			}
			mgr, err := connectMCP(cmd)
			if err != nil {
				return err
			}
			defer stopMCPManager(mgr)

			result, err := mgr.Invoke(cmd.Context(), args[0], json.RawMessage(raw))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if result.IsError {
				fmt.Fprint(out, "error: ")
			}
			fmt.Fprintln(out, result.Text())
			return nil
		},
	}
}

func connectMCP(cmd *cobra.Command) (*mcp.Manager, error) {
	cfg, logger, err := loadConfig()
	if err != nil {
		return nil, err
	}
	mgr := mcp.NewManager(cfg.MCP.Servers, logger)
	if err := mgr.Start(cmd.Context()); err != nil {
		stopMCPManager(mgr)
		return nil, err
	}
	return mgr, nil
}

func runTools(cmd *cobra.Command) error {
	mgr, err := connectMCP(cmd)
	if err != nil {
		return err
	}
	defer stopMCPManager(mgr)

	registry := agent.NewToolRegistry()
	bridges, regErr := mcp.RegisterTools(registry, mgr)

	out := cmd.OutOrStdout()
	printServerStatus(out, mgr.Status())
	if len(bridges) == 0 {
		fmt.Fprintln(out, "No tools available.")
	} else {
		sort.Slice(bridges, func(i, j int) bool { return bridges[i].Name() < bridges[j].Name() })
		fmt.Fprintln(out, "Tools:")
		for _, b := range bridges {
			fmt.Fprintf(out, "  - %s (%s): %s\n", b.Name(), b.Canonical(), b.Description())
		}
	}
	return regErr
}

func printServerStatus(out io.Writer, statuses []mcp.ServerStatus) {
	if len(statuses) == 0 {
		fmt.Fprintln(out, "No MCP servers configured.")
		return
	}
	fmt.Fprintln(out, "MCP Servers:")
	for _, status := range statuses {
		state := "disconnected"
		if status.Connected {
			state = "connected"
		}
		fmt.Fprintf(out, "  %s - %s", status.ID, state)
		if status.Connected {
			fmt.Fprintf(out, " (%d tools)", status.Tools)
		} else if status.LastError != "" {
			fmt.Fprintf(out, " (%s)", status.LastError)
		}
		fmt.Fprintln(out)
	}
}
