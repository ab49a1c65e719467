package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/tgassist/internal/googleauth"
)

// buildAuthCmd creates the "auth" command group.
func buildAuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Authorize access to external accounts",
	}
	cmd.AddCommand(buildAuthGoogleCmd())
	return cmd
}

func buildAuthGoogleCmd() *cobra.Command {
	var scopes []string

	cmd := &cobra.Command{
		Use:   "google",
		Short: "Run the Google OAuth consent flow",
		Long: `Open the Google consent page, wait for the redirect on a loopback port
and store the resulting token for the calendar and sheet tool servers.`,
		Example: `  tgassist auth google --scope calendar --scope sheets`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			oauthScopes, err := resolveScopes(scopes)
			if err != nil {
				return err
			}
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			oc, err := googleauth.OAuthConfig(cfg.ToolServers.Google, oauthScopes...)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			tok, err := googleauth.Authorize(cmd.Context(), oc, func(authURL string) {
				fmt.Fprintf(out, "Open this URL in a browser to authorize access:\n\n  %s\n\n", authURL)
			})
			if err != nil {
				return err
			}

			path := cfg.ToolServers.Google.TokenFile
			if path == "" {
				path = googleauth.DefaultTokenFile
			}
			if err := googleauth.SaveToken(path, tok); err != nil {
				return err
			}
			fmt.Fprintf(out, "Token saved to %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&scopes, "scope", []string{"calendar", "sheets"},
		"Scopes to request: "+strings.Join(scopeNames(), ", "))
	return cmd
}

func resolveScopes(names []string) ([]string, error) {
	out := make([]string, 0, len(names))
	for _, name := range names {
		scope, ok := googleauth.ScopeByName[strings.ToLower(strings.TrimSpace(name))]
		if !ok {
			return nil, fmt.Errorf("unknown scope %q (expected one of %s)", name, strings.Join(scopeNames(), ", "))
		}
		out = append(out, scope)
	}
	return out, nil
}

func scopeNames() []string {
	names := make([]string, 0, len(googleauth.ScopeByName))
	for name := range googleauth.ScopeByName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
