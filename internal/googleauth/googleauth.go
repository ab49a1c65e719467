// Package googleauth handles OAuth2 credentials for the Google APIs used by
// the calendar and sheet tool servers.
package googleauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// OAuth scopes.
const (
	ScopeCalendar = "https://www.googleapis.com/auth/calendar"
	ScopeSheets   = "https://www.googleapis.com/auth/spreadsheets"
)

// ErrNoToken is returned when no stored token exists yet.
var ErrNoToken = errors.New("googleauth: no stored token; run `tgassist auth google` first")

// ScopeByName maps CLI scope names to OAuth scopes.
var ScopeByName = map[string]string{
	"calendar": ScopeCalendar,
	"sheets":   ScopeSheets,
}

// Config locates the OAuth client and the stored token.
type Config struct {
	// CredentialsFile is a client secrets JSON downloaded from the Google
	// console. Used when ClientID is empty.
	CredentialsFile string `yaml:"credentials_file"`
	TokenFile       string `yaml:"token_file"`

	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
}

// Defaults.
const (
	DefaultCredentialsFile = "credentials.json"
	DefaultTokenFile       = "token.json"
)

func (c Config) withDefaults() Config {
	if c.CredentialsFile == "" {
		c.CredentialsFile = DefaultCredentialsFile
	}
	if c.TokenFile == "" {
		c.TokenFile = DefaultTokenFile
	}
	return c
}

// OAuthConfig builds the OAuth client configuration for the scopes.
func OAuthConfig(cfg Config, scopes ...string) (*oauth2.Config, error) {
	cfg = cfg.withDefaults()
	if strings.TrimSpace(cfg.ClientID) != "" {
		if strings.TrimSpace(cfg.ClientSecret) == "" {
			return nil, errors.New("googleauth: client secret is required with a client id")
		}
		return &oauth2.Config{
			ClientID:     strings.TrimSpace(cfg.ClientID),
			ClientSecret: strings.TrimSpace(cfg.ClientSecret),
			Endpoint:     google.Endpoint,
			Scopes:       scopes,
		}, nil
	}

	data, err := os.ReadFile(cfg.CredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("googleauth: read credentials: %w", err)
	}
	oc, err := google.ConfigFromJSON(data, scopes...)
	if err != nil {
		return nil, fmt.Errorf("googleauth: parse credentials: %w", err)
	}
	return oc, nil
}

// HTTPClient returns a client authorized with the stored token. Refreshed
// tokens are written back to the token file.
func HTTPClient(ctx context.Context, cfg Config, scopes ...string) (*http.Client, error) {
	cfg = cfg.withDefaults()
	oc, err := OAuthConfig(cfg, scopes...)
	if err != nil {
		return nil, err
	}
	tok, err := LoadToken(cfg.TokenFile)
	if err != nil {
		return nil, err
	}
	src := &savingTokenSource{
		base: oc.TokenSource(ctx, tok),
		path: cfg.TokenFile,
		last: tok.AccessToken,
	}
	return oauth2.NewClient(ctx, oauth2.ReuseTokenSource(tok, src)), nil
}

// savingTokenSource persists tokens whenever the access token changes.
type savingTokenSource struct {
	base oauth2.TokenSource
	path string

	mu   sync.Mutex
	last string
}

func (s *savingTokenSource) Token() (*oauth2.Token, error) {
	tok, err := s.base.Token()
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if tok.AccessToken != s.last {
		if err := SaveToken(s.path, tok); err != nil {
			return nil, err
		}
		s.last = tok.AccessToken
	}
	return tok, nil
}

// storedToken reads both oauth2.Token JSON and the authorized-user format
// written by Google's Python client ("token", "expiry").
type storedToken struct {
	AccessToken  string    `json:"access_token,omitempty"`
	Token        string    `json:"token,omitempty"`
	TokenType    string    `json:"token_type,omitempty"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	Expiry       time.Time `json:"expiry,omitempty"`
}

// LoadToken reads a stored token. A missing file yields ErrNoToken.
func LoadToken(path string) (*oauth2.Token, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoToken
	}
	if err != nil {
		return nil, fmt.Errorf("googleauth: read token: %w", err)
	}

	var st storedToken
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("googleauth: parse token: %w", err)
	}
	access := st.AccessToken
	if access == "" {
		access = st.Token
	}
	if access == "" && st.RefreshToken == "" {
		return nil, fmt.Errorf("googleauth: token file %s holds no token", path)
	}
	return &oauth2.Token{
		AccessToken:  access,
		TokenType:    st.TokenType,
		RefreshToken: st.RefreshToken,
		Expiry:       st.Expiry,
	}, nil
}

// SaveToken writes a token with owner-only permissions.
func SaveToken(path string, tok *oauth2.Token) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("googleauth: create token dir: %w", err)
		}
	}
	data, err := json.MarshalIndent(tok, "", "  ")
	if err != nil {
		return fmt.Errorf("googleauth: encode token: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("googleauth: write token: %w", err)
	}
	return nil
}
