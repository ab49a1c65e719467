package mcp

import (
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func TestParseTransport(t *testing.T) {
	tests := []struct {
		in      string
		want    TransportType
		wantErr bool
	}{
		{in: "", want: ""},
		{in: "stdio", want: TransportStdio},
		{in: "http", want: TransportHTTP},
		{in: "streamable_http", want: TransportHTTP},
		{in: " SSE ", want: TransportHTTP},
		{in: "websocket", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseTransport(tt.in)
		if (err != nil) != tt.wantErr {
			t.Fatalf("ParseTransport(%q) error = %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseTransport(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestServerConfigYAML(t *testing.T) {
	var cfg ServerConfig
	doc := "id: calendar\ntransport: streamable_http\nurl: http://localhost:8001/mcp\ntimeout: 15s\n"
	if err := yaml.Unmarshal([]byte(doc), &cfg); err != nil {
		t.Fatalf("yaml.Unmarshal() error = %v", err)
	}
	if cfg.Transport != TransportHTTP || cfg.RequestTimeout() != 15*time.Second {
		t.Fatalf("unexpected config %+v", cfg)
	}
}

func TestServerConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ServerConfig
		wantErr string
	}{
		{name: "valid http", cfg: ServerConfig{ID: "calendar", URL: "https://example.com/mcp"}},
		{name: "valid stdio", cfg: ServerConfig{ID: "mail", Command: "tgassist", Args: []string{"mcp", "mail"}}},
		{name: "missing id", cfg: ServerConfig{URL: "http://x"}, wantErr: "server ID is required"},
		{name: "bad scheme", cfg: ServerConfig{ID: "a", Transport: TransportHTTP, URL: "ftp://x"}, wantErr: "http:// or https://"},
		{name: "missing command", cfg: ServerConfig{ID: "a", Transport: TransportStdio}, wantErr: "command is required"},
		{name: "traversal", cfg: ServerConfig{ID: "a", Command: "../bin/server"}, wantErr: "path traversal"},
		{name: "shell chaining", cfg: ServerConfig{ID: "a", Command: "server", Args: []string{"x; rm -rf /"}}, wantErr: "metacharacters"},
		{name: "negative timeout", cfg: ServerConfig{ID: "a", URL: "http://x", Timeout: -time.Second}, wantErr: "timeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestServerConfigDefaults(t *testing.T) {
	cfg := ServerConfig{ID: "a"}
	if cfg.Configured() {
		t.Fatal("empty endpoint must not count as configured")
	}
	if cfg.RequestTimeout() != DefaultTimeout {
		t.Fatalf("unexpected default timeout %s", cfg.RequestTimeout())
	}
	if cfg.EffectiveTransport() != TransportStdio {
		t.Fatalf("unexpected default transport %q", cfg.EffectiveTransport())
	}
}

func TestToolCallResultText(t *testing.T) {
	result := &ToolCallResult{Content: []ToolResultContent{
		{Type: "text", Text: "line one"},
		{Type: "image", MimeType: "image/png"},
		{Type: "text", Text: "line two"},
	}}
	want := "line one\n[image content: image/png]\nline two"
	if got := result.Text(); got != want {
		t.Fatalf("Text() = %q, want %q", got, want)
	}
	var nilResult *ToolCallResult
	if nilResult.Text() != "" {
		t.Fatal("nil result must render empty")
	}
}

func TestJSONRPCErrorMessage(t *testing.T) {
	err := &JSONRPCError{Code: ErrCodeInvalidParams, Message: "missing query"}
	if err.Error() != "MCP error -32602: missing query" {
		t.Fatalf("unexpected message %q", err.Error())
	}
}
