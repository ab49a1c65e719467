package main

import (
	"context"
	"testing"

	"github.com/haasonsaas/tgassist/internal/config"
	"github.com/haasonsaas/tgassist/internal/googleauth"
	"github.com/haasonsaas/tgassist/internal/rag/embeddings"
	"github.com/haasonsaas/tgassist/internal/sessions"
)

func TestBuildRootCmdIncludesSubcommands(t *testing.T) {
	cmd := buildRootCmd()
	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}

	for _, name := range []string{"serve", "mcp", "ingest", "bot", "auth", "tools", "config"} {
		if !names[name] {
			t.Fatalf("expected subcommand %q to be registered", name)
		}
	}
}

func TestMcpCmdHasToolServers(t *testing.T) {
	cmd := buildMcpCmd()
	addrs := map[string]string{}
	for _, sub := range cmd.Commands() {
		addrs[sub.Name()] = sub.Flags().Lookup("addr").DefValue
	}
	want := map[string]string{"calendar": ":8001", "mail": ":8002", "sheet": ":8003"}
	for name, addr := range want {
		if addrs[name] != addr {
			t.Errorf("mcp %s addr = %q, want %q", name, addrs[name], addr)
		}
	}
}

func TestResolveScopes(t *testing.T) {
	got, err := resolveScopes([]string{"Calendar", " sheets "})
	if err != nil {
		t.Fatalf("resolveScopes() error = %v", err)
	}
	if len(got) != 2 || got[0] != googleauth.ScopeCalendar || got[1] != googleauth.ScopeSheets {
		t.Errorf("resolveScopes() = %v", got)
	}
	if _, err := resolveScopes([]string{"drive"}); err == nil {
		t.Error("expected error for unknown scope")
	}
}

func TestNewSessionStoreMemory(t *testing.T) {
	store, err := newSessionStore(context.Background(), config.MemoryConfig{Backend: config.MemoryBackendMemory, MaxTurns: 4})
	if err != nil {
		t.Fatalf("newSessionStore() error = %v", err)
	}
	defer store.Close()
	if _, ok := store.(*sessions.MemoryStore); !ok {
		t.Errorf("store = %T", store)
	}

	if _, err := newSessionStore(context.Background(), config.MemoryConfig{Backend: "floppy"}); err == nil {
		t.Error("expected error for unknown backend")
	}
}

func TestNewSessionStoreSQLite(t *testing.T) {
	path := t.TempDir() + "/sessions.db"
	store, err := newSessionStore(context.Background(), config.MemoryConfig{
		Backend: config.MemoryBackendSQLite,
		SQLite:  config.SQLiteConfig{Path: path},
	})
	if err != nil {
		t.Fatalf("newSessionStore() error = %v", err)
	}
	store.Close()
}

func TestProviderFactories(t *testing.T) {
	if _, err := newLLMProvider(config.LLMConfig{Provider: "carrier"}); err == nil {
		t.Error("expected error for unknown llm provider")
	}
	p, err := newLLMProvider(config.LLMConfig{Provider: "openai", APIKey: "sk-test"})
	if err != nil {
		t.Fatalf("newLLMProvider() error = %v", err)
	}
	if p.Name() != "mistral" {
		t.Errorf("provider name = %q", p.Name())
	}

	if _, err := newEmbedder(embeddings.Config{Provider: "magic"}); err == nil {
		t.Error("expected error for unknown embeddings provider")
	}
	e, err := newEmbedder(embeddings.Config{Provider: "ollama", Dimension: 768})
	if err != nil {
		t.Fatalf("newEmbedder() error = %v", err)
	}
	if e.Dimension() != 768 {
		t.Errorf("dimension = %d", e.Dimension())
	}
}

func TestLoadLocation(t *testing.T) {
	if _, err := loadLocation("Not/AZone"); err == nil {
		t.Error("expected error for unknown timezone")
	}
	loc, err := loadLocation("UTC")
	if err != nil || loc.String() != "UTC" {
		t.Errorf("loadLocation(UTC) = %v, %v", loc, err)
	}
}
