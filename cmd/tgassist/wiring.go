package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/haasonsaas/tgassist/internal/agent"
	"github.com/haasonsaas/tgassist/internal/agent/providers"
	"github.com/haasonsaas/tgassist/internal/config"
	"github.com/haasonsaas/tgassist/internal/rag/embeddings"
	"github.com/haasonsaas/tgassist/internal/rag/embeddings/ollama"
	"github.com/haasonsaas/tgassist/internal/rag/embeddings/openai"
	"github.com/haasonsaas/tgassist/internal/rag/store"
	"github.com/haasonsaas/tgassist/internal/sessions"
)

// newLLMProvider builds the configured chat completion provider.
func newLLMProvider(cfg config.LLMConfig) (agent.LLMProvider, error) {
	switch cfg.Provider {
	case "anthropic":
		return providers.NewAnthropicProvider(providers.AnthropicConfig{
			APIKey:       cfg.APIKey,
			BaseURL:      cfg.BaseURL,
			MaxRetries:   cfg.MaxRetries,
			DefaultModel: cfg.Model,
		})
	case "openai", "":
		name := "openai"
		if cfg.BaseURL == "" || cfg.BaseURL == providers.MistralBaseURL {
			name = "mistral"
		}
		return providers.NewOpenAIProvider(providers.OpenAIConfig{
			Name:         name,
			APIKey:       cfg.APIKey,
			BaseURL:      cfg.BaseURL,
			DefaultModel: cfg.Model,
			MaxRetries:   cfg.MaxRetries,
		})
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}

// newEmbedder builds the configured embedding provider.
func newEmbedder(cfg embeddings.Config) (embeddings.Provider, error) {
	switch cfg.Provider {
	case "ollama":
		return ollama.New(ollama.Config{
			BaseURL:   cfg.BaseURL,
			Model:     cfg.Model,
			Dimension: cfg.Dimension,
		})
	case "openai", "":
		return openai.New(openai.Config{
			APIKey:    cfg.APIKey,
			BaseURL:   cfg.BaseURL,
			Model:     cfg.Model,
			Dimension: cfg.Dimension,
		})
	default:
		return nil, fmt.Errorf("unknown embeddings provider %q", cfg.Provider)
	}
}

// newVectorStore opens Qdrant when a URL is configured and falls back to an
// in-process index otherwise. The collection is created when missing.
func newVectorStore(ctx context.Context, cfg config.KnowledgeBaseConfig, dimension int, logger *slog.Logger) (store.VectorStore, error) {
	var vs store.VectorStore
	if cfg.QdrantURL == "" {
		logger.Warn("no qdrant_url configured, using in-memory knowledge base")
		vs = store.NewMemoryStore()
	} else {
		qs, err := store.NewQdrantStore(store.QdrantConfig{
			URL:        cfg.QdrantURL,
			APIKey:     cfg.QdrantAPIKey,
			Collection: cfg.Collection,
		})
		if err != nil {
			return nil, err
		}
		vs = qs
	}
	if err := vs.EnsureCollection(ctx, dimension); err != nil {
		_ = vs.Close()
		return nil, fmt.Errorf("ensure collection %s: %w", cfg.Collection, err)
	}
	return vs, nil
}

// newSessionStore opens the configured conversation memory backend.
func newSessionStore(ctx context.Context, cfg config.MemoryConfig) (sessions.Store, error) {
	opts := sessions.Options{MaxTurns: cfg.MaxTurns}
	switch cfg.Backend {
	case config.MemoryBackendRedis:
		s, err := sessions.NewRedisStore(ctx, sessions.RedisConfig{
			URL:       cfg.Redis.URL,
			KeyPrefix: cfg.Redis.KeyPrefix,
			TTL:       cfg.Redis.TTL,
		}, opts)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.MemoryBackendPostgres:
		pg := sessions.DefaultPostgresConfig()
		pg.DSN = cfg.Postgres.DSN
		if cfg.Postgres.MaxOpenConns > 0 {
			pg.MaxOpenConns = cfg.Postgres.MaxOpenConns
		}
		s, err := sessions.NewPostgresStore(ctx, pg, opts)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.MemoryBackendSQLite:
		s, err := sessions.NewSQLiteStore(ctx, cfg.SQLite.Path, opts)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.MemoryBackendMemory, "":
		return sessions.NewMemoryStore(opts), nil
	default:
		return nil, fmt.Errorf("unknown memory backend %q", cfg.Backend)
	}
}

// loadLocation resolves the configured timezone; empty means local time.
func loadLocation(name string) (*time.Location, error) {
	if name == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", name, err)
	}
	return loc, nil
}
