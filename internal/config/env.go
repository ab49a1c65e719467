package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/haasonsaas/tgassist/internal/mcp"
)

// LoadDotEnv loads variables from the given .env files into the process
// environment without overriding variables already set. Missing files are
// skipped.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	var existing []string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		} else if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("stat %s: %w", p, err)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	if err := godotenv.Load(existing...); err != nil {
		return fmt.Errorf("load env files: %w", err)
	}
	return nil
}

// FromEnv builds a configuration from environment variables alone.
func FromEnv() *Config {
	cfg := &Config{
		Environment: os.Getenv("ENV"),
		Telegram: TelegramConfig{
			Token:      firstEnv("TELEGRAM_BOT_TOKEN", "TELEGRAM_TOKEN"),
			Mode:       os.Getenv("TELEGRAM_MODE"),
			WebhookURL: os.Getenv("TELEGRAM_WEBHOOK_URL"),
			ListenAddr: os.Getenv("TELEGRAM_LISTEN_ADDR"),
		},
		LLM: LLMConfig{
			Provider: os.Getenv("LLM_PROVIDER"),
			APIKey:   firstEnv("LLM_API_KEY", "MISTRAL_API_KEY"),
			BaseURL:  os.Getenv("LLM_BASE_URL"),
			Model:    os.Getenv("LLM_MODEL"),
		},
		Agent: AgentConfig{
			MaxIterations: envInt("AGENT_MAX_ITERATIONS"),
			SystemPrompt:  os.Getenv("AGENT_SYSTEM_PROMPT"),
			Timezone:      os.Getenv("TZ"),
		},
		Memory: MemoryConfig{
			Backend:  os.Getenv("MEMORY_BACKEND"),
			MaxTurns: envInt("MEMORY_MAX_TURNS"),
			Redis:    RedisConfig{URL: os.Getenv("REDIS_URL")},
			Postgres: PostgresConfig{DSN: os.Getenv("DATABASE_URL")},
			SQLite:   SQLiteConfig{Path: os.Getenv("SQLITE_PATH")},
		},
		KnowledgeBase: KnowledgeBaseConfig{
			Enabled:      os.Getenv("QDRANT_URL") != "" || envBool("KNOWLEDGE_BASE_ENABLED"),
			QdrantURL:    os.Getenv("QDRANT_URL"),
			QdrantAPIKey: os.Getenv("QDRANT_API_KEY"),
			Collection:   os.Getenv("QDRANT_COLLECTION"),
			TopK:         envInt("KNOWLEDGE_BASE_TOP_K"),
		},
		Logging: LoggingConfig{
			Level:  os.Getenv("LOG_LEVEL"),
			Format: os.Getenv("LOG_FORMAT"),
		},
		Metrics: MetricsConfig{
			Enabled: os.Getenv("METRICS_ADDR") != "",
			Addr:    os.Getenv("METRICS_ADDR"),
		},
		Tracing: TracingConfig{
			Endpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		},
	}
	cfg.Embeddings.Provider = os.Getenv("EMBEDDINGS_PROVIDER")
	cfg.Embeddings.Model = os.Getenv("EMBEDDINGS_MODEL")
	cfg.Embeddings.APIKey = os.Getenv("EMBEDDINGS_API_KEY")
	cfg.Embeddings.BaseURL = os.Getenv("EMBEDDINGS_BASE_URL")
	cfg.Embeddings.Dimension = envInt("EMBEDDINGS_DIMENSION")

	cfg.ToolServers.Mail.Address = os.Getenv("EMAIL_ADDRESS")
	cfg.ToolServers.Mail.Password = os.Getenv("APP_PASSWORD")
	cfg.ToolServers.Google.ClientID = os.Getenv("GOOGLE_CLIENT_ID")
	cfg.ToolServers.Google.ClientSecret = os.Getenv("GOOGLE_CLIENT_SECRET")
	cfg.ToolServers.Google.CredentialsFile = os.Getenv("GOOGLE_CREDENTIALS_FILE")
	cfg.ToolServers.Google.TokenFile = os.Getenv("GOOGLE_TOKEN_FILE")

	for _, id := range DefaultServerIDs {
		cfg.MCP.Servers = append(cfg.MCP.Servers, serverFromEnv(id))
	}

	applyDefaults(cfg)
	return cfg
}

// serverFromEnv reads MCP_<ID>_URL, _CMD, _ARGS, _TRANSPORT, _TIMEOUT_SEC
// and _REQUIRED. An unparsable transport is kept as given so Validate
// reports it.
func serverFromEnv(id string) *mcp.ServerConfig {
	prefix := "MCP_" + strings.ToUpper(id) + "_"
	s := &mcp.ServerConfig{
		ID:       id,
		Name:     id,
		URL:      os.Getenv(prefix + "URL"),
		Command:  os.Getenv(prefix + "CMD"),
		Args:     strings.Fields(os.Getenv(prefix + "ARGS")),
		Required: true,
	}
	if raw := os.Getenv(prefix + "TRANSPORT"); raw != "" {
		if t, err := mcp.ParseTransport(raw); err == nil {
			s.Transport = t
		} else {
			s.Transport = mcp.TransportType(raw)
		}
	}
	if secs := envFloat(prefix + "TIMEOUT_SEC"); secs > 0 {
		s.Timeout = time.Duration(secs * float64(time.Second))
	}
	if raw := os.Getenv(prefix + "REQUIRED"); raw != "" {
		if v, err := strconv.ParseBool(raw); err == nil {
			s.Required = v
		}
	}
	return s
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return v
		}
	}
	return ""
}

func envInt(key string) int {
	v, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key)))
	if err != nil {
		return 0
	}
	return v
}

func envFloat(key string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(os.Getenv(key)), 64)
	if err != nil {
		return 0
	}
	return v
}

func envBool(key string) bool {
	v, _ := strconv.ParseBool(strings.TrimSpace(os.Getenv(key)))
	return v
}
