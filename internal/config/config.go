// Package config loads tgassist configuration from YAML and the environment.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/haasonsaas/tgassist/internal/googleauth"
	"github.com/haasonsaas/tgassist/internal/mcp"
	"github.com/haasonsaas/tgassist/internal/rag/embeddings"
	"github.com/haasonsaas/tgassist/internal/tools/mail"
)

// Config is the main configuration structure for tgassist.
type Config struct {
	Environment   string              `yaml:"environment"`
	Telegram      TelegramConfig      `yaml:"telegram"`
	LLM           LLMConfig           `yaml:"llm"`
	Agent         AgentConfig         `yaml:"agent"`
	MCP           MCPConfig           `yaml:"mcp"`
	Memory        MemoryConfig        `yaml:"memory"`
	KnowledgeBase KnowledgeBaseConfig `yaml:"knowledge_base"`
	Embeddings    embeddings.Config   `yaml:"embeddings"`
	Logging       LoggingConfig       `yaml:"logging"`
	Metrics       MetricsConfig       `yaml:"metrics"`
	Tracing       TracingConfig       `yaml:"tracing"`
	ToolServers   ToolServersConfig   `yaml:"tool_servers"`
}

type TelegramConfig struct {
	Token      string  `yaml:"token"`
	Mode       string  `yaml:"mode"`
	WebhookURL string  `yaml:"webhook_url"`
	ListenAddr string  `yaml:"listen_addr"`
	RateLimit  float64 `yaml:"rate_limit"`
	RateBurst  int     `yaml:"rate_burst"`
}

type LLMConfig struct {
	// Provider is "openai" (any OpenAI-compatible API, Mistral by default)
	// or "anthropic".
	Provider   string `yaml:"provider"`
	APIKey     string `yaml:"api_key"`
	BaseURL    string `yaml:"base_url"`
	Model      string `yaml:"model"`
	MaxRetries int    `yaml:"max_retries"`
}

type AgentConfig struct {
	MaxIterations   int           `yaml:"max_iterations"`
	MaxTokens       int           `yaml:"max_tokens"`
	ToolConcurrency int           `yaml:"tool_concurrency"`
	ToolTimeout     time.Duration `yaml:"tool_timeout"`
	TurnTimeout     time.Duration `yaml:"turn_timeout"`
	SystemPrompt    string        `yaml:"system_prompt"`
	Timezone        string        `yaml:"timezone"`
}

type MCPConfig struct {
	Servers []*mcp.ServerConfig `yaml:"servers"`
}

type MemoryConfig struct {
	Backend     string         `yaml:"backend"`
	MaxTurns    int            `yaml:"max_turns"`
	LockTimeout time.Duration  `yaml:"lock_timeout"`
	Redis       RedisConfig    `yaml:"redis"`
	Postgres    PostgresConfig `yaml:"postgres"`
	SQLite      SQLiteConfig   `yaml:"sqlite"`
}

type RedisConfig struct {
	URL       string        `yaml:"url"`
	KeyPrefix string        `yaml:"key_prefix"`
	TTL       time.Duration `yaml:"ttl"`
}

type PostgresConfig struct {
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

type SQLiteConfig struct {
	Path string `yaml:"path"`
}

type KnowledgeBaseConfig struct {
	Enabled      bool   `yaml:"enabled"`
	QdrantURL    string `yaml:"qdrant_url"`
	QdrantAPIKey string `yaml:"qdrant_api_key"`
	Collection   string `yaml:"collection"`
	TopK         int    `yaml:"top_k"`
	ChunkSize    int    `yaml:"chunk_size"`
	ChunkOverlap int    `yaml:"chunk_overlap"`
}

type LoggingConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"`
	AddSource bool   `yaml:"add_source"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type TracingConfig struct {
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
	Insecure     bool    `yaml:"insecure"`
}

// ToolServersConfig configures the bundled MCP tool servers.
type ToolServersConfig struct {
	Google googleauth.Config `yaml:"google"`
	Mail   mail.Config       `yaml:"mail"`
}

// DefaultServerIDs are the tool servers the assistant expects.
var DefaultServerIDs = []string{"calendar", "mail", "sheet"}

// Memory backends.
const (
	MemoryBackendMemory   = "memory"
	MemoryBackendRedis    = "redis"
	MemoryBackendPostgres = "postgres"
	MemoryBackendSQLite   = "sqlite"
)

// Load reads and parses the configuration file. Environment variables in
// the file are expanded. Unknown keys are rejected. The result has
// defaults applied but is not validated.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML document.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	decoder := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config: expected single document")
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// LoadOrEnv loads path when it exists and falls back to FromEnv otherwise.
func LoadOrEnv(path string) (*Config, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
	}
	return FromEnv(), nil
}

func applyDefaults(cfg *Config) {
	if cfg.Environment == "" {
		cfg.Environment = "dev"
	}
	if cfg.Telegram.Mode == "" {
		cfg.Telegram.Mode = "long_polling"
	}

	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = "openai"
	}
	if cfg.LLM.Model == "" && cfg.LLM.Provider == "openai" && cfg.LLM.BaseURL == "" {
		cfg.LLM.Model = "mistral-large-latest"
	}

	if cfg.Agent.MaxIterations == 0 {
		cfg.Agent.MaxIterations = 8
	}
	if cfg.Agent.MaxTokens == 0 {
		cfg.Agent.MaxTokens = 4096
	}
	if cfg.Agent.ToolConcurrency == 0 {
		cfg.Agent.ToolConcurrency = 4
	}
	if cfg.Agent.ToolTimeout == 0 {
		cfg.Agent.ToolTimeout = 30 * time.Second
	}
	if cfg.Agent.TurnTimeout == 0 {
		cfg.Agent.TurnTimeout = 3 * time.Minute
	}

	applyServerDefaults(cfg)

	if cfg.Memory.Backend == "" {
		if cfg.Memory.Redis.URL != "" {
			cfg.Memory.Backend = MemoryBackendRedis
		} else {
			cfg.Memory.Backend = MemoryBackendMemory
		}
	}
	if cfg.Memory.LockTimeout == 0 {
		cfg.Memory.LockTimeout = 2 * time.Minute
	}
	if cfg.Memory.Redis.KeyPrefix == "" {
		cfg.Memory.Redis.KeyPrefix = "message_store:"
	}
	if cfg.Memory.SQLite.Path == "" {
		cfg.Memory.SQLite.Path = "tgassist.db"
	}

	if cfg.KnowledgeBase.Collection == "" {
		cfg.KnowledgeBase.Collection = "documents"
	}
	if cfg.KnowledgeBase.TopK == 0 {
		cfg.KnowledgeBase.TopK = 5
	}
	if cfg.KnowledgeBase.ChunkSize == 0 {
		cfg.KnowledgeBase.ChunkSize = 200
	}
	if cfg.KnowledgeBase.ChunkOverlap == 0 {
		cfg.KnowledgeBase.ChunkOverlap = 20
	}

	if cfg.Embeddings.Provider == "" {
		cfg.Embeddings.Provider = "openai"
	}
	if cfg.Embeddings.Provider == "openai" {
		if cfg.Embeddings.APIKey == "" {
			cfg.Embeddings.APIKey = cfg.LLM.APIKey
		}
		if cfg.Embeddings.BaseURL == "" && cfg.LLM.Provider == "openai" {
			cfg.Embeddings.BaseURL = cfg.LLM.BaseURL
		}
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = ":9090"
	}
	if cfg.Tracing.SamplingRate == 0 {
		cfg.Tracing.SamplingRate = 1
	}
}

// applyServerDefaults adds an empty, required entry for every default tool
// server the file does not mention, so a missing endpoint is reported.
func applyServerDefaults(cfg *Config) {
	present := make(map[string]bool, len(cfg.MCP.Servers))
	for _, s := range cfg.MCP.Servers {
		if s == nil {
			continue
		}
		if s.Name == "" {
			s.Name = s.ID
		}
		present[s.ID] = true
	}
	for _, id := range DefaultServerIDs {
		if !present[id] {
			cfg.MCP.Servers = append(cfg.MCP.Servers, &mcp.ServerConfig{ID: id, Name: id, Required: true})
		}
	}
}

// ConfiguredServers returns the servers that have an endpoint.
func (c *Config) ConfiguredServers() []*mcp.ServerConfig {
	out := make([]*mcp.ServerConfig, 0, len(c.MCP.Servers))
	for _, s := range c.MCP.Servers {
		if s != nil && s.Configured() {
			out = append(out, s)
		}
	}
	return out
}

// Validate checks everything the bot needs to start. All problems are
// reported together.
func (c *Config) Validate() error {
	var issues []string
	if strings.TrimSpace(c.Telegram.Token) == "" {
		issues = append(issues, "telegram.token is required")
	}
	switch c.Telegram.Mode {
	case "long_polling":
	case "webhook":
		if c.Telegram.WebhookURL == "" {
			issues = append(issues, "telegram.webhook_url is required for webhook mode")
		}
	default:
		issues = append(issues, fmt.Sprintf("telegram.mode %q is not one of long_polling, webhook", c.Telegram.Mode))
	}

	switch c.LLM.Provider {
	case "openai", "anthropic":
	default:
		issues = append(issues, fmt.Sprintf("llm.provider %q is not one of openai, anthropic", c.LLM.Provider))
	}
	if strings.TrimSpace(c.LLM.APIKey) == "" {
		issues = append(issues, "llm.api_key is required")
	}
	if c.Agent.MaxIterations < 1 || c.Agent.MaxIterations > 50 {
		issues = append(issues, "agent.max_iterations must be between 1 and 50")
	}

	issues = append(issues, c.validateServers()...)

	switch c.Memory.Backend {
	case MemoryBackendMemory, MemoryBackendSQLite:
	case MemoryBackendRedis:
		if c.Memory.Redis.URL == "" {
			issues = append(issues, "memory.redis.url is required for the redis backend")
		}
	case MemoryBackendPostgres:
		if c.Memory.Postgres.DSN == "" {
			issues = append(issues, "memory.postgres.dsn is required for the postgres backend")
		}
	default:
		issues = append(issues, fmt.Sprintf("memory.backend %q is not one of memory, redis, postgres, sqlite", c.Memory.Backend))
	}
	if c.Memory.MaxTurns < 0 {
		issues = append(issues, "memory.max_turns must not be negative")
	}

	if c.KnowledgeBase.Enabled {
		issues = append(issues, c.validateKnowledgeBase()...)
	}

	if len(issues) > 0 {
		return fmt.Errorf("invalid config:\n  - %s", strings.Join(issues, "\n  - "))
	}
	return nil
}

// ValidateKnowledgeBase checks the settings used by ingestion.
func (c *Config) ValidateKnowledgeBase() error {
	if issues := c.validateKnowledgeBase(); len(issues) > 0 {
		return fmt.Errorf("invalid config:\n  - %s", strings.Join(issues, "\n  - "))
	}
	return nil
}

func (c *Config) validateServers() []string {
	var issues []string
	seen := make(map[string]bool)
	for i, s := range c.MCP.Servers {
		if s == nil || s.ID == "" {
			issues = append(issues, fmt.Sprintf("mcp.servers[%d]: id is required", i))
			continue
		}
		if seen[s.ID] {
			issues = append(issues, fmt.Sprintf("mcp.servers.%s: duplicate id", s.ID))
		}
		seen[s.ID] = true
		if !s.Configured() {
			if s.Required {
				issues = append(issues, fmt.Sprintf("mcp.servers.%s: url or command must be set", s.ID))
			}
			continue
		}
		if s.Timeout < 0 {
			issues = append(issues, fmt.Sprintf("mcp.servers.%s: timeout must be positive", s.ID))
		}
		if err := s.Validate(); err != nil {
			issues = append(issues, fmt.Sprintf("mcp.servers.%s: %v", s.ID, err))
		}
	}
	return issues
}

func (c *Config) validateKnowledgeBase() []string {
	var issues []string
	switch c.Embeddings.Provider {
	case "openai":
		if c.Embeddings.APIKey == "" {
			issues = append(issues, "embeddings.api_key is required for the openai provider")
		}
	case "ollama":
	default:
		issues = append(issues, fmt.Sprintf("embeddings.provider %q is not one of openai, ollama", c.Embeddings.Provider))
	}
	if c.Embeddings.Dimension < 0 {
		issues = append(issues, "embeddings.dimension must be positive")
	}
	if c.KnowledgeBase.TopK < 1 {
		issues = append(issues, "knowledge_base.top_k must be positive")
	}
	if c.KnowledgeBase.ChunkOverlap >= c.KnowledgeBase.ChunkSize {
		issues = append(issues, "knowledge_base.chunk_overlap must be smaller than chunk_size")
	}
	return issues
}
