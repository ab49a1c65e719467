package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/haasonsaas/tgassist/pkg/models"
)

// DefaultRedisKeyPrefix matches the key layout of existing deployments:
// one list per session, newest entry first.
const DefaultRedisKeyPrefix = "message_store:"

// RedisConfig configures the Redis backend.
type RedisConfig struct {
	URL       string
	KeyPrefix string
	// TTL expires idle sessions. Zero keeps them forever.
	TTL time.Duration
}

// RedisStore stores each session as a Redis list of JSON-encoded turns.
// New turns are pushed onto the head of the list, so the list reads newest
// first. Entries written in the older {"type","data"} message layout are
// still read.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	opts   Options
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, cfg RedisConfig, opts Options) (*RedisStore, error) {
	redisOpts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(redisOpts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedisStoreWithClient(client, cfg, opts), nil
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client *redis.Client, cfg RedisConfig, opts Options) *RedisStore {
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultRedisKeyPrefix
	}
	return &RedisStore{client: client, prefix: prefix, ttl: cfg.TTL, opts: opts}
}

func (s *RedisStore) key(sessionID string) string {
	return s.prefix + sessionID
}

func (s *RedisStore) Load(ctx context.Context, sessionID string) ([]models.Turn, error) {
	stop := int64(-1)
	if s.opts.MaxTurns > 0 {
		stop = int64(s.opts.MaxTurns) - 1
	}
	items, err := s.client.LRange(ctx, s.key(sessionID), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	turns := make([]models.Turn, 0, len(items))
	for i := len(items) - 1; i >= 0; i-- {
		turn, ok, err := decodeRedisTurn([]byte(items[i]))
		if err != nil {
			return nil, fmt.Errorf("load session %s: %w", sessionID, err)
		}
		if ok {
			turns = append(turns, turn)
		}
	}
	return turns, nil
}

// legacyMessage is the {"type","data"} layout older deployments stored.
type legacyMessage struct {
	Type string `json:"type"`
	Data struct {
		Content json.RawMessage `json:"content"`
	} `json:"data"`
}

// decodeRedisTurn decodes a turn, falling back to the legacy message layout.
// Entries that are neither are skipped.
func decodeRedisTurn(data []byte) (models.Turn, bool, error) {
	turn, err := decodeTurn(data)
	if err == nil {
		return turn, true, nil
	}
	if !errors.Is(err, errInvalidRole) {
		return models.Turn{}, false, err
	}

	var legacy legacyMessage
	if err := json.Unmarshal(data, &legacy); err != nil {
		return models.Turn{}, false, nil
	}
	var role models.Role
	switch legacy.Type {
	case "human":
		role = models.RoleUser
	case "ai":
		role = models.RoleAssistant
	case "system":
		role = models.RoleSystem
	default:
		// Tool messages lose their call pairing in this layout.
		return models.Turn{}, false, nil
	}
	content := legacyContent(legacy.Data.Content)
	if strings.TrimSpace(content) == "" {
		return models.Turn{}, false, nil
	}
	return models.Turn{Role: role, Content: content}, true, nil
}

// legacyContent accepts a plain string or a list of text blocks.
func legacyContent(raw json.RawMessage) string {
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text
	}
	var blocks []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return ""
	}
	var parts []string
	for _, b := range blocks {
		if b.Type == "text" && b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// Append pushes all turns in one transaction so a session never holds a
// partial exchange.
func (s *RedisStore) Append(ctx context.Context, sessionID string, turns ...models.Turn) error {
	if err := validateAppend(sessionID, turns); err != nil {
		return err
	}
	if len(turns) == 0 {
		return nil
	}
	values := make([]any, 0, len(turns))
	for _, turn := range turns {
		data, err := encodeTurn(turn)
		if err != nil {
			return err
		}
		values = append(values, data)
	}

	key := s.key(sessionID)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, key, values...)
		if s.ttl > 0 {
			pipe.Expire(ctx, key, s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("append session %s: %w", sessionID, err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
