package sessions

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/haasonsaas/tgassist/pkg/models"
)

func newTestRedisStore(t *testing.T, cfg RedisConfig, opts Options) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisStoreWithClient(client, cfg, opts)
	t.Cleanup(func() { store.Close() })
	return store, mr
}

func TestRedisStore(t *testing.T) {
	store, _ := newTestRedisStore(t, RedisConfig{}, Options{})
	exerciseStore(t, store)
}

func TestRedisStoreKeyLayout(t *testing.T) {
	store, mr := newTestRedisStore(t, RedisConfig{}, Options{})
	ctx := context.Background()
	if err := store.Append(ctx, "12345", models.NewTurn(models.RoleUser, "hi")); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	items, err := mr.List("message_store:12345")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 list item, got %d", len(items))
	}
	turn, err := decodeTurn([]byte(items[0]))
	if err != nil || turn.Content != "hi" {
		t.Fatalf("unexpected stored turn %q (%v)", items[0], err)
	}
}

func TestRedisStoreTTL(t *testing.T) {
	store, mr := newTestRedisStore(t, RedisConfig{KeyPrefix: "chat:", TTL: time.Hour}, Options{})
	ctx := context.Background()
	if err := store.Append(ctx, "7", models.NewTurn(models.RoleUser, "hi")); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if ttl := mr.TTL("chat:7"); ttl != time.Hour {
		t.Fatalf("expected 1h TTL, got %s", ttl)
	}
	mr.FastForward(2 * time.Hour)
	turns, err := store.Load(ctx, "7")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(turns) != 0 {
		t.Fatalf("expected expired session, got %d turns", len(turns))
	}
}

func TestRedisStoreWindow(t *testing.T) {
	store, _ := newTestRedisStore(t, RedisConfig{}, Options{MaxTurns: 2})
	ctx := context.Background()
	_ = store.Append(ctx, "s",
		models.NewTurn(models.RoleUser, "one"),
		models.NewTurn(models.RoleAssistant, "two"),
		models.NewTurn(models.RoleUser, "three"))
	turns, err := store.Load(ctx, "s")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(turns) != 2 || turns[0].Content != "two" {
		t.Fatalf("unexpected window %+v", turns)
	}
}

func TestRedisStoreCorruptEntry(t *testing.T) {
	store, mr := newTestRedisStore(t, RedisConfig{}, Options{})
	if _, err := mr.Push("message_store:bad", "not json"); err != nil {
		t.Fatalf("Push() error = %v", err)
	}
	if _, err := store.Load(context.Background(), "bad"); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestRedisStoreNewestFirstLayout(t *testing.T) {
	store, mr := newTestRedisStore(t, RedisConfig{}, Options{})
	ctx := context.Background()
	_ = store.Append(ctx, "9", models.NewTurn(models.RoleUser, "first"))
	_ = store.Append(ctx, "9", models.NewTurn(models.RoleAssistant, "second"))

	items, err := mr.List("message_store:9")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	head, err := decodeTurn([]byte(items[0]))
	if err != nil || head.Content != "second" {
		t.Fatalf("expected newest turn at list head, got %q (%v)", items[0], err)
	}
}

func TestRedisStoreReadsLegacyMessages(t *testing.T) {
	store, mr := newTestRedisStore(t, RedisConfig{}, Options{})
	ctx := context.Background()
	legacy := []string{
		`{"type": "human", "data": {"content": "what's on today?", "additional_kwargs": {}, "type": "human", "example": false}}`,
		`{"type": "ai", "data": {"content": [{"type": "text", "text": "Standup at 9."}], "type": "ai"}}`,
		`{"type": "tool", "data": {"content": "[]", "tool_call_id": "call_1", "type": "tool"}}`,
		`{"unrelated": true}`,
	}
	for _, item := range legacy {
		if _, err := mr.Lpush("message_store:42", item); err != nil {
			t.Fatalf("Lpush() error = %v", err)
		}
	}
	if err := store.Append(ctx, "42", models.NewTurn(models.RoleUser, "and tomorrow?")); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	turns, err := store.Load(ctx, "42")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	want := []struct {
		role    models.Role
		content string
	}{
		{models.RoleUser, "what's on today?"},
		{models.RoleAssistant, "Standup at 9."},
		{models.RoleUser, "and tomorrow?"},
	}
	if len(turns) != len(want) {
		t.Fatalf("got %d turns: %+v", len(turns), turns)
	}
	for i, w := range want {
		if turns[i].Role != w.role || turns[i].Content != w.content {
			t.Errorf("turn %d = %s %q, want %s %q", i, turns[i].Role, turns[i].Content, w.role, w.content)
		}
	}
}
