package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/haasonsaas/tgassist/pkg/models"
)

// exerciseStore runs the behaviour every backend must share.
func exerciseStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("unknown session is empty", func(t *testing.T) {
		turns, err := store.Load(ctx, "never-seen")
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if len(turns) != 0 {
			t.Fatalf("expected no turns, got %d", len(turns))
		}
	})

	t.Run("round trip preserves order and tool data", func(t *testing.T) {
		call := models.ToolCall{ID: "call_1", Name: "mcp_calendar_list_today_events", Input: json.RawMessage(`{}`)}
		in := []models.Turn{
			models.NewTurn(models.RoleUser, "what's on today?"),
			{Role: models.RoleAssistant, ToolCalls: []models.ToolCall{call}},
			{Role: models.RoleTool, ToolResults: []models.ToolResult{{ToolCallID: "call_1", Content: "[]"}}},
			models.NewTurn(models.RoleAssistant, "Nothing scheduled."),
		}
		if err := store.Append(ctx, "42", in...); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
		got, err := store.Load(ctx, "42")
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if len(got) != len(in) {
			t.Fatalf("expected %d turns, got %d", len(in), len(got))
		}
		for i := range in {
			if got[i].Role != in[i].Role || got[i].Content != in[i].Content {
				t.Errorf("turn %d = %+v, want %+v", i, got[i], in[i])
			}
		}
		if len(got[1].ToolCalls) != 1 || got[1].ToolCalls[0].ID != "call_1" {
			t.Errorf("tool calls not preserved: %+v", got[1].ToolCalls)
		}
		if len(got[2].ToolResults) != 1 || got[2].ToolResults[0].ToolCallID != "call_1" {
			t.Errorf("tool results not preserved: %+v", got[2].ToolResults)
		}
	})

	t.Run("sessions are isolated", func(t *testing.T) {
		if err := store.Append(ctx, "a", models.NewTurn(models.RoleUser, "from a")); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
		if err := store.Append(ctx, "b", models.NewTurn(models.RoleUser, "from b")); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
		a, _ := store.Load(ctx, "a")
		b, _ := store.Load(ctx, "b")
		if len(a) != 1 || a[0].Content != "from a" {
			t.Fatalf("session a = %+v", a)
		}
		if len(b) != 1 || b[0].Content != "from b" {
			t.Fatalf("session b = %+v", b)
		}
	})

	t.Run("rejects invalid input", func(t *testing.T) {
		if err := store.Append(ctx, "", models.NewTurn(models.RoleUser, "x")); !errors.Is(err, ErrSessionRequired) {
			t.Fatalf("expected ErrSessionRequired, got %v", err)
		}
		if err := store.Append(ctx, "c", models.Turn{Role: "robot"}); err == nil {
			t.Fatal("expected error for invalid role")
		}
	})

	t.Run("concurrent sessions never mix", func(t *testing.T) {
		locks := NewSessionLockManager(0)
		defer locks.Close()
		locking := NewLockingStore(store, locks, 0)

		var wg sync.WaitGroup
		for s := 0; s < 4; s++ {
			for i := 0; i < 5; i++ {
				wg.Add(1)
				go func(session string, i int) {
					defer wg.Done()
					err := locking.WithLock(ctx, session, func(st Store) error {
						msg := fmt.Sprintf("%s-%d", session, i)
						return st.Append(ctx, session,
							models.NewTurn(models.RoleUser, msg),
							models.NewTurn(models.RoleAssistant, msg))
					})
					if err != nil {
						t.Errorf("WithLock() error = %v", err)
					}
				}(fmt.Sprintf("chat-%d", s), i)
			}
		}
		wg.Wait()

		for s := 0; s < 4; s++ {
			session := fmt.Sprintf("chat-%d", s)
			turns, err := store.Load(ctx, session)
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if len(turns) != 10 {
				t.Fatalf("%s: expected 10 turns, got %d", session, len(turns))
			}
			for i := 0; i < len(turns); i += 2 {
				if turns[i].Role != models.RoleUser || turns[i+1].Role != models.RoleAssistant {
					t.Fatalf("%s: exchange %d interleaved", session, i/2)
				}
				if turns[i].Content != turns[i+1].Content {
					t.Fatalf("%s: exchange %d split: %q vs %q", session, i/2, turns[i].Content, turns[i+1].Content)
				}
				if want := session + "-"; len(turns[i].Content) <= len(want) || turns[i].Content[:len(want)] != want {
					t.Fatalf("%s: foreign turn %q", session, turns[i].Content)
				}
			}
		}
	})
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore(Options{}))
}

func TestMemoryStoreWindow(t *testing.T) {
	store := NewMemoryStore(Options{MaxTurns: 2})
	ctx := context.Background()
	for _, text := range []string{"one", "two", "three"} {
		if err := store.Append(ctx, "s", models.NewTurn(models.RoleUser, text)); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}
	turns, _ := store.Load(ctx, "s")
	if len(turns) != 2 || turns[0].Content != "two" || turns[1].Content != "three" {
		t.Fatalf("unexpected window %+v", turns)
	}
}

func TestMemoryStoreLoadReturnsCopy(t *testing.T) {
	store := NewMemoryStore(Options{})
	ctx := context.Background()
	_ = store.Append(ctx, "s", models.NewTurn(models.RoleUser, "original"))
	turns, _ := store.Load(ctx, "s")
	turns[0].Content = "mutated"
	again, _ := store.Load(ctx, "s")
	if again[0].Content != "original" {
		t.Fatal("Load must not expose internal storage")
	}
}

func TestSQLiteStore(t *testing.T) {
	store, err := NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "memory.db"), Options{})
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	defer store.Close()
	exerciseStore(t, store)
}

func TestSQLiteStoreWindow(t *testing.T) {
	store, err := NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "memory.db"), Options{MaxTurns: 2})
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	defer store.Close()
	ctx := context.Background()
	for _, text := range []string{"one", "two", "three"} {
		if err := store.Append(ctx, "s", models.NewTurn(models.RoleUser, text)); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}
	turns, err := store.Load(ctx, "s")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(turns) != 2 || turns[0].Content != "two" || turns[1].Content != "three" {
		t.Fatalf("unexpected window %+v", turns)
	}
}
