package sessions

import (
	"context"
	"sync"

	"github.com/haasonsaas/tgassist/pkg/models"
)

// maxTurnsPerSession limits turns kept per session to prevent unbounded
// memory growth. Older turns are dropped first.
const maxTurnsPerSession = 1000

// MemoryStore provides an in-memory Store for tests and local runs.
type MemoryStore struct {
	opts  Options
	mu    sync.RWMutex
	turns map[string][]models.Turn
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore(opts Options) *MemoryStore {
	return &MemoryStore{
		opts:  opts,
		turns: make(map[string][]models.Turn),
	}
}

func (m *MemoryStore) Load(ctx context.Context, sessionID string) ([]models.Turn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	stored := window(m.turns[sessionID], m.opts.MaxTurns)
	out := make([]models.Turn, len(stored))
	copy(out, stored)
	return out, nil
}

func (m *MemoryStore) Append(ctx context.Context, sessionID string, turns ...models.Turn) error {
	if err := validateAppend(sessionID, turns); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	history := append(m.turns[sessionID], turns...)
	if len(history) > maxTurnsPerSession {
		history = append([]models.Turn(nil), history[len(history)-maxTurnsPerSession:]...)
	}
	m.turns[sessionID] = history
	return nil
}

func (m *MemoryStore) Close() error {
	return nil
}
