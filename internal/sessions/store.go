// Package sessions persists conversation history per session and serializes
// concurrent turns on the same session.
package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/haasonsaas/tgassist/pkg/models"
)

// ErrSessionRequired is returned when a session ID is empty.
var ErrSessionRequired = errors.New("session: session ID is required")

// errInvalidRole marks a stored entry that decodes but is not a turn.
var errInvalidRole = errors.New("invalid turn role")

// Store is the conversation memory store. Each session ID owns an
// independent append-only sequence of turns returned in insertion order.
// Sessions are created implicitly on first append.
type Store interface {
	// Load returns the session's turns oldest first. An unknown session
	// yields an empty slice.
	Load(ctx context.Context, sessionID string) ([]models.Turn, error)

	// Append adds turns to the end of the session, in order.
	Append(ctx context.Context, sessionID string, turns ...models.Turn) error

	// Close releases backend resources.
	Close() error
}

// Options configures behaviour shared by all backends.
type Options struct {
	// MaxTurns bounds how many of the most recent turns Load returns.
	// Storage keeps everything. Zero means no limit.
	MaxTurns int
}

// window returns the last max turns, or all of them when max is zero.
func window(turns []models.Turn, max int) []models.Turn {
	if max <= 0 || len(turns) <= max {
		return turns
	}
	return turns[len(turns)-max:]
}

func validateAppend(sessionID string, turns []models.Turn) error {
	if strings.TrimSpace(sessionID) == "" {
		return ErrSessionRequired
	}
	for i, turn := range turns {
		if !turn.Role.Valid() {
			return fmt.Errorf("session: turn %d has invalid role %q", i, turn.Role)
		}
	}
	return nil
}

func encodeTurn(turn models.Turn) ([]byte, error) {
	data, err := json.Marshal(turn)
	if err != nil {
		return nil, fmt.Errorf("encode turn: %w", err)
	}
	return data, nil
}

func decodeTurn(data []byte) (models.Turn, error) {
	var turn models.Turn
	if err := json.Unmarshal(data, &turn); err != nil {
		return models.Turn{}, fmt.Errorf("decode turn: %w", err)
	}
	if !turn.Role.Valid() {
		return models.Turn{}, fmt.Errorf("decode turn: %w %q", errInvalidRole, turn.Role)
	}
	return turn, nil
}
