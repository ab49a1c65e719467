// Package gateway is the process-wide context object: it owns the tool
// registry, the agent loop and the conversation memory, and turns an
// inbound chat message into an answer.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/haasonsaas/tgassist/internal/agent"
	"github.com/haasonsaas/tgassist/internal/observability"
	"github.com/haasonsaas/tgassist/internal/sessions"
	"github.com/haasonsaas/tgassist/pkg/models"
)

// maxInputSize bounds the inbound message text kept for a turn.
const maxInputSize = 16 * 1024

var (
	// ErrServiceBusy is returned when the LLM could not answer. Nothing is
	// stored for the turn.
	ErrServiceBusy = errors.New("service busy")

	// ErrEmptyMessage is returned for blank input.
	ErrEmptyMessage = errors.New("empty message")
)

// Runner runs one agent turn.
type Runner interface {
	Run(ctx context.Context, in agent.RunInput) (*agent.RunOutput, error)
}

// Config wires a Gateway.
type Config struct {
	Loop    Runner
	Store   *sessions.LockingStore
	Prompt  *SystemPrompt
	Metrics *observability.Metrics
	Logger  *slog.Logger

	// TurnTimeout bounds one HandleMessage call, including lock wait.
	TurnTimeout time.Duration
}

// Gateway serializes turns per session and persists their history.
//
// Gateway is safe for concurrent use.
type Gateway struct {
	loop        Runner
	store       *sessions.LockingStore
	prompt      *SystemPrompt
	metrics     *observability.Metrics
	logger      *slog.Logger
	turnTimeout time.Duration
	now         func() time.Time
}

// New creates a Gateway.
func New(cfg Config) (*Gateway, error) {
	if cfg.Loop == nil {
		return nil, errors.New("gateway: agent loop is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("gateway: memory store is required")
	}
	if cfg.Prompt == nil {
		prompt, err := NewSystemPrompt("", nil)
		if err != nil {
			return nil, err
		}
		cfg.Prompt = prompt
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.TurnTimeout <= 0 {
		cfg.TurnTimeout = 3 * time.Minute
	}
	return &Gateway{
		loop:        cfg.Loop,
		store:       cfg.Store,
		prompt:      cfg.Prompt,
		metrics:     cfg.Metrics,
		logger:      cfg.Logger.With("component", "gateway"),
		turnTimeout: cfg.TurnTimeout,
		now:         time.Now,
	}, nil
}

// HandleMessage answers text for sessionID. Under the session's lock it
// loads the history, runs the agent and appends the user turn, the tool
// transcript and the assistant turn, in that order.
func (g *Gateway) HandleMessage(ctx context.Context, sessionID, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyMessage
	}
	if len(text) > maxInputSize {
		g.logger.Warn("input message too large, truncating", "session_id", sessionID, "original_size", len(text))
		text = truncateUTF8(text, maxInputSize)
	}

	ctx, cancel := context.WithTimeout(ctx, g.turnTimeout)
	defer cancel()
	ctx = observability.WithSessionID(ctx, sessionID)
	start := g.now()

	var answer string
	err := g.store.WithLock(ctx, sessionID, func(store sessions.Store) error {
		history, err := store.Load(ctx, sessionID)
		if err != nil {
			return fmt.Errorf("load history: %w", err)
		}

		userTurn := models.NewTurn(models.RoleUser, text)
		system, err := g.prompt.Render(g.now(), sessionID)
		if err != nil {
			return err
		}

		out, err := g.loop.Run(ctx, agent.RunInput{System: system, History: history, Input: text})
		if err != nil {
			if agent.IsLLMFailure(err) {
				return fmt.Errorf("%w: %w", ErrServiceBusy, err)
			}
			return fmt.Errorf("run agent: %w", err)
		}

		turns := make([]models.Turn, 0, len(out.Transcript)+2)
		turns = append(turns, userTurn)
		turns = append(turns, out.Transcript...)
		turns = append(turns, models.NewTurn(models.RoleAssistant, out.Answer))
		if err := store.Append(ctx, sessionID, turns...); err != nil {
			return fmt.Errorf("append turns: %w", err)
		}

		answer = out.Answer
		g.logger.Info("turn completed",
			"session_id", sessionID,
			"iterations", out.Iterations,
			"hit_limit", out.HitLimit,
			"tool_turns", len(out.Transcript),
			"duration_ms", g.now().Sub(start).Milliseconds())
		return nil
	})
	if err != nil {
		g.metrics.RecordError("gateway", errorType(err))
		return "", err
	}
	return answer, nil
}

func errorType(err error) string {
	switch {
	case errors.Is(err, ErrServiceBusy):
		return "service_busy"
	case errors.Is(err, sessions.ErrLockTimeout):
		return "lock_timeout"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "internal"
	}
}

// truncateUTF8 cuts s to at most n bytes without splitting a rune.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !isRuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
