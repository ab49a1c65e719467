package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/haasonsaas/tgassist/internal/observability"
	"github.com/haasonsaas/tgassist/pkg/models"
)

// FallbackAnswer is returned when the model produced no usable text, even
// after being asked for a direct answer.
const FallbackAnswer = "Sorry, I could not complete that request. Please try rephrasing it."

const finalAnswerNote = "You have reached the limit of tool calls for this message. " +
	"Do not call any more tools. Answer the user directly using the information gathered so far."

// LoopConfig configures the agentic loop.
type LoopConfig struct {
	// MaxIterations limits the number of tool-call rounds per turn.
	// Default: 8
	MaxIterations int

	// MaxTokens is the default max tokens for LLM responses.
	// Default: 4096
	MaxTokens int

	// Model overrides the provider default model when set.
	Model string

	// Executor configures the concurrent tool executor.
	Executor ToolExecConfig
}

// DefaultLoopConfig returns the default loop configuration.
func DefaultLoopConfig() *LoopConfig {
	return &LoopConfig{
		MaxIterations: 8,
		MaxTokens:     4096,
		Executor:      DefaultToolExecConfig(),
	}
}

func sanitizeLoopConfig(config *LoopConfig) LoopConfig {
	defaults := DefaultLoopConfig()
	if config == nil {
		return *defaults
	}
	cfg := *config
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = defaults.MaxIterations
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaults.MaxTokens
	}
	return cfg
}

// AgenticLoop runs one conversational turn as a state machine:
//
//	Init -> Stream -> (no tool calls) -> Complete
//	             \--> ExecuteTools -> Continue -> Stream ...
//
// After MaxIterations tool rounds the loop enters Finalize, asks the model
// once more for a direct answer and stops.
type AgenticLoop struct {
	provider LLMProvider
	registry *ToolRegistry
	executor *ToolExecutor
	config   LoopConfig
	logger   *slog.Logger
	metrics  *observability.Metrics
	tracer   *observability.Tracer
}

// NewAgenticLoop creates a loop. registry may be nil when no tools exist.
func NewAgenticLoop(provider LLMProvider, registry *ToolRegistry, config *LoopConfig, logger *slog.Logger) *AgenticLoop {
	cfg := sanitizeLoopConfig(config)
	if registry == nil {
		registry = NewToolRegistry()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AgenticLoop{
		provider: provider,
		registry: registry,
		executor: NewToolExecutor(registry, cfg.Executor, logger),
		config:   cfg,
		logger:   logger.With("component", "agent"),
	}
}

// UseMetrics attaches Prometheus metrics to the loop and its executor.
func (l *AgenticLoop) UseMetrics(m *observability.Metrics) {
	l.metrics = m
	l.executor.UseMetrics(m)
}

// UseTracer attaches a tracer to the loop and its executor.
func (l *AgenticLoop) UseTracer(t *observability.Tracer) {
	l.tracer = t
	l.executor.UseTracer(t)
}

// Registry returns the tool registry the loop offers to the model.
func (l *AgenticLoop) Registry() *ToolRegistry {
	return l.registry
}

// RunInput is the input of a single turn.
type RunInput struct {
	// System is the rendered system prompt.
	System string
	// History is the session's prior turns, oldest first.
	History []models.Turn
	// Input is the user's new message.
	Input string
}

// RunOutput is the result of a single turn.
type RunOutput struct {
	// Answer is the final text for the user.
	Answer string
	// Transcript holds the tool exchange turns produced during the run, in
	// order: an assistant turn carrying tool calls followed by a tool turn
	// carrying their results, once per round. It excludes the user input
	// and the final answer.
	Transcript []models.Turn
	// Iterations is the number of completions issued.
	Iterations int
	// HitLimit reports that the tool-round cap was reached.
	HitLimit bool
}

type completion struct {
	text      string
	toolCalls []models.ToolCall
}

// Run executes one turn. Any LLM failure ends the turn with a *LoopError;
// tool failures are fed back to the model as error observations.
func (l *AgenticLoop) Run(ctx context.Context, in RunInput) (*RunOutput, error) {
	ctx, span := l.tracer.TraceTurn(ctx, observability.SessionIDFromContext(ctx))
	defer span.End()

	out, err := l.run(ctx, in)
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("agent.iterations", out.Iterations),
		attribute.Bool("agent.hit_limit", out.HitLimit),
	)
	return out, nil
}

func (l *AgenticLoop) run(ctx context.Context, in RunInput) (*RunOutput, error) {
	if l.provider == nil {
		return nil, &LoopError{Phase: PhaseInit, Cause: ErrNoProvider}
	}

	messages := messagesFromTurns(in.History)
	messages = append(messages, CompletionMessage{Role: string(models.RoleUser), Content: in.Input})

	var tools []Tool
	if l.provider.SupportsTools() {
		tools = l.registry.AsLLMTools()
	}

	out := &RunOutput{}
	for iteration := 1; iteration <= l.config.MaxIterations; iteration++ {
		out.Iterations = iteration
		resp, err := l.complete(ctx, in.System, messages, tools)
		if err != nil {
			return nil, &LoopError{Phase: PhaseStream, Iteration: iteration, Cause: err}
		}

		if len(resp.toolCalls) == 0 {
			out.Answer = answerOrFallback(resp.text)
			return out, nil
		}

		if err := ctx.Err(); err != nil {
			return nil, &LoopError{Phase: PhaseExecuteTools, Iteration: iteration, Cause: err}
		}
		l.logger.DebugContext(ctx, "executing tool calls",
			"iteration", iteration,
			"count", len(resp.toolCalls),
		)
		execResults := l.executor.ExecuteConcurrently(ctx, resp.toolCalls)
		results := make([]models.ToolResult, len(execResults))
		for i, r := range execResults {
			results[i] = r.Result
		}

		assistant := models.NewTurn(models.RoleAssistant, resp.text)
		assistant.ToolCalls = resp.toolCalls
		toolTurn := models.NewTurn(models.RoleTool, "")
		toolTurn.ToolResults = results
		out.Transcript = append(out.Transcript, assistant, toolTurn)

		messages = append(messages,
			CompletionMessage{Role: string(models.RoleAssistant), Content: resp.text, ToolCalls: resp.toolCalls},
			CompletionMessage{Role: string(models.RoleTool), ToolResults: results},
		)
	}

	// The cap was reached with tool calls still pending.
	out.HitLimit = true
	l.logger.WarnContext(ctx, "tool round limit reached, requesting direct answer",
		"max_iterations", l.config.MaxIterations,
	)
	system := strings.TrimSpace(in.System + "\n\n" + finalAnswerNote)
	resp, err := l.complete(ctx, system, flattenToolExchanges(messages), nil)
	if err != nil {
		return nil, &LoopError{Phase: PhaseFinalize, Iteration: out.Iterations + 1, Cause: err}
	}
	out.Iterations++
	out.Answer = answerOrFallback(resp.text)
	return out, nil
}

// flattenToolExchanges rewrites tool calls and tool results as plain text so
// the conversation can be sent without tool definitions. Providers reject
// tool_use blocks when no tools are declared.
func flattenToolExchanges(messages []CompletionMessage) []CompletionMessage {
	names := make(map[string]string)
	out := make([]CompletionMessage, 0, len(messages))
	for _, msg := range messages {
		switch {
		case len(msg.ToolCalls) > 0:
			var b strings.Builder
			b.WriteString(msg.Content)
			for _, call := range msg.ToolCalls {
				names[call.ID] = call.Name
				if b.Len() > 0 {
					b.WriteString("\n")
				}
				input := strings.TrimSpace(string(call.Input))
				if input == "" {
					input = "{}"
				}
				fmt.Fprintf(&b, "[called tool %s with %s]", call.Name, input)
			}
			out = append(out, CompletionMessage{Role: msg.Role, Content: b.String()})
		case len(msg.ToolResults) > 0:
			var b strings.Builder
			for i, res := range msg.ToolResults {
				if i > 0 {
					b.WriteString("\n\n")
				}
				name := res.Name
				if name == "" {
					name = names[res.ToolCallID]
				}
				status := "result"
				if res.IsError {
					status = "error"
				}
				fmt.Fprintf(&b, "[tool %s %s]\n%s", name, status, res.Content)
			}
			out = append(out, CompletionMessage{Role: string(models.RoleUser), Content: b.String()})
		default:
			out = append(out, msg)
		}
	}
	return out
}

func answerOrFallback(text string) string {
	if strings.TrimSpace(text) == "" {
		return FallbackAnswer
	}
	return text
}

// complete issues one streaming completion and collects text and tool calls.
func (l *AgenticLoop) complete(ctx context.Context, system string, messages []CompletionMessage, tools []Tool) (*completion, error) {
	ctx, span := l.tracer.TraceLLMRequest(ctx, l.provider.Name(), l.config.Model)
	defer span.End()

	start := time.Now()
	resp, err := l.stream(ctx, &CompletionRequest{
		Model:     l.config.Model,
		System:    system,
		Messages:  messages,
		Tools:     tools,
		MaxTokens: l.config.MaxTokens,
	})
	l.metrics.LLMRequest(l.provider.Name(), l.config.Model, err, time.Since(start))
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}
	return resp, nil
}

func (l *AgenticLoop) stream(ctx context.Context, req *CompletionRequest) (*completion, error) {
	chunks, err := l.provider.Complete(ctx, req)
	if err != nil {
		return nil, err
	}

	var text strings.Builder
	resp := &completion{}
	for chunk := range chunks {
		if chunk == nil {
			continue
		}
		if chunk.Error != nil {
			// Drain so the provider goroutine can exit.
			for range chunks {
			}
			return nil, chunk.Error
		}
		text.WriteString(chunk.Text)
		if chunk.ToolCall != nil {
			tc := *chunk.ToolCall
			if tc.ID == "" {
				tc.ID = "call_" + uuid.NewString()
			}
			resp.toolCalls = append(resp.toolCalls, tc)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("completion interrupted: %w", err)
	}
	resp.text = text.String()
	return resp, nil
}

// IsLLMFailure reports whether err came from the LLM rather than from the
// caller's context.
func IsLLMFailure(err error) bool {
	var loopErr *LoopError
	if !errors.As(err, &loopErr) {
		return false
	}
	return loopErr.Phase == PhaseStream || loopErr.Phase == PhaseFinalize
}
