// Package agent implements the reasoning loop that alternates between LLM
// completions and tool execution until the model produces a final answer.
package agent

import (
	"context"
	"encoding/json"

	"github.com/haasonsaas/tgassist/pkg/models"
)

// LLMProvider is implemented by every completion backend.
type LLMProvider interface {
	// Complete starts a completion and streams chunks until a chunk with
	// Done or Error set. The channel is closed afterwards.
	Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error)

	// Name returns the provider identifier used in logs and metrics.
	Name() string

	// SupportsTools reports whether the provider accepts tool definitions.
	SupportsTools() bool
}

// CompletionRequest is a provider-agnostic completion request.
type CompletionRequest struct {
	Model     string              `json:"model"`
	System    string              `json:"system,omitempty"`
	Messages  []CompletionMessage `json:"messages"`
	Tools     []Tool              `json:"-"`
	MaxTokens int                 `json:"max_tokens,omitempty"`
}

// CompletionMessage is one message of the prompt.
type CompletionMessage struct {
	Role        string              `json:"role"`
	Content     string              `json:"content,omitempty"`
	ToolCalls   []models.ToolCall   `json:"tool_calls,omitempty"`
	ToolResults []models.ToolResult `json:"tool_results,omitempty"`
}

// CompletionChunk is one streamed piece of a completion.
type CompletionChunk struct {
	Text     string           `json:"text,omitempty"`
	ToolCall *models.ToolCall `json:"tool_call,omitempty"`
	Done     bool             `json:"done,omitempty"`
	Error    error            `json:"-"`

	InputTokens  int `json:"input_tokens,omitempty"`
	OutputTokens int `json:"output_tokens,omitempty"`
}

// Tool is a callable capability exposed to the model. Remote MCP tools and
// in-process tools implement the same interface, so the loop cannot tell
// them apart.
type Tool interface {
	Name() string
	Description() string
	// Schema returns the JSON schema of the tool input.
	Schema() json.RawMessage
	Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error)
}

// ToolResult is the outcome of a tool execution.
type ToolResult struct {
	Content string `json:"content"`
	IsError bool   `json:"is_error,omitempty"`
}

// messagesFromTurns converts stored history into prompt messages. Tool turns
// keep their results so providers can pair them with the preceding calls.
func messagesFromTurns(turns []models.Turn) []CompletionMessage {
	messages := make([]CompletionMessage, 0, len(turns))
	for _, turn := range turns {
		if turn.Role == models.RoleSystem {
			continue
		}
		messages = append(messages, CompletionMessage{
			Role:        string(turn.Role),
			Content:     turn.Content,
			ToolCalls:   turn.ToolCalls,
			ToolResults: turn.ToolResults,
		})
	}
	return repairToolPairs(messages)
}

// repairToolPairs drops tool calls without results and results without calls.
// History windows can cut through a tool exchange and providers reject
// unpaired entries.
func repairToolPairs(messages []CompletionMessage) []CompletionMessage {
	answered := make(map[string]bool)
	requested := make(map[string]bool)
	for _, msg := range messages {
		for _, tc := range msg.ToolCalls {
			requested[tc.ID] = true
		}
		for _, tr := range msg.ToolResults {
			answered[tr.ToolCallID] = true
		}
	}

	out := make([]CompletionMessage, 0, len(messages))
	for _, msg := range messages {
		if len(msg.ToolCalls) > 0 {
			kept := msg.ToolCalls[:0:0]
			for _, tc := range msg.ToolCalls {
				if answered[tc.ID] {
					kept = append(kept, tc)
				}
			}
			msg.ToolCalls = kept
			if len(kept) == 0 && msg.Content == "" {
				continue
			}
		}
		if len(msg.ToolResults) > 0 {
			kept := msg.ToolResults[:0:0]
			for _, tr := range msg.ToolResults {
				if requested[tr.ToolCallID] {
					kept = append(kept, tr)
				}
			}
			msg.ToolResults = kept
			if len(kept) == 0 {
				continue
			}
		}
		out = append(out, msg)
	}
	return out
}
