package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/tgassist/internal/agent"
	"github.com/haasonsaas/tgassist/internal/backoff"
	"github.com/haasonsaas/tgassist/pkg/models"
)

type staticTool struct {
	name   string
	schema string
}

func (t staticTool) Name() string            { return t.name }
func (t staticTool) Description() string     { return "static " + t.name }
func (t staticTool) Schema() json.RawMessage { return json.RawMessage(t.schema) }
func (t staticTool) Execute(context.Context, json.RawMessage) (*agent.ToolResult, error) {
	return &agent.ToolResult{Content: "ok"}, nil
}

func sseServer(t *testing.T, lines []string, captured *openai.ChatCompletionRequest) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q", got)
		}
		if captured != nil {
			body, _ := io.ReadAll(r.Body)
			if err := json.Unmarshal(body, captured); err != nil {
				t.Errorf("decode request: %v", err)
			}
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, line := range lines {
			fmt.Fprintf(w, "data: %s\n\n", line)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
}

func collect(t *testing.T, ch <-chan *agent.CompletionChunk) (string, []models.ToolCall, error) {
	t.Helper()
	var text strings.Builder
	var calls []models.ToolCall
	var err error
	for chunk := range ch {
		if chunk.Error != nil {
			err = chunk.Error
		}
		text.WriteString(chunk.Text)
		if chunk.ToolCall != nil {
			calls = append(calls, *chunk.ToolCall)
		}
	}
	return text.String(), calls, err
}

func TestNewOpenAIProviderDefaults(t *testing.T) {
	if _, err := NewOpenAIProvider(OpenAIConfig{}); err == nil {
		t.Fatal("expected error without API key")
	}
	p, err := NewOpenAIProvider(OpenAIConfig{APIKey: "k"})
	if err != nil {
		t.Fatalf("NewOpenAIProvider: %v", err)
	}
	if p.Name() != "openai" || p.defaultModel != "mistral-large-latest" || p.maxRetries != 3 {
		t.Errorf("unexpected defaults: %+v", p)
	}
	if !p.SupportsTools() {
		t.Error("SupportsTools = false")
	}
}

func TestOpenAICompleteStreamsText(t *testing.T) {
	var req openai.ChatCompletionRequest
	server := sseServer(t, []string{
		`{"id":"1","choices":[{"index":0,"delta":{"role":"assistant","content":"Hello"}}]}`,
		`{"id":"1","choices":[{"index":0,"delta":{"content":" world"},"finish_reason":"stop"}]}`,
	}, &req)
	defer server.Close()

	p, err := NewOpenAIProvider(OpenAIConfig{APIKey: "test-key", BaseURL: server.URL})
	if err != nil {
		t.Fatalf("NewOpenAIProvider: %v", err)
	}
	ch, err := p.Complete(context.Background(), &agent.CompletionRequest{
		System:   "be brief",
		Messages: []agent.CompletionMessage{{Role: "user", Content: "hi"}},
		Tools:    []agent.Tool{staticTool{name: "knowledge_base_search", schema: `{"type":"object"}`}},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	text, calls, err := collect(t, ch)
	if err != nil {
		t.Fatalf("stream error: %v", err)
	}
	if text != "Hello world" || len(calls) != 0 {
		t.Errorf("text = %q, calls = %v", text, calls)
	}

	if req.Model != "mistral-large-latest" {
		t.Errorf("model = %q", req.Model)
	}
	if len(req.Messages) != 2 || req.Messages[0].Role != "system" || req.Messages[0].Content != "be brief" {
		t.Errorf("unexpected messages: %+v", req.Messages)
	}
	if len(req.Tools) != 1 || req.Tools[0].Function.Name != "knowledge_base_search" {
		t.Errorf("unexpected tools: %+v", req.Tools)
	}
}

func TestOpenAICompleteAccumulatesToolCalls(t *testing.T) {
	server := sseServer(t, []string{
		`{"id":"1","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_a","type":"function","function":{"name":"mcp_calendar_search_events","arguments":"{\"query\":"}}]}}]}`,
		`{"id":"1","choices":[{"index":0,"delta":{"tool_calls":[{"index":1,"id":"call_b","type":"function","function":{"name":"knowledge_base_search","arguments":"{}"}}]}}]}`,
		`{"id":"1","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"standup\"}"}}]}}]}`,
		`{"id":"1","choices":[{"index":0,"delta":{},"finish_reason":"tool_calls"}]}`,
	}, nil)
	defer server.Close()

	p, _ := NewOpenAIProvider(OpenAIConfig{APIKey: "test-key", BaseURL: server.URL})
	ch, err := p.Complete(context.Background(), &agent.CompletionRequest{
		Messages: []agent.CompletionMessage{{Role: "user", Content: "find standup"}},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	_, calls, err := collect(t, ch)
	if err != nil {
		t.Fatalf("stream error: %v", err)
	}
	if len(calls) != 2 {
		t.Fatalf("expected 2 tool calls, got %d", len(calls))
	}
	if calls[0].ID != "call_a" || string(calls[0].Input) != `{"query":"standup"}` {
		t.Errorf("call 0 = %+v (%s)", calls[0], calls[0].Input)
	}
	if calls[1].ID != "call_b" || calls[1].Name != "knowledge_base_search" {
		t.Errorf("call 1 = %+v", calls[1])
	}
}

func TestOpenAICompleteRetriesTransientErrors(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) == 1 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			fmt.Fprint(w, `{"error":{"message":"slow down","type":"rate_limit_error","code":"rate_limit_exceeded"}}`)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"id\":\"1\",\"choices\":[{\"index\":0,\"delta\":{\"content\":\"ok\"}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	p, _ := NewOpenAIProvider(OpenAIConfig{
		APIKey:  "test-key",
		BaseURL: server.URL,
		Retry:   backoff.Policy{Initial: time.Millisecond, Max: time.Millisecond, Factor: 1},
	})
	ch, err := p.Complete(context.Background(), &agent.CompletionRequest{
		Messages: []agent.CompletionMessage{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	text, _, err := collect(t, ch)
	if err != nil || text != "ok" {
		t.Fatalf("text = %q, err = %v", text, err)
	}
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2", attempts)
	}
}

func TestOpenAICompleteAuthErrorNotRetried(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"message":"bad key","type":"invalid_request_error","code":"invalid_api_key"}}`)
	}))
	defer server.Close()

	p, _ := NewOpenAIProvider(OpenAIConfig{APIKey: "test-key", BaseURL: server.URL})
	_, err := p.Complete(context.Background(), &agent.CompletionRequest{
		Messages: []agent.CompletionMessage{{Role: "user", Content: "hi"}},
	})
	var providerErr *ProviderError
	if !errors.As(err, &providerErr) {
		t.Fatalf("expected ProviderError, got %v", err)
	}
	if providerErr.Reason != FailoverAuth {
		t.Errorf("Reason = %q, want auth", providerErr.Reason)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}

func TestConvertToOpenAIMessages(t *testing.T) {
	messages := []agent.CompletionMessage{
		{Role: "user", Content: "what is on today?"},
		{Role: "assistant", ToolCalls: []models.ToolCall{{ID: "c1", Name: "mcp_calendar_list_today_events", Input: json.RawMessage(`{}`)}}},
		{Role: "tool", ToolResults: []models.ToolResult{{ToolCallID: "c1", Name: "mcp_calendar_list_today_events", Content: `{"success":true}`}}},
	}
	got := convertToOpenAIMessages(messages, "")
	if len(got) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(got))
	}
	if got[1].Role != openai.ChatMessageRoleAssistant || len(got[1].ToolCalls) != 1 || got[1].ToolCalls[0].Function.Arguments != "{}" {
		t.Errorf("assistant message = %+v", got[1])
	}
	if got[2].Role != openai.ChatMessageRoleTool || got[2].ToolCallID != "c1" {
		t.Errorf("tool message = %+v", got[2])
	}
}

func TestConvertToOpenAIToolsInvalidSchema(t *testing.T) {
	tools := convertToOpenAITools([]agent.Tool{staticTool{name: "broken", schema: `not json`}})
	params, ok := tools[0].Function.Parameters.(map[string]any)
	if !ok || params["type"] != "object" {
		t.Errorf("expected fallback object schema, got %#v", tools[0].Function.Parameters)
	}
}
