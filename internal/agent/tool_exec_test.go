package agent

import (
	"context"
	"encoding/json"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/haasonsaas/tgassist/pkg/models"
)

func TestExecuteConcurrentlyPreservesOrder(t *testing.T) {
	registry := NewToolRegistry()
	for i, delay := range []time.Duration{40 * time.Millisecond, 0, 20 * time.Millisecond} {
		name := []string{"a", "b", "c"}[i]
		d := delay
		if err := registry.Register(&funcTool{name: name, fn: func(ctx context.Context, _ json.RawMessage) (*ToolResult, error) {
			time.Sleep(d)
			return &ToolResult{Content: name}, nil
		}}); err != nil {
			t.Fatalf("Register: %v", err)
		}
	}

	exec := NewToolExecutor(registry, ToolExecConfig{Concurrency: 3}, nil)
	calls := []models.ToolCall{{ID: "1", Name: "a"}, {ID: "2", Name: "b"}, {ID: "3", Name: "c"}}
	results := exec.ExecuteConcurrently(context.Background(), calls)

	for i, r := range results {
		if r.Index != i || r.Result.ToolCallID != calls[i].ID || r.Result.Content != calls[i].Name {
			t.Errorf("result %d = %+v", i, r)
		}
	}
}

func TestExecuteConcurrentlyRespectsLimit(t *testing.T) {
	registry := NewToolRegistry()
	var active, peak int32
	if err := registry.Register(&funcTool{name: "busy", fn: func(ctx context.Context, _ json.RawMessage) (*ToolResult, error) {
		n := atomic.AddInt32(&active, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt32(&active, -1)
		return &ToolResult{Content: "ok"}, nil
	}}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	exec := NewToolExecutor(registry, ToolExecConfig{Concurrency: 2}, nil)
	calls := make([]models.ToolCall, 6)
	for i := range calls {
		calls[i] = models.ToolCall{ID: string(rune('a' + i)), Name: "busy"}
	}
	exec.ExecuteConcurrently(context.Background(), calls)

	if peak > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", peak)
	}
}

func TestExecuteTimeoutWithinBound(t *testing.T) {
	registry := NewToolRegistry()
	if err := registry.Register(&funcTool{name: "hang", fn: func(ctx context.Context, _ json.RawMessage) (*ToolResult, error) {
		time.Sleep(5 * time.Second)
		return &ToolResult{Content: "late"}, nil
	}}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	timeout := 50 * time.Millisecond
	exec := NewToolExecutor(registry, ToolExecConfig{PerToolTimeout: timeout}, nil)

	start := time.Now()
	results := exec.ExecuteConcurrently(context.Background(), []models.ToolCall{{ID: "1", Name: "hang"}})
	elapsed := time.Since(start)

	if elapsed > timeout+500*time.Millisecond {
		t.Fatalf("timeout took %v", elapsed)
	}
	r := results[0]
	if !r.TimedOut || !r.Result.IsError {
		t.Fatalf("expected timed out error result, got %+v", r)
	}
	if !strings.Contains(r.Result.Content, "timed out") {
		t.Errorf("content = %q", r.Result.Content)
	}
}

func TestExecuteRecoversPanic(t *testing.T) {
	registry := NewToolRegistry()
	if err := registry.Register(&funcTool{name: "boom", fn: func(ctx context.Context, _ json.RawMessage) (*ToolResult, error) {
		panic("kaboom")
	}}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	exec := NewToolExecutor(registry, DefaultToolExecConfig(), nil)
	results := exec.ExecuteConcurrently(context.Background(), []models.ToolCall{{ID: "1", Name: "boom"}})
	if !results[0].Result.IsError || !strings.Contains(results[0].Result.Content, "kaboom") {
		t.Errorf("unexpected result: %+v", results[0].Result)
	}
}

func TestExecuteCanceledContext(t *testing.T) {
	registry := NewToolRegistry()
	exec := NewToolExecutor(registry, DefaultToolExecConfig(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	results := exec.ExecuteConcurrently(ctx, []models.ToolCall{{ID: "1", Name: "any"}})
	if !results[0].Result.IsError || results[0].Result.Content != "tool execution canceled" {
		t.Errorf("unexpected result: %+v", results[0].Result)
	}
}

func TestClassifyToolError(t *testing.T) {
	tests := []struct {
		content  string
		timedOut bool
		want     ToolErrorType
	}{
		{"anything", true, ToolErrorTimeout},
		{"tool not found: x", false, ToolErrorNotFound},
		{"invalid tool arguments: missing properties", false, ToolErrorInvalidInput},
		{"dial tcp: connection refused", false, ToolErrorNetwork},
		{"429 rate limit", false, ToolErrorRateLimit},
		{"403 forbidden", false, ToolErrorPermission},
		{"range not found in sheet", false, ToolErrorExecution},
	}
	for _, tt := range tests {
		if got := classifyToolError(tt.content, tt.timedOut); got != tt.want {
			t.Errorf("classifyToolError(%q) = %q, want %q", tt.content, got, tt.want)
		}
	}
}

// slowRemoteTool declares its own deadline like a tool bound to a server.
type slowRemoteTool struct {
	funcTool
	timeout time.Duration
}

func (t *slowRemoteTool) Timeout() time.Duration { return t.timeout }

func TestExecuteUsesToolTimeout(t *testing.T) {
	registry := NewToolRegistry()
	slow := &slowRemoteTool{
		funcTool: funcTool{name: "report", fn: func(ctx context.Context, _ json.RawMessage) (*ToolResult, error) {
			select {
			case <-time.After(60 * time.Millisecond):
				return &ToolResult{Content: "done"}, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}},
		timeout: time.Second,
	}
	if err := registry.Register(slow); err != nil {
		t.Fatalf("Register: %v", err)
	}

	exec := NewToolExecutor(registry, ToolExecConfig{PerToolTimeout: 10 * time.Millisecond}, nil)
	results := exec.ExecuteConcurrently(context.Background(), []models.ToolCall{{ID: "1", Name: "report"}})
	if results[0].TimedOut || results[0].Result.Content != "done" {
		t.Fatalf("tool deadline should override the default: %+v", results[0].Result)
	}

	slow.timeout = 10 * time.Millisecond
	exec = NewToolExecutor(registry, ToolExecConfig{PerToolTimeout: time.Second}, nil)
	results = exec.ExecuteConcurrently(context.Background(), []models.ToolCall{{ID: "2", Name: "report"}})
	if !results[0].TimedOut || !strings.Contains(results[0].Result.Content, "timed out after 10ms") {
		t.Fatalf("expected tool deadline to apply: %+v", results[0])
	}
}
