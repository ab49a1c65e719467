package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/haasonsaas/tgassist/internal/observability"
	"github.com/haasonsaas/tgassist/pkg/models"
)

// ToolExecConfig configures tool execution behavior.
type ToolExecConfig struct {
	// Concurrency is the maximum number of concurrent tool executions.
	// Default: 4.
	Concurrency int

	// PerToolTimeout is the timeout for individual tool executions.
	// Default: 30 seconds.
	PerToolTimeout time.Duration
}

// DefaultToolExecConfig returns defaults with 4 concurrent tools and a 30
// second timeout.
func DefaultToolExecConfig() ToolExecConfig {
	return ToolExecConfig{
		Concurrency:    4,
		PerToolTimeout: 30 * time.Second,
	}
}

// TimeoutTool is a tool that carries its own execution deadline, such as a
// remote tool bound to a server's request timeout. It overrides
// PerToolTimeout.
type TimeoutTool interface {
	Tool
	Timeout() time.Duration
}

// ToolExecutor runs batches of tool calls concurrently with a per-call timeout.
type ToolExecutor struct {
	registry *ToolRegistry
	config   ToolExecConfig
	logger   *slog.Logger
	metrics  *observability.Metrics
	tracer   *observability.Tracer
}

// NewToolExecutor creates an executor. Zero config fields get defaults.
func NewToolExecutor(registry *ToolRegistry, config ToolExecConfig, logger *slog.Logger) *ToolExecutor {
	defaults := DefaultToolExecConfig()
	if config.Concurrency <= 0 {
		config.Concurrency = defaults.Concurrency
	}
	if config.PerToolTimeout <= 0 {
		config.PerToolTimeout = defaults.PerToolTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ToolExecutor{
		registry: registry,
		config:   config,
		logger:   logger.With("component", "tool_executor"),
	}
}

// UseMetrics attaches Prometheus metrics.
func (e *ToolExecutor) UseMetrics(m *observability.Metrics) { e.metrics = m }

// UseTracer attaches a tracer.
func (e *ToolExecutor) UseTracer(t *observability.Tracer) { e.tracer = t }

// ToolExecResult is the result of one tool call together with timing data.
type ToolExecResult struct {
	Index     int
	ToolCall  models.ToolCall
	Result    models.ToolResult
	StartTime time.Time
	EndTime   time.Time
	TimedOut  bool
}

// ExecuteConcurrently runs all calls and returns results in input order.
// Results[i] always answers toolCalls[i] regardless of completion order, and
// a failing tool never aborts its siblings.
func (e *ToolExecutor) ExecuteConcurrently(ctx context.Context, toolCalls []models.ToolCall) []ToolExecResult {
	results := make([]ToolExecResult, len(toolCalls))

	var g errgroup.Group
	g.SetLimit(e.config.Concurrency)
	for i, tc := range toolCalls {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				results[i] = ToolExecResult{
					Index:    i,
					ToolCall: tc,
					Result:   models.ToolResult{ToolCallID: tc.ID, Name: tc.Name, Content: "tool execution canceled", IsError: true},
				}
				return nil
			}
			results[i] = e.executeOne(ctx, i, tc)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (e *ToolExecutor) executeOne(ctx context.Context, idx int, call models.ToolCall) ToolExecResult {
	ctx, span := e.tracer.TraceToolExecution(ctx, call.Name)
	defer span.End()

	start := time.Now()
	timeout := e.timeoutFor(call.Name)
	toolCtx, cancel := context.WithTimeout(ctx, timeout)
	result, timedOut := e.executeWithTimeout(toolCtx, call, timeout)
	cancel()
	end := time.Now()

	if result.IsError {
		observability.RecordError(span, errors.New(result.Content))
		e.logger.WarnContext(ctx, "tool returned error",
			"tool", call.Name,
			"tool_call_id", call.ID,
			"timed_out", timedOut,
			"error_type", classifyToolError(result.Content, timedOut),
		)
	}
	e.metrics.ToolExecuted(call.Name, result.IsError, end.Sub(start))

	return ToolExecResult{
		Index:     idx,
		ToolCall:  call,
		Result:    result,
		StartTime: start,
		EndTime:   end,
		TimedOut:  timedOut,
	}
}

// timeoutFor returns the tool's own deadline or PerToolTimeout.
func (e *ToolExecutor) timeoutFor(name string) time.Duration {
	if e.registry == nil {
		return e.config.PerToolTimeout
	}
	if tool, ok := e.registry.Get(name); ok {
		if tt, ok := tool.(TimeoutTool); ok && tt.Timeout() > 0 {
			return tt.Timeout()
		}
	}
	return e.config.PerToolTimeout
}

// executeWithTimeout runs one call and abandons it once ctx is done.
func (e *ToolExecutor) executeWithTimeout(ctx context.Context, call models.ToolCall, timeout time.Duration) (models.ToolResult, bool) {
	type execResult struct {
		result *ToolResult
		err    error
	}

	resultChan := make(chan execResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				resultChan <- execResult{err: fmt.Errorf("tool panicked: %v", r)}
			}
		}()
		result, err := e.registry.Execute(ctx, call.Name, call.Input)
		resultChan <- execResult{result: result, err: err}
	}()

	select {
	case <-ctx.Done():
		timedOut := errors.Is(ctx.Err(), context.DeadlineExceeded)
		content := "tool execution canceled"
		if timedOut {
			content = fmt.Sprintf("tool %s unavailable: timed out after %v", call.Name, timeout)
		}
		return models.ToolResult{ToolCallID: call.ID, Name: call.Name, Content: content, IsError: true}, timedOut
	case res := <-resultChan:
		if res.err != nil {
			return models.ToolResult{ToolCallID: call.ID, Name: call.Name, Content: res.err.Error(), IsError: true}, false
		}
		if res.result == nil {
			return models.ToolResult{ToolCallID: call.ID, Name: call.Name, Content: "tool returned no result", IsError: true}, false
		}
		return models.ToolResult{
			ToolCallID: call.ID,
			Name:       call.Name,
			Content:    res.result.Content,
			IsError:    res.result.IsError,
		}, false
	}
}
