package agent

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMaxIterations marks a turn that hit the tool-round cap.
	ErrMaxIterations = errors.New("max iterations exceeded")

	// ErrNoProvider is returned when the loop has no LLM provider.
	ErrNoProvider = errors.New("no provider configured")

	// ErrToolNotFound is returned for unknown tool names.
	ErrToolNotFound = errors.New("tool not found")

	// ErrDuplicateTool is returned when a tool name is already registered.
	ErrDuplicateTool = errors.New("duplicate tool name")

	// ErrToolTimeout is returned when a tool exceeds its deadline.
	ErrToolTimeout = errors.New("tool execution timed out")

	// ErrEmptyResponse is returned when the model produced neither text nor tool calls.
	ErrEmptyResponse = errors.New("empty model response")
)

// LoopPhase represents a distinct phase in the agentic loop lifecycle.
type LoopPhase string

const (
	PhaseInit         LoopPhase = "init"
	PhaseStream       LoopPhase = "stream"
	PhaseExecuteTools LoopPhase = "execute_tools"
	PhaseContinue     LoopPhase = "continue"
	PhaseFinalize     LoopPhase = "finalize"
	PhaseComplete     LoopPhase = "complete"
)

// LoopError wraps failures with the phase and iteration where they occurred.
type LoopError struct {
	Phase     LoopPhase
	Iteration int
	Message   string
	Cause     error
}

func (e *LoopError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("loop error at %s (iteration %d): %s", e.Phase, e.Iteration, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("loop error at %s (iteration %d): %v", e.Phase, e.Iteration, e.Cause)
	}
	return fmt.Sprintf("loop error at %s (iteration %d)", e.Phase, e.Iteration)
}

func (e *LoopError) Unwrap() error {
	return e.Cause
}

// ToolErrorType categorizes failed tool results for logs and metrics.
type ToolErrorType string

const (
	ToolErrorNotFound     ToolErrorType = "not_found"
	ToolErrorInvalidInput ToolErrorType = "invalid_input"
	ToolErrorTimeout      ToolErrorType = "timeout"
	ToolErrorNetwork      ToolErrorType = "network"
	ToolErrorPermission   ToolErrorType = "permission"
	ToolErrorRateLimit    ToolErrorType = "rate_limit"
	ToolErrorExecution    ToolErrorType = "execution"
)

// classifyToolError determines the error type from the result content.
func classifyToolError(content string, timedOut bool) ToolErrorType {
	if timedOut {
		return ToolErrorTimeout
	}
	msg := strings.ToLower(content)
	switch {
	case strings.HasPrefix(msg, "tool not found"):
		return ToolErrorNotFound
	case strings.HasPrefix(msg, "invalid tool arguments"), strings.Contains(msg, "exceed"):
		return ToolErrorInvalidInput
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "timed out"), strings.Contains(msg, "deadline exceeded"):
		return ToolErrorTimeout
	case strings.Contains(msg, "connection"), strings.Contains(msg, "refused"), strings.Contains(msg, "unreachable"), strings.Contains(msg, "unavailable"):
		return ToolErrorNetwork
	case strings.Contains(msg, "rate limit"), strings.Contains(msg, "too many requests"):
		return ToolErrorRateLimit
	case strings.Contains(msg, "permission"), strings.Contains(msg, "forbidden"), strings.Contains(msg, "unauthorized"):
		return ToolErrorPermission
	}
	return ToolErrorExecution
}
