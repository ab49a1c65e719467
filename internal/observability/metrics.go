package observability

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects the bot's Prometheus metrics.
//
// A nil *Metrics is valid and records nothing, so components can take an
// optional metrics dependency without nil checks at every call site.
type Metrics struct {
	// MessageCounter tracks chat messages. Labels: direction (inbound|outbound), kind (command|text)
	MessageCounter *prometheus.CounterVec

	// LLMRequestDuration measures LLM call latency in seconds. Labels: provider, model
	LLMRequestDuration *prometheus.HistogramVec

	// LLMRequestCounter counts LLM requests. Labels: provider, model, status (success|error)
	LLMRequestCounter *prometheus.CounterVec

	// ToolExecutionCounter counts tool invocations. Labels: tool_name, status (success|error)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool latency in seconds. Labels: tool_name
	ToolExecutionDuration *prometheus.HistogramVec

	// ErrorCounter tracks errors. Labels: component, error_type
	ErrorCounter *prometheus.CounterVec

	// SessionLockWait measures how long turns waited for their session lock.
	SessionLockWait prometheus.Histogram

	// MCPServersConnected reports connected tool servers. Labels: server
	MCPServersConnected *prometheus.GaugeVec

	registry *prometheus.Registry
}

// NewMetrics creates the metrics on a dedicated registry. Passing a nil
// registry creates a fresh one; tests use this for isolation.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	factory := promauto.With(registry)

	return &Metrics{
		MessageCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tgassist_messages_total",
				Help: "Total number of chat messages by direction and kind",
			},
			[]string{"direction", "kind"},
		),
		LLMRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tgassist_llm_request_duration_seconds",
				Help:    "Duration of LLM requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),
		LLMRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tgassist_llm_requests_total",
				Help: "Total number of LLM requests by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),
		ToolExecutionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tgassist_tool_executions_total",
				Help: "Total number of tool executions by tool name and status",
			},
			[]string{"tool_name", "status"},
		),
		ToolExecutionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tgassist_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool_name"},
		),
		ErrorCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tgassist_errors_total",
				Help: "Total number of errors by component and error type",
			},
			[]string{"component", "error_type"},
		),
		SessionLockWait: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "tgassist_session_lock_wait_seconds",
				Help:    "Time spent waiting for a per-session lock",
				Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 30},
			},
		),
		MCPServersConnected: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tgassist_mcp_server_connected",
				Help: "1 when the tool server is connected, 0 otherwise",
			},
			[]string{"server"},
		),
		registry: registry,
	}
}

// MessageProcessed records an inbound or outbound chat message.
func (m *Metrics) MessageProcessed(direction, kind string) {
	if m == nil {
		return
	}
	m.MessageCounter.WithLabelValues(direction, kind).Inc()
}

// LLMRequest records one completion request.
func (m *Metrics) LLMRequest(provider, model string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.LLMRequestCounter.WithLabelValues(provider, model, status(err)).Inc()
	m.LLMRequestDuration.WithLabelValues(provider, model).Observe(elapsed.Seconds())
}

// ToolExecuted records one tool invocation.
func (m *Metrics) ToolExecuted(tool string, failed bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	s := "success"
	if failed {
		s = "error"
	}
	m.ToolExecutionCounter.WithLabelValues(tool, s).Inc()
	m.ToolExecutionDuration.WithLabelValues(tool).Observe(elapsed.Seconds())
}

// RecordError increments the error counter.
func (m *Metrics) RecordError(component, errorType string) {
	if m == nil {
		return
	}
	m.ErrorCounter.WithLabelValues(component, errorType).Inc()
}

// LockWaited records session lock wait time.
func (m *Metrics) LockWaited(elapsed time.Duration) {
	if m == nil {
		return
	}
	m.SessionLockWait.Observe(elapsed.Seconds())
}

// ServerConnected sets the connection gauge for a tool server.
func (m *Metrics) ServerConnected(server string, connected bool) {
	if m == nil {
		return
	}
	v := 0.0
	if connected {
		v = 1
	}
	m.MCPServersConnected.WithLabelValues(server).Set(v)
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve runs a /metrics endpoint on addr until ctx is cancelled. extra
// mounts additional handlers by path, such as a health check.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *slog.Logger, extra map[string]http.Handler) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	for path, h := range extra {
		mux.Handle(path, h)
	}
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics endpoint listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
