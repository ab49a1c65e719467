package observability

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsRecord(t *testing.T) {
	m := NewMetrics(nil)

	m.MessageProcessed("inbound", "text")
	m.MessageProcessed("inbound", "text")
	m.MessageProcessed("outbound", "text")
	m.LLMRequest("openai", "mistral-large-latest", nil, time.Second)
	m.LLMRequest("openai", "mistral-large-latest", errors.New("boom"), time.Second)
	m.ToolExecuted("mcp_calendar_list_today_events", true, 10*time.Millisecond)
	m.ServerConnected("calendar", true)

	if got := testutil.ToFloat64(m.MessageCounter.WithLabelValues("inbound", "text")); got != 2 {
		t.Errorf("inbound messages = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.LLMRequestCounter.WithLabelValues("openai", "mistral-large-latest", "error")); got != 1 {
		t.Errorf("llm errors = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ToolExecutionCounter.WithLabelValues("mcp_calendar_list_today_events", "error")); got != 1 {
		t.Errorf("tool errors = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.MCPServersConnected.WithLabelValues("calendar")); got != 1 {
		t.Errorf("server gauge = %v, want 1", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.MessageProcessed("inbound", "text")
	m.LLMRequest("p", "m", nil, time.Second)
	m.ToolExecuted("t", false, time.Second)
	m.RecordError("agent", "x")
	m.LockWaited(time.Second)
	m.ServerConnected("calendar", false)
}

func TestMetricsHandler(t *testing.T) {
	m := NewMetrics(nil)
	m.RecordError("agent", "provider")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	if !strings.Contains(rec.Body.String(), `tgassist_errors_total{component="agent",error_type="provider"} 1`) {
		t.Errorf("metrics output missing error counter:\n%s", rec.Body.String())
	}
}
