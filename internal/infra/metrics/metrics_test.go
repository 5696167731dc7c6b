package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ModelCall("glm-5-free", "success", time.Second)
	m.ToolCall("web_search", "success", time.Millisecond)
	m.GateHalt("send_email")
	m.Exhausted()
	m.RequestDone("capable", "answer", 1)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("nil handler status = %d, want 404", rec.Code)
	}
}

func TestModelCallCounts(t *testing.T) {
	m := New()
	m.ModelCall("glm-5-free", "transient", 2*time.Second)
	m.ModelCall("kimi-k2.5-free", "success", time.Second)
	m.ModelCall("kimi-k2.5-free", "success", time.Second)

	expected := `
		# HELP sparkie_model_calls_total Model call attempts by model and outcome
		# TYPE sparkie_model_calls_total counter
		sparkie_model_calls_total{model="glm-5-free",outcome="transient"} 1
		sparkie_model_calls_total{model="kimi-k2.5-free",outcome="success"} 2
	`
	if err := testutil.CollectAndCompare(m.ModelCalls, strings.NewReader(expected)); err != nil {
		t.Errorf("unexpected metric value: %v", err)
	}
	if n := testutil.CollectAndCount(m.ModelCallDuration); n != 2 {
		t.Errorf("duration series = %d, want 2", n)
	}
}

func TestGateAndRequestCounters(t *testing.T) {
	m := New()
	m.GateHalt("send_email")
	m.RequestDone("capable", "task", 1)
	m.Exhausted()

	if v := testutil.ToFloat64(m.GateHalts.WithLabelValues("send_email")); v != 1 {
		t.Errorf("gate halts = %v, want 1", v)
	}
	if v := testutil.ToFloat64(m.Requests.WithLabelValues("capable", "task")); v != 1 {
		t.Errorf("requests = %v, want 1", v)
	}
	if v := testutil.ToFloat64(m.DispatchExhausted); v != 1 {
		t.Errorf("exhausted = %v, want 1", v)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.ToolCall("web_search", "success", 10*time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	if !strings.Contains(body, `sparkie_tool_calls_total{status="success",tool="web_search"} 1`) {
		t.Errorf("tool counter missing from exposition:\n%s", body)
	}
	if !strings.Contains(body, "go_goroutines") {
		t.Error("go collector missing")
	}
}
