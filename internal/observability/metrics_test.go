package observability

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// Metric tests use isolated registries: NewMetrics registers with the
// default registry and can only run once per process.

func TestTurnCounterLabels(t *testing.T) {
	registry := prometheus.NewRegistry()
	counter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "test_turns_total",
			Help: "Test turn counter",
		},
		[]string{"provider", "status"},
	)
	registry.MustRegister(counter)

	counter.WithLabelValues("primary", "completed").Inc()
	counter.WithLabelValues("primary", "completed").Inc()
	counter.WithLabelValues("secondary", "interrupted").Inc()

	if count := testutil.CollectAndCount(counter); count != 2 {
		t.Errorf("expected 2 label combinations, got %d", count)
	}

	expected := `
		# HELP test_turns_total Test turn counter
		# TYPE test_turns_total counter
		test_turns_total{provider="primary",status="completed"} 2
		test_turns_total{provider="secondary",status="interrupted"} 1
	`
	if err := testutil.CollectAndCompare(counter, strings.NewReader(expected)); err != nil {
		t.Errorf("unexpected metric value: %v", err)
	}
}

func TestModelTokenCounter(t *testing.T) {
	registry := prometheus.NewRegistry()
	counter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "test_model_tokens_total",
			Help: "Test token counter",
		},
		[]string{"provider", "model", "type"},
	)
	registry.MustRegister(counter)

	counter.WithLabelValues("primary", "gpt-5.2", "prompt").Add(120)
	counter.WithLabelValues("primary", "gpt-5.2", "completion").Add(48)

	expected := `
		# HELP test_model_tokens_total Test token counter
		# TYPE test_model_tokens_total counter
		test_model_tokens_total{model="gpt-5.2",provider="primary",type="completion"} 48
		test_model_tokens_total{model="gpt-5.2",provider="primary",type="prompt"} 120
	`
	if err := testutil.CollectAndCompare(counter, strings.NewReader(expected)); err != nil {
		t.Errorf("unexpected metric value: %v", err)
	}
}

func TestToolExecutionHistogram(t *testing.T) {
	registry := prometheus.NewRegistry()
	hist := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "test_tool_execution_duration_seconds",
			Help:    "Test tool duration",
			Buckets: []float64{0.01, 0.1, 1},
		},
		[]string{"tool_name"},
	)
	registry.MustRegister(hist)

	hist.WithLabelValues("current_time").Observe(0.005)
	hist.WithLabelValues("current_time").Observe(0.5)

	if count := testutil.CollectAndCount(hist); count != 1 {
		t.Errorf("expected 1 label combination, got %d", count)
	}
}

func TestActiveSessionsGauge(t *testing.T) {
	registry := prometheus.NewRegistry()
	gauge := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "test_active_sessions",
			Help: "Test session gauge",
		},
		[]string{"state"},
	)
	registry.MustRegister(gauge)

	gauge.WithLabelValues("ready").Inc()
	gauge.WithLabelValues("ready").Inc()
	gauge.WithLabelValues("pending").Inc()
	gauge.WithLabelValues("ready").Dec()

	expected := `
		# HELP test_active_sessions Test session gauge
		# TYPE test_active_sessions gauge
		test_active_sessions{state="pending"} 1
		test_active_sessions{state="ready"} 1
	`
	if err := testutil.CollectAndCompare(gauge, strings.NewReader(expected)); err != nil {
		t.Errorf("unexpected gauge value: %v", err)
	}
}

func TestRPCRequestCounter(t *testing.T) {
	registry := prometheus.NewRegistry()
	counter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "test_rpc_requests_total",
			Help: "Test RPC counter",
		},
		[]string{"method", "status"},
	)
	registry.MustRegister(counter)

	counter.WithLabelValues("session.send", "ok").Inc()
	counter.WithLabelValues("session.send", "error").Inc()
	counter.WithLabelValues("state.get", "ok").Inc()

	if count := testutil.CollectAndCount(counter); count != 3 {
		t.Errorf("expected 3 label combinations, got %d", count)
	}
}
