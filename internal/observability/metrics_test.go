package observability

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsRecordTurn(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordTurn("ok", 2, 150*time.Millisecond)
	m.RecordTurn("ok", 1, 50*time.Millisecond)
	m.RecordTurn("max_iterations", 5, time.Second)

	expected := `
		# HELP groundwork_turns_total Total number of handled turns by outcome
		# TYPE groundwork_turns_total counter
		groundwork_turns_total{outcome="max_iterations"} 1
		groundwork_turns_total{outcome="ok"} 2
	`
	if err := testutil.CollectAndCompare(m.TurnCounter, strings.NewReader(expected)); err != nil {
		t.Errorf("unexpected turn counter: %v", err)
	}
	if count := testutil.CollectAndCount(m.LoopIterations); count != 1 {
		t.Errorf("expected 1 iterations histogram, got %d", count)
	}
}

func TestMetricsRecordToolAndReasoner(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordToolExecution("retrieve_knowledge_base", "success", 10*time.Millisecond)
	m.RecordToolExecution("retrieve_knowledge_base", "error", 10*time.Millisecond)
	m.RecordReasonerRequest("openai", "gpt-4o", "success", time.Second)
	m.RecordStoreOperation("append", errors.New("boom"), time.Millisecond)
	m.RecordError("agent", "reasoner_failed")

	if got := testutil.ToFloat64(m.ToolExecutionCounter.WithLabelValues("retrieve_knowledge_base", "error")); got != 1 {
		t.Errorf("tool error count = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ReasonerCounter.WithLabelValues("openai", "gpt-4o", "success")); got != 1 {
		t.Errorf("reasoner count = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ErrorCounter.WithLabelValues("agent", "reasoner_failed")); got != 1 {
		t.Errorf("error count = %v, want 1", got)
	}
	if count := testutil.CollectAndCount(m.StoreOperationDuration); count != 1 {
		t.Errorf("store histogram series = %d, want 1", count)
	}
}

func TestMetricsNilSafe(t *testing.T) {
	var m *Metrics
	m.RecordTurn("ok", 1, time.Second)
	m.RecordReasonerRequest("p", "m", "success", time.Second)
	m.RecordToolExecution("t", "success", time.Second)
	m.RecordStoreOperation("append", nil, time.Second)
	m.RecordError("c", "e")
}
