package metrics

import (
	"errors"
	"testing"
	"time"
)

func counterValue(t *testing.T, m *Metrics, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := m.Gatherer().Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	next:
		for _, metric := range mf.GetMetric() {
			for _, lp := range metric.GetLabel() {
				if labels[lp.GetName()] != lp.GetValue() {
					continue next
				}
			}
			return metric.GetCounter().GetValue()
		}
	}
	return 0
}

func TestCountersRecord(t *testing.T) {
	m := New()
	m.Prepared("create_task", nil)
	m.Prepared("create_task", errors.New("boom"))
	m.Outcome("create_task", "confirmed", 120*time.Millisecond)
	m.AuthAttempt(nil)

	if got := counterValue(t, m, "taskledger_prepares_total", map[string]string{"operation": "create_task", "result": "ok"}); got != 1 {
		t.Fatalf("expected 1 ok prepare, got %v", got)
	}
	if got := counterValue(t, m, "taskledger_prepares_total", map[string]string{"operation": "create_task", "result": "error"}); got != 1 {
		t.Fatalf("expected 1 failed prepare, got %v", got)
	}
	if got := counterValue(t, m, "taskledger_submissions_total", map[string]string{"operation": "create_task", "status": "confirmed"}); got != 1 {
		t.Fatalf("expected 1 confirmed outcome, got %v", got)
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.Prepared("x", nil)
	m.Outcome("x", "confirmed", time.Second)
	m.AuthAttempt(nil)
	m.Reconciled("expired")
	m.RateLimited()
}
