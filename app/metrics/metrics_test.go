package metrics

import (
	"testing"

	dto "github.com/prometheus/client_model/go"
)

func TestCounterVecLabels(t *testing.T) {
	PagesFetched.WithLabelValues("metrics-test").Add(3)

	var m dto.Metric
	if err := PagesFetched.WithLabelValues("metrics-test").Write(&m); err != nil {
		t.Fatalf("Failed to read metric: %v", err)
	}
	if got := m.GetCounter().GetValue(); got != 3 {
		t.Errorf("Expected 3 pages, got %v", got)
	}
}

func TestGauge(t *testing.T) {
	SchedulerPaused.Set(1)
	defer SchedulerPaused.Set(0)

	var m dto.Metric
	if err := SchedulerPaused.Write(&m); err != nil {
		t.Fatalf("Failed to read metric: %v", err)
	}
	if got := m.GetGauge().GetValue(); got != 1 {
		t.Errorf("Expected paused gauge 1, got %v", got)
	}
}
