package observability

import (
	"errors"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
)

func TestHostMetricsCountOutcomes(t *testing.T) {
	m := Host()
	m.ObserveInvocation("escrow", "releaseFunds", nil, time.Millisecond)
	m.ObserveInvocation("escrow", "releaseFunds", errors.New("boom"), time.Millisecond)
	m.ObserveInvocation("escrow", "releaseFunds", errors.New("boom"), time.Millisecond)

	var metric dto.Metric
	if err := m.invocations.WithLabelValues("escrow", "releaseFunds", "error").Write(&metric); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	if got := metric.GetCounter().GetValue(); got != 2 {
		t.Fatalf("expected 2 failed invocations, got %v", got)
	}

	m.SetHeight(42)
	var gauge dto.Metric
	if err := m.height.Write(&gauge); err != nil {
		t.Fatalf("write gauge: %v", err)
	}
	if got := gauge.GetGauge().GetValue(); got != 42 {
		t.Fatalf("expected height 42, got %v", got)
	}
}

func TestRPCMetricsDefaultsLabels(t *testing.T) {
	m := RPC()
	m.Observe("", -32601, time.Millisecond)

	var metric dto.Metric
	if err := m.errors.WithLabelValues("unknown", "-32601").Write(&metric); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	if got := metric.GetCounter().GetValue(); got != 1 {
		t.Fatalf("expected one error, got %v", got)
	}

	var nilMetrics *rpcMetrics
	nilMetrics.Observe("m", 0, 0)
	nilMetrics.RecordThrottle("rate_limit")
}
