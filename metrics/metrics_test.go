package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestRegisterAttachesEveryMetric(t *testing.T) {
	c := NewCollector()
	reg := prometheus.NewRegistry()
	if err := c.Register(reg); err != nil {
		t.Fatalf("Register: %v", err)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{
		"duplexmux_session_buffer_resends_total",
		"duplexmux_session_held_out_of_order_buffers",
		"duplexmux_session_ack_latency_seconds",
		"duplexmux_manager_sessions_active",
		"duplexmux_session_terminations_total",
	} {
		if !names[want] {
			t.Errorf("expected registered metric family %q, families were: %v", want, names)
		}
	}
}

func TestRegisterTwiceOnSameRegistryFails(t *testing.T) {
	c := NewCollector()
	reg := prometheus.NewRegistry()
	if err := c.Register(reg); err != nil {
		t.Fatalf("first Register: %v", err)
	}
	if err := c.Register(reg); err == nil {
		t.Fatal("expected second Register against the same collectors to fail with a duplicate-registration error")
	}
}

func TestResendsCounterIncrementsByReason(t *testing.T) {
	c := NewCollector()
	c.Resends.WithLabelValues("Ack").Inc()
	c.Resends.WithLabelValues("Ack").Inc()
	c.Resends.WithLabelValues("Status").Inc()

	var m dto.Metric
	if err := c.Resends.WithLabelValues("Ack").Write(&m); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if got := m.GetCounter().GetValue(); got != 2 {
		t.Errorf("expected Ack resend count 2, got %v", got)
	}
}
