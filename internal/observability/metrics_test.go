package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestClientMetricsCount(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewClientMetrics("test", reg)

	m.ObserveHandshake("websocket", "ok")
	m.ObserveHandshake("websocket", "ok")
	m.ObserveConfigRetry()
	m.ObserveFailover()

	if got := testutil.ToFloat64(m.HandshakeAttempts.WithLabelValues("websocket", "ok")); got != 2 {
		t.Fatalf("handshake attempts = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.ConfigRetries); got != 1 {
		t.Fatalf("config retries = %v, want 1", got)
	}
}

func TestNilClientMetricsIsSafe(t *testing.T) {
	var m *ClientMetrics
	m.ObserveHandshake("webrtc", "error")
	m.ObserveConfigRetry()
	m.ObserveFailover()
	m.ObserveFragmentError("inbound")
}

func TestServerMetricsRegisterOnCustomRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics("test", reg)
	m.SessionCost.Add(0.25)
	m.ActiveSessions.Inc()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	if len(families) != 2 {
		t.Fatalf("len(families) = %d, want 2 touched collectors", len(families))
	}
}

func TestServerMetricsHelpers(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics("test", reg)

	m.ObserveWSMessage("upstream", "")
	m.ObserveWSMessage("upstream", "response.done")
	m.ObserveProviderError("primary", "server_error")
	m.ObserveSessionEvent("created")
	m.SetActiveSessions(3)
	m.AddSessionCost(-1)
	m.AddSessionCost(0.5)

	if got := testutil.ToFloat64(m.WSMessages.WithLabelValues("upstream", "unknown")); got != 1 {
		t.Fatalf("unknown messages = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ActiveSessions); got != 3 {
		t.Fatalf("active sessions = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.SessionCost); got != 0.5 {
		t.Fatalf("session cost = %v, want 0.5", got)
	}

	var nilMetrics *Metrics
	nilMetrics.ObserveSessionEvent("ended")
	nilMetrics.SetActiveSessions(1)
}
