package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the Prometheus instruments used by the voice server.
type Metrics struct {
	ActiveSessions prometheus.Gauge
	SessionEvents  *prometheus.CounterVec
	WSMessages     *prometheus.CounterVec
	ProviderErrors *prometheus.CounterVec
	SessionCost    prometheus.Counter
}

func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of live realtime voice sessions.",
		}),
		SessionEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session lifecycle events by type.",
		}, []string{"event"}),
		WSMessages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "Relayed WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		ProviderErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_errors_total",
			Help:      "Upstream realtime provider errors by provider and code.",
		}, []string{"provider", "code"}),
		SessionCost: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_cost_total",
			Help:      "Estimated cost of ended voice sessions in USD.",
		}),
	}
}

// ClientMetrics groups the instruments recorded by the voice controller.
// A nil *ClientMetrics records nothing.
type ClientMetrics struct {
	HandshakeAttempts *prometheus.CounterVec
	ConfigRetries     prometheus.Counter
	Failovers         prometheus.Counter
	FragmentErrors    *prometheus.CounterVec
}

func NewClientMetrics(namespace string, reg prometheus.Registerer) *ClientMetrics {
	f := promauto.With(reg)
	return &ClientMetrics{
		HandshakeAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "voice_handshake_attempts_total",
			Help:      "Voice handshakes by transport and outcome.",
		}, []string{"transport", "outcome"}),
		ConfigRetries: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "voice_config_retries_total",
			Help:      "Session configuration payloads retried after rejection.",
		}),
		Failovers: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "voice_failovers_total",
			Help:      "Switches from the primary to the fallback provider.",
		}),
		FragmentErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "voice_fragment_errors_total",
			Help:      "Audio fragments dropped by direction.",
		}, []string{"direction"}),
	}
}

func (m *ClientMetrics) ObserveHandshake(transport, outcome string) {
	if m == nil {
		return
	}
	m.HandshakeAttempts.WithLabelValues(transport, outcome).Inc()
}

func (m *ClientMetrics) ObserveConfigRetry() {
	if m == nil {
		return
	}
	m.ConfigRetries.Inc()
}

func (m *ClientMetrics) ObserveFailover() {
	if m == nil {
		return
	}
	m.Failovers.Inc()
}

func (m *ClientMetrics) ObserveFragmentError(direction string) {
	if m == nil {
		return
	}
	m.FragmentErrors.WithLabelValues(direction).Inc()
}

func (m *Metrics) ObserveSessionEvent(event string) {
	if m == nil {
		return
	}
	m.SessionEvents.WithLabelValues(event).Inc()
}

func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.ActiveSessions.Set(float64(n))
}

// ObserveWSMessage counts one relayed message. Empty types are recorded as
// "unknown".
func (m *Metrics) ObserveWSMessage(direction, msgType string) {
	if m == nil {
		return
	}
	if msgType == "" {
		msgType = "unknown"
	}
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

func (m *Metrics) ObserveProviderError(provider, code string) {
	if m == nil {
		return
	}
	m.ProviderErrors.WithLabelValues(provider, code).Inc()
}

func (m *Metrics) AddSessionCost(cost float64) {
	if m == nil || cost <= 0 {
		return
	}
	m.SessionCost.Add(cost)
}

func MetricsHandler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
