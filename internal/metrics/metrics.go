package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "walletlink"

// Metrics counts protocol activity. A nil *Metrics is a valid no-op recorder.
type Metrics struct {
	registry        *prometheus.Registry
	inbound         *prometheus.CounterVec
	outbound        *prometheus.CounterVec
	decryptFailures *prometheus.CounterVec
	transitions     *prometheus.CounterVec
	droppedEvents   prometheus.Counter
	throttled       prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		inbound: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inbound_total",
			Help:      "Inbound deep links by classified shape.",
		}, []string{"shape"}),
		outbound: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbound_total",
			Help:      "Outbound wallet requests by path and result.",
		}, []string{"path", "result"}),
		decryptFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decrypt_failures_total",
			Help:      "Wallet responses that failed authenticated decryption.",
		}, []string{"stage"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_transitions_total",
			Help:      "Session state machine transitions.",
		}, []string{"from", "to"}),
		droppedEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Events dropped because the host did not drain the event channel.",
		}),
		throttled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inbound_throttled_total",
			Help:      "Inbound deep links rejected by the flood guard.",
		}),
	}
	m.registry.MustRegister(m.inbound, m.outbound, m.decryptFailures, m.transitions, m.droppedEvents, m.throttled)
	return m
}

func (m *Metrics) Gatherer() prometheus.Gatherer {
	if m == nil {
		return prometheus.NewRegistry()
	}
	return m.registry
}

func (m *Metrics) ObserveInbound(shape string) {
	if m == nil {
		return
	}
	m.inbound.WithLabelValues(shape).Inc()
}

func (m *Metrics) ObserveOutbound(path string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.outbound.WithLabelValues(path, result).Inc()
}

func (m *Metrics) ObserveDecryptFailure(stage string) {
	if m == nil {
		return
	}
	m.decryptFailures.WithLabelValues(stage).Inc()
}

func (m *Metrics) ObserveTransition(from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
}

func (m *Metrics) ObserveDroppedEvent() {
	if m == nil {
		return
	}
	m.droppedEvents.Inc()
}

func (m *Metrics) ObserveThrottled() {
	if m == nil {
		return
	}
	m.throttled.Inc()
}

// WriteTextfile dumps all counters in the node-exporter textfile format.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.Gatherer())
}
