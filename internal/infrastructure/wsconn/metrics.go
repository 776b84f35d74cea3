package wsconn

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds per-endpoint connection counters. All methods are safe on a
// nil receiver.
type Metrics struct {
	attempts       *prometheus.CounterVec
	connections    *prometheus.CounterVec
	reconnectWaits *prometheus.CounterVec
	framesReceived *prometheus.CounterVec
	framesSent     *prometheus.CounterVec
	sendFailures   *prometheus.CounterVec
	connected      *prometheus.GaugeVec
	registrations  *prometheus.GaugeVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flowbus",
			Subsystem: "wsconn",
			Name:      "connection_attempts_total",
			Help:      "Total dial attempts per endpoint",
		}, []string{"endpoint"}),

		connections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flowbus",
			Subsystem: "wsconn",
			Name:      "connections_total",
			Help:      "Total successful connections per endpoint",
		}, []string{"endpoint"}),

		reconnectWaits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flowbus",
			Subsystem: "wsconn",
			Name:      "reconnect_waits_total",
			Help:      "Total backoff waits before a redial",
		}, []string{"endpoint"}),

		framesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flowbus",
			Subsystem: "wsconn",
			Name:      "frames_received_total",
			Help:      "Total frames read from the transport",
		}, []string{"endpoint"}),

		framesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flowbus",
			Subsystem: "wsconn",
			Name:      "frames_sent_total",
			Help:      "Total frames written to the transport",
		}, []string{"endpoint"}),

		sendFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flowbus",
			Subsystem: "wsconn",
			Name:      "send_failures_total",
			Help:      "Total sends rejected or failed",
		}, []string{"endpoint"}),

		connected: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "flowbus",
			Subsystem: "wsconn",
			Name:      "connected",
			Help:      "1 while the endpoint is connected",
		}, []string{"endpoint"}),

		registrations: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "flowbus",
			Subsystem: "wsconn",
			Name:      "registrations",
			Help:      "Live handler registrations per endpoint",
		}, []string{"endpoint"}),
	}

	for _, c := range []prometheus.Collector{
		m.attempts, m.connections, m.reconnectWaits, m.framesReceived,
		m.framesSent, m.sendFailures, m.connected, m.registrations,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) attempt(endpoint string) {
	if m != nil {
		m.attempts.WithLabelValues(endpoint).Inc()
	}
}

func (m *Metrics) connectedTo(endpoint string, up bool) {
	if m == nil {
		return
	}
	if up {
		m.connections.WithLabelValues(endpoint).Inc()
		m.connected.WithLabelValues(endpoint).Set(1)
		return
	}
	m.connected.WithLabelValues(endpoint).Set(0)
}

func (m *Metrics) reconnectWait(endpoint string) {
	if m != nil {
		m.reconnectWaits.WithLabelValues(endpoint).Inc()
	}
}

func (m *Metrics) frameReceived(endpoint string) {
	if m != nil {
		m.framesReceived.WithLabelValues(endpoint).Inc()
	}
}

func (m *Metrics) frameSent(endpoint string) {
	if m != nil {
		m.framesSent.WithLabelValues(endpoint).Inc()
	}
}

func (m *Metrics) sendFailed(endpoint string) {
	if m != nil {
		m.sendFailures.WithLabelValues(endpoint).Inc()
	}
}

func (m *Metrics) setRegistrations(endpoint string, n int) {
	if m != nil {
		m.registrations.WithLabelValues(endpoint).Set(float64(n))
	}
}
