package flowhost

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts routed messages and trigger failures per node. All
// methods are safe on a nil receiver.
type Metrics struct {
	forwarded     *prometheus.CounterVec
	triggers      *prometheus.CounterVec
	triggerErrors *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		forwarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flowbus",
			Subsystem: "flow",
			Name:      "messages_forwarded_total",
			Help:      "Total messages forwarded per node output",
		}, []string{"node", "output"}),

		triggers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flowbus",
			Subsystem: "flow",
			Name:      "triggers_total",
			Help:      "Total inputs delivered per node",
		}, []string{"node"}),

		triggerErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flowbus",
			Subsystem: "flow",
			Name:      "trigger_errors_total",
			Help:      "Total inputs a node failed to handle",
		}, []string{"node"}),
	}

	for _, c := range []prometheus.Collector{m.forwarded, m.triggers, m.triggerErrors} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) forward(node string, output int) {
	if m == nil {
		return
	}
	m.forwarded.WithLabelValues(node, strconv.Itoa(output)).Inc()
}

func (m *Metrics) trigger(node string, err error) {
	if m == nil {
		return
	}
	m.triggers.WithLabelValues(node).Inc()
	if err != nil {
		m.triggerErrors.WithLabelValues(node).Inc()
	}
}
