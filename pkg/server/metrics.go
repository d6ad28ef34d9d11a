package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "channel"

// Metrics holds the Prometheus collectors of a Registry. A nil *Metrics
// records nothing.
type Metrics struct {
	active      prometheus.Gauge
	created     prometheus.Counter
	closed      *prometheus.CounterVec
	messagesIn  prometheus.Counter
	messagesOut prometheus.Counter
	duplicates  prometheus.Counter
	frames      *prometheus.CounterVec
	protoErrors *prometheus.CounterVec
	reconnects  prometheus.Counter
	panics      *prometheus.CounterVec
}

// NewMetrics registers the channel collectors with reg. It returns nil when
// reg is nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return nil
	}
	factory := promauto.With(reg)

	return &Metrics{
		active: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "connections_active",
			Help:      "Number of registered logical connections",
		}),
		created: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "connections_created_total",
			Help:      "Total number of logical connections created",
		}),
		closed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "connections_closed_total",
			Help:      "Total number of logical connections removed, by reason",
		}, []string{"reason"}),
		messagesIn: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "messages_received_total",
			Help:      "Total number of messages delivered to the handler",
		}),
		messagesOut: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "messages_posted_total",
			Help:      "Total number of messages queued for clients",
		}),
		duplicates: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "messages_duplicate_total",
			Help:      "Total number of inbound messages discarded as duplicates",
		}),
		frames: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "frames_total",
			Help:      "Total number of inbound socket frames by command and poll requests by method",
		}, []string{"kind"}),
		protoErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "protocol_errors_total",
			Help:      "Total number of protocol mismatches by code",
		}, []string{"code"}),
		reconnects: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "reconnects_total",
			Help:      "Total number of physical transport replacements",
		}),
		panics: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "handler_panics_total",
			Help:      "Total number of recovered handler panics by callback",
		}, []string{"callback"}),
	}
}

func (m *Metrics) connectionCreated() {
	if m == nil {
		return
	}
	m.active.Inc()
	m.created.Inc()
}

func (m *Metrics) connectionClosed(reason string) {
	if m == nil {
		return
	}
	m.active.Dec()
	m.closed.WithLabelValues(reason).Inc()
}

func (m *Metrics) frame(cmd string) {
	if m == nil {
		return
	}
	m.frames.WithLabelValues(cmd).Inc()
}

func (m *Metrics) received(fresh, total int) {
	if m == nil {
		return
	}
	m.messagesIn.Add(float64(fresh))
	if total > fresh {
		m.duplicates.Add(float64(total - fresh))
	}
}

func (m *Metrics) posted() {
	if m == nil {
		return
	}
	m.messagesOut.Inc()
}

func (m *Metrics) protocolError(code string) {
	if m == nil {
		return
	}
	m.protoErrors.WithLabelValues(code).Inc()
}

func (m *Metrics) reconnected() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

func (m *Metrics) panicked(callback string) {
	if m == nil {
		return
	}
	m.panics.WithLabelValues(callback).Inc()
}
