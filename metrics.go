package realtime

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the collectors a ConnectionManager updates. Collectors are created
// unregistered; Register attaches them to a registry.
type Metrics struct {
	state             prometheus.Gauge
	reconnectAttempts prometheus.Counter
	connects          prometheus.Counter
	sent              *prometheus.CounterVec
	queued            prometheus.Gauge
	dropped           prometheus.Counter
	inbound           *prometheus.CounterVec
	malformed         prometheus.Counter
	handlerPanics     *prometheus.CounterVec
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_state",
			Help:      "Current connection state (0 disconnected, 1 connecting, 2 connected, 3 reconnecting, 4 failed)",
		}),
		reconnectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnect_attempts_total",
			Help:      "Total scheduled reconnect attempts",
		}),
		connects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connects_total",
			Help:      "Total successful transitions into connected",
		}),
		sent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_sent_total",
				Help:      "Total envelopes written to the transport by type",
			},
			[]string{"type"},
		),
		queued: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queued_messages",
			Help:      "Envelopes waiting in the outbound queue",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_messages_total",
			Help:      "Total envelopes discarded by the outbound queue overflow policy",
		}),
		inbound: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_received_total",
				Help:      "Total inbound envelopes by type",
			},
			[]string{"type"},
		),
		malformed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "malformed_frames_total",
			Help:      "Total inbound frames that could not be decoded",
		}),
		handlerPanics: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "handler_panics_total",
				Help:      "Total panics recovered from event handlers by event",
			},
			[]string{"event"},
		),
	}
}

// Register attaches every collector to reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.state,
		m.reconnectAttempts,
		m.connects,
		m.sent,
		m.queued,
		m.dropped,
		m.inbound,
		m.malformed,
		m.handlerPanics,
	}
}

func (m *Metrics) setState(s ConnectionState) { m.state.Set(float64(s)) }
func (m *Metrics) incReconnect()              { m.reconnectAttempts.Inc() }
func (m *Metrics) incConnect()                { m.connects.Inc() }
func (m *Metrics) incSent(mt MessageType)     { m.sent.WithLabelValues(string(mt)).Inc() }
func (m *Metrics) setQueued(n int)            { m.queued.Set(float64(n)) }
func (m *Metrics) incDropped()                { m.dropped.Inc() }
func (m *Metrics) incInbound(mt MessageType)  { m.inbound.WithLabelValues(string(mt)).Inc() }
func (m *Metrics) incMalformed()              { m.malformed.Inc() }
func (m *Metrics) incHandlerPanic(event EventName) {
	m.handlerPanics.WithLabelValues(string(event)).Inc()
}
