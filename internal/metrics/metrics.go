package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "denday"

// Drop reasons recorded on MessagesDropped.
const (
	DropMalformed    = "malformed"
	DropUnauthorized = "unauthorized"
	DropRateLimited  = "rate_limited"
	DropSlowClient   = "slow_client"
	DropIdentity     = "identity_mismatch"
)

// Metrics holds the signaling server's collectors. Each instance owns a
// private registry so tests can create as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	RoomsActive       prometheus.Gauge
	ConnectionsActive prometheus.Gauge
	MessagesReceived  *prometheus.CounterVec
	MessagesRelayed   *prometheus.CounterVec
	MessagesDropped   *prometheus.CounterVec
	RoomsSwept        prometheus.Counter
}

// New creates and registers every collector.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		RoomsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rooms_active",
			Help:      "Number of live party rooms.",
		}),
		ConnectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_active",
			Help:      "Number of open signaling websocket connections.",
		}),
		MessagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Inbound signaling messages by event type.",
		}, []string{"type"}),
		MessagesRelayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_relayed_total",
			Help:      "Outbound deliveries by event type.",
		}, []string{"type"}),
		MessagesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_dropped_total",
			Help:      "Messages dropped without effect, by reason.",
		}, []string{"reason"}),
		RoomsSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rooms_swept_total",
			Help:      "Empty rooms purged by the background sweeper.",
		}),
	}

	m.registry.MustRegister(
		m.RoomsActive,
		m.ConnectionsActive,
		m.MessagesReceived,
		m.MessagesRelayed,
		m.MessagesDropped,
		m.RoomsSwept,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler exposes the registry at /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Received(msgType string) {
	m.MessagesReceived.WithLabelValues(msgType).Inc()
}

func (m *Metrics) Relayed(msgType string) {
	m.MessagesRelayed.WithLabelValues(msgType).Inc()
}

func (m *Metrics) Dropped(reason string) {
	m.MessagesDropped.WithLabelValues(reason).Inc()
}
