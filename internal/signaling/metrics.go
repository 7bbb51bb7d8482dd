package signaling

import "github.com/prometheus/client_golang/prometheus"

// Metrics are the hub's Prometheus collectors.
type Metrics struct {
	Rooms        prometheus.Gauge
	Participants prometheus.Gauge
	Joins        *prometheus.CounterVec
	Relayed      *prometheus.CounterVec
	Dropped      *prometheus.CounterVec
}

// NewMetrics creates the hub collectors and registers them with reg when
// reg is not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Rooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pairlink",
			Subsystem: "rendezvous",
			Name:      "rooms_open",
			Help:      "Number of rooms with at least one participant.",
		}),
		Participants: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pairlink",
			Subsystem: "rendezvous",
			Name:      "participants_connected",
			Help:      "Number of connected websocket participants.",
		}),
		Joins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pairlink",
			Subsystem: "rendezvous",
			Name:      "joins_total",
			Help:      "Join requests by outcome.",
		}, []string{"outcome"}),
		Relayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pairlink",
			Subsystem: "rendezvous",
			Name:      "relayed_total",
			Help:      "Envelopes forwarded to the other room occupant.",
		}, []string{"type"}),
		Dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pairlink",
			Subsystem: "rendezvous",
			Name:      "dropped_total",
			Help:      "Envelopes dropped by reason.",
		}, []string{"reason"}),
	}
	if reg != nil {
		reg.MustRegister(m.Rooms, m.Participants, m.Joins, m.Relayed, m.Dropped)
	}
	return m
}
