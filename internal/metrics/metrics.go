// Package metrics holds the Prometheus collectors exported by the relay.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "call_relay"

// Drop reasons for undelivered forwards.
const (
	DropOffline   = "offline"
	DropRemote    = "remote"
	DropQueueFull = "queue_full"
)

type Metrics struct {
	EventsReceived      *prometheus.CounterVec
	ForwardsDelivered   *prometheus.CounterVec
	ForwardsDropped     *prometheus.CounterVec
	PersistenceFailures *prometheus.CounterVec
	OnlineUsers         prometheus.Gauge
	Connections         prometheus.Gauge
}

// New creates the collectors and registers them with reg. A nil reg leaves
// them unregistered, which is what most tests want.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		EventsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "signaling",
			Name:      "events_received_total",
			Help:      "Number of inbound real-time events by kind",
		}, []string{"kind"}),
		ForwardsDelivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "signaling",
			Name:      "forwards_delivered_total",
			Help:      "Number of outbound events queued to a live session",
		}, []string{"event"}),
		ForwardsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "signaling",
			Name:      "forwards_dropped_total",
			Help:      "Number of outbound events that could not be delivered",
		}, []string{"event", "reason"}),
		PersistenceFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "calls",
			Name:      "persistence_failures_total",
			Help:      "Number of call record writes that failed",
		}, []string{"operation"}),
		OnlineUsers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "presence",
			Name:      "online_users",
			Help:      "Number of users with a presence entry",
		}),
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "connections",
			Help:      "Number of live real-time connections",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.EventsReceived,
			m.ForwardsDelivered,
			m.ForwardsDropped,
			m.PersistenceFailures,
			m.OnlineUsers,
			m.Connections,
		)
	}
	return m
}
