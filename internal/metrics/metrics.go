// Package metrics provides Prometheus instrumentation for the Relay chat
// server. It exposes counters for event bus throughput, gauges for subscriber
// and connection counts, and the size of the typing presence table.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// EventsPublished counts events published on the in-process bus,
	// labeled by kind: "message" or "typing".
	EventsPublished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_events_published_total",
		Help: "Total number of events published on the event bus",
	}, []string{"kind"})

	// EventsDropped counts events dropped because a subscriber's buffer was
	// full. A drop affects only the slow subscriber; its client recovers by
	// re-reading state from the store.
	EventsDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_events_dropped_total",
		Help: "Total number of events dropped on full subscriber buffers",
	}, []string{"kind"})

	// Subscribers tracks the current number of live bus subscriptions per kind.
	Subscribers = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "relay_subscribers",
		Help: "Current number of live event bus subscriptions",
	}, []string{"kind"})

	// TypingEntries tracks the current size of the typing presence table.
	TypingEntries = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "relay_typing_entries",
		Help: "Current number of entries in the typing presence table",
	})

	// MessagesTotal counts messages accepted by the broker ingress.
	MessagesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relay_messages_total",
		Help: "Total number of messages submitted",
	})

	// ConnectionsTotal tracks the current number of active WebSocket connections.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "relay_connections_total",
		Help: "Current number of active WebSocket connections",
	})
)

func init() {
	prometheus.MustRegister(
		EventsPublished,
		EventsDropped,
		Subscribers,
		TypingEntries,
		MessagesTotal,
		ConnectionsTotal,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
