// Package realtime – Prometheus instrumentation
//
// Collectors for the live-connection layer. Labels are kept to bounded sets
// (event type, room kind) so per-project or per-user label explosions cannot
// occur. All collectors are safe for concurrent use.
package realtime

import "github.com/prometheus/client_golang/prometheus"

var (
	// connsActive gauges currently registered connections.
	connsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ws_connections_active",
			Help: "Current number of registered WebSocket connections.",
		},
	)

	// eventsSent counts frames accepted into a connection's send queue.
	eventsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ws_events_sent_total",
			Help: "Total events queued for delivery, by event type.",
		},
		[]string{"type"},
	)

	// eventsDropped counts frames rejected by a full or closed send queue.
	eventsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ws_events_dropped_total",
			Help: "Total events dropped instead of delivered, by event type.",
		},
		[]string{"type"},
	)

	// roomJoins counts room joins by room kind (user or project).
	roomJoins = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ws_room_joins_total",
			Help: "Total room joins, by room kind.",
		},
		[]string{"kind"},
	)

	// roomLeaves counts room departures by room kind.
	roomLeaves = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ws_room_leaves_total",
			Help: "Total room departures, by room kind.",
		},
		[]string{"kind"},
	)
)

func init() {
	prometheus.MustRegister(connsActive, eventsSent, eventsDropped, roomJoins, roomLeaves)
}
