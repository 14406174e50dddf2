// Package realtime – Broadcast Dispatcher
//
// This file implements best-effort fan-out of events to rooms. Delivery is
// strictly fire-and-forget: the dispatcher snapshots the room's reachable
// connections, encodes the event once, and hands the frame to each
// connection's non-blocking queue. A full or closed queue is a drop, never a
// stall, and never an error surfaced to the caller; the persisted
// notification record is what guarantees the user eventually sees the event.
// There is no retry and no queue behind the queue. Zero reach is a normal
// outcome (nobody online).
package realtime

import "github.com/rs/zerolog/log"

// DeliveryOutcome summarizes one fan-out attempt.
type DeliveryOutcome struct {
	// Attempted is the number of connections in the snapshot.
	Attempted int
	// Delivered is the number of connections that accepted the frame.
	Delivered int
	// Dropped is the number of connections that refused it (full or closed).
	Dropped int
}

// Reached reports whether at least one connection accepted the event.
func (o DeliveryOutcome) Reached() bool { return o.Delivered > 0 }

// Dispatcher fans events out to rooms through the registry.
type Dispatcher struct {
	Registry *Registry
}

// NewDispatcher wires a dispatcher to its registry.
func NewDispatcher(reg *Registry) *Dispatcher {
	return &Dispatcher{Registry: reg}
}

// DeliverToUser sends ev to every connection in the user's own room.
func (d *Dispatcher) DeliverToUser(userID string, ev Event) DeliveryOutcome {
	return d.DeliverToRoom(UserRoom(userID), ev, "")
}

// DeliverToRoom sends ev to every connection currently in roomID, skipping
// excludeConnID (the usual sender-exclusion on relays; empty means nobody is
// skipped). The room snapshot is taken once; connections joining after the
// snapshot do not receive the event.
func (d *Dispatcher) DeliverToRoom(roomID string, ev Event, excludeConnID string) DeliveryOutcome {
	var out DeliveryOutcome

	frame, err := ev.Encode()
	if err != nil {
		log.Error().Err(err).Str("event_type", ev.Type).Str("room", roomID).Msg("encode event")
		return out
	}

	for _, conn := range d.Registry.Reachable(roomID) {
		if conn.ID == excludeConnID {
			continue
		}
		out.Attempted++
		if conn.TrySend(frame) {
			out.Delivered++
			eventsSent.WithLabelValues(ev.Type).Inc()
			continue
		}
		out.Dropped++
		eventsDropped.WithLabelValues(ev.Type).Inc()
		log.Debug().
			Str("event_type", ev.Type).
			Str("room", roomID).
			Str("conn_id", conn.ID).
			Str("user_id", conn.UserID).
			Msg("event dropped")
	}
	return out
}
