// Package realtime – wire events
//
// This file defines the JSON envelope exchanged over live connections and the
// typed payloads carried inside it. Every frame, inbound or outbound, is a
// single JSON object {"type": "...", "payload": {...}}. Inbound frames name
// an operation the client wants performed; outbound frames are
// acknowledgements, room broadcasts, or pushed notifications.
//
// Payloads are deliberately small typed structs rather than free-form maps so
// that handlers and tests agree on field names. The one exception is
// Notification.Data, which stays an opaque JSON blob because insight payloads
// genuinely vary in shape.
package realtime

import (
	"encoding/json"
	"time"
)

// Inbound operation types.
const (
	OpJoinUserRoom = "join_user_room"
	OpJoinProject  = "join_project"
	OpLeaveProject = "leave_project"
	OpTaskUpdated  = "task_updated"
	OpCommentAdded = "comment_added"
	OpTyping       = "typing"
	OpViewing      = "viewing"
)

// Outbound event types.
const (
	EventJoinedUserRoom    = "joined_user_room"
	EventJoinedProject     = "joined_project"
	EventUserJoinedProject = "user_joined_project"
	EventUserLeftProject   = "user_left_project"
	EventTaskUpdated       = "task_updated"
	EventCommentAdded      = "comment_added"
	EventTyping            = "typing"
	EventViewing           = "viewing"
	EventNotification      = "notification"
	EventError             = "error"
)

// Event is the wire envelope. Payload stays raw until the type is known.
type Event struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEvent wraps payload into an envelope of the given type. A nil payload
// produces an envelope with no payload field.
func NewEvent(typ string, payload any) (Event, error) {
	ev := Event{Type: typ}
	if payload == nil {
		return ev, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	ev.Payload = raw
	return ev, nil
}

// Encode renders the envelope to its wire form.
func (e Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// JoinUserRoomPayload asks to join the caller's own user room. UserID must
// match the resolved identity.
type JoinUserRoomPayload struct {
	UserID string `json:"user_id"`
}

// JoinProjectPayload asks to join a project room.
type JoinProjectPayload struct {
	ProjectID string `json:"project_id"`
}

// LeaveProjectPayload asks to leave a project room.
type LeaveProjectPayload struct {
	ProjectID string `json:"project_id"`
}

// TaskUpdatedPayload relays a task change to the project room. Changes is an
// opaque client-defined diff.
type TaskUpdatedPayload struct {
	TaskID    string          `json:"task_id"`
	ProjectID string          `json:"project_id"`
	UserID    string          `json:"user_id,omitempty"`
	Changes   json.RawMessage `json:"changes,omitempty"`
}

// CommentAddedPayload relays a new comment to the project room.
type CommentAddedPayload struct {
	TaskID    string          `json:"task_id"`
	ProjectID string          `json:"project_id"`
	UserID    string          `json:"user_id,omitempty"`
	Comment   json.RawMessage `json:"comment,omitempty"`
}

// TypingPayload signals that the sender is typing on a task. The project is
// resolved server-side from the task.
type TypingPayload struct {
	TaskID   string `json:"task_id"`
	UserID   string `json:"user_id,omitempty"`
	UserName string `json:"user_name,omitempty"`
}

// ViewingPayload signals that the sender is looking at an entity.
type ViewingPayload struct {
	EntityID   string `json:"entity_id"`
	EntityType string `json:"entity_type"`
	UserID     string `json:"user_id,omitempty"`
	UserName   string `json:"user_name,omitempty"`
}

// JoinedUserRoomPayload acknowledges user-room membership.
type JoinedUserRoomPayload struct {
	UserID string `json:"user_id"`
}

// JoinedProjectPayload acknowledges project-room membership.
type JoinedProjectPayload struct {
	ProjectID string `json:"project_id"`
}

// PresencePayload announces a join or leave to the rest of a project room.
type PresencePayload struct {
	ProjectID string `json:"project_id"`
	UserID    string `json:"user_id"`
	UserName  string `json:"user_name"`
}

// NotificationPayload is the live push mirror of a persisted notification
// record.
type NotificationPayload struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Title     string          `json:"title"`
	Message   string          `json:"message"`
	UserID    string          `json:"user_id"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// ErrorPayload reports an operation failure without closing the connection.
type ErrorPayload struct {
	Message string `json:"message"`
}
