// Package realtime – Room Gateway
//
// This file runs the lifecycle of one live connection: resolve the
// credential, register the connection, acknowledge the user room, then serve
// the inbound operation loop until the socket drops. Every inbound frame is
// the {"type", "payload"} envelope; unknown or malformed frames produce an
// "error" event and leave the connection open.
//
// Authorization invariants enforced here:
//   - a connection only ever joins another user's room identity-checked
//     (join_user_room with a foreign user_id is refused);
//   - project rooms are joined through the owner-or-member check, and a
//     denial changes no membership state;
//   - relays (task_updated, comment_added, typing, viewing) require the
//     sender to currently be a member of the target project room, so a
//     connection can never fan out into a room it could not join.
//
// Disconnects are idempotent: the registry removal runs once, and the
// departure broadcast covers exactly the project rooms the connection was
// still in.
package realtime

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"nhooyr.io/websocket"

	"github.com/tbourn/go-collab-backend/internal/auth"
)

// Operation error messages sent on the "error" event.
const (
	msgAccessDenied     = "access denied"
	msgForeignUserRoom  = "cannot join another user's room"
	msgNotInProjectRoom = "not a member of the project room"
	msgUnknownOperation = "unknown operation"
	msgMalformedFrame   = "malformed frame"
	msgMissingProjectID = "missing project_id"
	msgMissingTaskID    = "missing task_id"
	msgTaskNotFound     = "task not found"
	msgUnknownEntity    = "unknown entity_type"
	msgCheckFailed      = "authorization check failed"
)

// CredentialResolver verifies handshake credentials.
type CredentialResolver interface {
	Resolve(credential string) (auth.Identity, error)
}

// ProjectAuthorizer answers the owner-or-member question for project rooms.
type ProjectAuthorizer interface {
	IsProjectOwnerOrMember(ctx context.Context, userID, projectID string) (bool, error)
}

// TaskDirectory resolves which project a task belongs to, for presence
// relays that only carry a task ID.
type TaskDirectory interface {
	ProjectOf(ctx context.Context, taskID string) (string, error)
}

// Gateway serves live connections.
type Gateway struct {
	Resolver CredentialResolver
	Registry *Registry
	Dispatch *Dispatcher
	Authz    ProjectAuthorizer
	Tasks    TaskDirectory
}

// NewGateway wires a gateway from its collaborators.
func NewGateway(res CredentialResolver, reg *Registry, disp *Dispatcher, authz ProjectAuthorizer, tasks TaskDirectory) *Gateway {
	return &Gateway{Resolver: res, Registry: reg, Dispatch: disp, Authz: authz, Tasks: tasks}
}

// Serve owns sock for the life of the connection. It resolves credential,
// registers the connection, and runs the read loop until the socket closes
// or ctx is cancelled. The returned error is the handshake failure, if any;
// a normally served connection returns nil after teardown.
func (g *Gateway) Serve(ctx context.Context, sock socket, credential string) error {
	id, err := g.Resolver.Resolve(credential)
	if err != nil {
		_ = sock.Close(websocket.StatusPolicyViolation, "unauthorized")
		return err
	}

	conn := NewConn(uuid.NewString(), id.UserID, id.DisplayName, sock)
	g.Registry.Register(conn)
	go conn.writePump(ctx)

	log.Info().
		Str("conn_id", conn.ID).
		Str("user_id", conn.UserID).
		Msg("connection registered")

	g.ack(conn, EventJoinedUserRoom, JoinedUserRoomPayload{UserID: conn.UserID})

	g.readLoop(ctx, conn, sock)

	g.teardown(conn)
	return nil
}

// ServeConn adapts Serve for callers holding a concrete *websocket.Conn
// (the HTTP upgrade handler). Tests drive Serve directly with fake sockets.
func (g *Gateway) ServeConn(ctx context.Context, sock *websocket.Conn, credential string) error {
	return g.Serve(ctx, sock, credential)
}

// readLoop decodes inbound envelopes and dispatches them until the first
// read error (close, network failure, or context cancellation).
func (g *Gateway) readLoop(ctx context.Context, conn *Conn, sock socket) {
	for {
		_, data, err := sock.Read(ctx)
		if err != nil {
			return
		}
		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil || ev.Type == "" {
			g.fail(conn, msgMalformedFrame)
			continue
		}
		g.handle(ctx, conn, ev)
	}
}

// teardown unregisters the connection and announces its departure to every
// project room it was in. Safe to call once per connection; the registry
// removal is what makes a double disconnect harmless.
func (g *Gateway) teardown(conn *Conn) {
	rooms := g.Registry.Unregister(conn.ID)
	conn.Close(websocket.StatusNormalClosure, "")

	for _, roomID := range rooms {
		projectID := strings.TrimPrefix(roomID, projectRoomPrefix)
		g.broadcast(roomID, EventUserLeftProject, PresencePayload{
			ProjectID: projectID,
			UserID:    conn.UserID,
			UserName:  conn.DisplayName,
		}, conn.ID)
	}

	log.Info().
		Str("conn_id", conn.ID).
		Str("user_id", conn.UserID).
		Int("project_rooms_left", len(rooms)).
		Msg("connection closed")
}

func (g *Gateway) handle(ctx context.Context, conn *Conn, ev Event) {
	switch ev.Type {
	case OpJoinUserRoom:
		g.joinUserRoom(conn, ev.Payload)
	case OpJoinProject:
		g.joinProject(ctx, conn, ev.Payload)
	case OpLeaveProject:
		g.leaveProject(conn, ev.Payload)
	case OpTaskUpdated:
		g.relayTaskUpdated(conn, ev.Payload)
	case OpCommentAdded:
		g.relayCommentAdded(conn, ev.Payload)
	case OpTyping:
		g.relayTyping(ctx, conn, ev.Payload)
	case OpViewing:
		g.relayViewing(ctx, conn, ev.Payload)
	default:
		g.fail(conn, msgUnknownOperation)
	}
}

// joinUserRoom acks membership of the caller's own room. Registration
// already joined it, so the op is an idempotent acknowledgement; asking for
// any other user's room is refused.
func (g *Gateway) joinUserRoom(conn *Conn, raw json.RawMessage) {
	var p JoinUserRoomPayload
	// A payload is optional here; an empty frame acks the caller's own room.
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &p); err != nil {
			g.fail(conn, msgMalformedFrame)
			return
		}
	}
	if p.UserID != "" && p.UserID != conn.UserID {
		g.fail(conn, msgForeignUserRoom)
		return
	}
	g.Registry.AddToRoom(UserRoom(conn.UserID), conn)
	g.ack(conn, EventJoinedUserRoom, JoinedUserRoomPayload{UserID: conn.UserID})
}

func (g *Gateway) joinProject(ctx context.Context, conn *Conn, raw json.RawMessage) {
	var p JoinProjectPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		g.fail(conn, msgMalformedFrame)
		return
	}
	projectID := strings.TrimSpace(p.ProjectID)
	if projectID == "" {
		g.fail(conn, msgMissingProjectID)
		return
	}

	ok, err := g.Authz.IsProjectOwnerOrMember(ctx, conn.UserID, projectID)
	if err != nil {
		log.Error().Err(err).
			Str("user_id", conn.UserID).
			Str("project_id", projectID).
			Msg("project authorization check")
		g.fail(conn, msgCheckFailed)
		return
	}
	if !ok {
		g.fail(conn, msgAccessDenied)
		return
	}

	roomID := ProjectRoom(projectID)
	g.Registry.AddToRoom(roomID, conn)
	g.ack(conn, EventJoinedProject, JoinedProjectPayload{ProjectID: projectID})
	g.broadcast(roomID, EventUserJoinedProject, PresencePayload{
		ProjectID: projectID,
		UserID:    conn.UserID,
		UserName:  conn.DisplayName,
	}, conn.ID)
}

// leaveProject is unconditional: no membership or authorization check, and
// leaving a room the connection is not in changes nothing.
func (g *Gateway) leaveProject(conn *Conn, raw json.RawMessage) {
	var p LeaveProjectPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		g.fail(conn, msgMalformedFrame)
		return
	}
	projectID := strings.TrimSpace(p.ProjectID)
	if projectID == "" {
		g.fail(conn, msgMissingProjectID)
		return
	}

	roomID := ProjectRoom(projectID)
	wasMember := g.Registry.InRoom(roomID, conn.ID)
	g.Registry.RemoveFromRoom(roomID, conn.ID)
	if wasMember {
		g.broadcast(roomID, EventUserLeftProject, PresencePayload{
			ProjectID: projectID,
			UserID:    conn.UserID,
			UserName:  conn.DisplayName,
		}, conn.ID)
	}
}

func (g *Gateway) relayTaskUpdated(conn *Conn, raw json.RawMessage) {
	var p TaskUpdatedPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		g.fail(conn, msgMalformedFrame)
		return
	}
	roomID, ok := g.requireProjectMembership(conn, p.ProjectID)
	if !ok {
		return
	}
	p.UserID = conn.UserID
	g.broadcast(roomID, EventTaskUpdated, p, conn.ID)
}

func (g *Gateway) relayCommentAdded(conn *Conn, raw json.RawMessage) {
	var p CommentAddedPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		g.fail(conn, msgMalformedFrame)
		return
	}
	roomID, ok := g.requireProjectMembership(conn, p.ProjectID)
	if !ok {
		return
	}
	p.UserID = conn.UserID
	g.broadcast(roomID, EventCommentAdded, p, conn.ID)
}

// relayTyping resolves the task's project server-side; clients only send the
// task ID.
func (g *Gateway) relayTyping(ctx context.Context, conn *Conn, raw json.RawMessage) {
	var p TypingPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		g.fail(conn, msgMalformedFrame)
		return
	}
	taskID := strings.TrimSpace(p.TaskID)
	if taskID == "" {
		g.fail(conn, msgMissingTaskID)
		return
	}

	projectID, err := g.Tasks.ProjectOf(ctx, taskID)
	if err != nil {
		g.fail(conn, msgTaskNotFound)
		return
	}
	roomID, ok := g.requireProjectMembership(conn, projectID)
	if !ok {
		return
	}
	p.UserID = conn.UserID
	p.UserName = conn.DisplayName
	g.broadcast(roomID, EventTyping, p, conn.ID)
}

// relayViewing handles both entity kinds: a project is its own room, a task
// resolves to its project's room.
func (g *Gateway) relayViewing(ctx context.Context, conn *Conn, raw json.RawMessage) {
	var p ViewingPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		g.fail(conn, msgMalformedFrame)
		return
	}

	var projectID string
	switch p.EntityType {
	case "project":
		projectID = strings.TrimSpace(p.EntityID)
		if projectID == "" {
			g.fail(conn, msgMissingProjectID)
			return
		}
	case "task":
		taskID := strings.TrimSpace(p.EntityID)
		if taskID == "" {
			g.fail(conn, msgMissingTaskID)
			return
		}
		var err error
		projectID, err = g.Tasks.ProjectOf(ctx, taskID)
		if err != nil {
			g.fail(conn, msgTaskNotFound)
			return
		}
	default:
		g.fail(conn, msgUnknownEntity)
		return
	}

	roomID, ok := g.requireProjectMembership(conn, projectID)
	if !ok {
		return
	}
	p.UserID = conn.UserID
	p.UserName = conn.DisplayName
	g.broadcast(roomID, EventViewing, p, conn.ID)
}

// requireProjectMembership gates relays on current room membership. A
// connection that never joined (or already left, or was evicted) gets an
// error event and no fan-out happens.
func (g *Gateway) requireProjectMembership(conn *Conn, projectID string) (string, bool) {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		g.fail(conn, msgMissingProjectID)
		return "", false
	}
	roomID := ProjectRoom(projectID)
	if !g.Registry.InRoom(roomID, conn.ID) {
		g.fail(conn, msgNotInProjectRoom)
		return "", false
	}
	return roomID, true
}

// ack sends a single event back to the originating connection.
func (g *Gateway) ack(conn *Conn, typ string, payload any) {
	ev, err := NewEvent(typ, payload)
	if err != nil {
		log.Error().Err(err).Str("event_type", typ).Msg("encode ack")
		return
	}
	if conn.TrySendEvent(ev) {
		eventsSent.WithLabelValues(typ).Inc()
	} else {
		eventsDropped.WithLabelValues(typ).Inc()
	}
}

// fail sends an error event; the connection stays open.
func (g *Gateway) fail(conn *Conn, message string) {
	g.ack(conn, EventError, ErrorPayload{Message: message})
}

// broadcast fans an event out to a room, excluding the sender.
func (g *Gateway) broadcast(roomID, typ string, payload any, excludeConnID string) {
	ev, err := NewEvent(typ, payload)
	if err != nil {
		log.Error().Err(err).Str("event_type", typ).Str("room", roomID).Msg("encode broadcast")
		return
	}
	g.Dispatch.DeliverToRoom(roomID, ev, excludeConnID)
}
