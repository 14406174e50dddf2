// Package realtime – Connection Registry
//
// This file is the single shared, mutable, in-process structure of the
// realtime layer: the map of live connections and the rooms they belong to.
// Every mutation is serialized behind one RWMutex; read paths take the read
// lock and return copies, so callers never hold a reference into guarded
// state. Rooms are identified by namespaced string IDs ("user:<id>",
// "project:<id>") and exist exactly as long as they have members.
//
// Functions:
//
//	Register       - add a connection and join it to its own user room
//	Unregister     - idempotent removal from every room; reports project rooms left
//	AddToRoom      - join a connection to a room
//	RemoveFromRoom - remove a connection from a room
//	Reachable      - point-in-time snapshot of a room's connections
//	InRoom         - membership test
//	RoomSize       - current member count
//	ConnCount      - number of registered connections
//	UserRoom       - "user:" room ID helper
//	ProjectRoom    - "project:" room ID helper
package realtime

import "sync"

const (
	userRoomPrefix    = "user:"
	projectRoomPrefix = "project:"
)

// UserRoom returns the room ID owned by a single user.
func UserRoom(userID string) string { return userRoomPrefix + userID }

// ProjectRoom returns the room ID shared by a project's collaborators.
func ProjectRoom(projectID string) string { return projectRoomPrefix + projectID }

// IsProjectRoom reports whether roomID names a project room.
func IsProjectRoom(roomID string) bool {
	return len(roomID) > len(projectRoomPrefix) && roomID[:len(projectRoomPrefix)] == projectRoomPrefix
}

// Registry tracks live connections and room membership.
type Registry struct {
	mu sync.RWMutex
	// conns indexes every registered connection by ID.
	conns map[string]*Conn
	// rooms maps roomID -> connID -> connection.
	rooms map[string]map[string]*Conn
	// memberships maps connID -> set of roomIDs, for O(rooms-of-conn) removal.
	memberships map[string]map[string]struct{}
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		conns:       make(map[string]*Conn),
		rooms:       make(map[string]map[string]*Conn),
		memberships: make(map[string]map[string]struct{}),
	}
}

// Register adds conn and joins it to its own user room. Re-registering the
// same connection ID is a no-op.
func (r *Registry) Register(conn *Conn) {
	if conn == nil || conn.ID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.conns[conn.ID]; exists {
		return
	}
	r.conns[conn.ID] = conn
	r.addToRoomLocked(UserRoom(conn.UserID), conn)
	connsActive.Set(float64(len(r.conns)))
}

// Unregister removes the connection from the registry and from every room it
// was in. It returns the project rooms the connection left so the caller can
// announce the departure. Unknown IDs return nil.
func (r *Registry) Unregister(connID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.conns[connID]; !exists {
		return nil
	}

	var projectRooms []string
	for roomID := range r.memberships[connID] {
		r.removeFromRoomLocked(roomID, connID)
		if IsProjectRoom(roomID) {
			projectRooms = append(projectRooms, roomID)
		}
	}
	delete(r.memberships, connID)
	delete(r.conns, connID)
	connsActive.Set(float64(len(r.conns)))
	return projectRooms
}

// AddToRoom joins a registered connection to roomID. Joining twice is a
// no-op. Unregistered connections are ignored so a racing disconnect can
// never leave a dangling room entry.
func (r *Registry) AddToRoom(roomID string, conn *Conn) {
	if conn == nil || roomID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.conns[conn.ID]; !exists {
		return
	}
	r.addToRoomLocked(roomID, conn)
}

// RemoveFromRoom removes connID from roomID. Unknown rooms or members are
// no-ops.
func (r *Registry) RemoveFromRoom(roomID, connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeFromRoomLocked(roomID, connID)
	if set, ok := r.memberships[connID]; ok {
		delete(set, roomID)
		if len(set) == 0 {
			delete(r.memberships, connID)
		}
	}
}

// Reachable returns a snapshot of the room's current connections. The slice
// is owned by the caller; membership changes after the call are not
// reflected.
func (r *Registry) Reachable(roomID string) []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	members := r.rooms[roomID]
	if len(members) == 0 {
		return nil
	}
	out := make([]*Conn, 0, len(members))
	for _, c := range members {
		out = append(out, c)
	}
	return out
}

// InRoom reports whether connID is currently a member of roomID.
func (r *Registry) InRoom(roomID, connID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[roomID][connID]
	return ok
}

// RoomSize returns the current member count of roomID.
func (r *Registry) RoomSize(roomID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[roomID])
}

// ConnCount returns the number of registered connections.
func (r *Registry) ConnCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

func (r *Registry) addToRoomLocked(roomID string, conn *Conn) {
	room := r.rooms[roomID]
	if room == nil {
		room = make(map[string]*Conn)
		r.rooms[roomID] = room
	}
	if _, ok := room[conn.ID]; ok {
		return
	}
	room[conn.ID] = conn

	set := r.memberships[conn.ID]
	if set == nil {
		set = make(map[string]struct{})
		r.memberships[conn.ID] = set
	}
	set[roomID] = struct{}{}
	roomJoins.WithLabelValues(roomKind(roomID)).Inc()
}

func (r *Registry) removeFromRoomLocked(roomID, connID string) {
	room := r.rooms[roomID]
	if room == nil {
		return
	}
	if _, ok := room[connID]; !ok {
		return
	}
	delete(room, connID)
	if len(room) == 0 {
		delete(r.rooms, roomID)
	}
	roomLeaves.WithLabelValues(roomKind(roomID)).Inc()
}

// roomKind collapses room IDs to a bounded metric label.
func roomKind(roomID string) string {
	if IsProjectRoom(roomID) {
		return "project"
	}
	return "user"
}
