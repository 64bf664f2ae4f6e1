// Package registry owns the authoritative in-memory table of active rooms.
//
// The registry is pure state plus invariant enforcement; it has no knowledge
// of connections, sockets, or the wire protocol. The signaling coordinator is
// its only caller and serializes nothing itself: every operation here takes
// the registry lock for the duration of one logical mutation, so a join can
// never interleave with a concurrent disconnect in a way that resurrects a
// deleted room.
package registry

import (
	"errors"
	"sync"
)

var (
	// ErrRoomExists is returned by CreateRoom when the room id is taken.
	ErrRoomExists = errors.New("registry: room already exists")

	// ErrRoomNotFound is returned by JoinRoom for an unknown room id.
	ErrRoomNotFound = errors.New("registry: room not found")

	// ErrAlreadyHosting is returned by CreateRoom when the connection already
	// hosts a room. A host owns at most one room at a time.
	ErrAlreadyHosting = errors.New("registry: connection already hosts a room")
)

// ConnID identifies a single client connection for the lifetime of that
// connection. It is minted by the transport layer on upgrade and is the
// addressing key for targeted relay and room membership.
//
// It is a dedicated type rather than a bare string so room ids and
// viewer-supplied data can't be passed where a connection identity is
// expected.
type ConnID string

func (id ConnID) String() string { return string(id) }

// Room is one broadcasting session: a single host and zero or more viewers.
//
// Rooms are owned by the Registry; callers only ever see Snapshot copies.
type room struct {
	id     string
	title  string
	hostID ConnID

	// viewers preserves insertion order for deterministic listings. Uniqueness
	// is enforced on join.
	viewers []ConnID
}

// Snapshot is an immutable copy of a room's state, in the shape relayed to
// clients.
type Snapshot struct {
	ID      string   `json:"id"`
	Title   string   `json:"title"`
	HostID  ConnID   `json:"hostId"`
	Viewers []ConnID `json:"viewers"`
}

func (r *room) snapshot() Snapshot {
	viewers := make([]ConnID, len(r.viewers))
	copy(viewers, r.viewers)
	return Snapshot{
		ID:      r.id,
		Title:   r.title,
		HostID:  r.hostID,
		Viewers: viewers,
	}
}

// Registry is the room table. The zero value is not usable; construct with
// New.
type Registry struct {
	mu    sync.Mutex
	rooms map[string]*room
}

func New() *Registry {
	return &Registry{
		rooms: make(map[string]*room),
	}
}

// CreateRoom registers a new room owned by hostID. The caller supplies the
// room id; ids must be unique among currently active rooms, and a connection
// may host at most one room.
func (g *Registry) CreateRoom(hostID ConnID, roomID, title string) (Snapshot, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.rooms[roomID]; ok {
		return Snapshot{}, ErrRoomExists
	}
	for _, r := range g.rooms {
		if r.hostID == hostID {
			return Snapshot{}, ErrAlreadyHosting
		}
	}

	r := &room{
		id:     roomID,
		title:  title,
		hostID: hostID,
	}
	g.rooms[roomID] = r
	return r.snapshot(), nil
}

// GetRoom returns the room's current state. The second return value reports
// whether the room exists; lookups never fail.
func (g *Registry) GetRoom(roomID string) (Snapshot, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	r, ok := g.rooms[roomID]
	if !ok {
		return Snapshot{}, false
	}
	return r.snapshot(), true
}

// ListRooms returns a snapshot of every active room. Order is not significant.
func (g *Registry) ListRooms() []Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]Snapshot, 0, len(g.rooms))
	for _, r := range g.rooms {
		out = append(out, r.snapshot())
	}
	return out
}

// JoinRoom adds viewerID to the room's viewer set. Joining a room the viewer
// is already in is a no-op, not an error. The host cannot join its own room
// as a viewer. A connection views at most one room, so joining a new room
// removes the viewer from any room it was in before.
func (g *Registry) JoinRoom(roomID string, viewerID ConnID) (Snapshot, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	r, ok := g.rooms[roomID]
	if !ok {
		return Snapshot{}, ErrRoomNotFound
	}

	if viewerID != r.hostID && !containsConn(r.viewers, viewerID) {
		for id, other := range g.rooms {
			if id != roomID {
				other.viewers = removeConn(other.viewers, viewerID)
			}
		}
		r.viewers = append(r.viewers, viewerID)
	}
	return r.snapshot(), nil
}

// LeaveRoom removes viewerID from the room's viewer set, if present. The room
// itself is untouched; removing the host is not a leave (see
// RemoveConnection). Unknown rooms and non-members are no-ops.
func (g *Registry) LeaveRoom(roomID string, viewerID ConnID) {
	g.mu.Lock()
	defer g.mu.Unlock()

	r, ok := g.rooms[roomID]
	if !ok {
		return
	}
	r.viewers = removeConn(r.viewers, viewerID)
}

// EndRoom deletes the room outright, regardless of remaining viewers. Only
// the room's host may end it; the hostID check and the delete happen under
// one lock so an end can never race a re-create of the same id. It reports
// whether a room was deleted and, if so, returns its final state so the
// caller can notify members.
func (g *Registry) EndRoom(roomID string, hostID ConnID) (Snapshot, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	r, ok := g.rooms[roomID]
	if !ok || r.hostID != hostID {
		return Snapshot{}, false
	}
	delete(g.rooms, roomID)
	return r.snapshot(), true
}

// RemoveConnection is the single cleanup path for a departed connection: any
// room hosted by connID is deleted entirely, and connID is removed from every
// viewer set it appears in. Safe and idempotent for connections owning zero,
// one, or (defensively) multiple rooms.
func (g *Registry) RemoveConnection(connID ConnID) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for id, r := range g.rooms {
		if r.hostID == connID {
			delete(g.rooms, id)
			continue
		}
		r.viewers = removeConn(r.viewers, connID)
	}
}

func containsConn(ids []ConnID, id ConnID) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func removeConn(ids []ConnID, id ConnID) []ConnID {
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}
