package collab

import (
	"sync"
)

// Registry maps room IDs to their connected participants. Rooms are
// created on first join and dropped when their last participant leaves;
// no state survives a process restart.
type Registry struct {
	mu         sync.Mutex
	rooms      map[string]map[*Conn]struct{}
	membership map[*Conn]string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		rooms:      make(map[string]map[*Conn]struct{}),
		membership: make(map[*Conn]string),
	}
}

// Join adds a connection to a room. Joining a room the connection is
// already in is a no-op.
func (r *Registry) Join(c *Conn, roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.membership[c]; ok && current == roomID {
		return
	}

	room, ok := r.rooms[roomID]
	if !ok {
		room = make(map[*Conn]struct{})
		r.rooms[roomID] = room
	}
	room[c] = struct{}{}
	r.membership[c] = roomID
}

// Leave removes a connection from whichever room it belongs to, dropping
// the room entry if it becomes empty. Safe to call redundantly.
func (r *Registry) Leave(c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	roomID, ok := r.membership[c]
	if !ok {
		return
	}
	delete(r.membership, c)

	room, ok := r.rooms[roomID]
	if !ok {
		return
	}
	delete(room, c)
	if len(room) == 0 {
		delete(r.rooms, roomID)
	}
}

// Participants returns a snapshot of the room's current participants.
// Broadcasts iterate the snapshot, so join/leave during a fan-out never
// races the delivery loop.
func (r *Registry) Participants(roomID string) []*Conn {
	r.mu.Lock()
	defer r.mu.Unlock()

	room := r.rooms[roomID]
	participants := make([]*Conn, 0, len(room))
	for c := range room {
		participants = append(participants, c)
	}
	return participants
}

// RoomSize returns the number of participants in a room.
func (r *Registry) RoomSize(roomID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms[roomID])
}

// Rooms returns the number of active rooms.
func (r *Registry) Rooms() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}
