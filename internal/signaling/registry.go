// Package signaling implements the room registry and the peer-to-peer
// signaling relay. It knows nothing about sockets or call records.
package signaling

import (
	"slices"
	"sync"
	"sync/atomic"
)

// ConnID identifies one live transport connection
type ConnID string

type room struct {
	mu      sync.Mutex
	members map[ConnID]struct{}
	closed  atomic.Bool // set under mu once the last member left
}

func (rm *room) snapshotLocked(exclude ConnID) []ConnID {
	peers := make([]ConnID, 0, len(rm.members))
	for id := range rm.members {
		if id != exclude {
			peers = append(peers, id)
		}
	}
	slices.Sort(peers)
	return peers
}

// Registry maps rooms to their live connections. Mutations of one room are
// serialised by that room's lock; different rooms never contend beyond the
// short lookup under the registry lock.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]*room
	index sync.Map // ConnID -> room id
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{rooms: make(map[string]*room)}
}

// getOrCreate returns the live room for roomID, replacing a closed one
func (r *Registry) getOrCreate(roomID string) *room {
	r.mu.RLock()
	rm, ok := r.rooms[roomID]
	r.mu.RUnlock()
	if ok && !rm.closed.Load() {
		return rm
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	rm, ok = r.rooms[roomID]
	if !ok || rm.closed.Load() {
		rm = &room{members: make(map[ConnID]struct{})}
		r.rooms[roomID] = rm
	}
	return rm
}

// Join adds connID to roomID, creating the room if needed, and returns the
// other members at the moment of joining. A connection already in another
// room is removed from it first; rejoining the same room is a no-op apart
// from the returned snapshot.
func (r *Registry) Join(connID ConnID, roomID string) []ConnID {
	if prev, ok := r.RoomOf(connID); ok && prev != roomID {
		r.Leave(connID)
	}

	for {
		rm := r.getOrCreate(roomID)
		rm.mu.Lock()
		if rm.closed.Load() {
			// Lost a race with the last member leaving; try the fresh room.
			rm.mu.Unlock()
			continue
		}
		peers := rm.snapshotLocked(connID)
		rm.members[connID] = struct{}{}
		r.index.Store(connID, roomID)
		rm.mu.Unlock()
		return peers
	}
}

// Leave removes connID from its room. It returns the room id and the members
// still present; ok is false when the connection was in no room. The room
// entry is deleted once empty.
func (r *Registry) Leave(connID ConnID) (roomID string, remaining []ConnID, ok bool) {
	v, found := r.index.LoadAndDelete(connID)
	if !found {
		return "", nil, false
	}
	roomID = v.(string)

	r.mu.RLock()
	rm, exists := r.rooms[roomID]
	r.mu.RUnlock()
	if !exists {
		return roomID, nil, true
	}

	rm.mu.Lock()
	delete(rm.members, connID)
	remaining = rm.snapshotLocked("")
	empty := len(rm.members) == 0
	if empty {
		rm.closed.Store(true)
	}
	rm.mu.Unlock()

	if empty {
		r.mu.Lock()
		if r.rooms[roomID] == rm {
			delete(r.rooms, roomID)
		}
		r.mu.Unlock()
	}

	return roomID, remaining, true
}

// PeersOf returns the members of roomID except exclude
func (r *Registry) PeersOf(roomID string, exclude ConnID) []ConnID {
	r.mu.RLock()
	rm, ok := r.rooms[roomID]
	r.mu.RUnlock()
	if !ok {
		return []ConnID{}
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()
	return rm.snapshotLocked(exclude)
}

// RoomOf returns the room connID is currently in
func (r *Registry) RoomOf(connID ConnID) (string, bool) {
	v, ok := r.index.Load(connID)
	if !ok {
		return "", false
	}
	return v.(string), true
}

// RoomCount returns the number of rooms with at least one member
func (r *Registry) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, rm := range r.rooms {
		if !rm.closed.Load() {
			n++
		}
	}
	return n
}

// HasRoom reports whether roomID currently has members
func (r *Registry) HasRoom(roomID string) bool {
	r.mu.RLock()
	rm, ok := r.rooms[roomID]
	r.mu.RUnlock()
	return ok && !rm.closed.Load()
}
