package gateway

import "sync"

// RoomKind distinguishes the two broadcast scopes.
type RoomKind uint8

const (
	// RoomServer spans every connection belonging to members of a server.
	// Used for coarse events: presence and channel activity.
	RoomServer RoomKind = iota
	// RoomChannel spans connections actively viewing one channel. Used
	// for message-level events.
	RoomChannel
)

// Room is an addressable broadcast scope: an explicit kind plus id rather
// than a string-prefix convention.
type Room struct {
	Kind RoomKind
	ID   string
}

func ServerRoom(serverID string) Room { return Room{Kind: RoomServer, ID: serverID} }

func ChannelRoom(channelID string) Room { return Room{Kind: RoomChannel, ID: channelID} }

// Rooms tracks which sessions are subscribed to which room. It is purely
// mechanical; authorization happens in the dispatcher before Join is
// called.
type Rooms struct {
	mu      sync.RWMutex
	members map[Room]map[SessionID]struct{}
	joined  map[SessionID]map[Room]struct{}
}

func NewRooms() *Rooms {
	return &Rooms{
		members: make(map[Room]map[SessionID]struct{}),
		joined:  make(map[SessionID]map[Room]struct{}),
	}
}

// Join subscribes a session to a room. Joining twice is equivalent to
// joining once.
func (r *Rooms) Join(id SessionID, room Room) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.members[room] == nil {
		r.members[room] = make(map[SessionID]struct{})
	}
	r.members[room][id] = struct{}{}

	if r.joined[id] == nil {
		r.joined[id] = make(map[Room]struct{})
	}
	r.joined[id][room] = struct{}{}
}

// Leave unsubscribes a session from a room. Leaving a room the session
// never joined is a no-op.
func (r *Rooms) Leave(id SessionID, room Room) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(id, room)
}

func (r *Rooms) leaveLocked(id SessionID, room Room) {
	if members, ok := r.members[room]; ok {
		delete(members, id)
		if len(members) == 0 {
			delete(r.members, room)
		}
	}
	if rooms, ok := r.joined[id]; ok {
		delete(rooms, room)
		if len(rooms) == 0 {
			delete(r.joined, id)
		}
	}
}

// LeaveAll removes a session from every room it was a member of, in one
// critical section so MembersOf never returns the session mid-teardown.
func (r *Rooms) LeaveAll(id SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for room := range r.joined[id] {
		r.leaveLocked(id, room)
	}
}

// MembersOf returns a copy of the room's current member set.
func (r *Rooms) MembersOf(room Room) []SessionID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]SessionID, 0, len(r.members[room]))
	for id := range r.members[room] {
		ids = append(ids, id)
	}
	return ids
}
