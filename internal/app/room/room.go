/*
Package room implements the room membership registry of the connection-multiplexed transport.

This file defines Member (one connection's view of its membership) and Room (the set of
members and the occupancy counter of one room). Neither type has its own locking: both
are owned by the Hub's event loop, which is the only goroutine that reads or writes them.
*/
package room

import (
	"github.com/rs/zerolog"
)

// Peer is the outbound side of a member's connection. *conn.Conn implements it.
type Peer interface {
	// Send queues an encoded frame without blocking; false means it was dropped.
	Send(msg []byte) bool

	// Close ends the connection; it must be idempotent.
	Close()
}

// Member is one connection registered with the hub.
type Member struct {
	// ConnID is the server-generated connection id.
	ConnID string

	peer Peer

	// userID is the presence id announced in join-room; it names the member in
	// user-disconnected. Owned by the hub loop.
	userID string

	// channel is the room the member is in, "" when none. Owned by the hub loop.
	channel string

	// gone is set once the member disconnected; late joins are ignored.
	gone bool
}

// presenceID is the id peers know this member by.
func (m *Member) presenceID() string {
	if m.userID != "" {
		return m.userID
	}
	return m.ConnID
}

// Room is one named room and its members.
type Room struct {
	// Name is the channel name, e.g. "room-r1".
	Name string

	// members is the set of connections currently in the room.
	members map[*Member]struct{}

	// occupancy counts members; it reaches zero exactly when the room is torn down.
	occupancy int

	logger zerolog.Logger
}

func newRoom(name string, logger zerolog.Logger) *Room {
	return &Room{
		Name:    name,
		members: make(map[*Member]struct{}),
		logger:  logger.With().Str("room", name).Logger(),
	}
}

// add inserts m and reports whether it was new.
func (r *Room) add(m *Member) bool {
	if _, ok := r.members[m]; ok {
		return false
	}
	r.members[m] = struct{}{}
	r.occupancy++
	return true
}

// remove deletes m and reports whether it was present. The counter never drops below
// zero because only present members are counted down.
func (r *Room) remove(m *Member) bool {
	if _, ok := r.members[m]; !ok {
		return false
	}
	delete(r.members, m)
	r.occupancy--
	return true
}

// broadcast sends msg to every member except `except` (nil for server-originated frames).
func (r *Room) broadcast(msg []byte, except *Member) int {
	sent := 0
	for m := range r.members {
		if m == except {
			continue
		}
		if m.peer.Send(msg) {
			sent++
		}
	}
	return sent
}
