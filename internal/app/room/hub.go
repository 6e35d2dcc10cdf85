/*
Package room implements the room membership registry of the connection-multiplexed transport.

This file defines the Hub, the single event loop that owns every room. Connections never
touch room state directly: they hand join, leave, disconnect and broadcast requests to the
loop through one ordered queue, so occupancy changes are serialized without locks. Work
that may block (room-file lookups on join, teardown when a room empties) runs on separate
goroutines and re-enters the loop through the same queue when it needs to reach a member.
*/
package room

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"viewsync/internal/app/event"
	"viewsync/internal/pkg/logx"
	"viewsync/internal/pkg/randx"
)

const (
	// requestBuffer is the capacity of the loop's request queue.
	requestBuffer = 1024

	// lookupTimeout bounds the room-file lookup done for a joining member.
	lookupTimeout = 10 * time.Second

	// teardownTimeout bounds a room teardown (record delete and asset delete).
	teardownTimeout = 30 * time.Second
)

var (
	// ErrHubStopped is returned by operations issued after Stop.
	ErrHubStopped = errors.New("room hub stopped")

	// ErrInvalidRoom is returned by Join for a malformed channel name.
	ErrInvalidRoom = errors.New("invalid room name")
)

// RoomFiles is the part of the room-file registry the hub depends on. Room ids passed here
// are bare ids ("r1"), not channel names.
type RoomFiles interface {
	// CurrentFile returns the room's current file record, if any.
	CurrentFile(ctx context.Context, roomID string) (event.FileUploadedPayload, bool)

	// OnRoomEmptied releases room-scoped resources after the last member left.
	OnRoomEmptied(ctx context.Context, roomID string, emptiedAt time.Time)
}

type opKind int

const (
	opJoin opKind = iota
	opLeave
	opDisconnect
	opBroadcast
	opDirect
	opOccupancy
)

// op is one request to the loop. A single queue keeps a connection's requests in the
// order it issued them: a join followed by a publish is never reordered.
type op struct {
	kind opKind

	// member is the requesting connection; nil for server-originated broadcasts.
	member  *Member
	channel string
	userID  string
	payload []byte
	reply   chan int
}

// Hub owns all socket rooms.
type Hub struct {
	// rooms maps channel name to room. Touched only by the Run loop.
	rooms map[string]*Room

	// ops is the loop's request queue.
	ops chan op

	files RoomFiles

	// stopChan is closed by Stop; done is closed when Run returns.
	stopChan chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	// workers tracks lookup and teardown goroutines so Stop can wait for them.
	workers sync.WaitGroup

	logger zerolog.Logger
}

// NewHub creates a hub. files may be nil, in which case joins push nothing and teardown
// only drops the room.
func NewHub(files RoomFiles) *Hub {
	return &Hub{
		rooms:    make(map[string]*Room),
		ops:      make(chan op, requestBuffer),
		files:    files,
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
		logger:   logx.Component("Hub"),
	}
}

// NewMember wraps a connection so it can join rooms. It does not touch hub state.
func (h *Hub) NewMember(peer Peer, connID string) *Member {
	return &Member{ConnID: connID, peer: peer}
}

// Run is the hub's event loop. It returns after Stop.
func (h *Hub) Run() {
	defer close(h.done)

	h.logger.Info().Msg("Hub loop started.")

	for {
		select {
		case o := <-h.ops:
			h.apply(o)

		case <-h.stopChan:
			h.shutdown()
			return
		}
	}
}

func (h *Hub) apply(o op) {
	switch o.kind {
	case opJoin:
		h.handleJoin(o.member, o.channel, o.userID)

	case opLeave:
		if o.member.channel != o.channel {
			h.logger.Warn().
				Str("conn_id", o.member.ConnID).
				Str("room", o.channel).
				Msg("Leave for a room the connection is not in. Ignoring.")
			return
		}
		h.removeMember(o.member)

	case opDisconnect:
		h.removeMember(o.member)
		o.member.gone = true
		o.member.peer.Close()

	case opBroadcast:
		h.handleBroadcast(o.member, o.channel, o.payload)

	case opDirect:
		if o.member.channel == o.channel {
			o.member.peer.Send(o.payload)
		}

	case opOccupancy:
		n := 0
		if r, ok := h.rooms[o.channel]; ok {
			n = r.occupancy
		}
		o.reply <- n
	}
}

// Stop ends the Run loop, closes every member connection and waits for in-flight
// lookups and teardowns. Rooms still occupied at shutdown are not torn down.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		h.logger.Info().Msg("Received stop signal. Stopping hub.")
		close(h.stopChan)
	})
	<-h.done
	h.workers.Wait()
}

func (h *Hub) shutdown() {
	for name, r := range h.rooms {
		for m := range r.members {
			m.peer.Close()
		}
		delete(h.rooms, name)
	}
	h.logger.Info().Msg("Hub loop finished.")
}

// HandleFrame decodes one inbound message from m and dispatches it. Malformed frames,
// unknown events and frames for rooms m has not joined are dropped.
func (h *Hub) HandleFrame(m *Member, raw []byte) {
	f, err := event.Decode(raw)
	if err != nil {
		h.logger.Warn().Str("conn_id", m.ConnID).Err(err).Msg("Dropping malformed frame.")
		return
	}

	switch f.Event {
	case event.JoinRoom:
		var p event.JoinRoomPayload
		if len(f.Data) > 0 {
			if err := json.Unmarshal(f.Data, &p); err != nil {
				h.logger.Warn().Str("conn_id", m.ConnID).Err(err).Msg("Invalid join-room payload.")
				return
			}
		}
		if err := h.Join(m, f.Channel, p.UserID); err != nil {
			h.logger.Warn().Str("conn_id", m.ConnID).Str("room", f.Channel).Err(err).Msg("Join rejected.")
		}

	case event.LeaveRoom:
		h.Leave(m, f.Channel)

	default:
		if !event.IsPublishable(f.Event) {
			h.logger.Warn().Str("conn_id", m.ConnID).Str("event", f.Event).Msg("Dropping unknown event.")
			return
		}
		h.enqueue(op{kind: opBroadcast, member: m, channel: f.Channel, payload: raw})
	}
}

// Join moves m into channel, leaving its current room first. Joining the room m is
// already in is a no-op.
func (h *Hub) Join(m *Member, channel, userID string) error {
	roomID, ok := event.RoomIDFromChannel(channel)
	if !ok || !randx.IsValidRoomID(roomID) {
		return ErrInvalidRoom
	}
	if !h.enqueue(op{kind: opJoin, member: m, channel: channel, userID: userID}) {
		return ErrHubStopped
	}
	return nil
}

// Leave removes m from channel.
func (h *Hub) Leave(m *Member, channel string) {
	h.enqueue(op{kind: opLeave, member: m, channel: channel})
}

// Disconnect removes m from its room and closes its connection. Call it once the
// connection's read loop has ended.
func (h *Hub) Disconnect(m *Member) {
	if !h.enqueue(op{kind: opDisconnect, member: m}) {
		m.peer.Close()
	}
}

// PublishRoom broadcasts a server-originated event to every member of roomID.
func (h *Hub) PublishRoom(roomID, name string, data any) error {
	channel := event.ChannelName(roomID)

	payload, err := event.Encode(name, channel, data)
	if err != nil {
		return err
	}
	if !h.enqueue(op{kind: opBroadcast, channel: channel, payload: payload}) {
		return ErrHubStopped
	}
	return nil
}

// Occupancy returns the number of members in channel, 0 for an unknown room or a
// stopped hub. It is answered by the loop, after every request queued before it.
func (h *Hub) Occupancy(channel string) int {
	reply := make(chan int, 1)
	if !h.enqueue(op{kind: opOccupancy, channel: channel, reply: reply}) {
		return 0
	}
	select {
	case n := <-reply:
		return n
	case <-h.done:
		return 0
	}
}

func (h *Hub) handleJoin(m *Member, channel, userID string) {
	if m.gone || m.channel == channel {
		return
	}
	if m.channel != "" {
		h.removeMember(m)
	}
	if userID != "" {
		m.userID = userID
	}

	r, ok := h.rooms[channel]
	if !ok {
		r = newRoom(channel, h.logger)
		h.rooms[channel] = r
	}
	r.add(m)
	m.channel = channel

	r.logger.Info().
		Str("conn_id", m.ConnID).
		Str("user_id", m.userID).
		Int("occupancy", r.occupancy).
		Msg("Member joined room.")

	if h.files != nil {
		h.workers.Add(1)
		go h.pushCurrentFile(m, channel)
	}
}

// pushCurrentFile sends the room's file record to m alone, if m is still in the room
// once the lookup finishes.
func (h *Hub) pushCurrentFile(m *Member, channel string) {
	defer h.workers.Done()

	roomID, _ := event.RoomIDFromChannel(channel)

	ctx, cancel := context.WithTimeout(context.Background(), lookupTimeout)
	defer cancel()

	rec, ok := h.files.CurrentFile(ctx, roomID)
	if !ok {
		return
	}

	payload, err := event.Encode(event.FileUploaded, channel, rec)
	if err != nil {
		h.logger.Error().Err(err).Str("room", channel).Msg("Failed to encode file-uploaded.")
		return
	}
	h.enqueue(op{kind: opDirect, member: m, channel: channel, payload: payload})
}

// removeMember takes m out of its current room, tells the remaining members, and tears
// the room down when m was the last one.
func (h *Hub) removeMember(m *Member) {
	if m.channel == "" {
		return
	}
	channel := m.channel
	m.channel = ""

	r, ok := h.rooms[channel]
	if !ok || !r.remove(m) {
		return
	}

	r.logger.Info().
		Str("conn_id", m.ConnID).
		Int("occupancy", r.occupancy).
		Msg("Member left room.")

	if r.occupancy > 0 {
		payload, err := event.Encode(event.UserDisconnected, channel, event.UserDisconnectedPayload{ID: m.presenceID()})
		if err != nil {
			r.logger.Error().Err(err).Msg("Failed to encode user-disconnected.")
			return
		}
		r.broadcast(payload, nil)
		return
	}

	delete(h.rooms, channel)
	r.logger.Info().Msg("Room is empty. Tearing down.")

	if h.files == nil {
		return
	}
	roomID, _ := event.RoomIDFromChannel(channel)
	emptiedAt := time.Now()

	h.workers.Add(1)
	go func() {
		defer h.workers.Done()

		ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
		defer cancel()

		h.files.OnRoomEmptied(ctx, roomID, emptiedAt)
	}()
}

func (h *Hub) handleBroadcast(from *Member, channel string, payload []byte) {
	if from != nil && from.channel != channel {
		h.logger.Warn().
			Str("conn_id", from.ConnID).
			Str("room", channel).
			Msg("Frame for a room the connection has not joined. Dropping.")
		return
	}

	r, ok := h.rooms[channel]
	if !ok {
		return
	}
	r.broadcast(payload, from)
}

// enqueue hands o to the loop unless the hub has stopped.
func (h *Hub) enqueue(o op) bool {
	select {
	case <-h.stopChan:
		return false
	default:
	}

	select {
	case h.ops <- o:
		return true
	case <-h.stopChan:
		return false
	}
}
