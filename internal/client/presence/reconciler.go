/*
Package presence merges a room's remote presence events into local view state.

A Reconciler owns the PresenceMap (user id to last camera pose) and the SelectionMap
(user id to highlighted element) of one room for one local user, plus that room's chat
log. It publishes the local user's own pose, selection and chat through a
transport.Channel and applies what peers publish. Every update is an idempotent upsert or
delete, so duplicated and reordered deliveries converge.

Transport failures never reach the caller as hard errors. They are logged and presence
degrades to "no live updates".
*/
package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"viewsync/internal/app/event"
	"viewsync/internal/client/chatlog"
	"viewsync/internal/client/identity"
	"viewsync/internal/client/transport"
	"viewsync/internal/pkg/logx"
	"viewsync/internal/pkg/vec"
)

// DefaultPublishTimeout bounds each publish when the caller has no deadline of its own.
const DefaultPublishTimeout = 5 * time.Second

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithOnChange registers fn to run after every change of the maps or the chat log. It
// runs without the reconciler's lock held and may call its accessors.
func WithOnChange(fn func()) Option {
	return func(r *Reconciler) { r.onChange = fn }
}

// WithOnFile registers fn to receive file-uploaded events of the joined room.
func WithOnFile(fn func(event.FileUploadedPayload)) Option {
	return func(r *Reconciler) { r.onFile = fn }
}

// WithPublishTimeout replaces DefaultPublishTimeout.
func WithPublishTimeout(d time.Duration) Option {
	return func(r *Reconciler) { r.publishTimeout = d }
}

// WithClock replaces time.Now for chat timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

// Reconciler is the presence state of one room as seen by one local user.
type Reconciler struct {
	ch             transport.Channel
	onChange       func()
	onFile         func(event.FileUploadedPayload)
	publishTimeout time.Duration
	now            func() time.Time
	logger         zerolog.Logger

	mu       sync.Mutex
	identity *identity.UserIdentity
	roomID   string
	sub      transport.Subscription

	// gen increases with every Join and Leave. Callbacks bound to an older generation
	// are discarded.
	gen uint64

	pointers   map[string]event.PointerPayload
	selections map[string]event.SelectionPayload
	chat       *chatlog.Log

	// position and direction are the local user's last reported pose.
	position  vec.Vec3
	direction vec.Vec3

	announcedLeave bool

	// announcedFor is the room and identity the initial pointer and user-joined were
	// published for. It is reset by Leave.
	announcedFor string
}

// New creates a Reconciler publishing through ch. It is idle until Join.
func New(ch transport.Channel, opts ...Option) *Reconciler {
	r := &Reconciler{
		ch:             ch,
		publishTimeout: DefaultPublishTimeout,
		now:            time.Now,
		logger:         logx.Component("Presence"),
		pointers:       make(map[string]event.PointerPayload),
		selections:     make(map[string]event.SelectionPayload),
		chat:           chatlog.New(chatlog.Capacity),
		direction:      vec.Forward,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// publication is an event waiting to be sent once the lock is released.
type publication struct {
	room    string
	name    string
	payload any
}

func (r *Reconciler) publish(ctx context.Context, pubs ...publication) {
	for _, p := range pubs {
		pctx, cancel := context.WithTimeout(ctx, r.publishTimeout)
		err := r.ch.Publish(pctx, p.room, p.name, p.payload)
		cancel()
		if err != nil {
			r.logger.Warn().Err(err).Str("event", p.name).Str("channel", p.room).Msg("Publish failed.")
		}
	}
}

func (r *Reconciler) changed() {
	if r.onChange != nil {
		r.onChange()
	}
}

// Join subscribes to roomID's channel, leaving any previous room first. If the identity
// is already known the user is announced right away, otherwise on SetIdentity.
func (r *Reconciler) Join(ctx context.Context, roomID string) error {
	if roomID == "" {
		return errors.New("join: empty room id")
	}

	r.Leave()

	channel := event.ChannelName(roomID)
	sub, err := r.ch.Subscribe(ctx, channel)
	if err != nil {
		r.logger.Warn().Err(err).Str("room_id", roomID).Msg("Subscribe failed; live updates unavailable.")
		return errors.Wrapf(err, "join %s", roomID)
	}

	r.mu.Lock()
	r.gen++
	gen := r.gen
	r.roomID = roomID
	r.sub = sub
	r.resetLocked()
	r.announcedLeave = false
	pubs := r.announceLocked()
	r.mu.Unlock()

	r.bind(sub, gen)
	r.logger.Info().Str("room_id", roomID).Msg("Joined room.")

	r.changed()
	r.publish(ctx, pubs...)
	return nil
}

// bind attaches the inbound handlers of generation gen.
func (r *Reconciler) bind(sub transport.Subscription, gen uint64) {
	on := func(name string, apply func(data json.RawMessage) error) {
		sub.On(name, func(data json.RawMessage) {
			if err := apply(data); err != nil {
				r.logger.Warn().Err(err).Str("event", name).Msg("Dropping malformed event.")
			}
		})
	}

	on(event.PointerUpdate, func(data json.RawMessage) error {
		var p event.PointerUpdatePayload
		if err := json.Unmarshal(data, &p); err != nil {
			return err
		}
		r.applyPointer(gen, p.SenderID, p.Pointer)
		return nil
	})
	on(event.SelectionUpdate, func(data json.RawMessage) error {
		var p event.SelectionUpdatePayload
		if err := json.Unmarshal(data, &p); err != nil {
			return err
		}
		r.applySelection(gen, p.SenderID, p.Selection)
		return nil
	})
	on(event.UserJoined, func(data json.RawMessage) error {
		var p event.UserJoinedPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return err
		}
		r.applyJoined(gen, p)
		return nil
	})
	on(event.UserLeft, func(data json.RawMessage) error {
		var p event.UserLeftPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return err
		}
		r.applyLeft(gen, p.SenderID)
		return nil
	})
	on(event.UserDisconnected, func(data json.RawMessage) error {
		var p event.UserDisconnectedPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return err
		}
		r.applyLeft(gen, p.ID)
		return nil
	})
	on(event.ChatMessageSent, func(data json.RawMessage) error {
		var m event.ChatMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return err
		}
		r.applyChat(gen, m)
		return nil
	})
	on(event.FileUploaded, func(data json.RawMessage) error {
		var f event.FileUploadedPayload
		if err := json.Unmarshal(data, &f); err != nil {
			return err
		}
		r.applyFile(gen, f)
		return nil
	})

	sub.OnReconnect(func() { r.applyReconnect(gen) })
}

// update runs fn under the lock if gen is still current and notifies on change.
func (r *Reconciler) update(gen uint64, fn func() bool) {
	r.mu.Lock()
	if gen != r.gen || r.sub == nil {
		r.mu.Unlock()
		return
	}
	changed := fn()
	r.mu.Unlock()

	if changed {
		r.changed()
	}
}

func (r *Reconciler) currentGen() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gen
}

func (r *Reconciler) selfIDLocked() string {
	if r.identity == nil {
		return ""
	}
	return r.identity.ID
}

func (r *Reconciler) resetLocked() {
	clear(r.pointers)
	clear(r.selections)
	r.chat.Reset()
}

func (r *Reconciler) applyPointer(gen uint64, senderID string, p event.PointerPayload) {
	if senderID == "" {
		return
	}
	r.update(gen, func() bool {
		if senderID == r.selfIDLocked() {
			return false
		}
		r.pointers[senderID] = p
		return true
	})
}

func (r *Reconciler) applySelection(gen uint64, senderID string, s event.SelectionPayload) {
	if senderID == "" {
		return
	}
	r.update(gen, func() bool {
		r.selections[senderID] = s
		return true
	})
}

func (r *Reconciler) applyJoined(gen uint64, p event.UserJoinedPayload) {
	r.update(gen, func() bool {
		if p.SenderID == r.selfIDLocked() {
			return false
		}
		r.chat.Append(chatlog.NewNotice(fmt.Sprintf("%s joined the room", p.Name), r.now()))
		return true
	})
}

func (r *Reconciler) applyLeft(gen uint64, senderID string) {
	r.update(gen, func() bool {
		ptr, known := r.pointers[senderID]
		_, selected := r.selections[senderID]
		if !known && !selected {
			return false
		}

		delete(r.pointers, senderID)
		delete(r.selections, senderID)
		if known && ptr.Label != "" {
			r.chat.Append(chatlog.NewNotice(fmt.Sprintf("%s left the room", ptr.Label), r.now()))
		}
		return true
	})
}

func (r *Reconciler) applyChat(gen uint64, m event.ChatMessage) {
	r.update(gen, func() bool {
		return r.chat.Append(m)
	})
}

func (r *Reconciler) applyFile(gen uint64, f event.FileUploadedPayload) {
	var current bool
	r.update(gen, func() bool {
		current = true
		return false
	})
	if current && r.onFile != nil {
		r.onFile(f)
	}
}

func (r *Reconciler) applyReconnect(gen uint64) {
	r.update(gen, func() bool {
		clear(r.pointers)
		clear(r.selections)
		return true
	})
	r.logger.Info().Msg("Transport reconnected; cleared peer state.")
}

// HandlePointerUpdate applies a pointer-update for the joined room.
func (r *Reconciler) HandlePointerUpdate(senderID string, p event.PointerPayload) {
	r.applyPointer(r.currentGen(), senderID, p)
}

// HandleSelectionUpdate applies a selection-update, the local user's own included.
func (r *Reconciler) HandleSelectionUpdate(senderID string, s event.SelectionPayload) {
	r.applySelection(r.currentGen(), senderID, s)
}

// HandleUserJoined applies a user-joined.
func (r *Reconciler) HandleUserJoined(p event.UserJoinedPayload) {
	r.applyJoined(r.currentGen(), p)
}

// HandleUserLeft removes a peer. It also handles user-disconnected. Removing an unknown
// peer is a no-op.
func (r *Reconciler) HandleUserLeft(senderID string) {
	r.applyLeft(r.currentGen(), senderID)
}

// HandleChatMessage appends m unless its id is already in the log.
func (r *Reconciler) HandleChatMessage(m event.ChatMessage) {
	r.applyChat(r.currentGen(), m)
}

// HandleReconnect drops all peer state.
func (r *Reconciler) HandleReconnect() {
	r.applyReconnect(r.currentGen())
}

// SetIdentity sets or replaces the local identity. The first identity known in a joined
// room triggers the user-joined and initial pointer announcement; a changed name or color
// only affects later publishes.
func (r *Reconciler) SetIdentity(id *identity.UserIdentity) {
	r.mu.Lock()
	if id != nil {
		cp := *id
		r.identity = &cp
	} else {
		r.identity = nil
	}
	pubs := r.announceLocked()
	r.mu.Unlock()

	r.publish(context.Background(), pubs...)
}

// announceLocked returns the join announcement if it is due for the current room and
// identity.
func (r *Reconciler) announceLocked() []publication {
	if r.sub == nil || r.identity == nil {
		return nil
	}

	key := r.roomID + "\x00" + r.identity.ID
	if r.announcedFor == key {
		return nil
	}
	r.announcedFor = key

	channel := event.ChannelName(r.roomID)
	return []publication{
		{channel, event.UserJoined, event.UserJoinedPayload{
			SenderID: r.identity.ID,
			Name:     r.identity.Name,
			Color:    r.identity.Color,
		}},
		{channel, event.PointerUpdate, event.PointerUpdatePayload{
			SenderID: r.identity.ID,
			Pointer:  r.pointerLocked(),
		}},
	}
}

func (r *Reconciler) pointerLocked() event.PointerPayload {
	return event.PointerPayload{
		Position:  r.position,
		Direction: r.direction,
		Color:     r.identity.Color,
		Label:     r.identity.Name,
	}
}

// UpdatePosition records the local camera pose and publishes it. Without an identity or
// a joined room only the local pose changes.
func (r *Reconciler) UpdatePosition(pos, dir vec.Vec3) {
	r.mu.Lock()
	r.position = pos
	r.direction = dir
	if r.identity == nil || r.sub == nil {
		r.mu.Unlock()
		return
	}
	pub := publication{event.ChannelName(r.roomID), event.PointerUpdate, event.PointerUpdatePayload{
		SenderID: r.identity.ID,
		Pointer:  r.pointerLocked(),
	}}
	r.mu.Unlock()

	r.publish(context.Background(), pub)
}

// UpdateSelection highlights expressID (nil clears). The local SelectionMap changes
// before the event is published.
func (r *Reconciler) UpdateSelection(expressID *int) {
	r.mu.Lock()
	if r.identity == nil || r.sub == nil {
		r.mu.Unlock()
		return
	}

	var sel event.SelectionPayload
	sel.Color = r.identity.Color
	if expressID != nil {
		v := *expressID
		sel.ExpressID = &v
	}
	r.selections[r.identity.ID] = sel
	pub := publication{event.ChannelName(r.roomID), event.SelectionUpdate, event.SelectionUpdatePayload{
		SenderID:  r.identity.ID,
		Selection: sel,
	}}
	r.mu.Unlock()

	r.changed()
	r.publish(context.Background(), pub)
}

// SendChatMessage appends text to the local log and publishes it. Blank text is ignored.
// The log skips the relay's echo of the same message id.
func (r *Reconciler) SendChatMessage(text string) {
	r.mu.Lock()
	if r.identity == nil || r.sub == nil {
		r.mu.Unlock()
		return
	}

	msg, ok := chatlog.NewChat(r.identity.ID, r.identity.Name, r.identity.Color, text, r.now())
	if !ok {
		r.mu.Unlock()
		return
	}
	r.chat.Append(msg)
	pub := publication{event.ChannelName(r.roomID), event.ChatMessageSent, msg}
	r.mu.Unlock()

	r.changed()
	r.publish(context.Background(), pub)
}

// AnnounceLeave tells the room the local user is going. Only the first call per join
// publishes. It does not block on the network: a Beaconer channel beacons, any other
// channel publishes from a detached goroutine.
func (r *Reconciler) AnnounceLeave() {
	r.mu.Lock()
	if r.announcedLeave || r.identity == nil || r.sub == nil {
		r.mu.Unlock()
		return
	}
	r.announcedLeave = true
	channel := event.ChannelName(r.roomID)
	payload := event.UserLeftPayload{SenderID: r.identity.ID}
	r.mu.Unlock()

	if b, ok := r.ch.(transport.Beaconer); ok {
		b.Beacon(channel, event.UserLeft, payload)
		return
	}
	go r.publish(context.Background(), publication{channel, event.UserLeft, payload})
}

// Leave announces the departure, unsubscribes and clears all room state. Callbacks still
// in flight from the old subscription are discarded.
func (r *Reconciler) Leave() {
	r.AnnounceLeave()

	r.mu.Lock()
	sub := r.sub
	if sub == nil {
		r.mu.Unlock()
		return
	}
	roomID := r.roomID
	r.gen++
	r.sub = nil
	r.roomID = ""
	r.announcedFor = ""
	r.resetLocked()
	r.mu.Unlock()

	if err := sub.Unsubscribe(); err != nil {
		r.logger.Warn().Err(err).Str("room_id", roomID).Msg("Unsubscribe failed.")
	}
	r.logger.Info().Str("room_id", roomID).Msg("Left room.")
	r.changed()
}

// RoomID returns the joined room, or "" when idle.
func (r *Reconciler) RoomID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.roomID
}

// Identity returns a copy of the local identity, or nil.
func (r *Reconciler) Identity() *identity.UserIdentity {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.identity == nil {
		return nil
	}
	cp := *r.identity
	return &cp
}

// Pointers returns a copy of the PresenceMap.
func (r *Reconciler) Pointers() map[string]event.PointerPayload {
	r.mu.Lock()
	defer r.mu.Unlock()
	return maps.Clone(r.pointers)
}

// Pointer returns one peer's last pose.
func (r *Reconciler) Pointer(userID string) (event.PointerPayload, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pointers[userID]
	return p, ok
}

// Selections returns a copy of the SelectionMap.
func (r *Reconciler) Selections() map[string]event.SelectionPayload {
	r.mu.Lock()
	defer r.mu.Unlock()
	return maps.Clone(r.selections)
}

// Messages returns the chat log, oldest first.
func (r *Reconciler) Messages() []event.ChatMessage {
	return r.chat.Messages()
}
