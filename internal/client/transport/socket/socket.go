/*
Package socket is the client side of the connection-multiplexed transport.

One WebSocket to the server's /ws endpoint carries every room the client is in. Subscribing
sends join-room, unsubscribing sends leave-room, and publishing writes the event frame on
the same connection; the server hub fans it out to the room's other members. The hub keeps
a connection in one room at a time, so a new subscription moves the connection.

After a reconnect the transport fires every subscription's reconnect callbacks and then
re-joins, all before the first frame of the new connection is dispatched.
*/
package socket

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"

	"viewsync/internal/app/event"
	"viewsync/internal/client/transport"
	"viewsync/internal/client/transport/stream"
	"viewsync/internal/pkg/logx"
)

// beaconTimeout bounds a Beacon write.
const beaconTimeout = time.Second

// Option configures a Transport.
type Option func(*stream.Config)

// WithBackoff replaces the redial schedule.
func WithBackoff(b func() retry.Backoff) Option {
	return func(c *stream.Config) { c.Backoff = b }
}

// WithDialer replaces the WebSocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(c *stream.Config) { c.Dialer = d }
}

// Transport is a transport.Channel over a socket-room connection.
type Transport struct {
	userID string
	stream *stream.Stream

	mu   sync.Mutex
	subs map[string]map[*subscription]struct{}

	logger zerolog.Logger
}

var (
	_ transport.Channel  = (*Transport)(nil)
	_ transport.Beaconer = (*Transport)(nil)
)

// Dial connects to url (ws://host/ws). userID is sent with every join so the server can
// name this client in user-disconnected.
func Dial(ctx context.Context, url, userID string, opts ...Option) (*Transport, error) {
	t := &Transport{
		userID: userID,
		subs:   make(map[string]map[*subscription]struct{}),
		logger: logx.Component("SocketTransport"),
	}

	cfg := stream.Config{
		URL:       url,
		OnConnect: t.onConnect,
		OnFrame:   t.onFrame,
		Component: "SocketStream",
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	s, err := stream.Dial(ctx, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "connect socket transport")
	}
	t.stream = s
	return t, nil
}

// onConnect runs on the stream goroutine. The first connection has no subscriptions yet
// because Dial has not returned.
func (t *Transport) onConnect(reconnect bool) {
	if !reconnect {
		return
	}

	t.mu.Lock()
	var channels []string
	var all []*subscription
	for channel, set := range t.subs {
		channels = append(channels, channel)
		for sub := range set {
			all = append(all, sub)
		}
	}
	t.mu.Unlock()

	for _, sub := range all {
		sub.Reconnected()
	}
	for _, channel := range channels {
		t.join(channel)
	}
}

func (t *Transport) onFrame(f event.Frame) {
	t.mu.Lock()
	set := t.subs[f.Channel]
	targets := make([]*subscription, 0, len(set))
	for sub := range set {
		targets = append(targets, sub)
	}
	t.mu.Unlock()

	if len(targets) == 0 {
		t.logger.Debug().Str("channel", f.Channel).Str("event", f.Event).Msg("Frame for unsubscribed room.")
		return
	}
	for _, sub := range targets {
		sub.Dispatch(f.Event, f.Data)
	}
}

func (t *Transport) join(channel string) {
	if err := t.stream.Send(event.JoinRoom, channel, event.JoinRoomPayload{UserID: t.userID}); err != nil {
		t.logger.Warn().Err(err).Str("channel", channel).Msg("join-room not sent; will retry on reconnect.")
	}
}

// Subscribe joins roomName. A join that cannot be written now is sent after the next
// reconnect.
func (t *Transport) Subscribe(_ context.Context, roomName string) (transport.Subscription, error) {
	if roomName == "" {
		return nil, errors.New("subscribe: empty room name")
	}

	sub := &subscription{t: t, channel: roomName}

	t.mu.Lock()
	set, ok := t.subs[roomName]
	if !ok {
		set = make(map[*subscription]struct{})
		t.subs[roomName] = set
	}
	set[sub] = struct{}{}
	t.mu.Unlock()

	t.join(roomName)
	return sub, nil
}

// Publish writes an event frame for roomName.
func (t *Transport) Publish(_ context.Context, roomName, eventName string, payload any) error {
	if err := t.stream.Send(eventName, roomName, payload); err != nil {
		return errors.Wrapf(err, "publish %s to %s", eventName, roomName)
	}
	return nil
}

// Beacon writes the frame with a short deadline and ignores the outcome.
func (t *Transport) Beacon(roomName, eventName string, payload any) {
	if err := t.stream.SendTimeout(eventName, roomName, payload, beaconTimeout); err != nil {
		t.logger.Debug().Err(err).Str("event", eventName).Msg("Beacon not delivered.")
	}
}

// Drop closes the current connection to force a reconnect.
func (t *Transport) Drop() {
	t.stream.Drop()
}

// Close shuts the connection down for good.
func (t *Transport) Close() error {
	return t.stream.Close()
}

func (t *Transport) unsubscribe(sub *subscription) {
	t.mu.Lock()
	set := t.subs[sub.channel]
	delete(set, sub)
	last := len(set) == 0
	if last {
		delete(t.subs, sub.channel)
	}
	t.mu.Unlock()

	if !last {
		return
	}
	if err := t.stream.Send(event.LeaveRoom, sub.channel, nil); err != nil {
		t.logger.Debug().Err(err).Str("channel", sub.channel).Msg("leave-room not sent.")
	}
}

type subscription struct {
	transport.Bindings

	t       *Transport
	channel string
}

func (s *subscription) Unsubscribe() error {
	if s.Close() {
		s.t.unsubscribe(s)
	}
	return nil
}
