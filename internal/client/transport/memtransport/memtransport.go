/*
Package memtransport is an in-process transport.Channel.

A Bus connects any number of Clients. Delivery is synchronous on the publisher's goroutine,
which makes multi-client scenarios deterministic in tests. The bus mimics either server
realization: with EchoToSender it behaves like the relay (the publisher receives its own
events), without it like the socket-room hub (the publisher is excluded).
*/
package memtransport

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/pkg/errors"

	"viewsync/internal/client/transport"
)

// Bus is a set of room subscriptions shared by its clients.
type Bus struct {
	echo bool

	mu   sync.Mutex
	subs map[string]map[*subscription]struct{}
}

// NewBus creates a bus. echoToSender selects relay semantics.
func NewBus(echoToSender bool) *Bus {
	return &Bus{echo: echoToSender, subs: make(map[string]map[*subscription]struct{})}
}

// Client returns a new endpoint on the bus.
func (b *Bus) Client() *Client {
	return &Client{bus: b}
}

// Subscribers returns the number of live subscriptions to roomName.
func (b *Bus) Subscribers(roomName string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[roomName])
}

// Reconnect simulates every client reconnecting.
func (b *Bus) Reconnect() {
	for _, sub := range b.snapshot("", nil) {
		sub.Reconnected()
	}
}

// snapshot returns the subscriptions of roomName ("" for all), optionally only those of
// owner.
func (b *Bus) snapshot(roomName string, owner *Client) []*subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []*subscription
	for name, set := range b.subs {
		if roomName != "" && name != roomName {
			continue
		}
		for sub := range set {
			if owner == nil || sub.owner == owner {
				out = append(out, sub)
			}
		}
	}
	return out
}

// Client is one endpoint on a Bus.
type Client struct {
	bus *Bus

	mu         sync.Mutex
	publishErr error
	published  int
	beacons    int
}

var (
	_ transport.Channel  = (*Client)(nil)
	_ transport.Beaconer = (*Client)(nil)
)

// FailPublishes makes every later Publish return err; nil restores delivery.
func (c *Client) FailPublishes(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.publishErr = err
}

// Published returns how many events this client published, beacons included.
func (c *Client) Published() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.published
}

// Beacons returns how many events went through Beacon.
func (c *Client) Beacons() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.beacons
}

// Reconnect simulates this client's connection dropping and coming back.
func (c *Client) Reconnect() {
	for _, sub := range c.bus.snapshot("", c) {
		sub.Reconnected()
	}
}

// Subscribe implements transport.Channel.
func (c *Client) Subscribe(_ context.Context, roomName string) (transport.Subscription, error) {
	if roomName == "" {
		return nil, errors.New("subscribe: empty room name")
	}

	sub := &subscription{owner: c, room: roomName}

	c.bus.mu.Lock()
	set, ok := c.bus.subs[roomName]
	if !ok {
		set = make(map[*subscription]struct{})
		c.bus.subs[roomName] = set
	}
	set[sub] = struct{}{}
	c.bus.mu.Unlock()

	return sub, nil
}

// Publish implements transport.Channel. The payload goes through JSON like on a real
// connection.
func (c *Client) Publish(_ context.Context, roomName, eventName string, payload any) error {
	c.mu.Lock()
	err := c.publishErr
	if err == nil {
		c.published++
	}
	c.mu.Unlock()
	if err != nil {
		return err
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrapf(err, "encode %s", eventName)
	}

	for _, sub := range c.bus.snapshot(roomName, nil) {
		if !c.bus.echo && sub.owner == c {
			continue
		}
		sub.Dispatch(eventName, data)
	}
	return nil
}

// Beacon implements transport.Beaconer.
func (c *Client) Beacon(roomName, eventName string, payload any) {
	c.mu.Lock()
	c.beacons++
	c.mu.Unlock()

	_ = c.Publish(context.Background(), roomName, eventName, payload)
}

type subscription struct {
	transport.Bindings

	owner *Client
	room  string
}

func (s *subscription) Unsubscribe() error {
	if !s.Close() {
		return nil
	}

	b := s.owner.bus
	b.mu.Lock()
	defer b.mu.Unlock()

	if set, ok := b.subs[s.room]; ok {
		delete(set, s)
		if len(set) == 0 {
			delete(b.subs, s.room)
		}
	}
	return nil
}
