/*
Package transport defines the room-scoped pub/sub channel the presence client talks through.

A Channel is realized three ways: over one multiplexed WebSocket to the server's socket-room
hub (package socket), through the stateless relay trigger plus a relay subscription stream
(package relay), and in process (package memtransport). Realizations deliver best-effort:
events may be duplicated or reordered, and nothing survives a reconnect. Subscribers learn
about reconnects through OnReconnect and must treat everything they knew about peers as
stale.
*/
package transport

import (
	"context"
	"encoding/json"
	"sync"
)

// Handler receives the raw payload of one event.
type Handler func(data json.RawMessage)

// Channel is a pub/sub channel scoped to room names ("room-<id>").
type Channel interface {
	// Subscribe starts receiving events for roomName.
	Subscribe(ctx context.Context, roomName string) (Subscription, error)

	// Publish sends one event to roomName's subscribers.
	Publish(ctx context.Context, roomName, eventName string, payload any) error
}

// Subscription is the handle returned by Subscribe.
type Subscription interface {
	// On registers h for eventName. Several handlers may share one event.
	On(eventName string, h Handler)

	// OnReconnect registers fn to run after the underlying connection was re-established
	// and before any event received on the new connection is dispatched.
	OnReconnect(fn func())

	// Unsubscribe stops delivery. A dispatch already in progress may still finish.
	Unsubscribe() error
}

// Beaconer is implemented by channels with a fire-and-forget send that does not wait for
// the peer and may be used while the process is shutting down.
type Beaconer interface {
	Beacon(roomName, eventName string, payload any)
}

// Bindings is the handler registry behind a Subscription. Realizations embed it and call
// Dispatch and Reconnected from their delivery goroutine.
type Bindings struct {
	mu        sync.RWMutex
	handlers  map[string][]Handler
	reconnect []func()
	closed    bool
}

// On implements Subscription.On.
func (b *Bindings) On(eventName string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.handlers == nil {
		b.handlers = make(map[string][]Handler)
	}
	b.handlers[eventName] = append(b.handlers[eventName], h)
}

// OnReconnect implements Subscription.OnReconnect.
func (b *Bindings) OnReconnect(fn func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.reconnect = append(b.reconnect, fn)
}

// Dispatch runs eventName's handlers. It is a no-op once the bindings are closed.
func (b *Bindings) Dispatch(eventName string, data json.RawMessage) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	hs := append([]Handler(nil), b.handlers[eventName]...)
	b.mu.RUnlock()

	for _, h := range hs {
		h(data)
	}
}

// Reconnected runs the reconnect callbacks.
func (b *Bindings) Reconnected() {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	fns := append([]func(){}, b.reconnect...)
	b.mu.RUnlock()

	for _, fn := range fns {
		fn()
	}
}

// Close detaches every handler. It reports whether this call closed the bindings.
func (b *Bindings) Close() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return false
	}
	b.closed = true
	b.handlers = nil
	b.reconnect = nil
	return true
}

// Closed reports whether Close has been called.
func (b *Bindings) Closed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.closed
}
