/*
Package relay implements the relay-mediated transport's server side.

Clients publish through a stateless trigger endpoint and receive events over a separate
subscription stream. The Broker is that stream's fan-out: it keeps, per channel, the set
of subscribed stream connections and delivers every published event to all of them,
including the connection of the client that triggered it. It keeps no membership beyond
subscriptions, so it never reports departures and never tears down room resources.
*/
package relay

import (
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"viewsync/internal/app/event"
	"viewsync/internal/pkg/logx"
)

const (
	// requestBuffer is the capacity of the broker's request queue.
	requestBuffer = 1024

	// MaxChannelsPerSubscriber bounds how many channels one stream may subscribe to.
	MaxChannelsPerSubscriber = 32
)

// ErrBrokerStopped is returned by Publish after Stop.
var ErrBrokerStopped = errors.New("relay broker stopped")

// Peer is the outbound side of a stream connection. *conn.Conn implements it.
type Peer interface {
	Send(msg []byte) bool
	Close()
}

// Subscriber is one subscription stream connection.
type Subscriber struct {
	ConnID string

	peer Peer

	// channels is the set this stream is subscribed to. Owned by the broker loop.
	channels map[string]struct{}

	gone bool
}

type opKind int

const (
	opSubscribe opKind = iota
	opUnsubscribe
	opRemove
	opPublish
	opCount
)

type op struct {
	kind    opKind
	sub     *Subscriber
	channel string
	payload []byte
	reply   chan int
}

// Broker fans relay events out to stream subscribers.
type Broker struct {
	// channels maps channel name to its subscribers. Touched only by the Run loop.
	channels map[string]map[*Subscriber]struct{}

	ops chan op

	stopChan chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	logger zerolog.Logger
}

// NewBroker creates a broker. Call Run to start it.
func NewBroker() *Broker {
	return &Broker{
		channels: make(map[string]map[*Subscriber]struct{}),
		ops:      make(chan op, requestBuffer),
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
		logger:   logx.Component("RelayBroker"),
	}
}

// NewSubscriber wraps a stream connection.
func (b *Broker) NewSubscriber(peer Peer, connID string) *Subscriber {
	return &Subscriber{ConnID: connID, peer: peer, channels: make(map[string]struct{})}
}

// Run is the broker's event loop. It returns after Stop.
func (b *Broker) Run() {
	defer close(b.done)

	b.logger.Info().Msg("Relay broker loop started.")

	for {
		select {
		case o := <-b.ops:
			b.apply(o)

		case <-b.stopChan:
			for _, subs := range b.channels {
				for s := range subs {
					s.peer.Close()
				}
			}
			b.channels = make(map[string]map[*Subscriber]struct{})
			b.logger.Info().Msg("Relay broker loop finished.")
			return
		}
	}
}

// Stop ends the Run loop and closes every stream.
func (b *Broker) Stop() {
	b.stopOnce.Do(func() {
		close(b.stopChan)
	})
	<-b.done
}

func (b *Broker) apply(o op) {
	switch o.kind {
	case opSubscribe:
		s := o.sub
		if s.gone {
			return
		}
		if _, ok := s.channels[o.channel]; ok {
			return
		}
		if len(s.channels) >= MaxChannelsPerSubscriber {
			b.logger.Warn().Str("conn_id", s.ConnID).Str("channel", o.channel).Msg("Subscription limit reached. Ignoring.")
			return
		}
		subs, ok := b.channels[o.channel]
		if !ok {
			subs = make(map[*Subscriber]struct{})
			b.channels[o.channel] = subs
		}
		subs[s] = struct{}{}
		s.channels[o.channel] = struct{}{}

		b.logger.Debug().Str("conn_id", s.ConnID).Str("channel", o.channel).Int("subscribers", len(subs)).Msg("Subscribed.")

	case opUnsubscribe:
		b.unsubscribe(o.sub, o.channel)

	case opRemove:
		for channel := range o.sub.channels {
			b.unsubscribe(o.sub, channel)
		}
		o.sub.gone = true
		o.sub.peer.Close()

	case opPublish:
		for s := range b.channels[o.channel] {
			s.peer.Send(o.payload)
		}

	case opCount:
		o.reply <- len(b.channels[o.channel])
	}
}

func (b *Broker) unsubscribe(s *Subscriber, channel string) {
	if _, ok := s.channels[channel]; !ok {
		return
	}
	delete(s.channels, channel)

	subs := b.channels[channel]
	delete(subs, s)
	if len(subs) == 0 {
		delete(b.channels, channel)
	}
}

// HandleFrame applies one subscribe/unsubscribe frame from a stream. Anything else is
// dropped: the stream is receive-only, publishing goes through the trigger endpoint.
func (b *Broker) HandleFrame(s *Subscriber, raw []byte) {
	f, err := event.Decode(raw)
	if err != nil {
		b.logger.Warn().Str("conn_id", s.ConnID).Err(err).Msg("Dropping malformed stream frame.")
		return
	}
	if f.Channel == "" {
		b.logger.Warn().Str("conn_id", s.ConnID).Str("event", f.Event).Msg("Stream frame without channel.")
		return
	}

	switch f.Event {
	case event.Subscribe:
		b.enqueue(op{kind: opSubscribe, sub: s, channel: f.Channel})
	case event.Unsubscribe:
		b.enqueue(op{kind: opUnsubscribe, sub: s, channel: f.Channel})
	default:
		b.logger.Warn().Str("conn_id", s.ConnID).Str("event", f.Event).Msg("Unexpected event on relay stream.")
	}
}

// Remove drops all of s's subscriptions and closes its connection.
func (b *Broker) Remove(s *Subscriber) {
	if !b.enqueue(op{kind: opRemove, sub: s}) {
		s.peer.Close()
	}
}

// Publish delivers an event to every subscriber of channel, the publisher's own stream
// included.
func (b *Broker) Publish(channel, name string, data any) error {
	payload, err := event.Encode(name, channel, data)
	if err != nil {
		return err
	}
	if !b.enqueue(op{kind: opPublish, channel: channel, payload: payload}) {
		return ErrBrokerStopped
	}
	return nil
}

// PublishRoom publishes a server-originated event on roomID's channel.
func (b *Broker) PublishRoom(roomID, name string, data any) error {
	return b.Publish(event.ChannelName(roomID), name, data)
}

// Subscribers returns the number of streams subscribed to channel.
func (b *Broker) Subscribers(channel string) int {
	reply := make(chan int, 1)
	if !b.enqueue(op{kind: opCount, channel: channel, reply: reply}) {
		return 0
	}
	select {
	case n := <-reply:
		return n
	case <-b.done:
		return 0
	}
}

func (b *Broker) enqueue(o op) bool {
	select {
	case <-b.stopChan:
		return false
	default:
	}

	select {
	case b.ops <- o:
		return true
	case <-b.stopChan:
		return false
	}
}
