/*
Package event defines the room-scoped wire protocol shared by the server and the client library.

Every message on either transport realization is a Frame: an event name, the channel
(room name) it belongs to, and a JSON payload. The payload shapes below are the only
contract between peers; the server relays them without interpreting poses or chat text.
*/
package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Presence events, published by clients and fanned out to a room.
const (
	UserJoined      = "user-joined"
	UserLeft        = "user-left"
	PointerUpdate   = "pointer-update"
	SelectionUpdate = "selection-update"
	ChatMessageSent = "chat-message"
)

// Server-originated events.
const (
	// FileUploaded announces the room's current model file.
	FileUploaded = "file-uploaded"

	// UserDisconnected is broadcast by the socket-room hub when a member's connection leaves.
	UserDisconnected = "user-disconnected"
)

// Control frames. JoinRoom/LeaveRoom drive the socket-room hub; Subscribe/Unsubscribe drive
// the relay subscription stream.
const (
	JoinRoom    = "join-room"
	LeaveRoom   = "leave-room"
	Subscribe   = "subscribe"
	Unsubscribe = "unsubscribe"
)

// ChannelPrefix prefixes every room channel name.
const ChannelPrefix = "room-"

const (
	// MaxFrameSize is the largest encoded frame a connection reads, on the server and in
	// the client library alike. Encode refuses to produce anything larger.
	MaxFrameSize = 16384

	// MaxChatTextBytes bounds the text of one chat message.
	MaxChatTextBytes = 5000
)

// ErrFrameTooLarge is returned by Encode for frames over MaxFrameSize.
var ErrFrameTooLarge = errors.New("frame exceeds maximum size")

var publishable = map[string]struct{}{
	UserJoined:      {},
	UserLeft:        {},
	PointerUpdate:   {},
	SelectionUpdate: {},
	ChatMessageSent: {},
}

// IsPublishable reports whether clients may publish the named event into a room.
func IsPublishable(name string) bool {
	_, ok := publishable[name]
	return ok
}

// ChannelName returns the channel a room's events travel on.
func ChannelName(roomID string) string {
	return ChannelPrefix + roomID
}

// RoomIDFromChannel reverses ChannelName.
func RoomIDFromChannel(channel string) (string, bool) {
	roomID, ok := strings.CutPrefix(channel, ChannelPrefix)
	if !ok || roomID == "" {
		return "", false
	}
	return roomID, true
}

// Frame is the envelope of every message exchanged over a transport.
type Frame struct {
	Event   string          `json:"event"`
	Channel string          `json:"channel,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// NewFrame marshals data into a Frame. A json.RawMessage is used as is.
func NewFrame(name, channel string, data any) (Frame, error) {
	f := Frame{Event: name, Channel: channel}

	switch d := data.(type) {
	case nil:
	case json.RawMessage:
		f.Data = d
	default:
		raw, err := json.Marshal(data)
		if err != nil {
			return Frame{}, fmt.Errorf("marshal %s payload: %w", name, err)
		}
		f.Data = raw
	}

	return f, nil
}

// Encode marshals a frame into a single text message no larger than MaxFrameSize.
func Encode(name, channel string, data any) ([]byte, error) {
	f, err := NewFrame(name, channel, data)
	if err != nil {
		return nil, err
	}

	b, err := json.Marshal(f)
	if err != nil {
		return nil, err
	}
	if len(b) > MaxFrameSize {
		return nil, fmt.Errorf("encode %s (%d bytes): %w", name, len(b), ErrFrameTooLarge)
	}
	return b, nil
}

// Decode parses a text message into a Frame.
func Decode(b []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(b, &f); err != nil {
		return Frame{}, fmt.Errorf("decode frame: %w", err)
	}
	if f.Event == "" {
		return Frame{}, fmt.Errorf("decode frame: missing event name")
	}
	return f, nil
}
