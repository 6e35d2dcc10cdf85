// Package chatlog holds a room's recent chat and join/leave notices.
package chatlog

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"viewsync/internal/app/event"
)

// Capacity is the default number of messages kept.
const Capacity = 50

// Log is a bounded FIFO of chat messages. Appending beyond capacity evicts the oldest
// message, and a message whose id is already in the log is ignored.
type Log struct {
	mu       sync.Mutex
	capacity int
	msgs     []event.ChatMessage
	ids      map[string]struct{}
}

// New returns an empty log keeping at most capacity messages (Capacity if <= 0).
func New(capacity int) *Log {
	if capacity <= 0 {
		capacity = Capacity
	}
	return &Log{
		capacity: capacity,
		msgs:     make([]event.ChatMessage, 0, capacity),
		ids:      make(map[string]struct{}, capacity),
	}
}

// Append adds msg and reports whether it was new.
func (l *Log) Append(msg event.ChatMessage) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if msg.ID != "" {
		if _, dup := l.ids[msg.ID]; dup {
			return false
		}
	}

	if len(l.msgs) == l.capacity {
		delete(l.ids, l.msgs[0].ID)
		copy(l.msgs, l.msgs[1:])
		l.msgs = l.msgs[:len(l.msgs)-1]
	}

	l.msgs = append(l.msgs, msg)
	if msg.ID != "" {
		l.ids[msg.ID] = struct{}{}
	}
	return true
}

// Messages returns a copy of the log, oldest first.
func (l *Log) Messages() []event.ChatMessage {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]event.ChatMessage(nil), l.msgs...)
}

func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.msgs)
}

// Reset empties the log.
func (l *Log) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.msgs = l.msgs[:0]
	clear(l.ids)
}

// NewChat builds a chat message from a user. It returns false when text is blank or
// longer than event.MaxChatTextBytes.
func NewChat(senderID, senderName, color, text string, at time.Time) (event.ChatMessage, bool) {
	text = strings.TrimSpace(text)
	if text == "" || len(text) > event.MaxChatTextBytes {
		return event.ChatMessage{}, false
	}
	return event.ChatMessage{
		ID:         uuid.NewString(),
		Kind:       event.KindChat,
		SenderID:   senderID,
		SenderName: senderName,
		Text:       text,
		Timestamp:  at.UnixMilli(),
		Color:      color,
	}, true
}

// NewNotice builds a system notice. Notices carry no sender.
func NewNotice(text string, at time.Time) event.ChatMessage {
	return event.ChatMessage{
		ID:        uuid.NewString(),
		Kind:      event.KindEvent,
		Text:      text,
		Timestamp: at.UnixMilli(),
	}
}
