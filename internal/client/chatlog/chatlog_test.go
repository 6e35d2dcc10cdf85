package chatlog

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"viewsync/internal/app/event"
)

func msg(i int) event.ChatMessage {
	return event.ChatMessage{ID: fmt.Sprintf("m%d", i), Kind: event.KindChat, Text: fmt.Sprintf("hello %d", i)}
}

func TestLog_EvictsOldestFirst(t *testing.T) {
	l := New(Capacity)
	for i := range 60 {
		assert.True(t, l.Append(msg(i)))
	}

	got := l.Messages()
	require.Len(t, got, 50)
	for i, m := range got {
		assert.Equal(t, fmt.Sprintf("m%d", i+10), m.ID)
	}
}

func TestLog_NeverExceedsCapacity(t *testing.T) {
	l := New(3)
	for i := range 10 {
		l.Append(msg(i))
		assert.LessOrEqual(t, l.Len(), 3)
	}
}

func TestLog_IgnoresDuplicateIDs(t *testing.T) {
	l := New(Capacity)

	assert.True(t, l.Append(msg(1)))
	assert.False(t, l.Append(msg(1)))
	assert.Equal(t, 1, l.Len())
}

func TestLog_EvictedIDCanReturn(t *testing.T) {
	l := New(2)
	l.Append(msg(1))
	l.Append(msg(2))
	l.Append(msg(3))

	assert.True(t, l.Append(msg(1)))
	got := l.Messages()
	assert.Equal(t, "m3", got[0].ID)
	assert.Equal(t, "m1", got[1].ID)
}

func TestLog_MessagesIsACopy(t *testing.T) {
	l := New(Capacity)
	l.Append(msg(1))

	got := l.Messages()
	got[0].Text = "changed"
	assert.Equal(t, "hello 1", l.Messages()[0].Text)
}

func TestLog_Reset(t *testing.T) {
	l := New(0)
	l.Append(msg(1))
	l.Reset()

	assert.Zero(t, l.Len())
	assert.True(t, l.Append(msg(1)))
}

func TestNewChat(t *testing.T) {
	at := time.UnixMilli(1_700_000_000_123)

	_, ok := NewChat("a", "Alice", "#111", "   ", at)
	assert.False(t, ok)

	m, ok := NewChat("a", "Alice", "#111", "  hi there ", at)
	require.True(t, ok)
	assert.Equal(t, event.KindChat, m.Kind)
	assert.Equal(t, "hi there", m.Text)
	assert.Equal(t, int64(1_700_000_000_123), m.Timestamp)
	assert.NotEmpty(t, m.ID)

	other, _ := NewChat("a", "Alice", "#111", "hi there", at)
	assert.NotEqual(t, m.ID, other.ID)
}

func TestNewChat_TextLimit(t *testing.T) {
	at := time.Now()

	m, ok := NewChat("a", "Alice", "#111", strings.Repeat("x", event.MaxChatTextBytes), at)
	require.True(t, ok)
	assert.Len(t, m.Text, event.MaxChatTextBytes)

	_, ok = NewChat("a", "Alice", "#111", strings.Repeat("x", event.MaxChatTextBytes+1), at)
	assert.False(t, ok)

	// Surrounding whitespace does not count against the limit.
	_, ok = NewChat("a", "Alice", "#111", "  "+strings.Repeat("x", event.MaxChatTextBytes)+"\n", at)
	assert.True(t, ok)
}

func TestNewNotice(t *testing.T) {
	n := NewNotice("Bob joined the room", time.Now())
	assert.Equal(t, event.KindEvent, n.Kind)
	assert.Empty(t, n.SenderID)
	assert.NotEmpty(t, n.ID)
}
