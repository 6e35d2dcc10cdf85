package event

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"viewsync/internal/pkg/vec"
)

func TestChannelName(t *testing.T) {
	assert.Equal(t, "room-r1", ChannelName("r1"))

	id, ok := RoomIDFromChannel("room-r1")
	assert.True(t, ok)
	assert.Equal(t, "r1", id)

	_, ok = RoomIDFromChannel("r1")
	assert.False(t, ok)
	_, ok = RoomIDFromChannel("room-")
	assert.False(t, ok)
}

func TestIsPublishable(t *testing.T) {
	for _, name := range []string{UserJoined, UserLeft, PointerUpdate, SelectionUpdate, ChatMessageSent} {
		assert.True(t, IsPublishable(name), name)
	}
	for _, name := range []string{FileUploaded, UserDisconnected, JoinRoom, "anything"} {
		assert.False(t, IsPublishable(name), name)
	}
}

func TestEncodeDecode_PointerUpdate(t *testing.T) {
	b, err := Encode(PointerUpdate, "room-r1", PointerUpdatePayload{
		SenderID: "a",
		Pointer: PointerPayload{
			Position:  vec.Vec3{1, 2, 3},
			Direction: vec.Vec3{0, 0, -1},
			Color:     "#111",
			Label:     "Alice",
		},
	})
	require.NoError(t, err)

	assert.JSONEq(t, `{
		"event": "pointer-update",
		"channel": "room-r1",
		"data": {"senderId": "a", "pointer": {"position": [1,2,3], "direction": [0,0,-1], "color": "#111", "label": "Alice"}}
	}`, string(b))

	f, err := Decode(b)
	require.NoError(t, err)
	assert.Equal(t, PointerUpdate, f.Event)

	var p PointerUpdatePayload
	require.NoError(t, json.Unmarshal(f.Data, &p))
	assert.Equal(t, vec.Vec3{1, 2, 3}, p.Pointer.Position)
}

func TestSelectionPayload_NullExpressID(t *testing.T) {
	b, err := json.Marshal(SelectionPayload{Color: "#fff"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"expressId": null, "color": "#fff"}`, string(b))
}

func TestChatMessage_KindIsSerializedAsType(t *testing.T) {
	b, err := json.Marshal(ChatMessage{ID: "1", Kind: KindEvent, Text: "Bob joined the room", Timestamp: 5})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"1","type":"event","text":"Bob joined the room","timestamp":5}`, string(b))
}

func TestNewFrame_RawData(t *testing.T) {
	f, err := NewFrame(ChatMessageSent, "room-x", json.RawMessage(`{"id":"m"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"m"}`, string(f.Data))

	f, err = NewFrame(LeaveRoom, "room-x", nil)
	require.NoError(t, err)
	assert.Nil(t, f.Data)
}

func TestDecode_RejectsMissingEvent(t *testing.T) {
	_, err := Decode([]byte(`{"channel":"room-x"}`))
	assert.Error(t, err)

	_, err = Decode([]byte(`not json`))
	assert.Error(t, err)
}

func TestEncode_FrameSizeLimit(t *testing.T) {
	longest := ChatMessage{
		ID:         "6f1c2a4e-0000-4000-8000-000000000000",
		Kind:       KindChat,
		SenderID:   "6f1c2a4e-0000-4000-8000-000000000001",
		SenderName: "Alice",
		Text:       strings.Repeat("x", MaxChatTextBytes),
		Timestamp:  1_700_000_000_000,
		Color:      "#111111",
	}
	b, err := Encode(ChatMessageSent, ChannelName("r1"), longest)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(b), MaxFrameSize)

	_, err = Encode(ChatMessageSent, ChannelName("r1"), ChatMessage{Text: strings.Repeat("x", 20000)})
	assert.ErrorIs(t, err, ErrFrameTooLarge)

	_, err = Encode(ChatMessageSent, ChannelName("r1"), json.RawMessage(`"`+strings.Repeat("x", MaxFrameSize)+`"`))
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}
