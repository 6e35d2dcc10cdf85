package event

import "viewsync/internal/pkg/vec"

// Chat message kinds.
const (
	KindChat  = "chat"
	KindEvent = "event"
)

// PointerPayload is a user's camera pose at last report.
type PointerPayload struct {
	Position  vec.Vec3 `json:"position"`
	Direction vec.Vec3 `json:"direction"`
	Color     string   `json:"color"`
	Label     string   `json:"label"`
}

// SelectionPayload is a user's highlighted element. A nil ExpressID means no selection.
type SelectionPayload struct {
	ExpressID *int   `json:"expressId"`
	Color     string `json:"color"`
}

// ChatMessage is an entry in a room's chat log: either real chat text or a synthesized
// join/leave notice (Kind == KindEvent, no sender).
type ChatMessage struct {
	ID         string `json:"id"`
	Kind       string `json:"type"`
	SenderID   string `json:"senderId,omitempty"`
	SenderName string `json:"senderName,omitempty"`
	Text       string `json:"text"`
	Timestamp  int64  `json:"timestamp"`
	Color      string `json:"color,omitempty"`
}

type UserJoinedPayload struct {
	SenderID string `json:"senderId"`
	Name     string `json:"name"`
	Color    string `json:"color"`
}

type UserLeftPayload struct {
	SenderID string `json:"senderId"`
}

type PointerUpdatePayload struct {
	SenderID string         `json:"senderId"`
	Pointer  PointerPayload `json:"pointer"`
}

type SelectionUpdatePayload struct {
	SenderID  string           `json:"senderId"`
	Selection SelectionPayload `json:"selection"`
}

type FileUploadedPayload struct {
	FileURL  string `json:"fileUrl"`
	Filename string `json:"filename"`
}

type UserDisconnectedPayload struct {
	ID string `json:"id"`
}

// JoinRoomPayload accompanies a join-room control frame. UserID lets the hub report the
// member's presence id, rather than its connection id, in user-disconnected.
type JoinRoomPayload struct {
	UserID string `json:"userId,omitempty"`
}
