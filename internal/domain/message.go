package domain

import "time"

type MessageKind string

const (
	MessageText  MessageKind = "text"
	MessageImage MessageKind = "image"
	MessageFile  MessageKind = "file"
)

// FileRef points at an already-uploaded attachment. The relay never touches
// file bytes, only this metadata.
type FileRef struct {
	URL  string `json:"url"`
	Name string `json:"name,omitempty"`
	Size int64  `json:"size,omitempty"`
}

// Message is the live copy that transits the relay. The durable record lives
// in the external data service; ID is only set once that write succeeded.
type Message struct {
	ID           int64       `json:"id"`
	RoomID       RoomID      `json:"room_id"`
	SenderID     UserID      `json:"sender_id"`
	SenderName   string      `json:"sender_name"`
	SenderAvatar string      `json:"sender_avatar,omitempty"`
	ReceiverID   UserID      `json:"receiver_id"`
	Content      string      `json:"content"`
	Kind         MessageKind `json:"message_type"`
	File         *FileRef    `json:"file,omitempty"`
	Timestamp    time.Time   `json:"timestamp"`
	IsRead       bool        `json:"is_read"`
	// ClientToken is the sender-generated correlation token used to match
	// the relay echo and delivery ack against the optimistic local entry.
	ClientToken string `json:"client_token,omitempty"`
}
