package core

import (
	"encoding/json"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/ripplechat/ripple/internal/domain"
)

// Event names on the relay boundary. Client payloads use camelCase keys,
// message records use snake_case; both match what the web client speaks.
const (
	EvUserConnected = "user_connected"
	EvJoinRoom      = "join_room"
	EvLeaveRoom     = "leave_room"
	EvActivity      = "activity"
	EvOnlineUsers   = "online_users"

	EvSendMessage      = "send_message"
	EvReceiveMessage   = "receive_message"
	EvMessageDelivered = "message_delivered"
	EvTyping           = "typing"
	EvStopTyping       = "stop_typing"
	EvMarkRead         = "mark_read"
	EvMessagesRead     = "messages_read"

	EvCallOffer    = "call_offer"
	EvCallAnswer   = "call_answer"
	EvCallReject   = "call_reject"
	EvCallEnd      = "call_end"
	EvIceCandidate = "ice_candidate"

	EvUserOnline   = "user_online"
	EvUserOffline  = "user_offline"
	EvUserActivity = "user_activity"

	EvPing  = "ping"
	EvPong  = "pong"
	EvError = "error"
)

// Envelope is the minimal view used to dispatch an incoming frame.
type Envelope struct {
	Type string `json:"type"`
}

type IdentifyPayload struct {
	UserID domain.UserID `json:"userId"`
}

type RoomPayload struct {
	RoomID domain.RoomID `json:"roomId"`
}

type SendMessagePayload struct {
	RoomID       domain.RoomID  `json:"roomId"`
	Message      domain.Message `json:"message"`
	SenderID     domain.UserID  `json:"senderId"`
	SenderName   string         `json:"senderName"`
	SenderAvatar string         `json:"senderAvatar,omitempty"`
	ReceiverID   domain.UserID  `json:"receiverId"`
}

type ReceiveMessagePayload struct {
	ID           int64              `json:"id"`
	RoomID       domain.RoomID      `json:"room_id,omitempty"`
	Content      string             `json:"content"`
	SenderID     domain.UserID      `json:"sender_id"`
	SenderName   string             `json:"sender_name"`
	SenderAvatar string             `json:"sender_avatar,omitempty"`
	Timestamp    time.Time          `json:"timestamp"`
	MessageType  domain.MessageKind `json:"message_type"`
	File         *domain.FileRef    `json:"file,omitempty"`
	IsRead       bool               `json:"is_read"`
	ClientToken  string             `json:"client_token,omitempty"`
}

type MessageDeliveredPayload struct {
	Content     string        `json:"content"`
	SenderID    domain.UserID `json:"sender_id"`
	Timestamp   time.Time     `json:"timestamp"`
	ClientToken string        `json:"client_token,omitempty"`
}

type TypingPayload struct {
	RoomID   domain.RoomID `json:"roomId"`
	UserID   domain.UserID `json:"userId"`
	UserName string        `json:"userName"`
}

type MarkReadPayload struct {
	RoomID domain.RoomID `json:"roomId"`
	UserID domain.UserID `json:"userId"`
}

type CallOfferPayload struct {
	From     domain.UserID             `json:"from"`
	FromName string                    `json:"fromName"`
	To       domain.UserID             `json:"to"`
	CallType domain.CallKind           `json:"callType"`
	Offer    webrtc.SessionDescription `json:"offer"`
}

type CallAnswerPayload struct {
	From   domain.UserID             `json:"from"`
	To     domain.UserID             `json:"to"`
	Answer webrtc.SessionDescription `json:"answer"`
}

type CallControlPayload struct {
	From   domain.UserID `json:"from"`
	To     domain.UserID `json:"to"`
	Reason string        `json:"reason,omitempty"`
}

type IceCandidatePayload struct {
	From      domain.UserID           `json:"from"`
	To        domain.UserID           `json:"to"`
	Candidate webrtc.ICECandidateInit `json:"candidate"`
}

type PresencePayload struct {
	UserID    domain.UserID `json:"userId"`
	Timestamp time.Time     `json:"timestamp"`
}

type OnlineUsersPayload struct {
	Users []domain.Presence `json:"users"`
}

type ErrorPayload struct {
	Error string `json:"error"`
}

// Encode flattens v and splices the event type in, producing the wire frame
// {"type": event, ...payload fields}.
func Encode(event string, v any) (Frame, error) {
	fields := make(map[string]json.RawMessage)
	if v != nil {
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, &fields); err != nil {
			return nil, err
		}
	}
	t, _ := json.Marshal(event)
	fields["type"] = t
	return json.Marshal(fields)
}
