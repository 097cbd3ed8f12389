package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/ripplechat/ripple/internal/core"
)

var (
	ErrEmptyRoom    = errors.New("empty room id")
	ErrEmptySender  = errors.New("empty sender id")
	ErrNotPersisted = errors.New("message has no durable id")
)

// ChatPipeline carries message, typing and read-receipt events on top of the
// relay. The sender has already written the message durably before it
// reaches Deliver; this layer only notifies the living. Relay failure
// (recipient offline, full buffer) is not an error here: the durable store
// remains the source of truth and catch-up fetches recover it later.
type ChatPipeline struct {
	relay  *Relay
	typing *TypingTracker
	store  core.MessageStore
}

func NewChatPipeline(relay *Relay, typing *TypingTracker, store core.MessageStore) *ChatPipeline {
	return &ChatPipeline{relay: relay, typing: typing, store: store}
}

// Deliver fans the already-persisted message out to the room and confirms
// back to the sender's own connection so the optimistic echo can be upgraded.
func (p *ChatPipeline) Deliver(from core.ConnID, req core.SendMessagePayload) error {
	if req.RoomID == "" {
		return ErrEmptyRoom
	}
	if req.SenderID == "" {
		return ErrEmptySender
	}
	m := req.Message
	if m.ID == 0 {
		return ErrNotPersisted
	}

	out := core.ReceiveMessagePayload{
		ID:           m.ID,
		RoomID:       req.RoomID,
		Content:      m.Content,
		SenderID:     req.SenderID,
		SenderName:   req.SenderName,
		SenderAvatar: req.SenderAvatar,
		Timestamp:    m.Timestamp,
		MessageType:  m.Kind,
		File:         m.File,
		IsRead:       false,
		ClientToken:  m.ClientToken,
	}
	res := p.relay.BroadcastToRoom(from, req.RoomID, core.EvReceiveMessage, out)
	log.Debug().Str("module", "app.chat").Str("room", string(req.RoomID)).Int64("id", m.ID).Int("sent_to", res.SentTo).Msg("message relayed")

	ack := core.MessageDeliveredPayload{
		Content:     m.Content,
		SenderID:    req.SenderID,
		Timestamp:   m.Timestamp,
		ClientToken: m.ClientToken,
	}
	p.relay.SendToConn(from, core.EvMessageDelivered, ack)
	return nil
}

// Typing and StopTyping are pure notifications with server-side expiry.
func (p *ChatPipeline) Typing(from core.ConnID, req core.TypingPayload) {
	p.typing.Refresh(from, req)
}

func (p *ChatPipeline) StopTyping(from core.ConnID, req core.TypingPayload) {
	p.typing.Stop(from, req)
}

// MarkRead updates the durable records first; only on success is
// messages_read broadcast to the room. A store failure keeps peers' read
// state untouched.
func (p *ChatPipeline) MarkRead(ctx context.Context, from core.ConnID, req core.MarkReadPayload) error {
	if req.RoomID == "" {
		return ErrEmptyRoom
	}
	if err := p.store.MarkRead(ctx, req.RoomID, req.UserID); err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	p.relay.BroadcastToRoom(from, req.RoomID, core.EvMessagesRead, req)
	return nil
}
