package core

import (
	"context"

	"github.com/ripplechat/ripple/internal/domain"
)

// MessagePage is one page of history fetched from the data service,
// newest page first, oldest message first within a page.
type MessagePage struct {
	Messages []domain.Message `json:"messages"`
	Page     int              `json:"page"`
	HasMore  bool             `json:"has_more"`
}

// MessageStore is the durable side of the pipeline: the external REST data
// service that owns rooms and messages. The relay only notifies; this store
// is the source of truth.
type MessageStore interface {
	// GetOrCreateRoom resolves the conversation room for a user pair.
	GetOrCreateRoom(ctx context.Context, a, b domain.UserID) (domain.RoomID, error)
	// CreateMessage durably writes a message and returns the record with the
	// authoritative id and server timestamp filled in.
	CreateMessage(ctx context.Context, m domain.Message) (*domain.Message, error)
	// ListMessages pages through room history, page starting at 1.
	ListMessages(ctx context.Context, room domain.RoomID, page, pageSize int) (*MessagePage, error)
	// MarkRead flags every message addressed to userID in the room as read.
	MarkRead(ctx context.Context, room domain.RoomID, userID domain.UserID) error
}
