package app

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ripplechat/ripple/internal/core"
	"github.com/ripplechat/ripple/internal/domain"
)

// RoomBroadcaster is the slice of the relay the typing tracker needs.
type RoomBroadcaster interface {
	BroadcastToRoom(from core.ConnID, room domain.RoomID, event string, v any) core.PublishResult
}

type typingKey struct {
	Room domain.RoomID
	User domain.UserID
}

type typingEntry struct {
	timer *time.Timer
	from  core.ConnID
	name  string
}

// TypingTracker owns the authoritative expiry of typing indicators. A client
// that never sends stop_typing (crash, tab close) still produces exactly one
// synthesized stop_typing per (room, user) after the TTL.
type TypingTracker struct {
	mu    sync.Mutex
	live  map[typingKey]*typingEntry
	relay RoomBroadcaster
	ttl   time.Duration
}

func NewTypingTracker(relay RoomBroadcaster, ttl time.Duration) *TypingTracker {
	return &TypingTracker{
		live:  make(map[typingKey]*typingEntry),
		relay: relay,
		ttl:   ttl,
	}
}

// Refresh relays the typing event to the room and (re)arms the expiry timer.
func (t *TypingTracker) Refresh(from core.ConnID, p core.TypingPayload) {
	key := typingKey{Room: p.RoomID, User: p.UserID}
	t.mu.Lock()
	if e, ok := t.live[key]; ok {
		e.timer.Reset(t.ttl)
		e.from = from
		t.mu.Unlock()
	} else {
		e := &typingEntry{from: from, name: p.UserName}
		e.timer = time.AfterFunc(t.ttl, func() { t.expire(key) })
		t.live[key] = e
		t.mu.Unlock()
	}
	t.relay.BroadcastToRoom(from, p.RoomID, core.EvTyping, p)
}

// Stop clears the indicator on an explicit stop_typing.
func (t *TypingTracker) Stop(from core.ConnID, p core.TypingPayload) {
	key := typingKey{Room: p.RoomID, User: p.UserID}
	t.mu.Lock()
	if e, ok := t.live[key]; ok {
		e.timer.Stop()
		delete(t.live, key)
	}
	t.mu.Unlock()
	t.relay.BroadcastToRoom(from, p.RoomID, core.EvStopTyping, p)
}

// Disconnect expires every indicator owned by the dropped connection so
// peers are not left with a permanent "typing..." for a vanished user.
func (t *TypingTracker) Disconnect(cid core.ConnID) {
	t.mu.Lock()
	var gone []typingKey
	var names []string
	for key, e := range t.live {
		if e.from == cid {
			e.timer.Stop()
			gone = append(gone, key)
			names = append(names, e.name)
			delete(t.live, key)
		}
	}
	t.mu.Unlock()
	for i, key := range gone {
		t.relay.BroadcastToRoom(cid, key.Room, core.EvStopTyping, core.TypingPayload{
			RoomID: key.Room, UserID: key.User, UserName: names[i],
		})
	}
}

func (t *TypingTracker) expire(key typingKey) {
	t.mu.Lock()
	e, ok := t.live[key]
	if !ok {
		t.mu.Unlock()
		return
	}
	delete(t.live, key)
	t.mu.Unlock()

	log.Debug().Str("module", "app.typing").Str("room", string(key.Room)).Str("user", string(key.User)).Msg("typing expired")
	t.relay.BroadcastToRoom(e.from, key.Room, core.EvStopTyping, core.TypingPayload{
		RoomID: key.Room, UserID: key.User, UserName: e.name,
	})
}
