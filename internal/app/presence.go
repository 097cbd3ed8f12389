package app

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ripplechat/ripple/internal/core"
	"github.com/ripplechat/ripple/internal/domain"
)

// Broadcaster is the slice of the relay the presence tracker needs.
type Broadcaster interface {
	BroadcastAll(event string, v any) core.PublishResult
}

type presenceRecord struct {
	online       bool
	active       bool
	lastSeen     time.Time
	lastActivity time.Time
}

// PresenceTracker derives best-effort online/active state from connection
// lifecycle and activity pings. It is advisory: it never blocks or fails
// message delivery, and entries are kept until process restart.
type PresenceTracker struct {
	mu      sync.RWMutex
	records map[domain.UserID]*presenceRecord
	relay   Broadcaster
	window  time.Duration
	now     func() time.Time
}

func NewPresenceTracker(relay Broadcaster, window time.Duration) *PresenceTracker {
	return &PresenceTracker{
		records: make(map[domain.UserID]*presenceRecord),
		relay:   relay,
		window:  window,
		now:     time.Now,
	}
}

// HandleConnect is called when a connection identifies as uid and it is the
// user's first live connection.
func (t *PresenceTracker) HandleConnect(uid domain.UserID) {
	now := t.now()
	t.mu.Lock()
	rec, ok := t.records[uid]
	if !ok {
		rec = &presenceRecord{}
		t.records[uid] = rec
	}
	rec.online = true
	rec.active = true
	rec.lastActivity = now
	t.mu.Unlock()

	log.Info().Str("module", "app.presence").Str("user", string(uid)).Msg("user online")
	t.relay.BroadcastAll(core.EvUserOnline, core.PresencePayload{UserID: uid, Timestamp: now})
}

// HandleDisconnect is called after the user's last live connection dropped.
func (t *PresenceTracker) HandleDisconnect(uid domain.UserID) {
	now := t.now()
	t.mu.Lock()
	rec, ok := t.records[uid]
	if !ok || !rec.online {
		t.mu.Unlock()
		return
	}
	rec.online = false
	rec.active = false
	rec.lastSeen = now
	t.mu.Unlock()

	log.Info().Str("module", "app.presence").Str("user", string(uid)).Time("last_seen", now).Msg("user offline")
	t.relay.BroadcastAll(core.EvUserOffline, core.PresencePayload{UserID: uid, Timestamp: now})
}

// Activity refreshes the freshness window on a client ping and tells peers
// they can upgrade "online" to "active".
func (t *PresenceTracker) Activity(uid domain.UserID) {
	now := t.now()
	t.mu.Lock()
	rec, ok := t.records[uid]
	if !ok || !rec.online {
		t.mu.Unlock()
		return
	}
	rec.active = true
	rec.lastActivity = now
	t.mu.Unlock()

	t.relay.BroadcastAll(core.EvUserActivity, core.PresencePayload{UserID: uid, Timestamp: now})
}

// ListOnline snapshots current presence for a newly connecting client.
func (t *PresenceTracker) ListOnline() []domain.Presence {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]domain.Presence, 0, len(t.records))
	for uid, rec := range t.records {
		if !rec.online {
			continue
		}
		out = append(out, domain.Presence{UserID: uid, Online: true, Active: rec.active})
	}
	return out
}

// Snapshot includes offline users with their last-seen time, for the REST
// presence endpoint.
func (t *PresenceTracker) Snapshot() []domain.Presence {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]domain.Presence, 0, len(t.records))
	for uid, rec := range t.records {
		out = append(out, domain.Presence{UserID: uid, Online: rec.online, Active: rec.active, LastSeen: rec.lastSeen})
	}
	return out
}

func (t *PresenceTracker) IsOnline(uid domain.UserID) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rec, ok := t.records[uid]
	return ok && rec.online
}

// Run expires stale active flags in the background until ctx is done.
// No event is emitted on downgrade; clients age the flag out themselves and
// the sweep only keeps snapshots honest.
func (t *PresenceTracker) Run(ctx context.Context) {
	ticker := time.NewTicker(t.window / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "app.presence").Msg("sweeper stopped")
			return
		case <-ticker.C:
			t.sweep()
		}
	}
}

func (t *PresenceTracker) sweep() {
	cutoff := t.now().Add(-t.window)
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, rec := range t.records {
		if rec.active && rec.lastActivity.Before(cutoff) {
			rec.active = false
		}
	}
}
