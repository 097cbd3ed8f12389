// Package client is the consumer side of the relay protocol: it merges
// optimistic local state with server-confirmed and peer-delivered events
// into one deduplicated, ordered view.
package client

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ripplechat/ripple/internal/core"
	"github.com/ripplechat/ripple/internal/domain"
)

// Entry is one displayed message. ID is the durable-store identifier when
// known; optimistic sends carry a synthesized negative placeholder id until
// the round trip completes.
type Entry struct {
	ID           int64
	Token        string
	Content      string
	SenderID     domain.UserID
	SenderName   string
	SenderAvatar string
	Kind         domain.MessageKind
	Timestamp    time.Time
	Read         bool
	Pending      bool
	Failed       bool
}

// Timeline holds the ordered message sequence for one room. Reconciliation
// prefers the correlation token, falls back to the durable id, and only then
// to the content+sender+time-proximity heuristic.
type Timeline struct {
	mu        sync.Mutex
	entries   []Entry
	self      domain.UserID
	nextLocal int64
	tolerance time.Duration
	now       func() time.Time
}

const defaultTolerance = 5 * time.Second

func NewTimeline(self domain.UserID) *Timeline {
	return &Timeline{
		self:      self,
		nextLocal: -1,
		tolerance: defaultTolerance,
		now:       time.Now,
	}
}

// AppendLocal records an optimistic send and returns the placeholder entry.
func (t *Timeline) AppendLocal(content string, kind domain.MessageKind, senderName string) Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := Entry{
		ID:         t.nextLocal,
		Token:      uuid.NewString(),
		Content:    content,
		SenderID:   t.self,
		SenderName: senderName,
		Kind:       kind,
		Timestamp:  t.now(),
		Pending:    true,
	}
	t.nextLocal--
	t.entries = append(t.entries, e)
	return e
}

// ConfirmDelivered upgrades the matching placeholder on a message_delivered
// ack. It never appends: an ack with no placeholder is dropped.
func (t *Timeline) ConfirmDelivered(p core.MessageDeliveredPayload) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	i := t.findPlaceholder(p.ClientToken, p.Content, p.SenderID, p.Timestamp)
	if i < 0 {
		return false
	}
	t.entries[i].Pending = false
	t.entries[i].Failed = false
	if !p.Timestamp.IsZero() {
		t.entries[i].Timestamp = p.Timestamp
	}
	return true
}

// ApplyRemote handles a receive_message event. The sender's own relay echo
// (when it arrives at another tab of the same user) upgrades the placeholder
// instead of duplicating; peer messages append unless already present.
func (t *Timeline) ApplyRemote(p core.ReceiveMessagePayload) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if i := t.findByID(p.ID); i >= 0 {
		return false
	}
	if i := t.findPlaceholder(p.ClientToken, p.Content, p.SenderID, p.Timestamp); i >= 0 {
		t.upgrade(i, p)
		return false
	}
	t.entries = append(t.entries, Entry{
		ID:           p.ID,
		Token:        p.ClientToken,
		Content:      p.Content,
		SenderID:     p.SenderID,
		SenderName:   p.SenderName,
		SenderAvatar: p.SenderAvatar,
		Kind:         p.MessageType,
		Timestamp:    p.Timestamp,
		Read:         p.IsRead,
	})
	return true
}

// MergePage prepends an older history page fetched from the data service,
// skipping anything already present. Pages arrive oldest-first.
func (t *Timeline) MergePage(msgs []domain.Message) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	fresh := make([]Entry, 0, len(msgs))
	for _, m := range msgs {
		if i := t.findByID(m.ID); i >= 0 {
			continue
		}
		if i := t.findPlaceholder(m.ClientToken, m.Content, m.SenderID, m.Timestamp); i >= 0 {
			t.entries[i].ID = m.ID
			t.entries[i].Pending = false
			continue
		}
		fresh = append(fresh, Entry{
			ID:           m.ID,
			Token:        m.ClientToken,
			Content:      m.Content,
			SenderID:     m.SenderID,
			SenderName:   m.SenderName,
			SenderAvatar: m.SenderAvatar,
			Kind:         m.Kind,
			Timestamp:    m.Timestamp,
			Read:         m.IsRead,
		})
	}
	t.entries = append(fresh, t.entries...)
	return len(fresh)
}

// MarkFailed flags an optimistic entry whose durable write was rejected.
// The UI shows it as failed instead of leaving it pending forever.
func (t *Timeline) MarkFailed(token string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.entries {
		if t.entries[i].Token == token {
			t.entries[i].Failed = true
			t.entries[i].Pending = false
			return
		}
	}
}

// MarkReadBy flags everything the reader received as read after their
// messages_read: every entry except the reader's own messages.
func (t *Timeline) MarkReadBy(reader domain.UserID) {
	if reader == t.self {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.entries {
		if t.entries[i].SenderID != reader {
			t.entries[i].Read = true
		}
	}
}

func (t *Timeline) Snapshot() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

func (t *Timeline) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// callers hold t.mu
func (t *Timeline) findByID(id int64) int {
	if id == 0 {
		return -1
	}
	for i := range t.entries {
		if t.entries[i].ID == id {
			return i
		}
	}
	return -1
}

func (t *Timeline) findPlaceholder(token, content string, sender domain.UserID, ts time.Time) int {
	if token != "" {
		for i := range t.entries {
			if t.entries[i].Token == token {
				return i
			}
		}
	}
	if sender != t.self {
		return -1
	}
	for i := range t.entries {
		e := &t.entries[i]
		if e.ID >= 0 || e.Content != content || e.SenderID != sender {
			continue
		}
		if ts.IsZero() || absDuration(ts.Sub(e.Timestamp)) <= t.tolerance {
			return i
		}
	}
	return -1
}

func (t *Timeline) upgrade(i int, p core.ReceiveMessagePayload) {
	e := &t.entries[i]
	e.ID = p.ID
	e.Pending = false
	e.Failed = false
	e.Read = p.IsRead
	if !p.Timestamp.IsZero() {
		e.Timestamp = p.Timestamp
	}
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
