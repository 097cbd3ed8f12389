package app

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/ripplechat/ripple/internal/core"
	"github.com/ripplechat/ripple/internal/domain"
)

var (
	ErrUnknownConn   = errors.New("unknown connection")
	ErrEmptyIdentity = errors.New("empty user id")
	ErrIdentityBound = errors.New("connection already identified")
)

type connEntry struct {
	Conn   core.SignalConnection
	User   domain.UserID
	Rooms  map[domain.RoomID]struct{}
	Cancel context.CancelFunc
}

// Registry tracks live connections, their bound user identities and room
// membership. It is the only component besides the presence tracker that
// holds per-connection memory, so Disconnect must clean up everything.
type Registry struct {
	mu     sync.RWMutex
	conns  map[core.ConnID]*connEntry
	byUser map[domain.UserID]map[core.ConnID]struct{}
	byRoom map[domain.RoomID]map[core.ConnID]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		conns:  make(map[core.ConnID]*connEntry),
		byUser: make(map[domain.UserID]map[core.ConnID]struct{}),
		byRoom: make(map[domain.RoomID]map[core.ConnID]struct{}),
	}
}

// Bind registers a freshly upgraded connection with no identity yet.
func (r *Registry) Bind(cid core.ConnID, conn core.SignalConnection, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[cid] = &connEntry{
		Conn:   conn,
		User:   domain.UnknownUser,
		Rooms:  make(map[domain.RoomID]struct{}),
		Cancel: cancel,
	}
	log.Info().Str("module", "app.registry").Str("cid", string(cid)).Msg("bound connection")
}

// Identify binds a user identity to a connection. Identity is set once per
// connection: re-identifying with the same id is a no-op, a different id is
// rejected so presence never tracks a phantom user. Returns true when this is
// the user's first live connection.
func (r *Registry) Identify(cid core.ConnID, uid domain.UserID) (first bool, err error) {
	if uid == "" || uid == domain.UnknownUser {
		return false, ErrEmptyIdentity
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	e, exists := r.conns[cid]
	if !exists {
		return false, ErrUnknownConn
	}
	if e.User == uid {
		return false, nil
	}
	if e.User != domain.UnknownUser {
		return false, ErrIdentityBound
	}
	e.User = uid
	set, exists := r.byUser[uid]
	if !exists {
		set = make(map[core.ConnID]struct{})
		r.byUser[uid] = set
	}
	first = len(set) == 0
	set[cid] = struct{}{}
	log.Info().Str("module", "app.registry").Str("cid", string(cid)).Str("user", string(uid)).Bool("first", first).Msg("identified connection")
	return first, nil
}

func (r *Registry) Join(cid core.ConnID, room domain.RoomID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[cid]
	if !ok {
		return false
	}
	e.Rooms[room] = struct{}{}
	set, ok := r.byRoom[room]
	if !ok {
		set = make(map[core.ConnID]struct{})
		r.byRoom[room] = set
	}
	set[cid] = struct{}{}
	log.Info().Str("module", "app.registry").Str("cid", string(cid)).Str("room", string(room)).Msg("joined room")
	return true
}

func (r *Registry) Leave(cid core.ConnID, room domain.RoomID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[cid]
	if !ok {
		return
	}
	delete(e.Rooms, room)
	r.dropRoomIndex(room, cid)
	log.Info().Str("module", "app.registry").Str("cid", string(cid)).Str("room", string(room)).Msg("left room")
}

// Disconnect removes the connection from every room and from the user index.
// It reports the bound identity and whether this was that user's last live
// connection, so the caller can re-evaluate presence.
func (r *Registry) Disconnect(cid core.ConnID) (uid domain.UserID, last bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[cid]
	if !ok {
		return domain.UnknownUser, false
	}
	for room := range e.Rooms {
		r.dropRoomIndex(room, cid)
	}
	uid = e.User
	if uid != domain.UnknownUser {
		r.dropUserIndex(uid, cid)
		last = len(r.byUser[uid]) == 0
		if last {
			delete(r.byUser, uid)
		}
	}
	delete(r.conns, cid)
	log.Info().Str("module", "app.registry").Str("cid", string(cid)).Str("user", string(uid)).Bool("last", last).Msg("disconnected")
	return uid, last
}

func (r *Registry) UserOf(cid core.ConnID) (domain.UserID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.conns[cid]; ok {
		return e.User, true
	}
	return domain.UnknownUser, false
}

func (r *Registry) ConnOf(cid core.ConnID) (core.SignalConnection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.conns[cid]; ok {
		return e.Conn, true
	}
	return nil, false
}

// ConnSnap pairs a connection id with its transport endpoint.
type ConnSnap struct {
	CID  core.ConnID
	User domain.UserID
	Conn core.SignalConnection
}

func (r *Registry) MembersOfRoom(room domain.RoomID) []ConnSnap {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.byRoom[room]
	out := make([]ConnSnap, 0, len(set))
	for cid := range set {
		if e, ok := r.conns[cid]; ok {
			out = append(out, ConnSnap{CID: cid, User: e.User, Conn: e.Conn})
		}
	}
	return out
}

func (r *Registry) ConnsOfUser(uid domain.UserID) []ConnSnap {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.byUser[uid]
	out := make([]ConnSnap, 0, len(set))
	for cid := range set {
		if e, ok := r.conns[cid]; ok {
			out = append(out, ConnSnap{CID: cid, User: e.User, Conn: e.Conn})
		}
	}
	return out
}

func (r *Registry) AllConns() []ConnSnap {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ConnSnap, 0, len(r.conns))
	for cid, e := range r.conns {
		out = append(out, ConnSnap{CID: cid, User: e.User, Conn: e.Conn})
	}
	return out
}

// Cancel fires the context bound to the connection, which tears down its
// pumps. Used by the backpressure policy to kick slow consumers.
func (r *Registry) Cancel(cid core.ConnID) bool {
	r.mu.RLock()
	e, ok := r.conns[cid]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	log.Info().Str("module", "app.registry").Str("cid", string(cid)).Msg("canceled connection")
	return true
}

// callers hold r.mu
func (r *Registry) dropUserIndex(uid domain.UserID, cid core.ConnID) {
	if set, ok := r.byUser[uid]; ok {
		delete(set, cid)
		if len(set) == 0 {
			delete(r.byUser, uid)
		}
	}
}

func (r *Registry) dropRoomIndex(room domain.RoomID, cid core.ConnID) {
	if set, ok := r.byRoom[room]; ok {
		delete(set, cid)
		if len(set) == 0 {
			delete(r.byRoom, room)
		}
	}
}
