package app

import (
	"github.com/rs/zerolog/log"

	"github.com/ripplechat/ripple/internal/core"
	"github.com/ripplechat/ripple/internal/domain"
)

// Relay is the pub/sub fan-out. It holds no per-message state: every send is
// fire-and-forget, a full send buffer drops the frame and reports it in the
// PublishResult for the policy to act on.
type Relay struct {
	reg    *Registry
	policy Policy
}

func NewRelay(reg *Registry, policy Policy) *Relay {
	return &Relay{reg: reg, policy: policy}
}

// BroadcastToRoom delivers the event to every connection joined to the room
// except the sender. No content inspection, no business logic.
func (r *Relay) BroadcastToRoom(from core.ConnID, room domain.RoomID, event string, v any) core.PublishResult {
	frame, err := core.Encode(event, v)
	if err != nil {
		log.Error().Err(err).Str("module", "app.relay").Str("event", event).Msg("encode failed")
		return core.PublishResult{}
	}
	res := core.PublishResult{}
	for _, snap := range r.reg.MembersOfRoom(room) {
		if snap.CID == from {
			continue
		}
		if err := snap.Conn.TrySend(frame); err != nil {
			res.Dropped = append(res.Dropped, snap.CID)
			continue
		}
		res.SentTo++
	}
	log.Debug().Str("module", "app.relay").Str("event", event).Str("room", string(room)).Int("sent_to", res.SentTo).Int("dropped", len(res.Dropped)).Msg("room broadcast")
	r.applyPolicy(res)
	return res
}

// SendToUser delivers the event to every live connection of one user.
// Signaling is addressed this way instead of broadcast-to-all so uninvolved
// clients never see it.
func (r *Relay) SendToUser(uid domain.UserID, event string, v any) int {
	frame, err := core.Encode(event, v)
	if err != nil {
		log.Error().Err(err).Str("module", "app.relay").Str("event", event).Msg("encode failed")
		return 0
	}
	res := core.PublishResult{}
	for _, snap := range r.reg.ConnsOfUser(uid) {
		if err := snap.Conn.TrySend(frame); err != nil {
			res.Dropped = append(res.Dropped, snap.CID)
			continue
		}
		res.SentTo++
	}
	r.applyPolicy(res)
	return res.SentTo
}

// SendToConn targets a single connection, e.g. the delivery ack back to the
// sender's own socket.
func (r *Relay) SendToConn(cid core.ConnID, event string, v any) bool {
	frame, err := core.Encode(event, v)
	if err != nil {
		log.Error().Err(err).Str("module", "app.relay").Str("event", event).Msg("encode failed")
		return false
	}
	conn, ok := r.reg.ConnOf(cid)
	if !ok {
		return false
	}
	if err := conn.TrySend(frame); err != nil {
		r.applyPolicy(core.PublishResult{Dropped: []core.ConnID{cid}})
		return false
	}
	return true
}

// BroadcastAll fans out to every live connection. Presence transitions use
// this; call signaling deliberately does not.
func (r *Relay) BroadcastAll(event string, v any) core.PublishResult {
	frame, err := core.Encode(event, v)
	if err != nil {
		log.Error().Err(err).Str("module", "app.relay").Str("event", event).Msg("encode failed")
		return core.PublishResult{}
	}
	res := core.PublishResult{}
	for _, snap := range r.reg.AllConns() {
		if err := snap.Conn.TrySend(frame); err != nil {
			res.Dropped = append(res.Dropped, snap.CID)
			continue
		}
		res.SentTo++
	}
	r.applyPolicy(res)
	return res
}

func (r *Relay) applyPolicy(res core.PublishResult) {
	if r.policy == nil {
		return
	}
	for _, cid := range res.Dropped {
		switch r.policy.OnBackPressure(cid) {
		case KickConn:
			r.reg.Cancel(cid)
		case MarkSlow, DropFrame, NoAction:
		}
	}
}
