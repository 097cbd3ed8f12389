package app

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ripplechat/ripple/internal/core"
	"github.com/ripplechat/ripple/internal/domain"
)

// UserSender is the slice of the relay the call coordinator needs: direct
// addressing only, never room or global broadcast.
type UserSender interface {
	SendToUser(uid domain.UserID, event string, v any) int
}

const (
	callReasonTimeout      = "timeout"
	callReasonDisconnected = "disconnected"
)

type pairKey struct {
	a, b domain.UserID
}

// newPairKey normalizes ordering so both directions hit the same watch.
func newPairKey(x, y domain.UserID) pairKey {
	if y < x {
		x, y = y, x
	}
	return pairKey{a: x, b: y}
}

type callWatch struct {
	caller   domain.UserID
	callee   domain.UserID
	kind     domain.CallKind
	answered bool
	ring     *time.Timer
}

// CallCoordinator relays SDP offer/answer and ICE candidates between a
// (caller, callee) pair. Each client owns its local call state; the
// coordinator only forwards, keeps a per-pair watch for the ring-timeout
// backstop, and tears calls down when a party vanishes without call_end.
type CallCoordinator struct {
	mu          sync.Mutex
	watches     map[pairKey]*callWatch
	relay       UserSender
	ringTimeout time.Duration
}

func NewCallCoordinator(relay UserSender, ringTimeout time.Duration) *CallCoordinator {
	return &CallCoordinator{
		watches:     make(map[pairKey]*callWatch),
		relay:       relay,
		ringTimeout: ringTimeout,
	}
}

// Offer starts a watch for the pair and forwards the offer to the callee's
// live connections. An unreachable callee is not an error: the ring timer
// will end the call for the caller after the bounded silence period.
func (c *CallCoordinator) Offer(p core.CallOfferPayload) {
	if p.From == "" || p.To == "" || p.From == p.To {
		log.Warn().Str("module", "app.call").Str("from", string(p.From)).Str("to", string(p.To)).Msg("ignoring malformed offer")
		return
	}
	key := newPairKey(p.From, p.To)
	c.mu.Lock()
	if w, ok := c.watches[key]; ok {
		if w.answered {
			// the pair is already in a live call; a stray re-offer must not
			// rearm the ring timer or degrade the disconnect backstop
			c.mu.Unlock()
			log.Warn().Str("module", "app.call").Str("from", string(p.From)).Str("to", string(p.To)).Msg("ignoring offer for answered call")
			return
		}
		// re-offer while still ringing rearms the timer
		w.ring.Reset(c.ringTimeout)
		c.mu.Unlock()
	} else {
		w := &callWatch{caller: p.From, callee: p.To, kind: p.CallType}
		w.ring = time.AfterFunc(c.ringTimeout, func() { c.timeout(key) })
		c.watches[key] = w
		c.mu.Unlock()
	}

	reached := c.relay.SendToUser(p.To, core.EvCallOffer, p)
	log.Info().Str("module", "app.call").Str("from", string(p.From)).Str("to", string(p.To)).Str("kind", string(p.CallType)).Int("reached", reached).Msg("offer forwarded")
}

// Answer forwards the SDP answer to the caller. An answer with no
// outstanding offer for the pair is ignored, never applied.
func (c *CallCoordinator) Answer(p core.CallAnswerPayload) {
	key := newPairKey(p.From, p.To)
	c.mu.Lock()
	w, ok := c.watches[key]
	if !ok || w.caller != p.To {
		c.mu.Unlock()
		log.Warn().Str("module", "app.call").Str("from", string(p.From)).Str("to", string(p.To)).Msg("ignoring answer with no outstanding offer")
		return
	}
	w.answered = true
	w.ring.Stop()
	c.mu.Unlock()

	c.relay.SendToUser(p.To, core.EvCallAnswer, p)
	log.Info().Str("module", "app.call").Str("from", string(p.From)).Str("to", string(p.To)).Msg("answer forwarded")
}

// Reject terminates a ringing call from the callee side.
func (c *CallCoordinator) Reject(p core.CallControlPayload) {
	c.clearWatch(newPairKey(p.From, p.To))
	c.relay.SendToUser(p.To, core.EvCallReject, p)
	log.Info().Str("module", "app.call").Str("from", string(p.From)).Str("to", string(p.To)).Msg("reject forwarded")
}

// End terminates from either side at any phase.
func (c *CallCoordinator) End(p core.CallControlPayload) {
	c.clearWatch(newPairKey(p.From, p.To))
	c.relay.SendToUser(p.To, core.EvCallEnd, p)
	log.Info().Str("module", "app.call").Str("from", string(p.From)).Str("to", string(p.To)).Msg("end forwarded")
}

// Candidate forwards ICE unconditionally; buffering candidates that arrive
// before the remote description is the receiver's job.
func (c *CallCoordinator) Candidate(p core.IceCandidatePayload) {
	c.relay.SendToUser(p.To, core.EvIceCandidate, p)
}

// HandleDisconnect is called after a user's last connection dropped. Any
// call the user was party to is force-ended toward the surviving peer so
// nobody hangs in ringing/active forever.
func (c *CallCoordinator) HandleDisconnect(uid domain.UserID) {
	c.mu.Lock()
	var peers []domain.UserID
	for key, w := range c.watches {
		if w.caller != uid && w.callee != uid {
			continue
		}
		w.ring.Stop()
		delete(c.watches, key)
		peer := w.caller
		if peer == uid {
			peer = w.callee
		}
		peers = append(peers, peer)
	}
	c.mu.Unlock()

	for _, peer := range peers {
		log.Info().Str("module", "app.call").Str("user", string(uid)).Str("peer", string(peer)).Msg("party disconnected, ending call")
		c.relay.SendToUser(peer, core.EvCallEnd, core.CallControlPayload{
			From: uid, To: peer, Reason: callReasonDisconnected,
		})
	}
}

// ActiveCalls reports the number of live watches; used by tests and the
// stats endpoint.
func (c *CallCoordinator) ActiveCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.watches)
}

func (c *CallCoordinator) clearWatch(key pairKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if w, ok := c.watches[key]; ok {
		w.ring.Stop()
		delete(c.watches, key)
	}
}

func (c *CallCoordinator) timeout(key pairKey) {
	c.mu.Lock()
	w, ok := c.watches[key]
	if !ok || w.answered {
		c.mu.Unlock()
		return
	}
	delete(c.watches, key)
	c.mu.Unlock()

	log.Info().Str("module", "app.call").Str("caller", string(w.caller)).Str("callee", string(w.callee)).Msg("ring timeout, ending call")
	c.relay.SendToUser(w.caller, core.EvCallEnd, core.CallControlPayload{From: w.callee, To: w.caller, Reason: callReasonTimeout})
	c.relay.SendToUser(w.callee, core.EvCallEnd, core.CallControlPayload{From: w.caller, To: w.callee, Reason: callReasonTimeout})
}
