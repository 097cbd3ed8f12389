package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/ripplechat/ripple/internal/core"
	"github.com/ripplechat/ripple/internal/domain"
)

// MediaFunc acquires local media and produces this side's SDP. It runs
// before any signaling leaves the client, so a denied camera permission
// aborts the call without a dangling peer connection.
type MediaFunc func(ctx context.Context) (webrtc.SessionDescription, error)

// StartCall acquires media, moves to offering and relays the offer. Media
// failure returns the state machine to idle with nothing ever sent.
func (c *Client) StartCall(ctx context.Context, peer domain.UserID, kind domain.CallKind, acquire MediaFunc) error {
	if err := c.Call.StartOffer(peer, kind); err != nil {
		return err
	}
	offer, err := acquire(ctx)
	if err != nil {
		c.Call.End()
		c.Call.Reset()
		return fmt.Errorf("%w: %v", ErrMediaUnavailable, err)
	}
	return c.emit(core.EvCallOffer, core.CallOfferPayload{
		From:     c.self.ID,
		FromName: c.self.Username,
		To:       peer,
		CallType: kind,
		Offer:    offer,
	})
}

// AcceptCall answers a ringing call: acquire media, move to connecting,
// flush any candidates that raced ahead of the answer, relay the answer.
func (c *Client) AcceptCall(ctx context.Context, acquire MediaFunc) error {
	peer := c.Call.Peer()
	if peer == "" {
		return ErrNotInCall
	}
	answer, err := acquire(ctx)
	if err != nil {
		// decline toward the caller so it does not ring forever
		_ = c.RejectCall()
		return fmt.Errorf("%w: %v", ErrMediaUnavailable, err)
	}
	flushed, err := c.Call.Accept()
	if err != nil {
		return err
	}
	c.flushCandidates(flushed)
	return c.emit(core.EvCallAnswer, core.CallAnswerPayload{
		From:   c.self.ID,
		To:     peer,
		Answer: answer,
	})
}

func (c *Client) RejectCall() error {
	peer := c.Call.Peer()
	if peer == "" {
		return ErrNotInCall
	}
	c.Call.End()
	return c.emit(core.EvCallReject, core.CallControlPayload{From: c.self.ID, To: peer})
}

func (c *Client) EndCall() error {
	peer := c.Call.Peer()
	if peer == "" {
		return ErrNotInCall
	}
	c.Call.End()
	return c.emit(core.EvCallEnd, core.CallControlPayload{From: c.self.ID, To: peer})
}

// SendCandidate relays a locally gathered ICE candidate to the peer.
func (c *Client) SendCandidate(cand webrtc.ICECandidateInit) error {
	peer := c.Call.Peer()
	if peer == "" {
		return ErrNotInCall
	}
	return c.emit(core.EvIceCandidate, core.IceCandidatePayload{
		From:      c.self.ID,
		To:        peer,
		Candidate: cand,
	})
}

func (c *Client) onCallOffer(data []byte) {
	var p core.CallOfferPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "client").Msg("bad call_offer")
		return
	}
	if p.To != c.self.ID {
		return
	}
	if err := c.Call.HandleOffer(p); err != nil {
		// busy: decline immediately instead of silently dropping
		_ = c.emit(core.EvCallReject, core.CallControlPayload{From: c.self.ID, To: p.From, Reason: "busy"})
		return
	}
	if c.h.OnCallOffer != nil {
		c.h.OnCallOffer(p)
	}
}

func (c *Client) onCallAnswer(data []byte) {
	var p core.CallAnswerPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return
	}
	if p.To != c.self.ID {
		return
	}
	flushed, err := c.Call.HandleAnswer(p)
	if err != nil {
		log.Warn().Err(err).Str("module", "client").Str("from", string(p.From)).Msg("ignoring answer")
		return
	}
	c.flushCandidates(flushed)
}

func (c *Client) onCallReject(data []byte) {
	var p core.CallControlPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return
	}
	if p.To != c.self.ID {
		return
	}
	if err := c.Call.HandleReject(p.From); err != nil {
		return
	}
	if c.h.OnCallEnded != nil {
		c.h.OnCallEnded(p.From, "rejected")
	}
}

func (c *Client) onCallEnd(data []byte) {
	var p core.CallControlPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return
	}
	if p.To != c.self.ID {
		return
	}
	if c.Call.Phase() == domain.CallIdle {
		return
	}
	c.Call.End()
	reason := p.Reason
	if reason == "" {
		reason = "ended"
	}
	if c.h.OnCallEnded != nil {
		c.h.OnCallEnded(p.From, reason)
	}
}

func (c *Client) onIceCandidate(data []byte) {
	var p core.IceCandidatePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return
	}
	if p.To != c.self.ID {
		return
	}
	if err := c.Call.HandleCandidate(p); err != nil {
		log.Warn().Err(err).Str("module", "client").Msg("dropping candidate")
	}
}

func (c *Client) flushCandidates(cands []webrtc.ICECandidateInit) {
	if len(cands) == 0 {
		return
	}
	c.Call.mu.Lock()
	sink := c.Call.sink
	c.Call.mu.Unlock()
	if sink == nil {
		return
	}
	for _, cand := range cands {
		if err := sink(cand); err != nil {
			log.Warn().Err(err).Str("module", "client").Msg("apply buffered candidate")
		}
	}
}
