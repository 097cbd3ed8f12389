package ws

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/ripplechat/ripple/internal/core"
)

// Call events carry their own from/to addressing; the adapter only verifies
// the sender is who it claims to be before handing off to the coordinator.
func (ctl *Controller) verifyFrom(cid core.ConnID, from string) bool {
	uid, ok := ctl.Reg.UserOf(cid)
	return ok && string(uid) == from
}

func (ctl *Controller) handleCallOffer(cid core.ConnID, c *wsConn, data []byte) {
	var p core.CallOfferPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "ws").Msg("bad call_offer payload")
		ctl.sendError(c, "bad_payload")
		return
	}
	if !ctl.verifyFrom(cid, string(p.From)) {
		ctl.sendError(c, "identity mismatch")
		return
	}
	ctl.Calls.Offer(p)
}

func (ctl *Controller) handleCallAnswer(cid core.ConnID, c *wsConn, data []byte) {
	var p core.CallAnswerPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "ws").Msg("bad call_answer payload")
		ctl.sendError(c, "bad_payload")
		return
	}
	if !ctl.verifyFrom(cid, string(p.From)) {
		ctl.sendError(c, "identity mismatch")
		return
	}
	ctl.Calls.Answer(p)
}

func (ctl *Controller) handleCallControl(cid core.ConnID, c *wsConn, data []byte, event string) {
	var p core.CallControlPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "ws").Msg("bad call control payload")
		ctl.sendError(c, "bad_payload")
		return
	}
	if !ctl.verifyFrom(cid, string(p.From)) {
		ctl.sendError(c, "identity mismatch")
		return
	}
	switch event {
	case core.EvCallReject:
		ctl.Calls.Reject(p)
	case core.EvCallEnd:
		ctl.Calls.End(p)
	}
}

func (ctl *Controller) handleIceCandidate(cid core.ConnID, c *wsConn, data []byte) {
	var p core.IceCandidatePayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "ws").Msg("bad ice_candidate payload")
		return
	}
	if !ctl.verifyFrom(cid, string(p.From)) {
		return
	}
	ctl.Calls.Candidate(p)
}
