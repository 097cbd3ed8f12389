package ws

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/ripplechat/ripple/internal/core"
	"github.com/ripplechat/ripple/internal/domain"
)

func (ctl *Controller) handleSendMessage(cid core.ConnID, c *wsConn, data []byte) {
	var p core.SendMessagePayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "ws").Msg("bad send_message payload")
		ctl.sendError(c, "bad_payload")
		return
	}
	if !ctl.verifyFrom(cid, string(p.SenderID)) {
		ctl.sendError(c, "identity mismatch")
		return
	}
	if !ctl.allow(cid) {
		ctl.sendError(c, "rate_limited")
		return
	}
	if err := ctl.Chat.Deliver(cid, p); err != nil {
		log.Warn().Err(err).Str("module", "ws").Str("cid", string(cid)).Msg("message rejected")
		ctl.sendError(c, err.Error())
	}
}

func (ctl *Controller) handleTyping(cid core.ConnID, c *wsConn, data []byte, start bool) {
	var p core.TypingPayload
	if err := json.Unmarshal(data, &p); err != nil || p.RoomID == "" {
		log.Error().Err(err).Str("module", "ws").Msg("bad typing payload")
		return
	}
	if !ctl.allow(cid) {
		return
	}
	if start {
		ctl.Chat.Typing(cid, p)
	} else {
		ctl.Chat.StopTyping(cid, p)
	}
}

func (ctl *Controller) handleMarkRead(ctx context.Context, cid core.ConnID, c *wsConn, data []byte) {
	var p core.MarkReadPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "ws").Msg("bad mark_read payload")
		ctl.sendError(c, "bad_payload")
		return
	}
	if err := ctl.Chat.MarkRead(ctx, cid, p); err != nil {
		log.Error().Err(err).Str("module", "ws").Str("room", string(p.RoomID)).Msg("mark read failed")
		ctl.sendError(c, "mark_read_failed")
	}
}

func (ctl *Controller) allow(cid core.ConnID) bool {
	uid, ok := ctl.Reg.UserOf(cid)
	if !ok {
		return false
	}
	if uid == domain.UnknownUser {
		// unidentified connections get per-connection budget
		return ctl.Limiter.Allow(domain.UserID(cid))
	}
	return ctl.Limiter.Allow(uid)
}
