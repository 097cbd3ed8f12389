package ws

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/ripplechat/ripple/internal/core"
	"github.com/ripplechat/ripple/internal/domain"
)

func (ctl *Controller) handleIdentify(cid core.ConnID, c *wsConn, data []byte) {
	var p core.IdentifyPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "ws").Msg("bad identify payload")
		ctl.sendError(c, "bad_payload")
		return
	}
	first, err := ctl.Reg.Identify(cid, p.UserID)
	if err != nil {
		ctl.sendError(c, err.Error())
		return
	}
	if first {
		ctl.Presence.HandleConnect(p.UserID)
	}

	// Seed the client's presence UI once, on identify.
	ctl.sendJSON(c, core.EvOnlineUsers, core.OnlineUsersPayload{Users: ctl.Presence.ListOnline()})
}

func (ctl *Controller) handleJoin(cid core.ConnID, c *wsConn, data []byte) {
	var p core.RoomPayload
	if err := json.Unmarshal(data, &p); err != nil || p.RoomID == "" {
		log.Error().Err(err).Str("module", "ws").Msg("bad join payload")
		ctl.sendError(c, "bad_payload")
		return
	}
	if !ctl.Reg.Join(cid, p.RoomID) {
		ctl.sendError(c, "unknown connection")
	}
}

func (ctl *Controller) handleLeave(cid core.ConnID, c *wsConn, data []byte) {
	var p core.RoomPayload
	if err := json.Unmarshal(data, &p); err != nil || p.RoomID == "" {
		log.Error().Err(err).Str("module", "ws").Msg("bad leave payload")
		ctl.sendError(c, "bad_payload")
		return
	}
	ctl.Reg.Leave(cid, p.RoomID)
}

func (ctl *Controller) handleActivity(cid core.ConnID) {
	uid, ok := ctl.Reg.UserOf(cid)
	if !ok || uid == domain.UnknownUser {
		return
	}
	ctl.Presence.Activity(uid)
}
