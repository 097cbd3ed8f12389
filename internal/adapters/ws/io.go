package ws

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/ripplechat/ripple/internal/core"
	"github.com/ripplechat/ripple/internal/domain"
)

var errClosed = errors.New("connection closed")

// writePump closes the connection on exit so readPump unblocks and runs the
// disconnect cleanup; without this a kicked conn would linger in ReadMessage.
func (ctl *Controller) writePump(ctx context.Context, c *wsConn) {
	ticker := time.NewTicker(ctl.Cfg.PingPeriod)
	defer ticker.Stop()
	defer c.Close()
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "ws").Msg("writePump ctx done")
			return
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().Err(err).Str("module", "ws").Msg("writePump ping error")
				return
			}
		case data, ok := <-c.send:
			if !ok {
				log.Warn().Str("module", "ws").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "ws").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "ws").Msg("writePump write error")
				return
			}
		}
	}
}

func (ctl *Controller) readPump(ctx context.Context, cid core.ConnID, c *wsConn) {
	defer func() {
		log.Info().Str("module", "ws").Str("cid", string(cid)).Msg("readPump closing")
		ctl.onDisconnect(cid)
		c.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "ws").Str("cid", string(cid)).Msg("readPump ctx done")
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				log.Info().Err(err).Str("module", "ws").Str("cid", string(cid)).Msg("readPump read error")
				return
			}
			ctl.dispatch(ctx, cid, c, data)
		}
	}
}

// onDisconnect handles explicit close and abrupt vanish identically: drop
// all rooms, expire typing, and only when the last connection of the user is
// gone, flip presence and tear down any live call.
func (ctl *Controller) onDisconnect(cid core.ConnID) {
	uid, last := ctl.Reg.Disconnect(cid)
	ctl.Typing.Disconnect(cid)
	if uid != domain.UnknownUser && last {
		ctl.Presence.HandleDisconnect(uid)
		ctl.Calls.HandleDisconnect(uid)
	}
}

func (ctl *Controller) dispatch(ctx context.Context, cid core.ConnID, c *wsConn, data []byte) {
	var env core.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "ws").Msg("bad json")
		ctl.sendError(c, "bad_payload")
		return
	}

	switch env.Type {
	case core.EvUserConnected:
		ctl.handleIdentify(cid, c, data)
	case core.EvJoinRoom:
		ctl.handleJoin(cid, c, data)
	case core.EvLeaveRoom:
		ctl.handleLeave(cid, c, data)
	case core.EvActivity:
		ctl.handleActivity(cid)
	case core.EvSendMessage:
		ctl.handleSendMessage(cid, c, data)
	case core.EvTyping:
		ctl.handleTyping(cid, c, data, true)
	case core.EvStopTyping:
		ctl.handleTyping(cid, c, data, false)
	case core.EvMarkRead:
		ctl.handleMarkRead(ctx, cid, c, data)
	case core.EvCallOffer:
		ctl.handleCallOffer(cid, c, data)
	case core.EvCallAnswer:
		ctl.handleCallAnswer(cid, c, data)
	case core.EvCallReject:
		ctl.handleCallControl(cid, c, data, core.EvCallReject)
	case core.EvCallEnd:
		ctl.handleCallControl(cid, c, data, core.EvCallEnd)
	case core.EvIceCandidate:
		ctl.handleIceCandidate(cid, c, data)
	case core.EvPing:
		ctl.sendJSON(c, core.EvPong, nil)
	default:
		log.Warn().Str("module", "ws").Str("type", env.Type).Msg("unknown event")
	}
}
