package client

import (
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ripplechat/ripple/internal/core"
	"github.com/ripplechat/ripple/internal/domain"
)

// Inbound events all decode the full frame. The room comes from the event
// itself; pair derivation is only a fallback for frames without room_id, and
// it is wrong for relay echoes reaching another tab of the sending user.
func (c *Client) onReceiveMessage(data []byte) {
	var p core.ReceiveMessagePayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "client").Msg("bad receive_message")
		return
	}
	room := p.RoomID
	if room == "" {
		room = domain.PairRoomID(c.self.ID, p.SenderID)
	}
	tl := c.Timeline(room)
	appended := tl.ApplyRemote(p)
	if appended && c.h.OnMessage != nil {
		snap := tl.Snapshot()
		c.h.OnMessage(room, snap[len(snap)-1])
	}
	// a message from the peer clears their typing indicator immediately
	c.clearTyping(room, p.SenderID)
}

func (c *Client) onDelivered(data []byte) {
	var p core.MessageDeliveredPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "client").Msg("bad message_delivered")
		return
	}
	c.mu.Lock()
	tls := make([]*Timeline, 0, len(c.timelines))
	rooms := make([]domain.RoomID, 0, len(c.timelines))
	for room, tl := range c.timelines {
		tls = append(tls, tl)
		rooms = append(rooms, room)
	}
	c.mu.Unlock()
	for i, tl := range tls {
		if tl.ConfirmDelivered(p) {
			if c.h.OnDelivered != nil {
				c.h.OnDelivered(rooms[i])
			}
			return
		}
	}
}

func (c *Client) onTyping(data []byte, start bool) {
	var p core.TypingPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return
	}
	if p.UserID == c.self.ID {
		return
	}
	if start {
		c.setTyping(p.RoomID, p.UserID)
	} else {
		c.clearTyping(p.RoomID, p.UserID)
	}
}

// setTyping arms the local expiry: a lost stop_typing still clears the
// indicator after the TTL without any server help.
func (c *Client) setTyping(room domain.RoomID, uid domain.UserID) {
	c.mu.Lock()
	byUser, ok := c.typing[room]
	if !ok {
		byUser = make(map[domain.UserID]*time.Timer)
		c.typing[room] = byUser
	}
	if timer, ok := byUser[uid]; ok {
		timer.Reset(c.typingTTL)
		c.mu.Unlock()
		return
	}
	byUser[uid] = time.AfterFunc(c.typingTTL, func() { c.clearTyping(room, uid) })
	c.mu.Unlock()
	if c.h.OnTyping != nil {
		c.h.OnTyping(room, uid, true)
	}
}

func (c *Client) clearTyping(room domain.RoomID, uid domain.UserID) {
	c.mu.Lock()
	byUser := c.typing[room]
	timer, ok := byUser[uid]
	if ok {
		timer.Stop()
		delete(byUser, uid)
	}
	c.mu.Unlock()
	if ok && c.h.OnTyping != nil {
		c.h.OnTyping(room, uid, false)
	}
}

func (c *Client) onMessagesRead(data []byte) {
	var p core.MarkReadPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return
	}
	if p.UserID == c.self.ID {
		return
	}
	c.Timeline(p.RoomID).MarkReadBy(p.UserID)
}

func (c *Client) onPresence(data []byte, online, activity bool) {
	var p core.PresencePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return
	}
	if c.h.OnPresence == nil {
		return
	}
	pr := domain.Presence{UserID: p.UserID, Online: online, Active: activity}
	if !online {
		pr.LastSeen = p.Timestamp
	}
	c.h.OnPresence(pr)
}

func (c *Client) onOnlineUsers(data []byte) {
	var p core.OnlineUsersPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return
	}
	if c.h.OnPresence == nil {
		return
	}
	for _, u := range p.Users {
		c.h.OnPresence(u)
	}
}
