package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/ripplechat/ripple/internal/core"
	"github.com/ripplechat/ripple/internal/domain"
)

// Handlers are optional UI callbacks. Nil handlers are skipped.
type Handlers struct {
	OnMessage   func(room domain.RoomID, e Entry)
	OnDelivered func(room domain.RoomID)
	OnTyping    func(room domain.RoomID, user domain.UserID, typing bool)
	OnPresence  func(p domain.Presence)
	OnCallOffer func(p core.CallOfferPayload)
	OnCallEnded func(peer domain.UserID, reason string)
	OnError     func(msg string)
}

// Client is the reconciliation layer over one relay connection. All state it
// keeps (timelines, typing indicators, call phase) is derived and can be
// rebuilt after a reconnect from the durable store plus fresh events.
type Client struct {
	self  domain.User
	store core.MessageStore
	h     Handlers

	mu        sync.Mutex
	conn      *websocket.Conn
	writeMu   sync.Mutex
	rooms     map[domain.RoomID]struct{}
	timelines map[domain.RoomID]*Timeline
	typing    map[domain.RoomID]map[domain.UserID]*time.Timer
	typingTTL time.Duration

	Call *CallState

	done chan struct{}
}

const defaultTypingTTL = 3 * time.Second

// Dial connects to the relay, identifies, and starts the event loop.
func Dial(ctx context.Context, url string, self domain.User, store core.MessageStore, h Handlers) (*Client, error) {
	c := &Client{
		self:      self,
		store:     store,
		h:         h,
		rooms:     make(map[domain.RoomID]struct{}),
		timelines: make(map[domain.RoomID]*Timeline),
		typing:    make(map[domain.RoomID]map[domain.UserID]*time.Timer),
		typingTTL: defaultTypingTTL,
		Call:      NewCallState(),
		done:      make(chan struct{}),
	}
	if err := c.connect(ctx, url); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) connect(ctx context.Context, url string) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dial relay: %w", err)
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	if err := c.emit(core.EvUserConnected, core.IdentifyPayload{UserID: c.self.ID}); err != nil {
		_ = conn.Close()
		return err
	}
	go c.readLoop(conn)
	return nil
}

// Reconnect redials and resubscribes every previously joined room. Presence
// reseeds via the online_users reply to the identify event; history catch-up
// is the caller's job through LoadOlder.
func (c *Client) Reconnect(ctx context.Context, url string) error {
	if err := c.connect(ctx, url); err != nil {
		return err
	}
	c.mu.Lock()
	rooms := make([]domain.RoomID, 0, len(c.rooms))
	for r := range c.rooms {
		rooms = append(rooms, r)
	}
	c.mu.Unlock()
	for _, r := range rooms {
		if err := c.emit(core.EvJoinRoom, core.RoomPayload{RoomID: r}); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	select {
	case <-c.done:
	default:
		close(c.done)
	}
	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (c *Client) JoinRoom(room domain.RoomID) error {
	c.mu.Lock()
	c.rooms[room] = struct{}{}
	c.mu.Unlock()
	return c.emit(core.EvJoinRoom, core.RoomPayload{RoomID: room})
}

func (c *Client) LeaveRoom(room domain.RoomID) error {
	c.mu.Lock()
	delete(c.rooms, room)
	c.mu.Unlock()
	return c.emit(core.EvLeaveRoom, core.RoomPayload{RoomID: room})
}

// Timeline returns the reconciled view for a room, creating it on first use.
func (c *Client) Timeline(room domain.RoomID) *Timeline {
	c.mu.Lock()
	defer c.mu.Unlock()
	tl, ok := c.timelines[room]
	if !ok {
		tl = NewTimeline(c.self.ID)
		c.timelines[room] = tl
	}
	return tl
}

// SendMessage appends an optimistic entry, writes the durable record, then
// relays it. A failed write rolls the optimistic entry into failed state and
// no relay traffic is produced.
func (c *Client) SendMessage(ctx context.Context, room domain.RoomID, receiver domain.UserID, content string, kind domain.MessageKind) (Entry, error) {
	tl := c.Timeline(room)
	entry := tl.AppendLocal(content, kind, c.self.Username)

	saved, err := c.store.CreateMessage(ctx, domain.Message{
		RoomID:       room,
		SenderID:     c.self.ID,
		SenderName:   c.self.Username,
		SenderAvatar: c.self.Avatar,
		ReceiverID:   receiver,
		Content:      content,
		Kind:         kind,
		ClientToken:  entry.Token,
	})
	if err != nil {
		tl.MarkFailed(entry.Token)
		return entry, fmt.Errorf("persist message: %w", err)
	}
	saved.ClientToken = entry.Token

	err = c.emit(core.EvSendMessage, core.SendMessagePayload{
		RoomID:       room,
		Message:      *saved,
		SenderID:     c.self.ID,
		SenderName:   c.self.Username,
		SenderAvatar: c.self.Avatar,
		ReceiverID:   receiver,
	})
	if err != nil {
		// durable write succeeded; peers recover it on catch-up fetch
		log.Warn().Err(err).Str("module", "client").Msg("relay emit failed after persist")
	}
	return entry, nil
}

// LoadOlder fetches one history page and merges it into the timeline.
func (c *Client) LoadOlder(ctx context.Context, room domain.RoomID, page, pageSize int) (int, error) {
	res, err := c.store.ListMessages(ctx, room, page, pageSize)
	if err != nil {
		return 0, fmt.Errorf("load history: %w", err)
	}
	return c.Timeline(room).MergePage(res.Messages), nil
}

func (c *Client) MarkRead(room domain.RoomID) error {
	return c.emit(core.EvMarkRead, core.MarkReadPayload{RoomID: room, UserID: c.self.ID})
}

func (c *Client) Typing(room domain.RoomID) error {
	return c.emit(core.EvTyping, core.TypingPayload{RoomID: room, UserID: c.self.ID, UserName: c.self.Username})
}

func (c *Client) StopTyping(room domain.RoomID) error {
	return c.emit(core.EvStopTyping, core.TypingPayload{RoomID: room, UserID: c.self.ID, UserName: c.self.Username})
}

// Activity sends the periodic foreground ping that keeps presence "active".
func (c *Client) Activity() error {
	return c.emit(core.EvActivity, nil)
}

// TypingUsers lists peers with a live typing indicator in the room.
func (c *Client) TypingUsers(room domain.RoomID) []domain.UserID {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.UserID, 0)
	for uid := range c.typing[room] {
		out = append(out, uid)
	}
	return out
}

func (c *Client) emit(event string, v any) error {
	frame, err := core.Encode(event, v)
	if err != nil {
		return err
	}
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("not connected")
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, frame)
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				log.Info().Err(err).Str("module", "client").Msg("read loop ended")
			}
			return
		}
		c.handle(data)
	}
}

func (c *Client) handle(data []byte) {
	var env core.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "client").Msg("bad frame")
		return
	}

	switch env.Type {
	case core.EvReceiveMessage:
		c.onReceiveMessage(data)
	case core.EvMessageDelivered:
		c.onDelivered(data)
	case core.EvTyping:
		c.onTyping(data, true)
	case core.EvStopTyping:
		c.onTyping(data, false)
	case core.EvMessagesRead:
		c.onMessagesRead(data)
	case core.EvUserOnline, core.EvUserActivity:
		c.onPresence(data, true, env.Type == core.EvUserActivity)
	case core.EvUserOffline:
		c.onPresence(data, false, false)
	case core.EvOnlineUsers:
		c.onOnlineUsers(data)
	case core.EvCallOffer:
		c.onCallOffer(data)
	case core.EvCallAnswer:
		c.onCallAnswer(data)
	case core.EvCallReject:
		c.onCallReject(data)
	case core.EvCallEnd:
		c.onCallEnd(data)
	case core.EvIceCandidate:
		c.onIceCandidate(data)
	case core.EvError:
		var p core.ErrorPayload
		_ = json.Unmarshal(data, &p)
		if c.h.OnError != nil {
			c.h.OnError(p.Error)
		}
	case core.EvPong:
	default:
		log.Debug().Str("module", "client").Str("type", env.Type).Msg("unhandled event")
	}
}
