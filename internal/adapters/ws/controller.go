// Package ws is the websocket transport adapter: it owns connection
// lifecycle and pumps, decodes inbound frames and dispatches them into the
// application layer. No business logic lives here.
package ws

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/ripplechat/ripple/internal/app"
	"github.com/ripplechat/ripple/internal/config"
	"github.com/ripplechat/ripple/internal/core"
)

type Controller struct {
	Reg      *app.Registry
	Relay    *app.Relay
	Presence *app.PresenceTracker
	Chat     *app.ChatPipeline
	Typing   *app.TypingTracker
	Calls    *app.CallCoordinator
	Limiter  *RateLimiter
	Cfg      *config.Config
}

func NewController(cfg *config.Config, reg *app.Registry, relay *app.Relay, presence *app.PresenceTracker, chat *app.ChatPipeline, typing *app.TypingTracker, calls *app.CallCoordinator) *Controller {
	return &Controller{
		Reg:      reg,
		Relay:    relay,
		Presence: presence,
		Chat:     chat,
		Typing:   typing,
		Calls:    calls,
		Limiter:  NewRateLimiter(cfg.EventRateLimit, cfg.EventRateEvery),
		Cfg:      cfg,
	}
}

// wsConn adapts a gorilla connection to core.SignalConnection with a
// buffered send channel and a guarded close.
type wsConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *wsConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errClosed
	}
	select {
	case c.send <- f:
	default:
		return core.ErrBackpressure
	}
	return nil
}

func (c *wsConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleWS upgrades the request and starts the pumps. Each connection gets a
// fresh opaque id; identity arrives later via the user_connected event.
func (ctl *Controller) HandleWS(ctx context.Context, c *gin.Context) {
	cid := core.ConnID(uuid.NewString())
	log.Info().Str("module", "ws").Str("cid", string(cid)).Msg("new WS connection")

	wsock, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "ws").Msg("ws upgrade")
		return
	}
	wsock.SetReadLimit(ctl.Cfg.ReadLimit)
	pongWait := ctl.Cfg.PingPeriod * 10 / 9
	_ = wsock.SetReadDeadline(time.Now().Add(pongWait))
	wsock.SetPongHandler(func(string) error {
		return wsock.SetReadDeadline(time.Now().Add(pongWait))
	})

	conn := &wsConn{
		conn: wsock,
		send: make(chan core.Frame, ctl.Cfg.SendBuffer),
	}

	ctx, cancel := context.WithCancel(ctx)
	ctl.Reg.Bind(cid, conn, cancel)

	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, cid, conn)
}

func (ctl *Controller) sendJSON(c core.SignalConnection, event string, v any) {
	frame, err := core.Encode(event, v)
	if err != nil {
		log.Error().Err(err).Str("module", "ws").Str("event", event).Msg("sendJSON encode")
		return
	}
	_ = c.TrySend(frame)
}

func (ctl *Controller) sendError(c core.SignalConnection, msg string) {
	ctl.sendJSON(c, core.EvError, core.ErrorPayload{Error: msg})
}

const writeWait = 5 * time.Second
