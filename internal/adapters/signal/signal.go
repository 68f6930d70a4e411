package signal

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/somnesh/NexMeet-sub000/internal/app/orch"
	"github.com/somnesh/NexMeet-sub000/internal/core"
	"github.com/somnesh/NexMeet-sub000/internal/domain"
	"github.com/somnesh/NexMeet-sub000/internal/protocol"
)

// Options tunes the per-connection pumps.
type Options struct {
	ReadLimit  int64
	PingPeriod time.Duration
	PongWait   time.Duration
	WriteWait  time.Duration
	SendBuffer int
}

func (o Options) withDefaults() Options {
	if o.ReadLimit <= 0 {
		o.ReadLimit = 64 * 1024
	}
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	if o.PingPeriod <= 0 || o.PingPeriod >= o.PongWait {
		o.PingPeriod = o.PongWait * 9 / 10
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 10 * time.Second
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 64
	}
	return o
}

type SignalWSController struct {
	Orch *orch.Orchestrator
	opts Options
}

func NewSignalWSController(o *orch.Orchestrator, opts Options) *SignalWSController {
	return &SignalWSController{
		Orch: o,
		opts: opts.withDefaults(),
	}
}

type WsSignalConn struct {
	conn  *websocket.Conn
	codec protocol.Codec
	send  chan []byte

	mu     sync.RWMutex
	closed bool
}

func (c *WsSignalConn) Send(m protocol.Message) error {
	data, err := c.codec.Encode(m)
	if err != nil {
		return err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return domain.ErrSessionClosed
	}
	select {
	case c.send <- data:
	default:
		return domain.ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
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
	Subprotocols: protocol.Subprotocols,
	CheckOrigin:  func(r *http.Request) bool { return true },
}

// HandleSignal upgrades the request and runs the session until either side
// goes away. Every socket gets a fresh session id which doubles as its
// peer id, so two tabs of the same user are two peers.
func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	userID := domain.UserID(c.GetString(UserIDKey))
	if userID == "" {
		userID = domain.UserID(c.GetString(ClientTokenKey))
	}
	sid := core.SessionID(uuid.NewString())
	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("user", string(userID)).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}
	codec, err := protocol.CodecFor(ws.Subprotocol())
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("codec")
		_ = ws.Close()
		return
	}

	conn := &WsSignalConn{
		conn:  ws,
		codec: codec,
		send:  make(chan []byte, ctl.opts.SendBuffer),
	}

	meta := domain.NewMember(&domain.User{ID: userID, Username: string(userID)})
	sess := core.NewMemberSession(meta, conn)
	ctx, cancel := context.WithCancel(ctx)
	ctl.Orch.Sessions.BindSignal(sid, sess, cancel)

	go ctl.writePump(ctx, sid, conn)
	go ctl.readPump(ctx, cancel, sid, conn, meta)
}
