package signal

import (
	"context"
	"errors"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/somnesh/NexMeet-sub000/internal/core"
	"github.com/somnesh/NexMeet-sub000/internal/domain"
	"github.com/somnesh/NexMeet-sub000/internal/protocol"
)

// Keys under which the HTTP middleware leaves caller identity in gin.Context.
const (
	UserIDKey      = "user_id"
	ClientTokenKey = "client_token"
)

func (ctl *SignalWSController) writePump(ctx context.Context, sid core.SessionID, c *WsSignalConn) {
	ticker := time.NewTicker(ctl.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	frameType := websocket.TextMessage
	if c.codec.Binary() {
		frameType = websocket.BinaryMessage
	}

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("writePump ctx done")
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(ctl.opts.WriteWait))
			return
		case data, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(ctl.opts.WriteWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if !ok {
				log.Debug().Str("module", "signal").Str("sid", string(sid)).Msg("writePump channel closed")
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(frameType, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("writePump write error")
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(ctl.opts.WriteWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (ctl *SignalWSController) readPump(ctx context.Context, cancel context.CancelFunc, sid core.SessionID, c *WsSignalConn, meta *domain.Member) {
	defer func() {
		log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("readPump closing")
		cancel()
		c.Close()
		ctl.Orch.OnDisconnect(sid)
	}()

	c.conn.SetReadLimit(ctl.opts.ReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(ctl.opts.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(ctl.opts.PongWait))
	})

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("readPump ctx done")
			return
		default:
		}
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Error().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("readPump read error")
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(ctl.opts.PongWait))
		ctl.handleSignal(sid, c, meta, data)
	}
}

func (ctl *SignalWSController) handleSignal(sid core.SessionID, c *WsSignalConn, meta *domain.Member, data []byte) {
	msg, err := c.codec.Decode(data)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("bad message")
		ctl.sendError(c, protocol.CodeBadPayload, err.Error())
		return
	}

	switch m := msg.(type) {
	case protocol.JoinRoom:
		ctl.handleJoin(sid, c, meta, m)
	case protocol.LeaveRoom:
		ctl.handleLeave(sid, c)
	case protocol.Ping:
		ctl.handlePing(c)
	case protocol.Offer:
		ctl.handleRelay(sid, c, m)
	case protocol.Answer:
		ctl.handleRelay(sid, c, m)
	case protocol.ICECandidate:
		ctl.handleRelay(sid, c, m)
	case protocol.Pong:
	default:
		log.Warn().Str("module", "signal").Str("type", string(msg.Type())).Msg("unexpected signal from client")
		ctl.sendError(c, protocol.CodeBadPayload, "unexpected message type "+string(msg.Type()))
	}
}

func (ctl *SignalWSController) send(c *WsSignalConn, m protocol.Message) {
	if err := c.Send(m); err != nil && !errors.Is(err, domain.ErrSessionClosed) {
		log.Warn().Err(err).Str("module", "signal").Str("type", string(m.Type())).Msg("send")
	}
}

func (ctl *SignalWSController) sendError(c *WsSignalConn, code protocol.ErrorCode, msg string) {
	ctl.send(c, protocol.Error{Code: code, Message: msg})
}
