package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/somnesh/NexMeet-sub000/internal/domain"
	"github.com/somnesh/NexMeet-sub000/internal/events"
)

var eventsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleEvents streams room and personal events as JSON text frames.
// GET /api/ws/events?room=<id>
func (a *handlers) handleEvents(ctx context.Context, c *gin.Context) {
	uid := callerID(c)
	topics := []events.Topic{events.UserTopic(uid)}
	if room := c.Query("room"); room != "" {
		topics = append(topics, events.RoomTopic(domain.RoomID(room)))
	}

	ws, err := eventsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Msg("events ws upgrade")
		return
	}
	sub := a.Bus.Subscribe(topics...)
	log.Info().Str("module", "adapters.http").Str("user", string(uid)).Int("topics", len(topics)).Msg("events subscriber")

	done := make(chan struct{})
	go func() {
		defer close(done)
		ws.SetReadLimit(512)
		_ = ws.SetReadDeadline(time.Now().Add(a.pongWait))
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(a.pongWait))
		})
		for {
			if _, _, err := ws.NextReader(); err != nil {
				return
			}
		}
	}()

	go func() {
		ticker := time.NewTicker(a.pingPeriod)
		defer func() {
			ticker.Stop()
			sub.Unsubscribe()
			_ = ws.Close()
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case ev, ok := <-sub.C:
				if !ok {
					return
				}
				_ = ws.SetWriteDeadline(time.Now().Add(a.writeWait))
				if err := ws.WriteJSON(ev); err != nil {
					return
				}
			case <-ticker.C:
				_ = ws.SetWriteDeadline(time.Now().Add(a.writeWait))
				if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()
}
