package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/somnesh/NexMeet-sub000/internal/adapters/signal"
	"github.com/somnesh/NexMeet-sub000/internal/app/admission"
	"github.com/somnesh/NexMeet-sub000/internal/app/orch"
	"github.com/somnesh/NexMeet-sub000/internal/config"
	"github.com/somnesh/NexMeet-sub000/internal/events"
)

// UserIDHeader is set by the external auth collaborator in front of us.
const UserIDHeader = "X-User-Id"

const sessionUserKey = "user_id"

func genClientToken() string {
	idStr := uuid.NewString()
	return idStr
}

func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = genClientToken()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set(signal.ClientTokenKey, token)
		c.Next()
	}
}

// IdentityMiddleware resolves the caller's user id: the auth header first,
// then the one remembered in the cookie session, then the client token.
func IdentityMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		s := sessions.Default(c)
		uid := c.GetHeader(UserIDHeader)
		switch {
		case uid != "":
			if prev, _ := s.Get(sessionUserKey).(string); prev != uid {
				s.Set(sessionUserKey, uid)
				if err := s.Save(); err != nil {
					log.Warn().Err(err).Str("module", "adapters.http").Msg("session save")
				}
			}
		default:
			if stored, ok := s.Get(sessionUserKey).(string); ok && stored != "" {
				uid = stored
			} else {
				uid = c.GetString(signal.ClientTokenKey)
			}
		}
		c.Set(signal.UserIDKey, uid)
		c.Next()
	}
}

// Deps is everything the HTTP surface needs.
type Deps struct {
	Orch      *orch.Orchestrator
	Admission *admission.Controller
	Bus       *events.Bus
}

type handlers struct {
	Deps
	waitTimeout time.Duration
	pongWait    time.Duration
	pingPeriod  time.Duration
	writeWait   time.Duration
}

func SetupRouter(ctx context.Context, cfg *config.Config, deps Deps) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("NexMeetSessions", store))
	r.Use(ClientTokenMiddleware())
	r.Use(IdentityMiddleware())

	r.Static("/static", cfg.StaticPath)
	r.GET("/", func(c *gin.Context) {
		c.File(cfg.StaticPath + "/index.html")
	})
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")

	a := &handlers{
		Deps:        deps,
		waitTimeout: cfg.Admission.WaitTimeout,
		pongWait:    cfg.PongWait,
		pingPeriod:  cfg.PingPeriod,
		writeWait:   cfg.WriteWait,
	}
	if a.waitTimeout <= 0 {
		a.waitTimeout = 25 * time.Second
	}
	if a.pongWait <= 0 {
		a.pongWait = 60 * time.Second
	}
	if a.pingPeriod <= 0 || a.pingPeriod >= a.pongWait {
		a.pingPeriod = a.pongWait * 9 / 10
	}
	if a.writeWait <= 0 {
		a.writeWait = 10 * time.Second
	}

	ctrl := signal.NewSignalWSController(deps.Orch, signal.Options{
		ReadLimit:  cfg.ReadLimit,
		PingPeriod: cfg.PingPeriod,
		PongWait:   cfg.PongWait,
		WriteWait:  cfg.WriteWait,
		SendBuffer: cfg.SendBuffer,
	})

	api := r.Group("/api")

	api.GET("/ice-servers", a.iceServers)

	// Admission
	api.POST("/meeting", a.createMeeting)
	api.POST("/meeting/:code/ask", a.askToJoin)
	api.GET("/meeting/:code/requests", a.pendingRequests)
	api.GET("/meeting/:code/requests/:participantId", a.requestStatus)
	api.POST("/meeting/:code/accept", a.resolve(true))
	api.POST("/meeting/:code/reject", a.resolve(false))
	api.POST("/meeting/:code/kick", a.kick)
	api.POST("/meeting/:code/end", a.endMeeting)

	// Registry snapshots
	api.GET("/rooms", a.listRooms)
	api.GET("/rooms/:id", a.getRoom)

	api.GET("/ws/signal", func(c *gin.Context) {
		log.Info().Str("module", "adapters.http").Str("user", c.GetString(signal.UserIDKey)).Msg("ws signal endpoint hit")
		ctrl.HandleSignal(ctx, c)
	})
	api.GET("/ws/events", func(c *gin.Context) {
		a.handleEvents(ctx, c)
	})

	return r
}
