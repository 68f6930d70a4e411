package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/somnesh/NexMeet-sub000/internal/adapters/signal"
	"github.com/somnesh/NexMeet-sub000/internal/domain"
)

const maxCodeAttempts = 8

func callerID(c *gin.Context) domain.UserID {
	return domain.UserID(c.GetString(signal.UserIDKey))
}

// GET /api/ice-servers
func (a *handlers) iceServers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"iceServers": a.Orch.ICEServers})
}

// POST /api/meeting allocates a meeting code hosted by the caller.
func (a *handlers) createMeeting(c *gin.Context) {
	host := callerID(c)
	for i := 0; i < maxCodeAttempts; i++ {
		code := domain.NewMeetingCode()
		if _, taken := a.Admission.Host(code); taken {
			continue
		}
		if err := a.Admission.SetHost(code, host); err != nil {
			if errors.Is(err, domain.ErrForbidden) {
				continue
			}
			abortWith(c, err)
			return
		}
		log.Info().Str("module", "adapters.http").Str("room", string(code)).Str("host", string(host)).Msg("meeting created")
		c.JSON(http.StatusCreated, gin.H{"code": code, "hostId": host})
		return
	}
	c.JSON(http.StatusServiceUnavailable, gin.H{"error": "could not allocate meeting code"})
}

type askRequest struct {
	UserName string `json:"userName"`
}

// POST /api/meeting/:code/ask
func (a *handlers) askToJoin(c *gin.Context) {
	var body askRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
			return
		}
	}
	req, err := a.Admission.RequestToJoin(domain.RoomID(c.Param("code")), callerID(c), body.UserName)
	if err != nil {
		abortWith(c, err)
		return
	}
	status := http.StatusOK
	if req.Status == domain.JoinPending {
		status = http.StatusAccepted
	}
	c.JSON(status, req)
}

// GET /api/meeting/:code/requests lists pending requests to the host.
func (a *handlers) pendingRequests(c *gin.Context) {
	reqs, err := a.Admission.Pending(domain.RoomID(c.Param("code")), callerID(c))
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"requests": reqs})
}

// GET /api/meeting/:code/requests/:participantId[?wait=1]
func (a *handlers) requestStatus(c *gin.Context) {
	room := domain.RoomID(c.Param("code"))
	pid := domain.ParticipantID(c.Param("participantId"))

	if c.Query("wait") == "" || c.Query("wait") == "0" {
		req, err := a.Admission.Get(room, pid)
		if err != nil {
			abortWith(c, err)
			return
		}
		c.JSON(http.StatusOK, req)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), a.waitTimeout)
	defer cancel()
	req, err := a.Admission.Wait(ctx, room, pid)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		if errors.Is(err, context.Canceled) {
			return
		}
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, req)
}

type resolveRequest struct {
	ParticipantID domain.ParticipantID `json:"participantId" binding:"required"`
}

// POST /api/meeting/:code/accept and /reject
func (a *handlers) resolve(accepted bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body resolveRequest
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "participantId required"})
			return
		}
		req, err := a.Admission.Resolve(domain.RoomID(c.Param("code")), callerID(c), body.ParticipantID, accepted)
		if err != nil {
			abortWith(c, err)
			return
		}
		c.JSON(http.StatusOK, req)
	}
}

type kickRequest struct {
	PeerID domain.PeerID `json:"peerId" binding:"required"`
}

// POST /api/meeting/:code/end
func (a *handlers) endMeeting(c *gin.Context) {
	if err := a.Orch.End(domain.RoomID(c.Param("code")), callerID(c)); err != nil {
		abortWith(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// POST /api/meeting/:code/kick
func (a *handlers) kick(c *gin.Context) {
	var body kickRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "peerId required"})
		return
	}
	if err := a.Orch.Kick(domain.RoomID(c.Param("code")), callerID(c), body.PeerID); err != nil {
		abortWith(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
