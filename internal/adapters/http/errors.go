package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/somnesh/NexMeet-sub000/internal/domain"
)

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrRoomNotFound),
		errors.Is(err, domain.ErrPeerNotFound),
		errors.Is(err, domain.ErrRequestNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrJoinRejected), errors.Is(err, domain.ErrJoinPending):
		return http.StatusConflict
	case errors.Is(err, domain.ErrMeetingEnded):
		return http.StatusGone
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, domain.ErrUserIDEmpty),
		errors.Is(err, domain.ErrUserIDTooLong),
		errors.Is(err, domain.ErrUsernameTooLong),
		errors.Is(err, domain.ErrRoomIDEmpty):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func abortWith(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}
