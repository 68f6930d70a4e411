package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/somnesh/NexMeet-sub000/internal/domain"
)

// GET /api/rooms
func (a *handlers) listRooms(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"rooms": a.Orch.Rooms.List()})
}

// GET /api/rooms/:id
func (a *handlers) getRoom(c *gin.Context) {
	room, ok := a.Orch.Rooms.Room(domain.RoomID(c.Param("id")))
	if !ok {
		abortWith(c, domain.ErrRoomNotFound)
		return
	}
	c.JSON(http.StatusOK, room)
}
