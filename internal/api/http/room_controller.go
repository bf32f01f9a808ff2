package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/immxrtalbeast/meshconf/internal/api/http/converter"
	"github.com/immxrtalbeast/meshconf/internal/repository"
	"github.com/immxrtalbeast/meshconf/internal/service"
)

// RoomController exposes read-only views of the room registry.
type RoomController struct {
	relay service.RelayInteractor
}

func NewRoomController(relay service.RelayInteractor) *RoomController {
	return &RoomController{relay: relay}
}

func (c *RoomController) Stats(ctx *gin.Context) {
	stats, err := c.relay.Stats(ctx.Request.Context())
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	ctx.JSON(http.StatusOK, stats)
}

func (c *RoomController) ListParticipants(ctx *gin.Context) {
	roomID := ctx.Param("roomID")
	if roomID == "" {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid room id"})
		return
	}

	members, err := c.relay.ListParticipants(ctx.Request.Context(), roomID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, repository.ErrRoomNotFound) {
			status = http.StatusNotFound
		}
		ctx.JSON(status, gin.H{"error": err.Error()})
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"participants": converter.MembershipsToApi(members)})
}
