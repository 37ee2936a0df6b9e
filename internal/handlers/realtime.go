package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/inkroom/internal/realtime"
)

// RealtimeHandler upgrades HTTP connections into whiteboard sockets.
type RealtimeHandler struct {
	hub        *realtime.Hub
	dispatcher realtime.Dispatcher
}

func NewRealtimeHandler(hub *realtime.Hub, dispatcher realtime.Dispatcher) *RealtimeHandler {
	return &RealtimeHandler{hub: hub, dispatcher: dispatcher}
}

// GET /ws
func (h *RealtimeHandler) Stream(c *gin.Context) {
	h.hub.Serve(c.Writer, c.Request, h.dispatcher)
}
