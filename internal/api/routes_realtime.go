package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/inkroom/internal/handlers"
)

func registerRealtimeRoutes(r *gin.Engine, handler *handlers.RealtimeHandler) {
	r.GET("/ws", handler.Stream)
}
