package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/inkroom/internal/handlers"
)

func registerSessionRoutes(r *gin.Engine, handler *handlers.SessionHandler) {
	sessions := r.Group("/session")
	{
		sessions.POST("/create", handler.Create)
		sessions.POST("/join", handler.Join)
		sessions.GET("/:sessionId", handler.Get)
	}
}
