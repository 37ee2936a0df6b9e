package api

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/inkroom/internal/app"
	"github.com/charlesng35/inkroom/internal/handlers"
)

func registerUploadRoutes(r *gin.Engine, cfg *app.Config, handler *handlers.FileHandler) {
	r.POST("/upload/:sessionId", handler.Upload)
	r.GET("/upload/:sessionId", handler.List)

	prefix := "/" + strings.Trim(cfg.Storage.PublicPrefix, "/")
	if prefix == "/" {
		prefix = "/uploads"
	}
	r.GET(prefix+"/:key", handler.Serve)
}
