package api

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/inkroom/internal/app"
	"github.com/charlesng35/inkroom/internal/handlers"
	"github.com/charlesng35/inkroom/internal/middleware"
	"github.com/charlesng35/inkroom/internal/monitoring"
	"github.com/charlesng35/inkroom/internal/realtime"
	"github.com/charlesng35/inkroom/internal/services"
	"github.com/charlesng35/inkroom/internal/whiteboard"
)

// Dependencies bundles the components the HTTP surface is built from.
type Dependencies struct {
	Config    *app.Config
	Store     *whiteboard.Store
	Service   *whiteboard.Service
	Hub       *realtime.Hub
	Files     *services.FileService
	Health    *monitoring.HealthManager
	RateStore middleware.RateStore
}

func (d Dependencies) validate() error {
	switch {
	case d.Config == nil:
		return errors.New("config must be provided")
	case d.Store == nil:
		return errors.New("session store must be provided")
	case d.Service == nil:
		return errors.New("whiteboard service must be provided")
	case d.Hub == nil:
		return errors.New("realtime hub must be provided")
	case d.Files == nil:
		return errors.New("file service must be provided")
	}
	return nil
}

// NewRouter builds the Gin engine, wires middleware and registers every route.
func NewRouter(deps Dependencies) (*gin.Engine, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	cfg := deps.Config

	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.CORS(cfg.Realtime.AllowedOrigins...))
	if cfg.Server.RateLimit.Enabled {
		r.Use(middleware.RateLimit(deps.RateStore, cfg.Server.RateLimit.Requests, cfg.Server.RateLimit.Window))
	}

	registerHealthRoutes(r, cfg, deps.Health)
	registerMetricsRoutes(r, cfg)
	registerSessionRoutes(r, handlers.NewSessionHandler(deps.Store))
	registerUploadRoutes(r, cfg, handlers.NewFileHandler(deps.Files, cfg.Storage.MaxUploadBytes))
	registerRealtimeRoutes(r, handlers.NewRealtimeHandler(deps.Hub, deps.Service))

	// NotFound fallback
	r.NoRoute(middleware.NotFoundHandler)

	return r, nil
}
