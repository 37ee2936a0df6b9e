package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/inkroom/internal/api"
	"github.com/charlesng35/inkroom/internal/app"
	"github.com/charlesng35/inkroom/internal/app/maintenance"
	"github.com/charlesng35/inkroom/internal/database"
	"github.com/charlesng35/inkroom/internal/middleware"
	"github.com/charlesng35/inkroom/internal/monitoring"
	"github.com/charlesng35/inkroom/internal/monitoring/checks"
	"github.com/charlesng35/inkroom/internal/realtime"
	"github.com/charlesng35/inkroom/internal/services"
	"github.com/charlesng35/inkroom/internal/storage"
	"github.com/charlesng35/inkroom/internal/whiteboard"
	"github.com/charlesng35/inkroom/pkg/logger"
)

const healthCheckTimeout = 3 * time.Second

// runtimeStack bundles long-lived services used by the HTTP server.
type runtimeStack struct {
	DB        *gorm.DB
	Blobs     storage.BlobStore
	Hub       *realtime.Hub
	Store     *whiteboard.Store
	Registry  *whiteboard.Registry
	Service   *whiteboard.Service
	Files     *services.FileService
	Cleaner   *maintenance.Cleaner
	RateStore middleware.RateStore
	Health    *monitoring.HealthManager
	Router    *gin.Engine
}

// bootstrapRuntime initialises the ledger, blob store, realtime core, and the HTTP router.
func bootstrapRuntime(ctx context.Context, cfg *app.Config, log *zap.Logger) (*runtimeStack, error) {
	stack := &runtimeStack{}
	var err error
	success := false

	defer func() {
		if !success {
			stack.Shutdown(log)
		}
	}()

	// enable gin debug mode
	if debug, _ := os.LookupEnv("GIN_DEBUG"); debug != "true" {
		gin.SetMode(gin.ReleaseMode)
	}

	stack.DB, err = initialiseDatabase(cfg)
	if err != nil {
		return nil, err
	}

	stack.Blobs, err = storage.New(ctx, convertStorageConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("initialise blob store: %w", err)
	}
	log.Info("blob store ready", zap.String("driver", cfg.Storage.Driver))

	stack.Hub = realtime.NewHub(realtime.Options{
		WriteWait:       cfg.Realtime.WriteWait,
		PongWait:        cfg.Realtime.PongWait,
		MaxMessageBytes: cfg.Realtime.MaxMessageBytes,
		SendBuffer:      cfg.Realtime.SendBuffer,
		AllowedOrigins:  cfg.Realtime.AllowedOrigins,
	})
	stack.Store = whiteboard.NewStore()
	stack.Registry = whiteboard.NewRegistry()
	stack.Service = whiteboard.NewService(stack.Store, stack.Registry, stack.Hub, whiteboard.Config{
		DefaultName:      cfg.Sessions.DefaultName,
		HostName:         cfg.Sessions.HostName,
		ForceHostName:    cfg.Sessions.ForceHostName,
		UploaderFallback: cfg.Sessions.UploaderFallback,
	})

	stack.Files, err = services.NewFileService(stack.DB, stack.Blobs, stack.Service, services.FileServiceConfig{
		PublicPrefix:   cfg.Storage.PublicPrefix,
		MaxUploadBytes: cfg.Storage.MaxUploadBytes,
		Retention:      cfg.Storage.Retention,
	})
	if err != nil {
		return nil, fmt.Errorf("initialise file service: %w", err)
	}

	cleanerOpts := []maintenance.Option{
		maintenance.WithReapGrace(cfg.Sessions.ReapGrace),
		maintenance.WithReapSchedule(cfg.Sessions.ReapSchedule),
		maintenance.WithPruneSchedule(cfg.Storage.PruneSchedule),
	}
	switch cfg.Server.RateLimit.Store {
	case "database":
		dbRates := middleware.NewDatabaseRateStore(stack.DB)
		stack.RateStore = dbRates
		cleanerOpts = append(cleanerOpts, maintenance.WithCounterPurger(dbRates))
	default:
		stack.RateStore = middleware.NewMemoryRateStore(cfg.Server.RateLimit.Window)
	}

	var pruner maintenance.UploadPruner
	if cfg.Storage.Retention > 0 {
		pruner = stack.Files
	}
	stack.Cleaner = maintenance.NewCleaner(stack.Service, pruner, cleanerOpts...)
	if err := stack.Cleaner.Start(); err != nil {
		return nil, fmt.Errorf("start maintenance jobs: %w", err)
	}

	stack.Health = monitoring.NewHealthManager(healthCheckTimeout)
	stack.Health.RegisterLiveness(checks.Realtime(stack.Hub, stack.Store, stack.Registry))
	stack.Health.RegisterReadiness(checks.Database(stack.DB))
	stack.Health.RegisterReadiness(checks.Storage(stack.Blobs))

	stack.Router, err = api.NewRouter(api.Dependencies{
		Config:    cfg,
		Store:     stack.Store,
		Service:   stack.Service,
		Hub:       stack.Hub,
		Files:     stack.Files,
		Health:    stack.Health,
		RateStore: stack.RateStore,
	})
	if err != nil {
		return nil, fmt.Errorf("build api router: %w", err)
	}

	success = true
	return stack, nil
}

// Shutdown stops background jobs, drops live sockets and releases resources.
func (s *runtimeStack) Shutdown(log *zap.Logger) {
	if s == nil {
		return
	}

	if s.Cleaner != nil {
		<-s.Cleaner.Stop().Done()
	}

	if s.Hub != nil {
		s.Hub.CloseAll()
	}

	if closer, ok := s.RateStore.(interface{ Close() }); ok {
		closer.Close()
	}

	if s.DB != nil {
		closeDatabase(s.DB, log)
	}
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	dbCfg := convertDatabaseConfig(cfg)
	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.AutoMigrate(db); err != nil {
		_ = database.Close(db)
		return nil, fmt.Errorf("auto-migrate database: %w", err)
	}

	log := logger.WithModule("database")
	log.Info("database connected", zap.String("driver", dbCfg.Driver))

	return db, nil
}

func convertDatabaseConfig(cfg *app.Config) database.Config {
	dbCfg := database.Config{
		Driver: strings.ToLower(strings.TrimSpace(cfg.Database.Driver)),
		Path:   strings.TrimSpace(cfg.Database.Path),
		DSN:    strings.TrimSpace(cfg.Database.DSN),
	}

	var auth app.DBAuthConfig
	switch dbCfg.Driver {
	case "", "sqlite":
		dbCfg.Driver = "sqlite"
		return dbCfg
	case "postgres", "postgresql":
		dbCfg.Driver = "postgres"
		auth = cfg.Database.Postgres
	case "mysql":
		auth = cfg.Database.MySQL
	default:
		// Leave driver as-is to surface unsupported driver error during open.
		return dbCfg
	}

	dbCfg.Host = strings.TrimSpace(auth.Host)
	dbCfg.Port = auth.Port
	dbCfg.Name = strings.TrimSpace(auth.Database)
	dbCfg.User = strings.TrimSpace(auth.Username)
	dbCfg.Password = auth.Password
	return dbCfg
}

func convertStorageConfig(cfg *app.Config) storage.Config {
	s3 := cfg.Storage.S3
	return storage.Config{
		Driver: cfg.Storage.Driver,
		Path:   strings.TrimSpace(cfg.Storage.Path),
		S3: storage.S3Config{
			Bucket:          strings.TrimSpace(s3.Bucket),
			Region:          strings.TrimSpace(s3.Region),
			Endpoint:        strings.TrimSpace(s3.Endpoint),
			Prefix:          strings.TrimSpace(s3.Prefix),
			AccessKeyID:     strings.TrimSpace(s3.AccessKeyID),
			SecretAccessKey: s3.SecretAccessKey,
			UsePathStyle:    s3.UsePathStyle,
		},
	}
}

func closeDatabase(db *gorm.DB, log *zap.Logger) {
	if err := database.Close(db); err != nil {
		log.Warn("failed to close database", zap.Error(err))
	}
}
