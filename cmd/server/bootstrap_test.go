package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/charlesng35/inkroom/internal/app"
	"github.com/charlesng35/inkroom/internal/middleware"
)

func TestConvertDatabaseConfig(t *testing.T) {
	cfg := &app.Config{}
	cfg.Database.Driver = ""
	cfg.Database.Path = " ./data/board.sqlite "

	dbCfg := convertDatabaseConfig(cfg)
	require.Equal(t, "sqlite", dbCfg.Driver)
	require.Equal(t, "./data/board.sqlite", dbCfg.Path)
	require.Empty(t, dbCfg.Host)

	cfg.Database.Driver = "PostgreSQL"
	cfg.Database.Postgres = app.DBAuthConfig{
		Enabled:  true,
		Host:     " db.internal ",
		Port:     5433,
		Database: "inkroom",
		Username: "board",
		Password: " secret ",
	}
	dbCfg = convertDatabaseConfig(cfg)
	require.Equal(t, "postgres", dbCfg.Driver)
	require.Equal(t, "db.internal", dbCfg.Host)
	require.Equal(t, 5433, dbCfg.Port)
	require.Equal(t, "inkroom", dbCfg.Name)
	require.Equal(t, "board", dbCfg.User)
	require.Equal(t, " secret ", dbCfg.Password)

	cfg.Database.Driver = "mysql"
	cfg.Database.MySQL = app.DBAuthConfig{Host: "mysql", Port: 3306, Database: "ink"}
	dbCfg = convertDatabaseConfig(cfg)
	require.Equal(t, "mysql", dbCfg.Driver)
	require.Equal(t, "mysql", dbCfg.Host)
	require.Equal(t, "ink", dbCfg.Name)

	cfg.Database.Driver = "oracle"
	dbCfg = convertDatabaseConfig(cfg)
	require.Equal(t, "oracle", dbCfg.Driver)
	require.Empty(t, dbCfg.Host)
}

func TestConvertStorageConfig(t *testing.T) {
	cfg := &app.Config{}
	cfg.Storage.Driver = "s3"
	cfg.Storage.S3.Bucket = " boards "
	cfg.Storage.S3.Region = "eu-west-1"
	cfg.Storage.S3.UsePathStyle = true

	storeCfg := convertStorageConfig(cfg)
	require.Equal(t, "s3", storeCfg.Driver)
	require.Equal(t, "boards", storeCfg.S3.Bucket)
	require.Equal(t, "eu-west-1", storeCfg.S3.Region)
	require.True(t, storeCfg.S3.UsePathStyle)
}

func TestLoadApplicationConfig(t *testing.T) {
	t.Setenv("PORT", "")
	dir := t.TempDir()
	file := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(file, []byte("server:\n  port: 4100\n"), 0o600))

	cfg, err := loadApplicationConfig(file)
	require.NoError(t, err)
	require.Equal(t, 4100, cfg.Server.Port)

	cfg, err = loadApplicationConfig(dir)
	require.NoError(t, err)
	require.Equal(t, 4100, cfg.Server.Port)

	_, err = loadApplicationConfig(filepath.Join(dir, "missing"))
	require.Error(t, err)
}

func TestBootstrapRuntimeServesRoutes(t *testing.T) {
	cfg, err := app.LoadConfig(t.TempDir())
	require.NoError(t, err)
	cfg.Database.Driver = "sqlite"
	cfg.Database.Path = ""
	cfg.Storage.Path = t.TempDir()
	cfg.Storage.Retention = 0

	_, err = app.ApplyRuntimeDefaults(cfg)
	require.NoError(t, err)

	log := zap.NewNop()
	stack, err := bootstrapRuntime(t.Context(), cfg, log)
	require.NoError(t, err)
	t.Cleanup(func() { stack.Shutdown(log) })

	require.NotNil(t, stack.Router)
	require.NotNil(t, stack.Files)

	rec := httptest.NewRecorder()
	stack.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/session/create", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var created struct {
		SessionID string `json:"sessionId"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotEmpty(t, created.SessionID)
	require.True(t, stack.Store.Exists(created.SessionID))

	rec = httptest.NewRecorder()
	stack.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	_, isMemory := stack.RateStore.(*middleware.MemoryRateStore)
	require.True(t, isMemory)
}

func TestBootstrapRuntimeDatabaseRateStore(t *testing.T) {
	cfg, err := app.LoadConfig(t.TempDir())
	require.NoError(t, err)
	cfg.Database.Path = ""
	cfg.Storage.Path = t.TempDir()
	cfg.Server.RateLimit.Store = "database"
	cfg.Server.RateLimit.Requests = 1

	log := zap.NewNop()
	stack, err := bootstrapRuntime(t.Context(), cfg, log)
	require.NoError(t, err)
	t.Cleanup(func() { stack.Shutdown(log) })

	_, isDatabase := stack.RateStore.(*middleware.DatabaseRateStore)
	require.True(t, isDatabase)

	rec := httptest.NewRecorder()
	stack.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/session/create", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	stack.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/session/create", nil))
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestBootstrapRuntimeRejectsUnknownDatabase(t *testing.T) {
	cfg, err := app.LoadConfig(t.TempDir())
	require.NoError(t, err)
	cfg.Database.Driver = "oracle"
	cfg.Storage.Path = t.TempDir()

	_, err = bootstrapRuntime(t.Context(), cfg, zap.NewNop())
	require.Error(t, err)
}

func TestShutdownNilStack(t *testing.T) {
	var stack *runtimeStack
	require.NotPanics(t, func() { stack.Shutdown(zap.NewNop()) })
}
