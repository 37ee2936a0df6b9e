package app

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigFromFile(t *testing.T) {
	t.Setenv("PORT", "")
	cfg, err := LoadConfig(filepath.Join("testdata"))
	require.NoError(t, err)

	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, "debug", cfg.Server.LogLevel)
	require.Equal(t, "console", cfg.Server.LogFormat)
	require.False(t, cfg.Server.RateLimit.Enabled)
	require.Equal(t, 30, cfg.Server.RateLimit.Requests)
	require.Equal(t, 30*time.Second, cfg.Server.RateLimit.Window)
	require.Equal(t, "database", cfg.Server.RateLimit.Store)

	require.Equal(t, 5*time.Second, cfg.Realtime.WriteWait)
	require.Equal(t, 45*time.Second, cfg.Realtime.PongWait)
	require.Equal(t, int64(2<<20), cfg.Realtime.MaxMessageBytes)
	require.Equal(t, 128, cfg.Realtime.SendBuffer)
	require.Equal(t, []string{"https://board.example.com", "https://lobby.example.com"}, cfg.Realtime.AllowedOrigins)

	require.Equal(t, "Guest", cfg.Sessions.DefaultName)
	require.Equal(t, "Teacher", cfg.Sessions.HostName)
	require.False(t, cfg.Sessions.ForceHostName)
	require.Equal(t, "Someone", cfg.Sessions.UploaderFallback)
	require.Equal(t, 30*time.Minute, cfg.Sessions.ReapGrace)
	require.Equal(t, "@every 5m", cfg.Sessions.ReapSchedule)

	require.Equal(t, "s3", cfg.Storage.Driver)
	require.Equal(t, int64(1<<20), cfg.Storage.MaxUploadBytes)
	require.Equal(t, 168*time.Hour, cfg.Storage.Retention)
	require.Equal(t, "inkroom-uploads", cfg.Storage.S3.Bucket)
	require.Equal(t, "eu-west-1", cfg.Storage.S3.Region)
	require.Equal(t, "http://minio:9000", cfg.Storage.S3.Endpoint)
	require.Equal(t, "shared", cfg.Storage.S3.Prefix)
	require.True(t, cfg.Storage.S3.UsePathStyle)

	require.Equal(t, "postgres", cfg.Database.Driver)
	require.True(t, cfg.Database.Postgres.Enabled)
	require.Equal(t, "db.example.com", cfg.Database.Postgres.Host)
	require.Equal(t, 5432, cfg.Database.Postgres.Port)

	require.True(t, cfg.Monitoring.Prometheus.Enabled)
	require.Equal(t, "/metrics", cfg.Monitoring.Prometheus.Endpoint)
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	require.Equal(t, 3000, cfg.Server.Port)
	require.Equal(t, "json", cfg.Server.LogFormat)
	require.Equal(t, "memory", cfg.Server.RateLimit.Store)
	require.Equal(t, []string{"*"}, cfg.Realtime.AllowedOrigins)
	require.Equal(t, 60*time.Second, cfg.Realtime.PongWait)
	require.Equal(t, "Anonymous", cfg.Sessions.DefaultName)
	require.Equal(t, "Host", cfg.Sessions.HostName)
	require.True(t, cfg.Sessions.ForceHostName)
	require.Equal(t, 10*time.Minute, cfg.Sessions.ReapGrace)
	require.Equal(t, "filesystem", cfg.Storage.Driver)
	require.Equal(t, "/uploads", cfg.Storage.PublicPrefix)
	require.Equal(t, "sqlite", cfg.Database.Driver)
}

func TestLoadConfigEnvironmentOverrides(t *testing.T) {
	t.Setenv("PORT", "4100")
	t.Setenv("INKROOM_SESSIONS_HOST_NAME", "Presenter")
	t.Setenv("INKROOM_STORAGE_PATH", "/var/lib/inkroom")

	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	require.Equal(t, 4100, cfg.Server.Port)
	require.Equal(t, "Presenter", cfg.Sessions.HostName)
	require.Equal(t, "/var/lib/inkroom", cfg.Storage.Path)
}

func TestLoadConfigPrefixedPortWinsOverBarePort(t *testing.T) {
	t.Setenv("PORT", "4100")
	t.Setenv("INKROOM_SERVER_PORT", "4200")

	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)
	require.Equal(t, 4200, cfg.Server.Port)
}
