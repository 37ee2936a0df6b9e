package app

import (
	"fmt"
	"strings"
)

const (
	minSendBuffer      = 16
	minMessageBytes    = 64 << 10
	defaultDisplayName = "Anonymous"
	defaultHostName    = "Host"
	defaultUploader    = "Someone"
)

// ApplyRuntimeDefaults repairs values that would leave the server unusable and rejects
// unknown drivers. It returns the keys it adjusted so callers can log them.
func ApplyRuntimeDefaults(cfg *Config) (map[string]bool, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	adjusted := make(map[string]bool)

	fillString := func(key string, target *string, fallback string) {
		if strings.TrimSpace(*target) == "" {
			*target = fallback
			adjusted[key] = true
		}
	}

	fillString("sessions.default_name", &cfg.Sessions.DefaultName, defaultDisplayName)
	fillString("sessions.host_name", &cfg.Sessions.HostName, defaultHostName)
	fillString("sessions.uploader_fallback", &cfg.Sessions.UploaderFallback, defaultUploader)
	fillString("storage.public_prefix", &cfg.Storage.PublicPrefix, "/uploads")

	if cfg.Realtime.SendBuffer < minSendBuffer {
		cfg.Realtime.SendBuffer = minSendBuffer
		adjusted["realtime.send_buffer"] = true
	}
	if cfg.Realtime.MaxMessageBytes < minMessageBytes {
		cfg.Realtime.MaxMessageBytes = minMessageBytes
		adjusted["realtime.max_message_bytes"] = true
	}
	if len(cfg.Realtime.AllowedOrigins) == 0 {
		cfg.Realtime.AllowedOrigins = []string{"*"}
		adjusted["realtime.allowed_origins"] = true
	}

	cfg.Server.RateLimit.Store = strings.ToLower(strings.TrimSpace(cfg.Server.RateLimit.Store))
	switch cfg.Server.RateLimit.Store {
	case "":
		cfg.Server.RateLimit.Store = "memory"
		adjusted["server.rate_limit.store"] = true
	case "memory", "database":
	default:
		return nil, fmt.Errorf("unsupported rate limit store %q", cfg.Server.RateLimit.Store)
	}

	cfg.Storage.Driver = strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
	switch cfg.Storage.Driver {
	case "", "filesystem":
		if cfg.Storage.Driver == "" {
			cfg.Storage.Driver = "filesystem"
			adjusted["storage.driver"] = true
		}
		fillString("storage.path", &cfg.Storage.Path, "./uploads")
	case "s3":
		if strings.TrimSpace(cfg.Storage.S3.Bucket) == "" {
			return nil, fmt.Errorf("storage.s3.bucket is required for the s3 driver")
		}
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Storage.Driver)
	}

	return adjusted, nil
}
