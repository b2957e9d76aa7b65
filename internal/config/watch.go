package config

import (
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// WatchConfig holds configuration for the boxoffice_watch client.
type WatchConfig struct {
	URL          string
	MovieID      string
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	ReadTimeout  time.Duration
	LogLevel     string
	LogFile      string
}

// LoadWatch reads client configuration from environment variables and an
// optional .env file.
func LoadWatch() (*WatchConfig, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	cfg := &WatchConfig{
		URL:          getEnvOrDefault("WATCH_URL", "ws://127.0.0.1:8787/ws"),
		MovieID:      getEnvOrDefault("WATCH_MOVIE_ID", "1294273"),
		MaxAttempts:  getEnvIntOrDefault("WATCH_MAX_RECONNECT_ATTEMPTS", 5),
		InitialDelay: getEnvDurationMSOrDefault("WATCH_RECONNECT_INITIAL_MS", time.Second),
		MaxDelay:     getEnvDurationMSOrDefault("WATCH_RECONNECT_MAX_MS", 30*time.Second),
		ReadTimeout:  getEnvDurationMSOrDefault("WATCH_READ_TIMEOUT_MS", 70*time.Second),
		LogLevel:     strings.ToLower(getEnvOrDefault("WATCH_LOG_LEVEL", "info")),
		LogFile:      getEnvOrDefault("WATCH_LOG_FILE", "logs/boxoffice_watch.log"),
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.MaxDelay < cfg.InitialDelay {
		cfg.MaxDelay = cfg.InitialDelay
	}
	return cfg, nil
}
