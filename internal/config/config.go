package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/dgnsrekt/boxoffice_relay/internal/admission"
	"github.com/dgnsrekt/boxoffice_relay/internal/netutil"
	"github.com/dgnsrekt/boxoffice_relay/internal/relay"
	"github.com/dgnsrekt/boxoffice_relay/internal/upstream"
)

// Config holds all configuration for the relay server.
type Config struct {
	BindAddr         string
	PortCandidates   []string
	PortAutoFallback bool
	LogLevel         string
	LogFile          string

	// Upstream provider
	UpstreamURL     string
	UpstreamTimeout time.Duration
	DefaultMovieID  string

	// Cache and batching
	CacheTTL        time.Duration
	CacheMaxItems   int
	BatchDebounce   time.Duration
	RefreshInterval time.Duration

	// Heartbeat
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration

	// Admission ceilings
	MaxRequestsPerAddr int
	MaxConnPerAddr     int
	MaxTotalConn       int

	// Fan-out
	BroadcastBatchSize  int
	BroadcastPacing     time.Duration
	SendBuffer          int
	CelebrationCooldown time.Duration

	MetricsResetInterval time.Duration

	// Celebration forwarding between instances
	PubSub        string
	PubSubURL     string
	PubSubChannel string

	// Celebration journal; empty dir disables it
	JournalDir       string
	JournalMaxSizeMB int
}

// Load reads configuration from environment variables and an optional .env
// file, then applies the YAML file named by RELAY_CONFIG_FILE if set.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	cfg := &Config{
		BindAddr:             getEnvOrDefault("RELAY_BIND_ADDR", "127.0.0.1:8787"),
		PortCandidates:       netutil.ParseCandidates(getEnvOrDefault("RELAY_PORT_CANDIDATES", "")),
		PortAutoFallback:     getEnvBoolOrDefault("RELAY_PORT_AUTO_FALLBACK", false),
		LogLevel:             strings.ToLower(getEnvOrDefault("RELAY_LOG_LEVEL", "info")),
		LogFile:              getEnvOrDefault("RELAY_LOG_FILE", "logs/boxoffice_relay.log"),
		UpstreamURL:          getEnvOrDefault("RELAY_UPSTREAM_URL", upstream.DefaultURLTemplate),
		UpstreamTimeout:      getEnvDurationMSOrDefault("RELAY_UPSTREAM_TIMEOUT_MS", 8*time.Second),
		DefaultMovieID:       getEnvOrDefault("RELAY_DEFAULT_MOVIE_ID", "1294273"),
		CacheTTL:             getEnvDurationMSOrDefault("RELAY_CACHE_TTL_MS", 10*time.Second),
		CacheMaxItems:        getEnvIntOrDefault("RELAY_CACHE_MAX_ITEMS", 1000),
		BatchDebounce:        getEnvDurationMSOrDefault("RELAY_BATCH_DEBOUNCE_MS", 100*time.Millisecond),
		RefreshInterval:      getEnvDurationMSOrDefault("RELAY_REFRESH_INTERVAL_MS", 10*time.Second),
		HeartbeatInterval:    getEnvDurationMSOrDefault("RELAY_HEARTBEAT_INTERVAL_MS", 30*time.Second),
		HeartbeatTimeout:     getEnvDurationMSOrDefault("RELAY_HEARTBEAT_TIMEOUT_MS", 35*time.Second),
		MaxRequestsPerAddr:   getEnvIntOrDefault("RELAY_MAX_REQUESTS_PER_ADDR", 60),
		MaxConnPerAddr:       getEnvIntOrDefault("RELAY_MAX_CONN_PER_ADDR", 10),
		MaxTotalConn:         getEnvIntOrDefault("RELAY_MAX_TOTAL_CONN", 10000),
		BroadcastBatchSize:   getEnvIntOrDefault("RELAY_BROADCAST_BATCH_SIZE", 1000),
		BroadcastPacing:      getEnvDurationMSOrDefault("RELAY_BROADCAST_PACING_MS", 100*time.Millisecond),
		SendBuffer:           getEnvIntOrDefault("RELAY_SEND_BUFFER", 256),
		CelebrationCooldown:  getEnvDurationMSOrDefault("RELAY_CELEBRATION_COOLDOWN_MS", 3*time.Second),
		MetricsResetInterval: getEnvDurationMSOrDefault("RELAY_METRICS_RESET_INTERVAL_MS", time.Hour),
		PubSub:               strings.ToLower(getEnvOrDefault("RELAY_PUBSUB", "none")),
		PubSubURL:            getEnvOrDefault("RELAY_PUBSUB_URL", ""),
		PubSubChannel:        getEnvOrDefault("RELAY_PUBSUB_CHANNEL", "boxoffice_celebrations"),
		JournalDir:           getEnvOrDefault("RELAY_JOURNAL_DIR", ""),
		JournalMaxSizeMB:     getEnvIntOrDefault("RELAY_JOURNAL_MAX_SIZE_MB", 50),
	}

	if path := os.Getenv("RELAY_CONFIG_FILE"); path != "" {
		if err := applyFile(cfg, path); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the relay cannot run with.
func (c *Config) Validate() error {
	if c.BindAddr == "" {
		return fmt.Errorf("config: bind address is required")
	}
	if c.CacheTTL <= 0 {
		return fmt.Errorf("config: cache ttl must be positive")
	}
	if c.HeartbeatInterval <= 0 || c.HeartbeatTimeout < c.HeartbeatInterval {
		return fmt.Errorf("config: heartbeat timeout %s must be at least interval %s", c.HeartbeatTimeout, c.HeartbeatInterval)
	}
	if c.BroadcastBatchSize < 1 {
		return fmt.Errorf("config: broadcast batch size must be at least 1")
	}
	switch c.PubSub {
	case "", "none", "local":
	case "postgres", "nats":
		if c.PubSubURL == "" && c.PubSub == "postgres" {
			return fmt.Errorf("config: RELAY_PUBSUB=postgres needs RELAY_PUBSUB_URL")
		}
	default:
		return fmt.Errorf("config: unknown pubsub backend %q", c.PubSub)
	}
	if c.UpstreamTimeout < time.Second {
		c.UpstreamTimeout = time.Second
	}
	if c.SendBuffer < 1 {
		c.SendBuffer = 1
	}
	if c.JournalMaxSizeMB < 1 {
		c.JournalMaxSizeMB = 1
	}
	return nil
}

// Relay returns the hub settings.
func (c *Config) Relay() relay.Config {
	return relay.Config{
		DefaultMovieID:       c.DefaultMovieID,
		HeartbeatInterval:    c.HeartbeatInterval,
		HeartbeatTimeout:     c.HeartbeatTimeout,
		BatchDebounce:        c.BatchDebounce,
		BroadcastBatchSize:   c.BroadcastBatchSize,
		BroadcastPacing:      c.BroadcastPacing,
		SendBuffer:           c.SendBuffer,
		CelebrationCooldown:  disabledIfZero(c.CelebrationCooldown),
		RefreshInterval:      disabledIfZero(c.RefreshInterval),
		MetricsResetInterval: disabledIfZero(c.MetricsResetInterval),
	}
}

// Admission returns the admission ceilings.
func (c *Config) Admission() admission.Config {
	return admission.Config{
		MaxRequestsPerAddr: c.MaxRequestsPerAddr,
		MaxConnPerAddr:     c.MaxConnPerAddr,
		MaxTotalConn:       c.MaxTotalConn,
	}
}

// A configured 0 means "off"; relay.Config reserves 0 for "default".
func disabledIfZero(d time.Duration) time.Duration {
	if d <= 0 {
		return -1
	}
	return d
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvIntOrDefault(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBoolOrDefault(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvDurationMSOrDefault(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if ms, err := strconv.Atoi(val); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return defaultVal
}
