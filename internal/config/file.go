package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// fileConfig is the YAML overlay. Only keys present in the file override the
// environment.
type fileConfig struct {
	BindAddr           *string  `yaml:"bind_addr"`
	PortCandidates     []string `yaml:"port_candidates"`
	LogLevel           *string  `yaml:"log_level"`
	LogFile            *string  `yaml:"log_file"`
	UpstreamURL        *string  `yaml:"upstream_url"`
	UpstreamTimeoutMS  *int     `yaml:"upstream_timeout_ms"`
	DefaultMovieID     *string  `yaml:"default_movie_id"`
	CacheTTLMS         *int     `yaml:"cache_ttl_ms"`
	CacheMaxItems      *int     `yaml:"cache_max_items"`
	BatchDebounceMS    *int     `yaml:"batch_debounce_ms"`
	RefreshIntervalMS  *int     `yaml:"refresh_interval_ms"`
	HeartbeatInterval  *int     `yaml:"heartbeat_interval_ms"`
	HeartbeatTimeout   *int     `yaml:"heartbeat_timeout_ms"`
	MaxRequestsPerAddr *int     `yaml:"max_requests_per_addr"`
	MaxConnPerAddr     *int     `yaml:"max_conn_per_addr"`
	MaxTotalConn       *int     `yaml:"max_total_conn"`
	BroadcastBatchSize *int     `yaml:"broadcast_batch_size"`
	BroadcastPacingMS  *int     `yaml:"broadcast_pacing_ms"`
	SendBuffer         *int     `yaml:"send_buffer"`
	CelebrationCooldMS *int     `yaml:"celebration_cooldown_ms"`
	MetricsResetMS     *int     `yaml:"metrics_reset_interval_ms"`
	PubSub             *string  `yaml:"pubsub"`
	PubSubURL          *string  `yaml:"pubsub_url"`
	PubSubChannel      *string  `yaml:"pubsub_channel"`
	JournalDir         *string  `yaml:"journal_dir"`
	JournalMaxSizeMB   *int     `yaml:"journal_max_size_mb"`
}

// applyFile reads a YAML config file and overlays it on cfg.
func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("relay config: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("relay config: %w", err)
	}

	setString(&cfg.BindAddr, fc.BindAddr)
	if len(fc.PortCandidates) > 0 {
		cfg.PortCandidates = fc.PortCandidates
	}
	setString(&cfg.LogLevel, fc.LogLevel)
	setString(&cfg.LogFile, fc.LogFile)
	setString(&cfg.UpstreamURL, fc.UpstreamURL)
	setMS(&cfg.UpstreamTimeout, fc.UpstreamTimeoutMS)
	setString(&cfg.DefaultMovieID, fc.DefaultMovieID)
	setMS(&cfg.CacheTTL, fc.CacheTTLMS)
	setInt(&cfg.CacheMaxItems, fc.CacheMaxItems)
	setMS(&cfg.BatchDebounce, fc.BatchDebounceMS)
	setMS(&cfg.RefreshInterval, fc.RefreshIntervalMS)
	setMS(&cfg.HeartbeatInterval, fc.HeartbeatInterval)
	setMS(&cfg.HeartbeatTimeout, fc.HeartbeatTimeout)
	setInt(&cfg.MaxRequestsPerAddr, fc.MaxRequestsPerAddr)
	setInt(&cfg.MaxConnPerAddr, fc.MaxConnPerAddr)
	setInt(&cfg.MaxTotalConn, fc.MaxTotalConn)
	setInt(&cfg.BroadcastBatchSize, fc.BroadcastBatchSize)
	setMS(&cfg.BroadcastPacing, fc.BroadcastPacingMS)
	setInt(&cfg.SendBuffer, fc.SendBuffer)
	setMS(&cfg.CelebrationCooldown, fc.CelebrationCooldMS)
	setMS(&cfg.MetricsResetInterval, fc.MetricsResetMS)
	setString(&cfg.PubSub, fc.PubSub)
	setString(&cfg.PubSubURL, fc.PubSubURL)
	setString(&cfg.PubSubChannel, fc.PubSubChannel)
	setString(&cfg.JournalDir, fc.JournalDir)
	setInt(&cfg.JournalMaxSizeMB, fc.JournalMaxSizeMB)
	return nil
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setMS(dst *time.Duration, v *int) {
	if v != nil {
		*dst = time.Duration(*v) * time.Millisecond
	}
}
