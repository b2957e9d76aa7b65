package relay

import (
	"fmt"
	"time"
)

// Config tunes the hub. Zero fields take the DefaultConfig value, except
// DefaultMovieID and BroadcastPacing where zero means none.
type Config struct {
	DefaultMovieID string

	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration

	BatchDebounce      time.Duration
	BroadcastBatchSize int
	BroadcastPacing    time.Duration

	SendBuffer   int
	WriteTimeout time.Duration

	// CelebrationCooldown is the minimum gap between two celebrations from
	// one connection; a negative value disables the check.
	CelebrationCooldown time.Duration

	// RefreshInterval re-pushes every subscribed key; a negative value
	// disables the loop.
	RefreshInterval      time.Duration
	MetricsResetInterval time.Duration
	PruneInterval        time.Duration
}

// DefaultConfig returns the stock timings.
func DefaultConfig() Config {
	return Config{
		DefaultMovieID:       "1294273",
		HeartbeatInterval:    30 * time.Second,
		HeartbeatTimeout:     35 * time.Second,
		BatchDebounce:        100 * time.Millisecond,
		BroadcastBatchSize:   1000,
		BroadcastPacing:      100 * time.Millisecond,
		SendBuffer:           256,
		WriteTimeout:         10 * time.Second,
		CelebrationCooldown:  3 * time.Second,
		RefreshInterval:      10 * time.Second,
		MetricsResetInterval: time.Hour,
		PruneInterval:        time.Minute,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = d.HeartbeatInterval
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = d.HeartbeatTimeout
	}
	if c.BatchDebounce <= 0 {
		c.BatchDebounce = d.BatchDebounce
	}
	if c.BroadcastBatchSize <= 0 {
		c.BroadcastBatchSize = d.BroadcastBatchSize
	}
	if c.BroadcastPacing < 0 {
		c.BroadcastPacing = 0
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = d.SendBuffer
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.CelebrationCooldown == 0 {
		c.CelebrationCooldown = d.CelebrationCooldown
	}
	if c.RefreshInterval == 0 {
		c.RefreshInterval = d.RefreshInterval
	}
	if c.MetricsResetInterval == 0 {
		c.MetricsResetInterval = d.MetricsResetInterval
	}
	if c.PruneInterval <= 0 {
		c.PruneInterval = d.PruneInterval
	}
	return c
}

// Validate rejects timings the heartbeat state machine cannot honor.
func (c Config) Validate() error {
	c = c.withDefaults()
	if c.HeartbeatTimeout < c.HeartbeatInterval {
		return fmt.Errorf("relay config: heartbeat timeout %s shorter than interval %s", c.HeartbeatTimeout, c.HeartbeatInterval)
	}
	return nil
}
