// Package metrics keeps the relay's process-wide counters.
package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgnsrekt/boxoffice_relay/internal/protocol"
)

var channels = []protocol.Channel{
	protocol.ChannelHeartbeat,
	protocol.ChannelData,
	protocol.ChannelError,
	protocol.ChannelStatus,
	protocol.ChannelCelebration,
}

type channelCounters struct {
	sent     atomic.Uint64
	received atomic.Uint64
	errors   atomic.Uint64
	dropped  atomic.Uint64
}

// ChannelStats is the read-out for one channel.
type ChannelStats struct {
	Sent     uint64 `json:"sent"`
	Received uint64 `json:"received"`
	Errors   uint64 `json:"errors"`
	Dropped  uint64 `json:"dropped"`
}

// LatencyStats summarizes ping round trips since the last reset.
type LatencyStats struct {
	Samples uint64 `json:"samples"`
	LastMS  int64  `json:"lastMs"`
	AvgMS   int64  `json:"avgMs"`
	MaxMS   int64  `json:"maxMs"`
}

// Snapshot is a point-in-time copy of every counter.
type Snapshot struct {
	Active    int64                   `json:"active"`
	Total     int64                   `json:"total"`
	Rejected  uint64                  `json:"rejected"`
	Channels  map[string]ChannelStats `json:"channels"`
	Latency   LatencyStats            `json:"latency"`
	Since     time.Time               `json:"since"`
	Timestamp time.Time               `json:"timestamp"`
}

// Metrics is safe for concurrent use. The zero value is not usable; call New.
type Metrics struct {
	now func() time.Time

	active   atomic.Int64
	total    atomic.Int64
	rejected atomic.Uint64
	byChan   map[protocol.Channel]*channelCounters

	mu      sync.Mutex
	since   time.Time
	latency struct {
		samples uint64
		last    time.Duration
		sum     time.Duration
		max     time.Duration
	}
}

func New() *Metrics {
	m := &Metrics{
		now:    time.Now,
		byChan: make(map[protocol.Channel]*channelCounters, len(channels)),
	}
	for _, ch := range channels {
		m.byChan[ch] = &channelCounters{}
	}
	m.since = m.now()
	return m
}

// ConnOpened counts a new live connection.
func (m *Metrics) ConnOpened() {
	m.active.Add(1)
	m.total.Add(1)
}

// ConnClosed counts a connection leaving.
func (m *Metrics) ConnClosed() {
	if m.active.Add(-1) < 0 {
		m.active.Store(0)
	}
}

// Rejected counts a refused upgrade or poll.
func (m *Metrics) Rejected() { m.rejected.Add(1) }

func (m *Metrics) Sent(ch protocol.Channel, n int) {
	if c, ok := m.byChan[ch]; ok && n > 0 {
		c.sent.Add(uint64(n))
	}
}

func (m *Metrics) Received(ch protocol.Channel) {
	if c, ok := m.byChan[ch]; ok {
		c.received.Add(1)
	}
}

func (m *Metrics) Error(ch protocol.Channel) {
	if c, ok := m.byChan[ch]; ok {
		c.errors.Add(1)
	}
}

// Dropped counts messages discarded because a connection's send buffer was full.
func (m *Metrics) Dropped(ch protocol.Channel) {
	if c, ok := m.byChan[ch]; ok {
		c.dropped.Add(1)
	}
}

// PongLatency records the round trip of one answered ping.
func (m *Metrics) PongLatency(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latency.samples++
	m.latency.last = d
	m.latency.sum += d
	m.latency.max = max(m.latency.max, d)
}

// Active returns the live connection count.
func (m *Metrics) Active() int64 { return m.active.Load() }

// Heartbeat returns the compact snapshot attached to pings and status messages.
func (m *Metrics) Heartbeat() protocol.MetricsSnapshot {
	return protocol.MetricsSnapshot{
		Active:    m.active.Load(),
		Total:     m.total.Load(),
		Timestamp: m.now().UnixMilli(),
	}
}

// Snapshot copies every counter.
func (m *Metrics) Snapshot() Snapshot {
	m.mu.Lock()
	since := m.since
	lat := LatencyStats{
		Samples: m.latency.samples,
		LastMS:  m.latency.last.Milliseconds(),
		MaxMS:   m.latency.max.Milliseconds(),
	}
	if m.latency.samples > 0 {
		lat.AvgMS = (m.latency.sum / time.Duration(m.latency.samples)).Milliseconds()
	}
	m.mu.Unlock()

	s := Snapshot{
		Active:    m.active.Load(),
		Total:     m.total.Load(),
		Rejected:  m.rejected.Load(),
		Channels:  make(map[string]ChannelStats, len(m.byChan)),
		Latency:   lat,
		Since:     since,
		Timestamp: m.now(),
	}
	for ch, c := range m.byChan {
		s.Channels[string(ch)] = ChannelStats{
			Sent:     c.sent.Load(),
			Received: c.received.Load(),
			Errors:   c.errors.Load(),
			Dropped:  c.dropped.Load(),
		}
	}
	return s
}

// Reset zeroes the per-channel, rejection and latency counters and rebases the
// cumulative connection total on the live count. Active is never reset.
func (m *Metrics) Reset() {
	for _, c := range m.byChan {
		c.sent.Store(0)
		c.received.Store(0)
		c.errors.Store(0)
		c.dropped.Store(0)
	}
	m.rejected.Store(0)
	m.total.Store(m.active.Load())

	m.mu.Lock()
	m.since = m.now()
	m.latency.samples, m.latency.last, m.latency.sum, m.latency.max = 0, 0, 0, 0
	m.mu.Unlock()
}
