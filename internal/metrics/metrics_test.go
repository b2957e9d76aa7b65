package metrics

import (
	"testing"
	"time"

	"github.com/dgnsrekt/boxoffice_relay/internal/protocol"
)

func TestCountersAndSnapshot(t *testing.T) {
	m := New()
	m.now = func() time.Time { return time.UnixMilli(1700000000000) }

	m.ConnOpened()
	m.ConnOpened()
	m.ConnClosed()
	m.Sent(protocol.ChannelData, 3)
	m.Sent(protocol.ChannelData, 0)
	m.Received(protocol.ChannelHeartbeat)
	m.Error(protocol.ChannelError)
	m.Dropped(protocol.ChannelCelebration)
	m.Rejected()
	m.Sent(protocol.Channel("bogus"), 5)

	s := m.Snapshot()
	if s.Active != 1 || s.Total != 2 || s.Rejected != 1 {
		t.Fatalf("Snapshot() active=%d total=%d rejected=%d; want 1, 2, 1", s.Active, s.Total, s.Rejected)
	}
	if got := s.Channels["data"].Sent; got != 3 {
		t.Fatalf("data sent = %d; want 3", got)
	}
	if got := s.Channels["heartbeat"].Received; got != 1 {
		t.Fatalf("heartbeat received = %d; want 1", got)
	}
	if got := s.Channels["celebration"].Dropped; got != 1 {
		t.Fatalf("celebration dropped = %d; want 1", got)
	}
	if _, ok := s.Channels["bogus"]; ok {
		t.Fatal("unknown channel should not be tracked")
	}

	hb := m.Heartbeat()
	if hb.Active != 1 || hb.Total != 2 || hb.Timestamp != 1700000000000 {
		t.Fatalf("Heartbeat() = %+v", hb)
	}
}

func TestResetKeepsActive(t *testing.T) {
	m := New()
	for i := 0; i < 5; i++ {
		m.ConnOpened()
	}
	m.ConnClosed()
	m.ConnClosed()
	m.Sent(protocol.ChannelStatus, 10)
	m.Rejected()

	m.Reset()
	s := m.Snapshot()
	if s.Active != 3 || s.Total != 3 {
		t.Fatalf("after Reset active=%d total=%d; want 3, 3", s.Active, s.Total)
	}
	if s.Rejected != 0 || s.Channels["status"].Sent != 0 {
		t.Fatalf("after Reset counters = %+v", s)
	}
}

func TestPongLatency(t *testing.T) {
	m := New()
	if lat := m.Snapshot().Latency; lat != (LatencyStats{}) {
		t.Fatalf("initial Latency = %+v; want zero", lat)
	}

	m.PongLatency(100 * time.Millisecond)
	m.PongLatency(300 * time.Millisecond)
	m.PongLatency(200 * time.Millisecond)

	want := LatencyStats{Samples: 3, LastMS: 200, AvgMS: 200, MaxMS: 300}
	if got := m.Snapshot().Latency; got != want {
		t.Fatalf("Latency = %+v; want %+v", got, want)
	}

	m.Reset()
	if got := m.Snapshot().Latency; got != (LatencyStats{}) {
		t.Fatalf("Latency after Reset = %+v; want zero", got)
	}
}

func TestConnClosedNeverNegative(t *testing.T) {
	m := New()
	m.ConnClosed()
	if got := m.Active(); got != 0 {
		t.Fatalf("Active() = %d; want 0", got)
	}
}

func TestProcessSampler(t *testing.T) {
	p, err := NewProcessSampler()
	if err != nil {
		t.Skipf("process stats unavailable: %v", err)
	}
	s := p.Sample()
	if s.Goroutines < 1 {
		t.Fatalf("Goroutines = %d; want >= 1", s.Goroutines)
	}

	var nilSampler *ProcessSampler
	if got := nilSampler.Sample(); got.RSSBytes != 0 {
		t.Fatalf("nil sampler RSSBytes = %d; want 0", got.RSSBytes)
	}
}
