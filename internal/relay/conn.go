package relay

import (
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// HeartbeatState is where a connection sits in the ping/pong cycle.
type HeartbeatState int

const (
	HeartbeatActive HeartbeatState = iota
	HeartbeatAwaitingPong
	HeartbeatDead
)

func (s HeartbeatState) String() string {
	switch s {
	case HeartbeatActive:
		return "active"
	case HeartbeatAwaitingPong:
		return "awaiting_pong"
	case HeartbeatDead:
		return "dead"
	}
	return "unknown"
}

type stopper interface {
	Stop() bool
}

// Conn is one registered client. Frames are queued on a buffered channel and
// written by a single goroutine; when the buffer is full the frame is dropped.
type Conn struct {
	ID   string
	Addr string

	transport Transport
	admitted  bool
	send      chan []byte
	done      chan struct{}
	closed    atomic.Bool
	lastSeen  atomic.Int64 // unix nanos

	celebrations *rate.Limiter

	mu       sync.Mutex
	key      string
	hbState  HeartbeatState
	hbTimer  stopper
	nextPing time.Time
	pingSent time.Time
	latency  time.Duration
}

func newConn(id, addr string, t Transport, bufSize int, now time.Time) *Conn {
	c := &Conn{
		ID:        id,
		Addr:      addr,
		transport: t,
		send:      make(chan []byte, bufSize),
		done:      make(chan struct{}),
	}
	c.lastSeen.Store(now.UnixNano())
	return c
}

// Key returns the movie id the connection is subscribed to, or "".
func (c *Conn) Key() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.key
}

// Closed reports whether the connection has left the hub.
func (c *Conn) Closed() bool { return c.closed.Load() }

// LastSeen returns when the client was last heard from.
func (c *Conn) LastSeen() time.Time { return time.Unix(0, c.lastSeen.Load()) }

// Heartbeat returns the current heartbeat state.
func (c *Conn) Heartbeat() HeartbeatState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hbState
}

// Latency returns the round trip of the last answered ping, or 0.
func (c *Conn) Latency() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.latency
}

// pong records the round trip to the outstanding ping. It reports false when
// no ping was waiting for an answer.
func (c *Conn) pong(now time.Time) (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pingSent.IsZero() {
		return 0, false
	}
	c.latency = now.Sub(c.pingSent)
	c.pingSent = time.Time{}
	return c.latency, true
}

func (c *Conn) touch(now time.Time) {
	c.lastSeen.Store(now.UnixNano())
	c.mu.Lock()
	if c.hbState == HeartbeatAwaitingPong {
		c.hbState = HeartbeatActive
	}
	c.mu.Unlock()
}

// enqueue hands a frame to the writer without blocking.
func (c *Conn) enqueue(frame []byte) bool {
	if c.closed.Load() {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// writeLoop runs until the connection is closed or a write fails.
func (c *Conn) writeLoop(onError func(error)) {
	for {
		select {
		case <-c.done:
			return
		case frame := <-c.send:
			if err := c.transport.WriteText(frame); err != nil {
				onError(err)
				return
			}
		}
	}
}

// shutdown marks the connection closed exactly once and stops its timer. It
// reports whether this call did the closing.
func (c *Conn) shutdown() bool {
	if !c.closed.CompareAndSwap(false, true) {
		return false
	}
	close(c.done)
	c.mu.Lock()
	if c.hbTimer != nil {
		c.hbTimer.Stop()
		c.hbTimer = nil
	}
	c.hbState = HeartbeatDead
	c.mu.Unlock()
	return true
}
