package relay

import (
	"log/slog"
	"time"

	"github.com/dgnsrekt/boxoffice_relay/internal/protocol"
)

const pingType = "ping"

// armHeartbeat restarts c's heartbeat cycle: the next ping is one interval
// from now. Any previous timer is stopped first, so pings never overlap.
func (h *Hub) armHeartbeat(c *Conn) {
	now := h.now()
	c.mu.Lock()
	c.nextPing = now.Add(h.cfg.HeartbeatInterval)
	c.mu.Unlock()
	h.scheduleHeartbeat(c, now)
}

// scheduleHeartbeat wakes the connection at whichever comes first: its next
// ping or the moment its silence would reach the timeout.
func (h *Hub) scheduleHeartbeat(c *Conn, now time.Time) {
	deadline := c.LastSeen().Add(h.cfg.HeartbeatTimeout)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed.Load() {
		return
	}
	if c.hbTimer != nil {
		c.hbTimer.Stop()
	}
	wake := c.nextPing
	if deadline.Before(wake) {
		wake = deadline
	}
	wait := max(wake.Sub(now), time.Millisecond)
	c.hbTimer = h.afterFunc(wait, func() { h.heartbeatTick(c) })
}

func (h *Hub) heartbeatTick(c *Conn) {
	if c.Closed() {
		return
	}
	now := h.now()
	silence := now.Sub(c.LastSeen())
	if silence >= h.cfg.HeartbeatTimeout {
		slog.Warn("relay heartbeat timeout", "conn_id", c.ID, "addr", c.Addr, "silence", silence)
		h.closeConn(c, protocol.CloseHeartbeatTimeout, "heartbeat timeout")
		return
	}

	c.mu.Lock()
	due := !now.Before(c.nextPing)
	if due {
		c.nextPing = now.Add(h.cfg.HeartbeatInterval)
		c.hbState = HeartbeatAwaitingPong
		c.pingSent = now
	}
	c.mu.Unlock()

	if due {
		h.send(c, protocol.ChannelHeartbeat, protocol.HeartbeatPayload{
			Type:    pingType,
			Metrics: h.metrics.Heartbeat(),
		})
	}
	h.scheduleHeartbeat(c, now)
}
