package relay

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/dgnsrekt/boxoffice_relay/internal/admission"
	"github.com/dgnsrekt/boxoffice_relay/internal/netutil"
	"github.com/dgnsrekt/boxoffice_relay/internal/protocol"
)

// ServeWS admits, upgrades and serves one websocket client. Admission runs
// before the upgrade; a refused client gets a plain 429 and no connection
// state is created.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	addr := netutil.ClientAddr(r)
	admitted := false
	if h.limiter != nil {
		if err := h.limiter.AcquireConn(addr); err != nil {
			h.metrics.Rejected()
			admission.WriteRejection(w, err)
			return
		}
		admitted = true
	}
	release := func() {
		if admitted {
			h.limiter.ReleaseConn(addr)
		}
	}

	if h.closing.Load() {
		release()
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	netConn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		release()
		slog.Debug("relay upgrade failed", "addr", addr, "error", err)
		return
	}

	c, err := h.Register(newWSTransport(netConn, h.cfg.WriteTimeout), addr, admitted)
	if err != nil {
		release()
		body := ws.NewCloseFrameBody(ws.StatusCode(protocol.CloseServiceRestart), err.Error())
		_ = ws.WriteFrame(netConn, ws.NewCloseFrame(body))
		_ = netConn.Close()
		return
	}
	h.readLoop(c, netConn)
}

// readLoop feeds client frames to HandleMessage until the socket ends.
// Control frames are answered by wsutil.
func (h *Hub) readLoop(c *Conn, conn net.Conn) {
	for {
		data, op, err := wsutil.ReadClientData(conn)
		if err != nil {
			h.Unregister(c, readCloseReason(err))
			return
		}
		if op != ws.OpText && op != ws.OpBinary {
			continue
		}
		h.HandleMessage(c, data)
	}
}

func readCloseReason(err error) string {
	var closed wsutil.ClosedError
	if errors.As(err, &closed) {
		return "client closed"
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return "connection lost"
	}
	return "read error"
}
