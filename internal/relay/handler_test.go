package relay

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/dgnsrekt/boxoffice_relay/internal/admission"
	"github.com/dgnsrekt/boxoffice_relay/internal/cache"
	"github.com/dgnsrekt/boxoffice_relay/internal/metrics"
	"github.com/dgnsrekt/boxoffice_relay/internal/protocol"
)

func readEnvelope(t *testing.T, conn net.Conn) protocol.Envelope {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	data, err := wsutil.ReadServerText(conn)
	if err != nil {
		t.Fatalf("ReadServerText() = %v", err)
	}
	env, err := protocol.DecodeEnvelope(data)
	if err != nil {
		t.Fatalf("DecodeEnvelope(%s) = %v", data, err)
	}
	return env
}

func TestServeWSEndToEnd(t *testing.T) {
	p := &countingProvider{}
	limiter := admission.New(admission.Config{MaxRequestsPerAddr: 100, MaxConnPerAddr: 1, MaxTotalConn: 10})
	m := metrics.New()
	h := New(Config{BatchDebounce: 10 * time.Millisecond}, Deps{
		Cache:   cache.New(p, 10*time.Second, 0),
		Limiter: limiter,
		Metrics: m,
	})
	srv := httptest.NewServer(http.HandlerFunc(h.ServeWS))
	t.Cleanup(func() {
		_ = h.Shutdown(context.Background())
		srv.Close()
	})
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, _, err := ws.Dial(ctx, url)
	if err != nil {
		t.Fatalf("Dial() = %v", err)
	}
	defer conn.Close()

	if env := readEnvelope(t, conn); env.Channel != protocol.ChannelStatus || !strings.Contains(string(env.Data), `"connected"`) {
		t.Fatalf("first envelope = %s %s; want connected status", env.Channel, env.Data)
	}

	if err := wsutil.WriteClientText(conn, []byte(`{"type":"init","movieId":"1294273","timestamp":1}`)); err != nil {
		t.Fatalf("WriteClientText() = %v", err)
	}
	if env := readEnvelope(t, conn); env.Channel != protocol.ChannelStatus || !strings.Contains(string(env.Data), `"metrics"`) {
		t.Fatalf("second envelope = %s %s; want metrics status", env.Channel, env.Data)
	}
	env := readEnvelope(t, conn)
	if env.Channel != protocol.ChannelData || string(env.Data) != `{"movieId":"1294273","fetch":1}` {
		t.Fatalf("third envelope = %s %s; want data", env.Channel, env.Data)
	}

	// The per-address ceiling refuses a second socket before the upgrade.
	if _, _, _, err := ws.Dial(ctx, url); err == nil {
		t.Fatal("second Dial() = nil; want rejection")
	}
	if got := m.Snapshot().Rejected; got != 1 {
		t.Fatalf("rejected = %d; want 1", got)
	}

	// A clean client close frees the slot.
	_ = ws.WriteFrame(conn, ws.MaskFrameInPlace(ws.NewCloseFrame(ws.NewCloseFrameBody(ws.StatusNormalClosure, "bye"))))
	deadline := time.Now().Add(3 * time.Second)
	for limiter.Total() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("limiter Total() = %d; want 0 after close", limiter.Total())
		}
		time.Sleep(10 * time.Millisecond)
	}
	if got := h.Registry().Len(); got != 0 {
		t.Fatalf("Registry().Len() = %d; want 0", got)
	}
}
