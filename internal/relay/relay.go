// Package relay is the realtime side of the box-office relay: it registers
// websocket clients, resolves their subscriptions through the batch
// scheduler, pushes data and celebrations to them, and drops clients that
// stop answering heartbeats.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/dgnsrekt/boxoffice_relay/internal/admission"
	"github.com/dgnsrekt/boxoffice_relay/internal/batch"
	"github.com/dgnsrekt/boxoffice_relay/internal/cache"
	"github.com/dgnsrekt/boxoffice_relay/internal/metrics"
	"github.com/dgnsrekt/boxoffice_relay/internal/protocol"
	"github.com/dgnsrekt/boxoffice_relay/internal/pubsub"
)

// ErrShuttingDown is returned by Register once Shutdown has begun.
var ErrShuttingDown = errors.New("relay: shutting down")

// Recorder receives one record per accepted celebration.
type Recorder interface {
	Write(record any) error
}

// Deps are the shared components a hub is built on. Limiter, Bus and
// Journal may be nil.
type Deps struct {
	Cache   *cache.Cache
	Limiter *admission.Limiter
	Metrics *metrics.Metrics
	Bus     pubsub.Bus
	Journal Recorder
}

// Hub owns every live connection.
type Hub struct {
	cfg        Config
	instanceID string

	cache     *cache.Cache
	limiter   *admission.Limiter
	metrics   *metrics.Metrics
	bus       pubsub.Bus
	journal   Recorder
	registry  *Registry
	scheduler *batch.Scheduler
	bcast     *Broadcaster

	now       func() time.Time
	afterFunc func(time.Duration, func()) stopper

	ctx      context.Context
	cancel   context.CancelFunc
	closing  atomic.Bool
	trackMu  sync.Mutex
	inflight sync.WaitGroup
}

// New builds a hub. Cache and Metrics are required.
func New(cfg Config, deps Deps) *Hub {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		cfg:        cfg,
		instanceID: uuid.NewString(),
		cache:      deps.Cache,
		limiter:    deps.Limiter,
		metrics:    deps.Metrics,
		bus:        deps.Bus,
		journal:    deps.Journal,
		registry:   NewRegistry(),
		now:        time.Now,
		afterFunc: func(d time.Duration, f func()) stopper {
			return time.AfterFunc(d, f)
		},
		ctx:    ctx,
		cancel: cancel,
	}
	h.scheduler = batch.New(deps.Cache, h.deliver, cfg.BatchDebounce)
	h.bcast = NewBroadcaster(cfg.BroadcastBatchSize, cfg.BroadcastPacing, deps.Metrics, func(c *Conn) {
		h.Unregister(c, "closed before delivery")
	})
	return h
}

// InstanceID identifies this hub on the celebration bus.
func (h *Hub) InstanceID() string { return h.instanceID }

// Registry exposes the connection index.
func (h *Hub) Registry() *Registry { return h.registry }

// Scheduler exposes the batch scheduler.
func (h *Hub) Scheduler() *batch.Scheduler { return h.scheduler }

// Register adds a connection that has already passed admission when admitted
// is true; its slot is released on Unregister. It greets the client with a
// connected status.
func (h *Hub) Register(t Transport, addr string, admitted bool) (*Conn, error) {
	if h.closing.Load() {
		return nil, ErrShuttingDown
	}
	c := newConn(uuid.NewString(), addr, t, h.cfg.SendBuffer, h.now())
	c.admitted = admitted
	if h.cfg.CelebrationCooldown > 0 {
		c.celebrations = rate.NewLimiter(rate.Every(h.cfg.CelebrationCooldown), 1)
	}

	h.registry.Add(c)
	h.metrics.ConnOpened()
	if h.closing.Load() {
		h.closeConn(c, protocol.CloseServiceRestart, "server shutting down")
		return nil, ErrShuttingDown
	}
	go c.writeLoop(func(err error) {
		slog.Debug("relay write failed", "conn_id", c.ID, "error", err)
		h.Unregister(c, "write failed")
	})
	h.armHeartbeat(c)

	slog.Info("relay client connected", "conn_id", c.ID, "addr", addr, "active", h.metrics.Active())
	h.sendStatus(c, protocol.StatusPayload{Status: protocol.StatusConnected})
	return c, nil
}

// Unregister removes c from every index, cancels its heartbeat and pending
// subscription, releases its admission slot and closes the transport with a
// normal close. It is safe to call more than once.
func (h *Hub) Unregister(c *Conn, reason string) {
	h.closeConn(c, protocol.CloseNormal, reason)
}

func (h *Hub) closeConn(c *Conn, code int, reason string) {
	if !c.shutdown() {
		return
	}
	key := h.registry.Remove(c)
	if key != "" {
		h.scheduler.Cancel(key, c.ID)
	}
	if c.admitted && h.limiter != nil {
		h.limiter.ReleaseConn(c.Addr)
	}
	h.metrics.ConnClosed()
	if code != protocol.CloseNormal {
		h.sendFinal(c, reason)
	}
	if err := c.transport.Close(code, reason); err != nil {
		slog.Debug("relay close failed", "conn_id", c.ID, "error", err)
	}
	slog.Info("relay client disconnected", "conn_id", c.ID, "addr", c.Addr, "code", code, "reason", reason, "active", h.metrics.Active())
}

// HandleMessage processes one client frame. Any frame counts as liveness.
func (h *Hub) HandleMessage(c *Conn, raw []byte) {
	if c.Closed() {
		return
	}
	now := h.now()
	c.touch(now)

	msg, err := protocol.DecodeClientMessage(raw)
	if err != nil {
		h.sendError(c, err)
		return
	}

	switch msg.Type {
	case protocol.TypePong:
		h.metrics.Received(protocol.ChannelHeartbeat)
		if rtt, ok := c.pong(now); ok {
			h.metrics.PongLatency(rtt)
		}
	case protocol.TypeInit:
		h.metrics.Received(protocol.ChannelData)
		h.subscribe(c, string(msg.MovieID))
	case protocol.TypeCelebration:
		h.metrics.Received(protocol.ChannelCelebration)
		key := string(msg.MovieID)
		if key == "" {
			key = c.Key()
		}
		if err := h.Celebrate(h.ctx, key, c); err != nil {
			h.sendError(c, err)
		}
	}
}

func (h *Hub) subscribe(c *Conn, key string) {
	if key == "" {
		key = h.cfg.DefaultMovieID
	}
	if key == "" {
		h.sendError(c, protocol.NewError(protocol.CodeMissingMovieID, "init requires movieId", nil))
		return
	}

	prev, ok := h.registry.SetKey(c, key)
	if !ok {
		return
	}
	if prev != "" && prev != key {
		h.scheduler.Cancel(prev, c.ID)
	}
	if err := h.scheduler.Subscribe(key, c.ID); err != nil {
		h.sendError(c, err)
		return
	}
	h.armHeartbeat(c)

	snap := h.metrics.Heartbeat()
	h.sendStatus(c, protocol.StatusPayload{
		Status:      protocol.StatusMetrics,
		Connections: snap.Active,
		Metrics:     &snap,
	})
	slog.Debug("relay client subscribed", "conn_id", c.ID, "movie_id", key, "previous", prev)
}

// deliver is the batch scheduler's flush target.
func (h *Hub) deliver(ctx context.Context, key string, entry cache.Entry, waiters []string) {
	recipients := make([]*Conn, 0, len(waiters))
	for _, id := range waiters {
		c, ok := h.registry.Get(id)
		if !ok || c.Key() != key {
			continue
		}
		recipients = append(recipients, c)
	}
	if len(recipients) == 0 {
		return
	}
	h.push(ctx, key, entry, recipients)
}

// push fans entry out to recipients. It reports false when ctx ended the
// broadcast.
func (h *Hub) push(ctx context.Context, key string, entry cache.Entry, recipients []*Conn) bool {
	envs, err := h.entryEnvelopes(entry)
	if err != nil {
		slog.Error("relay encode payload failed", "movie_id", key, "error", err)
		return true
	}
	for _, env := range envs {
		if _, err := h.bcast.Broadcast(ctx, env, recipients); err != nil {
			slog.Warn("relay broadcast interrupted", "movie_id", key, "error", err)
			return false
		}
	}
	return true
}

// entryEnvelopes maps a cache entry to its data envelope. An entry that
// records an upstream failure still goes out on the data channel with the
// cached error payload, followed by a coded error envelope.
func (h *Hub) entryEnvelopes(entry cache.Entry) ([]protocol.Envelope, error) {
	data, err := protocol.NewEnvelope(protocol.ChannelData, entry.Payload, h.now())
	if err != nil {
		return nil, err
	}
	if !entry.Failed {
		return []protocol.Envelope{data}, nil
	}
	var failure struct {
		Message string `json:"message"`
	}
	_ = json.Unmarshal(entry.Payload, &failure)
	coded, err := protocol.NewEnvelope(protocol.ChannelError, protocol.ErrorPayload{
		Code:    protocol.CodeUpstream,
		Message: failure.Message,
	}, h.now())
	if err != nil {
		return nil, err
	}
	return []protocol.Envelope{data, coded}, nil
}

// Broadcast sends env to recipients through the paced fan-out.
func (h *Hub) Broadcast(ctx context.Context, env protocol.Envelope, recipients []*Conn) (int, error) {
	return h.bcast.Broadcast(ctx, env, recipients)
}

// Refresh pushes a cache-aware load of every subscribed key to its
// subscribers. One load per key.
func (h *Hub) Refresh(ctx context.Context) {
	for _, key := range h.registry.Keys() {
		if ctx.Err() != nil {
			return
		}
		entry, _ := h.cache.Load(ctx, key)
		if !h.push(ctx, key, entry, h.registry.Subscribers(key)) {
			return
		}
	}
}

// Run drives the periodic work: key refresh, metrics reset, admission
// pruning and the celebration bus. It returns when ctx is done.
func (h *Hub) Run(ctx context.Context) error {
	if h.bus != nil {
		if err := h.bus.Subscribe(ctx, h.onRemoteCelebration); err != nil {
			return fmt.Errorf("relay: subscribe celebrations: %w", err)
		}
	}

	refresh := newTicker(h.cfg.RefreshInterval)
	defer refresh.Stop()
	reset := newTicker(h.cfg.MetricsResetInterval)
	defer reset.Stop()
	prune := newTicker(h.cfg.PruneInterval)
	defer prune.Stop()

	slog.Info("relay hub running", "instance_id", h.instanceID, "refresh", h.cfg.RefreshInterval, "heartbeat", h.cfg.HeartbeatInterval)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-refresh.C:
			h.Refresh(ctx)
		case <-reset.C:
			h.metrics.Reset()
			slog.Debug("relay metrics reset")
		case <-prune.C:
			if h.limiter != nil {
				if n := h.limiter.Prune(); n > 0 {
					slog.Debug("admission pruned idle addresses", "count", n)
				}
			}
		}
	}
}

// Shutdown closes every connection with the service-restart code so clients
// reconnect to the next instance, then waits for in-flight fan-outs.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.trackMu.Lock()
	first := h.closing.CompareAndSwap(false, true)
	h.trackMu.Unlock()
	if !first {
		return nil
	}
	h.scheduler.Close()
	for _, c := range h.registry.All() {
		h.closeConn(c, protocol.CloseServiceRestart, "server shutting down")
	}
	h.cancel()

	done := make(chan struct{})
	go func() {
		h.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// goTracked runs f on its own goroutine unless the hub is shutting down.
// Shutdown waits for every tracked goroutine.
func (h *Hub) goTracked(f func()) bool {
	h.trackMu.Lock()
	defer h.trackMu.Unlock()
	if h.closing.Load() {
		return false
	}
	h.inflight.Add(1)
	go func() {
		defer h.inflight.Done()
		f()
	}()
	return true
}

func (h *Hub) send(c *Conn, ch protocol.Channel, data any) {
	env, err := protocol.NewEnvelope(ch, data, h.now())
	if err != nil {
		slog.Error("relay encode failed", "channel", ch, "error", err)
		return
	}
	frame, err := protocol.Encode(env)
	if err != nil {
		slog.Error("relay encode failed", "channel", ch, "error", err)
		return
	}
	if !c.enqueue(frame) {
		h.metrics.Dropped(ch)
		return
	}
	h.metrics.Sent(ch, 1)
}

func (h *Hub) sendStatus(c *Conn, p protocol.StatusPayload) {
	h.send(c, protocol.ChannelStatus, p)
}

// sendFinal writes a disconnected status straight to the transport. The
// writer goroutine has already stopped, so the send queue is bypassed.
func (h *Hub) sendFinal(c *Conn, reason string) {
	env, err := protocol.NewEnvelope(protocol.ChannelStatus, protocol.StatusPayload{
		Status: protocol.StatusDisconnected,
		Reason: reason,
	}, h.now())
	if err != nil {
		return
	}
	frame, err := protocol.Encode(env)
	if err != nil {
		return
	}
	if err := c.transport.WriteText(frame); err != nil {
		slog.Debug("relay final status failed", "conn_id", c.ID, "error", err)
		return
	}
	h.metrics.Sent(protocol.ChannelStatus, 1)
}

func (h *Hub) sendError(c *Conn, err error) {
	h.metrics.Error(protocol.ChannelError)
	h.send(c, protocol.ChannelError, protocol.ErrorPayloadFrom(err))
}

// ticker wraps time.Ticker so a non-positive period yields a channel that
// never fires.
type ticker struct {
	C <-chan time.Time
	t *time.Ticker
}

func newTicker(d time.Duration) ticker {
	if d <= 0 {
		return ticker{C: make(chan time.Time)}
	}
	t := time.NewTicker(d)
	return ticker{C: t.C, t: t}
}

func (t ticker) Stop() {
	if t.t != nil {
		t.t.Stop()
	}
}
