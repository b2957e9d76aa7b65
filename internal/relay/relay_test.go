package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dgnsrekt/boxoffice_relay/internal/admission"
	"github.com/dgnsrekt/boxoffice_relay/internal/cache"
	"github.com/dgnsrekt/boxoffice_relay/internal/metrics"
	"github.com/dgnsrekt/boxoffice_relay/internal/protocol"
	"github.com/dgnsrekt/boxoffice_relay/internal/pubsub"
)

type fakeTransport struct {
	mu          sync.Mutex
	frames      [][]byte
	closed      bool
	closeCode   int
	closeReason string
}

func (f *fakeTransport) WriteText(frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return fmt.Errorf("transport closed")
	}
	f.frames = append(f.frames, append([]byte(nil), frame...))
	return nil
}

func (f *fakeTransport) Close(code int, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		f.closeCode = code
		f.closeReason = reason
	}
	return nil
}

func (f *fakeTransport) closedWith() (bool, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed, f.closeCode
}

func (f *fakeTransport) envelopes(t *testing.T) []protocol.Envelope {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]protocol.Envelope, 0, len(f.frames))
	for _, b := range f.frames {
		env, err := protocol.DecodeEnvelope(b)
		if err != nil {
			t.Fatalf("DecodeEnvelope(%s) = %v", b, err)
		}
		out = append(out, env)
	}
	return out
}

func (f *fakeTransport) onChannel(t *testing.T, ch protocol.Channel) []protocol.Envelope {
	t.Helper()
	var out []protocol.Envelope
	for _, env := range f.envelopes(t) {
		if env.Channel == ch {
			out = append(out, env)
		}
	}
	return out
}

// waitChannel polls until n envelopes on ch have been written.
func (f *fakeTransport) waitChannel(t *testing.T, ch protocol.Channel, n int) []protocol.Envelope {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		got := f.onChannel(t, ch)
		if len(got) >= n {
			return got
		}
		if time.Now().After(deadline) {
			t.Fatalf("got %d %s envelopes; want %d", len(got), ch, n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fakeTimer struct {
	mu      sync.Mutex
	d       time.Duration
	f       func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	was := !t.stopped
	t.stopped = true
	return was
}

type fakeTimers struct {
	mu   sync.Mutex
	list []*fakeTimer
}

func (ft *fakeTimers) afterFunc(d time.Duration, f func()) stopper {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	t := &fakeTimer{d: d, f: f}
	ft.list = append(ft.list, t)
	return t
}

func (ft *fakeTimers) last() *fakeTimer {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	return ft.list[len(ft.list)-1]
}

type countingProvider struct {
	mu    sync.Mutex
	calls int
}

func (p *countingProvider) Fetch(_ context.Context, movieID string) (json.RawMessage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return json.RawMessage(fmt.Sprintf(`{"movieId":%q,"fetch":%d}`, movieID, p.calls)), nil
}

func (p *countingProvider) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type testHub struct {
	*Hub
	clock    *fakeClock
	timers   *fakeTimers
	provider *countingProvider
}

func newTestHub(t *testing.T, cfg Config, deps Deps) *testHub {
	t.Helper()
	p := &countingProvider{}
	if deps.Cache == nil {
		deps.Cache = cache.New(p, 10*time.Second, 0)
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	if cfg.BatchDebounce == 0 {
		cfg.BatchDebounce = time.Hour
	}
	h := New(cfg, deps)
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	timers := &fakeTimers{}
	h.now = clock.now
	h.afterFunc = timers.afterFunc
	t.Cleanup(func() { _ = h.Shutdown(context.Background()) })
	return &testHub{Hub: h, clock: clock, timers: timers, provider: p}
}

func (h *testHub) connect(t *testing.T, addr string) (*Conn, *fakeTransport) {
	t.Helper()
	ft := &fakeTransport{}
	c, err := h.Register(ft, addr, false)
	if err != nil {
		t.Fatalf("Register() = %v", err)
	}
	return c, ft
}

func TestRegisterSendsConnectedStatus(t *testing.T) {
	h := newTestHub(t, Config{}, Deps{})
	_, ft := h.connect(t, "1.1.1.1")

	env := ft.waitChannel(t, protocol.ChannelStatus, 1)[0]
	var st protocol.StatusPayload
	if err := json.Unmarshal(env.Data, &st); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if st.Status != protocol.StatusConnected {
		t.Fatalf("status = %q; want connected", st.Status)
	}
	if got := h.metrics.Active(); got != 1 {
		t.Fatalf("Active() = %d; want 1", got)
	}
}

func TestInitSubscribersShareOneFetch(t *testing.T) {
	h := newTestHub(t, Config{}, Deps{})

	var transports []*fakeTransport
	for i := 0; i < 5; i++ {
		c, ft := h.connect(t, fmt.Sprintf("10.0.0.%d", i))
		h.HandleMessage(c, []byte(`{"type":"init","movieId":"1294273","timestamp":1}`))
		transports = append(transports, ft)
	}
	if got := h.Scheduler().Pending("1294273"); got != 5 {
		t.Fatalf("Pending() = %d; want 5", got)
	}

	h.Scheduler().Flush("1294273")
	if got := h.provider.count(); got != 1 {
		t.Fatalf("provider calls = %d; want 1", got)
	}
	for i, ft := range transports {
		env := ft.waitChannel(t, protocol.ChannelData, 1)[0]
		if string(env.Data) != `{"movieId":"1294273","fetch":1}` {
			t.Fatalf("conn %d data = %s", i, env.Data)
		}
	}

	// A later subscriber inside the TTL is served from cache.
	c, ft := h.connect(t, "10.0.0.9")
	h.HandleMessage(c, []byte(`{"type":"init","movieId":1294273}`))
	h.Scheduler().Flush("1294273")
	ft.waitChannel(t, protocol.ChannelData, 1)
	if got := h.provider.count(); got != 1 {
		t.Fatalf("provider calls after cached init = %d; want 1", got)
	}
}

func TestInitWithoutMovieIDUsesDefault(t *testing.T) {
	h := newTestHub(t, Config{DefaultMovieID: "42"}, Deps{})
	c, ft := h.connect(t, "1.1.1.1")
	h.HandleMessage(c, []byte(`{"type":"init"}`))
	if got := c.Key(); got != "42" {
		t.Fatalf("Key() = %q; want 42", got)
	}
	statuses := ft.waitChannel(t, protocol.ChannelStatus, 2)
	var st protocol.StatusPayload
	_ = json.Unmarshal(statuses[1].Data, &st)
	if st.Status != protocol.StatusMetrics || st.Metrics == nil || st.Connections != 1 {
		t.Fatalf("second status = %+v; want metrics with 1 connection", st)
	}
}

func TestResubscribeDetachesPreviousKey(t *testing.T) {
	h := newTestHub(t, Config{}, Deps{})
	c, ft := h.connect(t, "1.1.1.1")

	h.HandleMessage(c, []byte(`{"type":"init","movieId":"A"}`))
	h.HandleMessage(c, []byte(`{"type":"init","movieId":"B"}`))

	if got := h.Scheduler().Pending("A"); got != 0 {
		t.Fatalf("Pending(A) = %d; want 0", got)
	}
	if got := len(h.Registry().Subscribers("A")); got != 0 {
		t.Fatalf("Subscribers(A) = %d; want 0", got)
	}
	if got := len(h.Registry().Subscribers("B")); got != 1 {
		t.Fatalf("Subscribers(B) = %d; want 1", got)
	}
	if h.Scheduler().Flush("A") {
		t.Fatal("Flush(A) = true; want no pending fetch")
	}
	h.Scheduler().Flush("B")
	env := ft.waitChannel(t, protocol.ChannelData, 1)[0]
	if string(env.Data) != `{"movieId":"B","fetch":1}` {
		t.Fatalf("data = %s; want B payload", env.Data)
	}
}

func TestUnregisterCleansUpEverything(t *testing.T) {
	limiter := admission.New(admission.Config{MaxConnPerAddr: 5, MaxTotalConn: 10})
	h := newTestHub(t, Config{}, Deps{Limiter: limiter})

	if err := limiter.AcquireConn("2.2.2.2"); err != nil {
		t.Fatal(err)
	}
	ft := &fakeTransport{}
	c, err := h.Register(ft, "2.2.2.2", true)
	if err != nil {
		t.Fatal(err)
	}
	h.HandleMessage(c, []byte(`{"type":"init","movieId":"7"}`))
	timer := h.timers.last()

	h.Unregister(c, "test")
	h.Unregister(c, "again")

	if got := h.Scheduler().Pending("7"); got != 0 {
		t.Fatalf("Pending() = %d; want 0", got)
	}
	if got := h.Registry().Len(); got != 0 {
		t.Fatalf("Registry().Len() = %d; want 0", got)
	}
	if got := limiter.Connections("2.2.2.2"); got != 0 {
		t.Fatalf("limiter Connections() = %d; want 0", got)
	}
	if got := h.metrics.Active(); got != 0 {
		t.Fatalf("Active() = %d; want 0", got)
	}
	if closed, code := ft.closedWith(); !closed || code != protocol.CloseNormal {
		t.Fatalf("transport closed=%v code=%d; want 1000", closed, code)
	}
	for _, env := range ft.onChannel(t, protocol.ChannelStatus) {
		if strings.Contains(string(env.Data), `"disconnected"`) {
			t.Fatal("normal close should not send a disconnected status")
		}
	}
	timer.mu.Lock()
	stopped := timer.stopped
	timer.mu.Unlock()
	if !stopped {
		t.Fatal("heartbeat timer not stopped")
	}
	if c.enqueue([]byte("x")) {
		t.Fatal("enqueue on closed conn = true; want false")
	}
}

func TestHeartbeatTimeoutClosesWith4000(t *testing.T) {
	h := newTestHub(t, Config{HeartbeatInterval: 30 * time.Second, HeartbeatTimeout: 35 * time.Second}, Deps{})
	c, ft := h.connect(t, "1.1.1.1")

	first := h.timers.last()
	if first.d != 30*time.Second {
		t.Fatalf("first wake = %v; want 30s", first.d)
	}

	h.clock.advance(30 * time.Second)
	first.f()
	if got := c.Heartbeat(); got != HeartbeatAwaitingPong {
		t.Fatalf("Heartbeat() = %v; want awaiting_pong", got)
	}
	ping := ft.waitChannel(t, protocol.ChannelHeartbeat, 1)[0]
	var hb protocol.HeartbeatPayload
	if err := json.Unmarshal(ping.Data, &hb); err != nil || hb.Type != "ping" || hb.Metrics.Active != 1 {
		t.Fatalf("ping = %s (%v)", ping.Data, err)
	}

	second := h.timers.last()
	if second.d != 5*time.Second {
		t.Fatalf("deadline wake = %v; want 5s", second.d)
	}
	h.clock.advance(5 * time.Second)
	second.f()

	if closed, code := ft.closedWith(); !closed || code != protocol.CloseHeartbeatTimeout {
		t.Fatalf("transport closed=%v code=%d; want 4000", closed, code)
	}
	if got := c.Heartbeat(); got != HeartbeatDead {
		t.Fatalf("Heartbeat() = %v; want dead", got)
	}
	if got := h.Registry().Len(); got != 0 {
		t.Fatalf("Registry().Len() = %d; want 0", got)
	}
}

func TestPongKeepsConnectionAlive(t *testing.T) {
	h := newTestHub(t, Config{HeartbeatInterval: 30 * time.Second, HeartbeatTimeout: 35 * time.Second}, Deps{})
	c, ft := h.connect(t, "1.1.1.1")

	h.clock.advance(30 * time.Second)
	h.timers.last().f()

	h.clock.advance(time.Second)
	h.HandleMessage(c, []byte(`{"type":"pong","timestamp":1}`))
	if got := c.Heartbeat(); got != HeartbeatActive {
		t.Fatalf("Heartbeat() after pong = %v; want active", got)
	}
	if got := c.Latency(); got != time.Second {
		t.Fatalf("Latency() = %v; want 1s", got)
	}
	if lat := h.metrics.Snapshot().Latency; lat.Samples != 1 || lat.LastMS != 1000 || lat.AvgMS != 1000 {
		t.Fatalf("Snapshot().Latency = %+v; want one 1000ms sample", lat)
	}

	// A second pong without a ping outstanding is not a round trip.
	h.HandleMessage(c, []byte(`{"type":"pong","timestamp":2}`))
	if got := h.metrics.Snapshot().Latency.Samples; got != 1 {
		t.Fatalf("latency samples = %d; want 1", got)
	}

	h.clock.advance(4 * time.Second)
	h.timers.last().f()
	if closed, _ := ft.closedWith(); closed {
		t.Fatal("connection closed despite pong")
	}
	if got := h.timers.last().d; got != 25*time.Second {
		t.Fatalf("next wake = %v; want 25s until the next ping", got)
	}
}

func TestCelebrateSkipsSourceAndEnforcesCooldown(t *testing.T) {
	h := newTestHub(t, Config{CelebrationCooldown: 3 * time.Second}, Deps{})
	a, fa := h.connect(t, "1.1.1.1")
	_, fb := h.connect(t, "1.1.1.2")
	_, fc := h.connect(t, "1.1.1.3")

	h.HandleMessage(a, []byte(`{"type":"celebration","movieId":"1294273"}`))
	for _, ft := range []*fakeTransport{fb, fc} {
		env := ft.waitChannel(t, protocol.ChannelCelebration, 1)[0]
		var p protocol.CelebrationPayload
		if err := json.Unmarshal(env.Data, &p); err != nil || p.MovieID != "1294273" {
			t.Fatalf("celebration = %s (%v)", env.Data, err)
		}
	}

	h.HandleMessage(a, []byte(`{"type":"celebration","movieId":"1294273"}`))
	errEnv := fa.waitChannel(t, protocol.ChannelError, 1)[0]
	var ep protocol.ErrorPayload
	_ = json.Unmarshal(errEnv.Data, &ep)
	if ep.Code != protocol.CodeRateLimited {
		t.Fatalf("error code = %q; want RATE_LIMITED", ep.Code)
	}
	h.inflight.Wait()
	if got := len(fa.onChannel(t, protocol.ChannelCelebration)); got != 0 {
		t.Fatalf("source received %d celebrations; want 0", got)
	}
	if got := len(fb.onChannel(t, protocol.ChannelCelebration)); got != 1 {
		t.Fatalf("peer received %d celebrations; want 1", got)
	}

	h.clock.advance(4 * time.Second)
	h.HandleMessage(a, []byte(`{"type":"celebration","movieId":"1294273"}`))
	fb.waitChannel(t, protocol.ChannelCelebration, 2)
}

func TestCelebrationsCrossHubsWithoutEcho(t *testing.T) {
	bus := pubsub.NewLocal()
	h1 := newTestHub(t, Config{}, Deps{Bus: bus})
	h2 := newTestHub(t, Config{}, Deps{Bus: bus})
	ctx := context.Background()
	_ = bus.Subscribe(ctx, h1.onRemoteCelebration)
	_ = bus.Subscribe(ctx, h2.onRemoteCelebration)

	a, _ := h1.connect(t, "1.1.1.1")
	_, fb := h1.connect(t, "1.1.1.2")
	_, fx := h2.connect(t, "2.2.2.2")

	if err := h1.Celebrate(ctx, "9", a); err != nil {
		t.Fatalf("Celebrate() = %v", err)
	}
	fx.waitChannel(t, protocol.ChannelCelebration, 1)
	fb.waitChannel(t, protocol.ChannelCelebration, 1)

	h1.inflight.Wait()
	h2.inflight.Wait()
	time.Sleep(20 * time.Millisecond)
	if got := len(fb.onChannel(t, protocol.ChannelCelebration)); got != 1 {
		t.Fatalf("local peer received %d celebrations; want 1", got)
	}
}

type memRecorder struct {
	mu      sync.Mutex
	records []celebrationRecord
}

func (r *memRecorder) Write(v any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, v.(celebrationRecord))
	return nil
}

func (r *memRecorder) snapshot() []celebrationRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]celebrationRecord(nil), r.records...)
}

func TestCelebrationsAreJournaled(t *testing.T) {
	bus := pubsub.NewLocal()
	j1, j2 := &memRecorder{}, &memRecorder{}
	h1 := newTestHub(t, Config{}, Deps{Bus: bus, Journal: j1})
	h2 := newTestHub(t, Config{}, Deps{Bus: bus, Journal: j2})
	ctx := context.Background()
	_ = bus.Subscribe(ctx, h1.onRemoteCelebration)
	_ = bus.Subscribe(ctx, h2.onRemoteCelebration)

	a, _ := h1.connect(t, "1.1.1.1")
	if err := h1.Celebrate(ctx, "9", a); err != nil {
		t.Fatalf("Celebrate() = %v", err)
	}
	h1.inflight.Wait()

	deadline := time.Now().Add(2 * time.Second)
	for len(j2.snapshot()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	local := j1.snapshot()
	if len(local) != 1 || local[0].Remote || local[0].ConnID != a.ID || local[0].Origin != h1.InstanceID() {
		t.Fatalf("local journal = %+v", local)
	}
	remote := j2.snapshot()
	if len(remote) != 1 || !remote[0].Remote || remote[0].MovieID != "9" {
		t.Fatalf("remote journal = %+v", remote)
	}
}

func TestMalformedMessageSendsError(t *testing.T) {
	h := newTestHub(t, Config{}, Deps{})
	c, ft := h.connect(t, "1.1.1.1")

	h.HandleMessage(c, []byte(`{"type":"dance"}`))
	h.HandleMessage(c, []byte(`{not json`))

	errs := ft.waitChannel(t, protocol.ChannelError, 2)
	codes := make([]string, 0, 2)
	for _, env := range errs {
		var ep protocol.ErrorPayload
		_ = json.Unmarshal(env.Data, &ep)
		codes = append(codes, ep.Code)
	}
	if codes[0] != protocol.CodeUnknownType || codes[1] != protocol.CodeMalformed {
		t.Fatalf("error codes = %v", codes)
	}
	if closed, _ := ft.closedWith(); closed {
		t.Fatal("bad message should not close the connection")
	}
}

func TestRefreshPushesOneLoadPerKey(t *testing.T) {
	h := newTestHub(t, Config{}, Deps{})
	for i := 0; i < 3; i++ {
		c, _ := h.connect(t, fmt.Sprintf("1.1.1.%d", i))
		h.HandleMessage(c, []byte(`{"type":"init","movieId":"5"}`))
	}
	c, ft := h.connect(t, "1.1.1.9")
	h.HandleMessage(c, []byte(`{"type":"init","movieId":"6"}`))

	h.Refresh(context.Background())
	if got := h.provider.count(); got != 2 {
		t.Fatalf("provider calls = %d; want 2", got)
	}
	ft.waitChannel(t, protocol.ChannelData, 1)
}

func TestFailedFetchIsForwardedOnDataAndErrorChannels(t *testing.T) {
	failing := cache.New(providerFunc(func(context.Context, string) (json.RawMessage, error) {
		return nil, fmt.Errorf("upstream: HTTP error status 503")
	}), time.Second, 0)
	h := newTestHub(t, Config{}, Deps{Cache: failing})
	c, ft := h.connect(t, "1.1.1.1")
	h.HandleMessage(c, []byte(`{"type":"init","movieId":"1"}`))
	h.Scheduler().Flush("1")

	data := ft.waitChannel(t, protocol.ChannelData, 1)[0]
	var cached struct {
		Error string `json:"error"`
	}
	_ = json.Unmarshal(data.Data, &cached)
	if cached.Error != "upstream fetch failed" {
		t.Fatalf("data payload = %s; want cached error payload", data.Data)
	}

	env := ft.waitChannel(t, protocol.ChannelError, 1)[0]
	var ep protocol.ErrorPayload
	_ = json.Unmarshal(env.Data, &ep)
	if ep.Code != protocol.CodeUpstream || ep.Message == "" {
		t.Fatalf("error payload = %+v", ep)
	}
}

type providerFunc func(context.Context, string) (json.RawMessage, error)

func (f providerFunc) Fetch(ctx context.Context, id string) (json.RawMessage, error) { return f(ctx, id) }

func TestShutdownClosesWithServiceRestart(t *testing.T) {
	h := newTestHub(t, Config{}, Deps{})
	_, ft1 := h.connect(t, "1.1.1.1")
	_, ft2 := h.connect(t, "1.1.1.2")

	if err := h.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() = %v", err)
	}
	for _, ft := range []*fakeTransport{ft1, ft2} {
		if closed, code := ft.closedWith(); !closed || code != protocol.CloseServiceRestart {
			t.Fatalf("closed=%v code=%d; want 1012", closed, code)
		}
		found := false
		for _, env := range ft.onChannel(t, protocol.ChannelStatus) {
			var st protocol.StatusPayload
			_ = json.Unmarshal(env.Data, &st)
			if st.Status == protocol.StatusDisconnected && st.Reason == "server shutting down" {
				found = true
			}
		}
		if !found {
			t.Fatal("no disconnected status before the 1012 close")
		}
	}
	if _, err := h.Register(&fakeTransport{}, "1.1.1.3", false); err != ErrShuttingDown {
		t.Fatalf("Register() after Shutdown = %v; want ErrShuttingDown", err)
	}
}

func TestRefreshAndFlushShareOneFetch(t *testing.T) {
	entered := make(chan struct{}, 4)
	release := make(chan struct{})
	var mu sync.Mutex
	calls := 0
	blocking := cache.New(providerFunc(func(_ context.Context, id string) (json.RawMessage, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		entered <- struct{}{}
		<-release
		return json.RawMessage(`{"movieId":"` + id + `"}`), nil
	}), 10*time.Second, 0)
	h := newTestHub(t, Config{}, Deps{Cache: blocking})

	a, fa := h.connect(t, "1.1.1.1")
	h.HandleMessage(a, []byte(`{"type":"init","movieId":"7"}`))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		h.Refresh(context.Background())
	}()
	<-entered

	b, fb := h.connect(t, "1.1.1.2")
	h.HandleMessage(b, []byte(`{"type":"init","movieId":"7"}`))
	go func() {
		defer wg.Done()
		h.Scheduler().Flush("7")
	}()
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	mu.Lock()
	got := calls
	mu.Unlock()
	if got != 1 {
		t.Fatalf("provider calls for key 7 = %d; want 1", got)
	}
	fa.waitChannel(t, protocol.ChannelData, 1)
	fb.waitChannel(t, protocol.ChannelData, 1)
}

func TestSubscribeAfterRemovalLeavesNoWaiter(t *testing.T) {
	h := newTestHub(t, Config{}, Deps{})
	c, _ := h.connect(t, "1.1.1.1")

	// Removal lands between the Closed check and the subscription.
	h.registry.Remove(c)
	h.subscribe(c, "7")

	if got := h.Scheduler().Pending("7"); got != 0 {
		t.Fatalf("Pending() = %d; want 0", got)
	}
	if got := h.Scheduler().InFlight(); got != 0 {
		t.Fatalf("InFlight() = %d; want 0", got)
	}
	if _, ok := h.Registry().SetKey(c, "8"); ok {
		t.Fatal("SetKey() on removed conn = ok; want false")
	}
}
