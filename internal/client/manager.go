// Package client is the reconnecting peer of the relay. A Manager keeps one
// session open, answers heartbeats, re-sends its subscription on every
// connect and backs off exponentially between attempts until it gives up.
package client

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/dgnsrekt/boxoffice_relay/internal/protocol"
)

// State is the manager's connection state.
type State int

const (
	StateConnecting State = iota
	StateConnected
	StateReconnecting
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateReconnecting:
		return "RECONNECTING"
	case StateClosed:
		return "CLOSED"
	case StateFailed:
		return "FAILED"
	}
	return "UNKNOWN"
}

var (
	// ErrFailed is returned by Run after the last reconnect attempt failed.
	ErrFailed = errors.New("client: reconnect attempts exhausted")
	// ErrNotConnected is returned by sends while no session is open.
	ErrNotConnected = errors.New("client: not connected")
)

// Config tunes the manager. Zero fields take the defaults noted.
type Config struct {
	URL          string
	MovieID      string
	MaxAttempts  int           // 5
	InitialDelay time.Duration // 1s
	MaxDelay     time.Duration // 30s

	OnEvent func(protocol.Envelope)
	OnState func(State)
}

// Backoff returns the delay before reconnect attempt n, counting from zero.
func Backoff(n int, initial, maxDelay time.Duration) time.Duration {
	if initial >= maxDelay {
		return maxDelay
	}
	d := initial
	for i := 0; i < n; i++ {
		d *= 2
		if d >= maxDelay {
			return maxDelay
		}
	}
	return d
}

// Manager is safe for concurrent use. Run must be called at most once.
type Manager struct {
	cfg    Config
	dialer Dialer
	sleep  func(ctx context.Context, d time.Duration) error
	now    func() time.Time

	mu         sync.Mutex
	state      State
	session    Session
	movieID    string
	userClosed bool
	cancel     context.CancelFunc
}

func New(cfg Config, dialer Dialer) *Manager {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = time.Second
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 30 * time.Second
	}
	return &Manager{
		cfg:     cfg,
		dialer:  dialer,
		sleep:   sleepContext,
		now:     time.Now,
		state:   StateConnecting,
		movieID: cfg.MovieID,
	}
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Run connects and keeps reconnecting until a clean close, Close, ctx ending
// or the attempt budget running out. Only the last case returns an error.
func (m *Manager) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	m.mu.Lock()
	m.cancel = cancel
	m.mu.Unlock()

	attempts := 0
	for {
		if m.stopped(ctx) {
			m.setState(StateClosed)
			return nil
		}

		sess, err := m.dialer.Dial(ctx, m.cfg.URL)
		if err == nil {
			attempts = 0
			code := m.serve(ctx, sess)
			if m.stopped(ctx) || protocol.IsCleanClose(code) {
				m.setState(StateClosed)
				return nil
			}
			slog.Warn("client connection lost", "code", code)
		} else {
			slog.Warn("client dial failed", "attempt", attempts, "error", err)
		}

		if attempts >= m.cfg.MaxAttempts {
			m.setState(StateFailed)
			slog.Error("client giving up", "attempts", attempts)
			return ErrFailed
		}
		delay := Backoff(attempts, m.cfg.InitialDelay, m.cfg.MaxDelay)
		attempts++
		m.setState(StateReconnecting)
		slog.Info("client reconnecting", "attempt", attempts, "delay", delay)
		if err := m.sleep(ctx, delay); err != nil {
			m.setState(StateClosed)
			return nil
		}
		m.setState(StateConnecting)
	}
}

// serve runs one session to its end and returns the close code.
func (m *Manager) serve(ctx context.Context, sess Session) int {
	m.mu.Lock()
	if m.userClosed {
		m.mu.Unlock()
		_ = sess.Close(protocol.CloseNormal, "client closed")
		return protocol.CloseNormal
	}
	m.session = sess
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.session = nil
		m.mu.Unlock()
	}()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = sess.Close(protocol.CloseNormal, "client shutting down")
		case <-done:
		}
	}()

	if err := m.sendInit(sess); err != nil {
		slog.Warn("client init failed", "error", err)
	}
	m.setState(StateConnected)

	for {
		data, err := sess.Read()
		if err != nil {
			var ce *CloseError
			if errors.As(err, &ce) {
				return ce.Code
			}
			return CloseAbnormal
		}
		env, err := protocol.DecodeEnvelope(data)
		if err != nil {
			slog.Debug("client ignoring frame", "error", err)
			continue
		}
		if env.Channel == protocol.ChannelHeartbeat {
			m.pong(sess)
		}
		if m.cfg.OnEvent != nil {
			m.cfg.OnEvent(env)
		}
	}
}

func (m *Manager) sendInit(sess Session) error {
	m.mu.Lock()
	id := m.movieID
	m.mu.Unlock()
	return m.write(sess, protocol.ClientMessage{
		Type:      protocol.TypeInit,
		MovieID:   protocol.MovieID(id),
		Timestamp: m.now().UnixMilli(),
	})
}

func (m *Manager) pong(sess Session) {
	err := m.write(sess, protocol.ClientMessage{Type: protocol.TypePong, Timestamp: m.now().UnixMilli()})
	if err != nil {
		slog.Debug("client pong failed", "error", err)
	}
}

func (m *Manager) write(sess Session, msg protocol.ClientMessage) error {
	b, err := protocol.EncodeClientMessage(msg)
	if err != nil {
		return err
	}
	return sess.WriteText(b)
}

// SetMovieID changes the subscription; a connected manager re-sends init.
func (m *Manager) SetMovieID(id string) error {
	m.mu.Lock()
	m.movieID = id
	sess := m.session
	m.mu.Unlock()
	if sess == nil {
		return nil
	}
	return m.sendInit(sess)
}

// Celebrate sends a celebration for the current movie id.
func (m *Manager) Celebrate() error {
	m.mu.Lock()
	sess := m.session
	id := m.movieID
	m.mu.Unlock()
	if sess == nil {
		return ErrNotConnected
	}
	return m.write(sess, protocol.ClientMessage{Type: protocol.TypeCelebration, MovieID: protocol.MovieID(id)})
}

// Close ends the session with a normal close and stops Run.
func (m *Manager) Close() {
	m.mu.Lock()
	m.userClosed = true
	sess := m.session
	cancel := m.cancel
	m.mu.Unlock()
	if sess != nil {
		_ = sess.Close(protocol.CloseNormal, "client closed")
	}
	if cancel != nil {
		cancel()
	}
}

func (m *Manager) stopped(ctx context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.userClosed || ctx.Err() != nil
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	changed := m.state != s
	m.state = s
	m.mu.Unlock()
	if changed && m.cfg.OnState != nil {
		m.cfg.OnState(s)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
