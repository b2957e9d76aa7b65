package pubsub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
)

// maxNotifyBytes is Postgres' NOTIFY payload ceiling minus headroom.
const maxNotifyBytes = 7900

// Postgres forwards celebrations over LISTEN/NOTIFY. It holds one dedicated
// listening connection and one for NOTIFY; no tables are used.
type Postgres struct {
	channel    string
	listenConn *pgx.Conn

	notifyMu   sync.Mutex
	notifyConn *pgx.Conn

	mu       sync.RWMutex
	handlers []Handler
	started  bool

	cancel context.CancelFunc
	done   chan struct{}
}

// NewPostgres connects twice to dsn and LISTENs on channel.
func NewPostgres(ctx context.Context, dsn, channel string) (*Postgres, error) {
	if dsn == "" {
		return nil, errors.New("pubsub: postgres backend needs a DSN")
	}
	lc, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pubsub: connect listener: %w", err)
	}
	nc, err := pgx.Connect(ctx, dsn)
	if err != nil {
		_ = lc.Close(ctx)
		return nil, fmt.Errorf("pubsub: connect notifier: %w", err)
	}
	if _, err := lc.Exec(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize()); err != nil {
		_ = lc.Close(ctx)
		_ = nc.Close(ctx)
		return nil, fmt.Errorf("pubsub: LISTEN %s: %w", channel, err)
	}
	return &Postgres{
		channel:    channel,
		listenConn: lc,
		notifyConn: nc,
		done:       make(chan struct{}),
	}, nil
}

func (p *Postgres) Publish(ctx context.Context, c Celebration) error {
	payload, err := encode(c)
	if err != nil {
		return err
	}
	if len(payload) > maxNotifyBytes {
		return fmt.Errorf("pubsub: payload too large for NOTIFY (%d > %d)", len(payload), maxNotifyBytes)
	}
	p.notifyMu.Lock()
	defer p.notifyMu.Unlock()
	if _, err := p.notifyConn.Exec(ctx, "SELECT pg_notify($1, $2)", p.channel, string(payload)); err != nil {
		return fmt.Errorf("pubsub: NOTIFY: %w", err)
	}
	return nil
}

// Subscribe registers h. The first call starts the notification loop, which
// runs until Close.
func (p *Postgres) Subscribe(_ context.Context, h Handler) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers = append(p.handlers, h)
	if p.started {
		return nil
	}
	p.started = true
	loopCtx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	go p.notificationLoop(loopCtx)
	return nil
}

func (p *Postgres) notificationLoop(ctx context.Context) {
	defer close(p.done)
	for {
		n, err := p.listenConn.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Warn("pubsub listen error, retrying", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		c, err := decode([]byte(n.Payload))
		if err != nil {
			slog.Warn("pubsub bad payload", "error", err)
			continue
		}
		p.mu.RLock()
		handlers := p.handlers
		p.mu.RUnlock()
		for _, h := range handlers {
			h(c)
		}
	}
}

func (p *Postgres) Close() error {
	p.mu.Lock()
	started := p.started
	cancel := p.cancel
	p.mu.Unlock()
	if started {
		cancel()
		select {
		case <-p.done:
		case <-time.After(2 * time.Second):
			slog.Warn("pubsub timeout waiting for notification loop to stop")
		}
	}

	ctx, cancelClose := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancelClose()
	err := errors.Join(p.listenConn.Close(ctx), p.notifyConn.Close(ctx))
	if err != nil {
		return fmt.Errorf("pubsub: close postgres: %w", err)
	}
	return nil
}
