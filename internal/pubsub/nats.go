package pubsub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// NATS forwards celebrations on a single subject.
type NATS struct {
	subject string
	conn    *nats.Conn
}

func NewNATS(url, subject string) (*NATS, error) {
	if url == "" {
		url = nats.DefaultURL
	}
	nc, err := nats.Connect(url, nats.MaxReconnects(5), nats.ReconnectWait(2*time.Second))
	if err != nil {
		return nil, fmt.Errorf("pubsub: connect nats: %w", err)
	}
	slog.Info("pubsub connected to nats", "url", url, "subject", subject)
	return &NATS{subject: subject, conn: nc}, nil
}

func (n *NATS) Publish(_ context.Context, c Celebration) error {
	payload, err := encode(c)
	if err != nil {
		return err
	}
	if err := n.conn.Publish(n.subject, payload); err != nil {
		return fmt.Errorf("pubsub: nats publish: %w", err)
	}
	return nil
}

func (n *NATS) Subscribe(_ context.Context, h Handler) error {
	_, err := n.conn.Subscribe(n.subject, func(msg *nats.Msg) {
		c, err := decode(msg.Data)
		if err != nil {
			slog.Warn("pubsub bad payload", "error", err)
			return
		}
		h(c)
	})
	if err != nil {
		return fmt.Errorf("pubsub: nats subscribe: %w", err)
	}
	return nil
}

// Flush waits until the server has processed everything published so far.
func (n *NATS) Flush() error {
	return n.conn.Flush()
}

func (n *NATS) Close() error {
	if err := n.conn.Drain(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		n.conn.Close()
		return fmt.Errorf("pubsub: nats drain: %w", err)
	}
	return nil
}
