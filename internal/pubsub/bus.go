// Package pubsub forwards celebrations between relay instances. A relay
// publishes every celebration it accepts and rebroadcasts the ones other
// instances publish; Origin lets each instance drop its own echoes.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
)

// Backend names accepted by Open.
const (
	BackendNone     = "none"
	BackendLocal    = "local"
	BackendPostgres = "postgres"
	BackendNATS     = "nats"
)

// DefaultChannel is the LISTEN channel or NATS subject.
const DefaultChannel = "boxoffice_celebrations"

// Celebration is one forwarded event.
type Celebration struct {
	MovieID   string `json:"movieId"`
	Timestamp int64  `json:"timestamp"`
	Origin    string `json:"origin"`
	ConnID    string `json:"connId,omitempty"`
}

// Handler receives celebrations published by any instance, including the
// subscriber's own.
type Handler func(Celebration)

// Bus is a celebration transport.
type Bus interface {
	Publish(ctx context.Context, c Celebration) error
	Subscribe(ctx context.Context, h Handler) error
	Close() error
}

func encode(c Celebration) ([]byte, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("pubsub: encode celebration: %w", err)
	}
	return b, nil
}

func decode(b []byte) (Celebration, error) {
	var c Celebration
	if err := json.Unmarshal(b, &c); err != nil {
		return Celebration{}, fmt.Errorf("pubsub: decode celebration: %w", err)
	}
	if c.MovieID == "" || c.Origin == "" {
		return Celebration{}, fmt.Errorf("pubsub: celebration missing movieId or origin")
	}
	return c, nil
}

// Open builds the bus named by backend. "none" and "" return nil, nil.
func Open(ctx context.Context, backend, url, channel string) (Bus, error) {
	if channel == "" {
		channel = DefaultChannel
	}
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", BackendNone:
		return nil, nil
	case BackendLocal:
		return NewLocal(), nil
	case BackendPostgres:
		pg, err := NewPostgres(ctx, url, channel)
		if err != nil {
			return nil, err
		}
		return pg, nil
	case BackendNATS:
		nb, err := NewNATS(url, channel)
		if err != nil {
			return nil, err
		}
		return nb, nil
	default:
		return nil, fmt.Errorf("pubsub: unknown backend %q", backend)
	}
}

// Local is an in-process bus. It is what a single relay binary with several
// hubs, or a test, uses.
type Local struct {
	mu       sync.RWMutex
	handlers []Handler
	closed   bool
}

func NewLocal() *Local {
	return &Local{}
}

func (l *Local) Publish(_ context.Context, c Celebration) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return fmt.Errorf("pubsub: bus closed")
	}
	for _, h := range l.handlers {
		h(c)
	}
	return nil
}

func (l *Local) Subscribe(_ context.Context, h Handler) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return fmt.Errorf("pubsub: bus closed")
	}
	l.handlers = append(l.handlers, h)
	return nil
}

func (l *Local) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	l.handlers = nil
	return nil
}
