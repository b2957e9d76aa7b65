package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// CloseAbnormal is reported when the socket ended without a close frame.
const CloseAbnormal = 1006

// CloseError carries the close code the server sent.
type CloseError struct {
	Code   int
	Reason string
}

func (e *CloseError) Error() string {
	return fmt.Sprintf("client: connection closed: %d %s", e.Code, e.Reason)
}

// Session is one live connection to the relay.
type Session interface {
	Read() ([]byte, error)
	WriteText(frame []byte) error
	Close(code int, reason string) error
}

// Dialer opens sessions.
type Dialer interface {
	Dial(ctx context.Context, url string) (Session, error)
}

// WSDialer dials the relay with gobwas/ws.
type WSDialer struct {
	// ReadTimeout bounds the wait for any server frame; zero means no bound.
	ReadTimeout time.Duration
}

func (d WSDialer) Dial(ctx context.Context, url string) (Session, error) {
	conn, _, _, err := ws.Dial(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("client: dial %s: %w", url, err)
	}
	return &wsSession{conn: conn, readTimeout: d.ReadTimeout}, nil
}

type wsSession struct {
	conn        net.Conn
	readTimeout time.Duration

	mu     sync.Mutex
	closed bool
}

func (s *wsSession) Read() ([]byte, error) {
	for {
		if s.readTimeout > 0 {
			_ = s.conn.SetReadDeadline(time.Now().Add(s.readTimeout))
		}
		data, op, err := wsutil.ReadServerData(s.conn)
		if err != nil {
			var closed wsutil.ClosedError
			if errors.As(err, &closed) {
				return nil, &CloseError{Code: int(closed.Code), Reason: closed.Reason}
			}
			return nil, err
		}
		if op == ws.OpText || op == ws.OpBinary {
			return data, nil
		}
	}
}

func (s *wsSession) WriteText(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return net.ErrClosed
	}
	return wsutil.WriteClientText(s.conn, frame)
}

func (s *wsSession) Close(code int, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	_ = s.conn.SetWriteDeadline(time.Now().Add(time.Second))
	body := ws.NewCloseFrameBody(ws.StatusCode(code), reason)
	_ = ws.WriteFrame(s.conn, ws.MaskFrameInPlace(ws.NewCloseFrame(body)))
	return s.conn.Close()
}
