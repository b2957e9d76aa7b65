package relay

import (
	"context"
	"time"

	"github.com/dgnsrekt/boxoffice_relay/internal/metrics"
	"github.com/dgnsrekt/boxoffice_relay/internal/protocol"
)

// Broadcaster delivers one encoded envelope to many connections in fixed-size
// batches with a pause between batches.
type Broadcaster struct {
	batchSize int
	pacing    time.Duration
	metrics   *metrics.Metrics
	onClosed  func(*Conn)
	sleep     func(ctx context.Context, d time.Duration) error
}

func NewBroadcaster(batchSize int, pacing time.Duration, m *metrics.Metrics, onClosed func(*Conn)) *Broadcaster {
	if batchSize <= 0 {
		batchSize = 1
	}
	if onClosed == nil {
		onClosed = func(*Conn) {}
	}
	return &Broadcaster{
		batchSize: batchSize,
		pacing:    pacing,
		metrics:   m,
		onClosed:  onClosed,
		sleep:     sleepContext,
	}
}

// Broadcast returns how many recipients the envelope was queued for.
// Recipients that are already closed are skipped and handed to onClosed.
func (b *Broadcaster) Broadcast(ctx context.Context, env protocol.Envelope, recipients []*Conn) (int, error) {
	frame, err := protocol.Encode(env)
	if err != nil {
		return 0, err
	}

	delivered := 0
	for start := 0; start < len(recipients); start += b.batchSize {
		if start > 0 && b.pacing > 0 {
			if err := b.sleep(ctx, b.pacing); err != nil {
				return delivered, err
			}
		}
		end := min(start+b.batchSize, len(recipients))
		for _, c := range recipients[start:end] {
			if c.Closed() {
				b.onClosed(c)
				continue
			}
			if !c.enqueue(frame) {
				if b.metrics != nil {
					b.metrics.Dropped(env.Channel)
				}
				continue
			}
			delivered++
		}
	}
	if b.metrics != nil {
		b.metrics.Sent(env.Channel, delivered)
	}
	return delivered, nil
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
