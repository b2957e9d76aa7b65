package relay

import (
	"context"
	"log/slog"
	"time"

	"github.com/dgnsrekt/boxoffice_relay/internal/protocol"
	"github.com/dgnsrekt/boxoffice_relay/internal/pubsub"
)

const publishTimeout = 5 * time.Second

// Celebrate fans a celebration for key out to every connection except
// source, and forwards it on the bus when one is configured. A source still
// inside its cooldown gets a RATE_LIMITED error and nothing is sent.
func (h *Hub) Celebrate(_ context.Context, key string, source *Conn) error {
	if key == "" {
		return protocol.NewError(protocol.CodeMissingMovieID, "celebration requires movieId", nil)
	}
	now := h.now()
	sourceID := ""
	if source != nil {
		sourceID = source.ID
		if source.celebrations != nil && !source.celebrations.AllowN(now, 1) {
			return protocol.NewError(protocol.CodeRateLimited, "celebration cooldown active", nil)
		}
	}

	c := pubsub.Celebration{MovieID: key, Timestamp: now.UnixMilli(), Origin: h.instanceID, ConnID: sourceID}
	h.fanOutCelebration(key, c.Timestamp, sourceID)
	h.record(c, false)

	if h.bus != nil {
		h.goTracked(func() {
			ctx, cancel := context.WithTimeout(h.ctx, publishTimeout)
			defer cancel()
			if err := h.bus.Publish(ctx, c); err != nil {
				slog.Warn("relay celebration publish failed", "movie_id", key, "error", err)
			}
		})
	}
	return nil
}

// onRemoteCelebration rebroadcasts a celebration another instance accepted.
func (h *Hub) onRemoteCelebration(c pubsub.Celebration) {
	if c.Origin == h.instanceID {
		return
	}
	h.fanOutCelebration(c.MovieID, c.Timestamp, "")
	h.record(c, true)
}

type celebrationRecord struct {
	pubsub.Celebration
	Remote bool `json:"remote"`
}

func (h *Hub) record(c pubsub.Celebration, remote bool) {
	if h.journal == nil {
		return
	}
	if err := h.journal.Write(celebrationRecord{Celebration: c, Remote: remote}); err != nil {
		slog.Debug("relay celebration journal failed", "movie_id", c.MovieID, "error", err)
	}
}

func (h *Hub) fanOutCelebration(key string, ts int64, skip string) {
	env, err := protocol.NewEnvelope(protocol.ChannelCelebration, protocol.CelebrationPayload{
		MovieID:   key,
		Timestamp: ts,
	}, h.now())
	if err != nil {
		slog.Error("relay encode celebration failed", "error", err)
		return
	}
	recipients := h.registry.AllExcept(skip)
	h.goTracked(func() {
		n, err := h.bcast.Broadcast(h.ctx, env, recipients)
		if err != nil {
			slog.Warn("relay celebration interrupted", "movie_id", key, "delivered", n, "error", err)
			return
		}
		slog.Debug("relay celebration sent", "movie_id", key, "delivered", n)
	})
}
