// Package notify is the uniform publish(channel, event, data) fire-and-forget
// bus, built on the KV store's PUBLISH primitive.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nexus-core/agentruntime/internal/kv"
	"github.com/nexus-core/agentruntime/internal/models"
)

// Bus publishes Notification envelopes on named channels.
type Bus struct {
	kv     *kv.Client
	logger *slog.Logger
}

// New builds a Bus over the given KV client.
func New(kvClient *kv.Client, logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{kv: kvClient, logger: logger}
}

// Publish fire-and-forgets event+data on channel. Marshal failures and
// transport failures are logged, never returned, matching the bus's
// always-succeeds contract from the caller's point of view.
func (b *Bus) Publish(ctx context.Context, channel, event string, data any) {
	n := models.Notification{Channel: channel, Event: event, Data: data, Timestamp: time.Now()}
	payload, err := json.Marshal(n)
	if err != nil {
		b.logger.Warn("notify: failed to marshal notification", "channel", channel, "event", event, "error", err)
		return
	}
	b.kv.Publish(ctx, channel, string(payload))
}

// PublishGlobal publishes on the well-known global channel.
func (b *Bus) PublishGlobal(ctx context.Context, event string, data any) {
	b.Publish(ctx, models.ChannelGlobal, event, data)
}

// PublishAgent publishes on a session's dedicated agent channel.
func (b *Bus) PublishAgent(ctx context.Context, sessionID, event string, data any) {
	b.Publish(ctx, models.AgentChannel(sessionID), event, data)
}

// PublishSchedule publishes on the well-known schedule channel.
func (b *Bus) PublishSchedule(ctx context.Context, event string, data any) {
	b.Publish(ctx, models.ChannelSchedule, event, data)
}

// Subscribe pattern-subscribes to channel patterns and decodes each message
// as a Notification, delivering them on the returned channel until ctx is
// cancelled or the underlying pub/sub connection errors.
func (b *Bus) Subscribe(ctx context.Context, patterns ...string) <-chan models.Notification {
	out := make(chan models.Notification)
	ps := b.kv.PSubscribe(ctx, patterns...)

	go func() {
		defer close(out)
		defer ps.Close()
		ch := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var n models.Notification
				if err := json.Unmarshal([]byte(msg.Payload), &n); err != nil {
					b.logger.Warn("notify: failed to decode notification", "channel", msg.Channel, "error", err)
					continue
				}
				select {
				case out <- n:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out
}
