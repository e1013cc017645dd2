package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/olyamironova/market-engine/internal/domain"
	"github.com/olyamironova/market-engine/internal/port"
	"github.com/redis/go-redis/v9"
)

var _ port.Notifier = (*RedisBus)(nil)

const busChannel = "market:events"

type busMessage struct {
	Channel domain.Channel `json:"channel"`
	Event   string         `json:"event"`
	Payload map[string]any `json:"payload"`
}

// RedisBus publishes events on one Redis channel so every server instance
// can deliver them to its own websocket connections.
type RedisBus struct {
	client *redis.Client
	log    *slog.Logger
}

func NewRedisBus(client *redis.Client, log *slog.Logger) *RedisBus {
	if log == nil {
		log = slog.Default()
	}
	return &RedisBus{client: client, log: log}
}

func (b *RedisBus) Notify(ctx context.Context, channel domain.Channel, event string, payload map[string]any) error {
	msg, err := json.Marshal(busMessage{Channel: channel, Event: event, Payload: payload})
	if err != nil {
		return fmt.Errorf("encode bus message: %w", err)
	}
	return b.client.Publish(ctx, busChannel, msg).Err()
}

// Relay forwards every published event to local until ctx is done.
func (b *RedisBus) Relay(ctx context.Context, local port.Notifier) error {
	sub := b.client.Subscribe(ctx, busChannel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", busChannel, err)
	}
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			var msg busMessage
			if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
				b.log.WarnContext(ctx, "dropping malformed bus message", slog.Any("error", err))
				continue
			}
			if err := local.Notify(ctx, msg.Channel, msg.Event, msg.Payload); err != nil {
				b.log.WarnContext(ctx, "local delivery failed",
					slog.String("channel", string(msg.Channel)),
					slog.String("event", msg.Event),
					slog.Any("error", err))
			}
		}
	}
}
