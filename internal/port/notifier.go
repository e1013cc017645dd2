package port

import (
	"context"

	"github.com/olyamironova/market-engine/internal/domain"
)

// Notifier pushes an event to everyone subscribed to channel. Delivery is
// best-effort; engines call it only after the state it describes committed.
type Notifier interface {
	Notify(ctx context.Context, channel domain.Channel, event string, payload map[string]any) error
}

// ConnectionRegistry tracks which connections are subscribed to which
// channels. Implementations may be shared between processes.
type ConnectionRegistry interface {
	Add(ctx context.Context, channel domain.Channel, connID string) error
	Remove(ctx context.Context, channel domain.Channel, connID string) error
	Members(ctx context.Context, channel domain.Channel) ([]string, error)
}
