package notify

import (
	"context"
	"errors"

	"github.com/olyamironova/market-engine/internal/domain"
	"github.com/olyamironova/market-engine/internal/port"
)

var _ port.Notifier = Fanout(nil)

// Fanout delivers every event to all of its sinks. One failing sink does
// not stop the others.
type Fanout []port.Notifier

func (f Fanout) Notify(ctx context.Context, channel domain.Channel, event string, payload map[string]any) error {
	var errs []error
	for _, n := range f {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, channel, event, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
