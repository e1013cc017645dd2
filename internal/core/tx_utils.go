package core

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/olyamironova/market-engine/internal/domain"
	"github.com/olyamironova/market-engine/internal/port"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

func withTx(ctx context.Context, repo port.Repository, fn func(port.Tx) error) error {
	tx, err := repo.BeginTx(ctx)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	committed = true
	return nil
}

// withRetry reruns the whole unit while the store reports a serialization
// conflict, up to attempts times.
func withRetry(ctx context.Context, repo port.Repository, attempts int, fn func(port.Tx) error) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		err = withTx(ctx, repo, fn)
		if err == nil || !errors.Is(err, port.ErrTxConflict) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(i+1) * 5 * time.Millisecond):
		}
	}
	return err
}

// outbox collects notifications produced inside a transaction and the
// listings whose cached views it changed. Both are acted on only once the
// transaction has committed.
type outbox struct {
	events   []domain.Event
	listings []uuid.UUID
}

func (o *outbox) touch(listingID uuid.UUID) {
	o.listings = append(o.listings, listingID)
}

func (o *outbox) add(channel domain.Channel, name string, payload map[string]any) {
	o.events = append(o.events, domain.Event{Channel: channel, Name: name, Payload: payload})
}

func (o *outbox) flush(ctx context.Context, n port.Notifier, log *slog.Logger) {
	if n == nil {
		return
	}
	for _, e := range o.events {
		if err := n.Notify(ctx, e.Channel, e.Name, e.Payload); err != nil {
			log.WarnContext(ctx, "notification dropped",
				slog.String("channel", string(e.Channel)),
				slog.String("event", e.Name),
				slog.Any("error", err))
		}
	}
}

// commit runs fn as one traced, retried unit. After a successful commit it
// drops the cached views of touched listings, then flushes notifications.
// fn may run more than once; it must rebuild all of its results on every
// call.
func (b *base) commit(ctx context.Context, op string, fn func(tx port.Tx, out *outbox) error) error {
	ctx, span := b.tracer.Start(ctx, op)
	defer span.End()

	var out *outbox
	attempts := 0
	err := withRetry(ctx, b.repo, b.opts.maxRetries, func(tx port.Tx) error {
		attempts++
		out = &outbox{}
		return fn(tx, out)
	})
	span.SetAttributes(attribute.Int("tx.attempts", attempts))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetAttributes(attribute.Int("notify.count", len(out.events)))
	after := context.WithoutCancel(ctx)
	for _, id := range out.listings {
		b.invalidate(after, id)
	}
	out.flush(after, b.notifier, b.log)
	return nil
}
