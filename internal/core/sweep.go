package core

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	DefaultSweepInterval = 15 * time.Second
	DefaultSweepBatch    = 100
)

type SweepReport struct {
	StartedAt      time.Time
	Closures       []Closure
	AuctionsFailed int
	OffersExpired  int
	Err            error
}

// Sweeper periodically closes expired auctions and expires stale offers.
// The interval bounds how long a finished auction can stay unsettled.
type Sweeper struct {
	auctions *AuctionEngine
	offers   *OfferEngine
	interval time.Duration
	batch    int
	log      *slog.Logger

	running  atomic.Bool
	lastTick atomic.Int64

	closedCounter  metric.Int64Counter
	failedCounter  metric.Int64Counter
	expiredCounter metric.Int64Counter
}

func NewSweeper(e *Engine, interval time.Duration, batch int) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if batch <= 0 {
		batch = DefaultSweepBatch
	}
	s := &Sweeper{
		auctions: e.Auctions,
		offers:   e.Offers,
		interval: interval,
		batch:    batch,
		log:      e.log.With(slog.String("component", "sweeper")),
	}
	meter := otel.Meter("market-engine/sweep")
	s.closedCounter, _ = meter.Int64Counter("sweep.auctions_closed")
	s.failedCounter, _ = meter.Int64Counter("sweep.auctions_failed")
	s.expiredCounter, _ = meter.Int64Counter("sweep.offers_expired")
	return s
}

func (s *Sweeper) Interval() time.Duration { return s.interval }

// Run ticks until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	s.running.Store(true)
	defer s.running.Store(false)
	s.log.InfoContext(ctx, "sweeper started", slog.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		s.Tick(ctx)
		select {
		case <-ctx.Done():
			s.log.InfoContext(ctx, "sweeper stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Healthy reports whether the loop is running and has ticked recently.
func (s *Sweeper) Healthy() bool {
	if !s.running.Load() {
		return false
	}
	last := s.lastTick.Load()
	return last != 0 && time.Since(time.Unix(0, last)) < 3*s.interval+time.Second
}

// LastTick is when the most recent pass finished, zero before the first.
func (s *Sweeper) LastTick() time.Time {
	if n := s.lastTick.Load(); n != 0 {
		return time.Unix(0, n).UTC()
	}
	return time.Time{}
}

// Tick runs one sweep pass. It never panics on a bad record.
func (s *Sweeper) Tick(ctx context.Context) SweepReport {
	now := s.auctions.now()
	rep := SweepReport{StartedAt: now}
	ctx, span := s.auctions.tracer.Start(ctx, "sweep.tick")
	defer span.End()
	defer s.lastTick.Store(time.Now().UnixNano())

	closures, failed, err := s.auctions.CloseExpired(ctx, now, s.batch)
	if err != nil {
		s.log.ErrorContext(ctx, "sweep auctions", slog.Any("error", err))
		rep.Err = err
	}
	rep.Closures = closures
	rep.AuctionsFailed = failed

	expired, err := s.offers.ExpireOffers(ctx, now, s.batch)
	if err != nil {
		s.log.ErrorContext(ctx, "sweep offers", slog.Any("error", err))
		if rep.Err == nil {
			rep.Err = err
		} else {
			rep.Err = fmt.Errorf("%w; %v", rep.Err, err)
		}
	}
	rep.OffersExpired = expired

	s.closedCounter.Add(ctx, int64(len(closures)))
	s.failedCounter.Add(ctx, int64(failed))
	s.expiredCounter.Add(ctx, int64(expired))
	span.SetAttributes(
		attribute.Int("auctions.closed", len(closures)),
		attribute.Int("auctions.failed", failed),
		attribute.Int("offers.expired", expired),
	)
	if len(closures) > 0 || failed > 0 || expired > 0 {
		s.log.InfoContext(ctx, "sweep finished",
			slog.Int("auctions_closed", len(closures)),
			slog.Int("auctions_failed", failed),
			slog.Int("offers_expired", expired))
	}
	return rep
}
