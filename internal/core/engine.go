package core

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/olyamironova/market-engine/internal/domain"
	"github.com/olyamironova/market-engine/internal/port"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultOfferTTL   = 48 * time.Hour
	DefaultCounterTTL = 24 * time.Hour
	DefaultMaxRetries = 3
)

type options struct {
	log        *slog.Logger
	clock      func() time.Time
	maxRetries int
	offerTTL   time.Duration
	counterTTL time.Duration
	tracer     trace.Tracer
}

type Option func(*options)

func WithLogger(l *slog.Logger) Option { return func(o *options) { o.log = l } }
func WithClock(now func() time.Time) Option { return func(o *options) { o.clock = now } }
func WithMaxRetries(n int) Option { return func(o *options) { o.maxRetries = n } }
func WithOfferTTL(d time.Duration) Option { return func(o *options) { o.offerTTL = d } }
func WithCounterTTL(d time.Duration) Option { return func(o *options) { o.counterTTL = d } }
func WithTracer(t trace.Tracer) Option { return func(o *options) { o.tracer = t } }

// base is the state every engine shares: the store, the view cache, the
// notifier port and the commit helper.
type base struct {
	repo     port.Repository
	cache    port.Cache
	notifier port.Notifier
	log      *slog.Logger
	tracer   trace.Tracer
	opts     options
}

func (b *base) now() time.Time { return b.opts.clock().UTC() }

// Engine wires the ledger and the three trading engines over one store.
type Engine struct {
	*base
	Ledger   *Ledger
	Auctions *AuctionEngine
	Offers   *OfferEngine
	Trades   *TradeEngine
}

func NewEngine(repo port.Repository, cache port.Cache, notifier port.Notifier, opts ...Option) *Engine {
	o := options{
		log:        slog.Default(),
		clock:      time.Now,
		maxRetries: DefaultMaxRetries,
		offerTTL:   DefaultOfferTTL,
		counterTTL: DefaultCounterTTL,
		tracer:     otel.Tracer("market-engine/core"),
	}
	for _, fn := range opts {
		fn(&o)
	}
	b := &base{
		repo:     repo,
		cache:    cache,
		notifier: notifier,
		log:      o.log,
		tracer:   o.tracer,
		opts:     o,
	}
	ledger := &Ledger{base: b}
	return &Engine{
		base:     b,
		Ledger:   ledger,
		Auctions: &AuctionEngine{base: b, ledger: ledger},
		Offers:   &OfferEngine{base: b, ledger: ledger},
		Trades:   &TradeEngine{base: b},
	}
}

// RegisterUser opens a zero balance account. Registering an existing user
// returns the stored account unchanged.
func (e *Engine) RegisterUser(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	if id == uuid.Nil {
		return nil, domain.Invalid("user id is required")
	}
	var user *domain.User
	err := e.commit(ctx, "engine.register_user", func(tx port.Tx, _ *outbox) error {
		u, err := tx.GetUser(ctx, id)
		if err == nil {
			user = u
			return nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		now := e.now()
		user = &domain.User{ID: id, CreatedAt: now, UpdatedAt: now}
		return tx.InsertUser(ctx, user)
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

// PutListing accepts a listing from the catalog. A new listing starts
// available with its current bid at the starting bid. An existing listing
// may only be replaced while it is available and nobody has bid on it.
// The caller's listing is never modified.
func (e *Engine) PutListing(ctx context.Context, in *domain.Listing) (*domain.Listing, error) {
	l := in.Clone()
	if l.Modes.Has(domain.ModeAuction) && l.Auction != nil && l.Auction.CurrentBid.IsZero() {
		l.Auction.CurrentBid = l.Auction.StartingBid
	}
	if err := l.Validate(); err != nil {
		return nil, err
	}
	var stored *domain.Listing
	err := e.commit(ctx, "engine.put_listing", func(tx port.Tx, out *outbox) error {
		out.touch(l.ID)
		now := e.now()
		if _, err := tx.GetUser(ctx, l.OwnerID); err != nil {
			return err
		}
		cur, err := tx.GetListingForUpdate(ctx, l.ID)
		if errors.Is(err, domain.ErrNotFound) {
			next := l.Clone()
			next.Available = true
			next.SoldAt, next.SoldTo = nil, nil
			next.Version = 0
			if l.Auction != nil {
				next.Auction.Active = true
			}
			next.CreatedAt, next.UpdatedAt = now, now
			stored = next
			return tx.InsertListing(ctx, next)
		}
		if err != nil {
			return err
		}
		if !cur.Available {
			return domain.Conflict("listing %s is no longer available", cur.ID)
		}
		if cur.OwnerID != l.OwnerID {
			return domain.Conflict("listing %s changed owner", cur.ID)
		}
		win, err := tx.GetWinningBid(ctx, cur.ID)
		if err != nil {
			return err
		}
		if win != nil {
			return domain.Conflict("listing %s already has bids", cur.ID)
		}
		next := l.Clone()
		next.Available = true
		next.Version = cur.Version
		next.CreatedAt, next.UpdatedAt = cur.CreatedAt, now
		if next.Auction != nil {
			next.Auction.Active = true
		}
		if err := tx.UpdateListing(ctx, next); err != nil {
			return err
		}
		stored = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

func (e *Engine) Listing(ctx context.Context, id uuid.UUID) (*domain.Listing, error) {
	return e.repo.GetListing(ctx, id)
}
