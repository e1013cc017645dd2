package core_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/olyamironova/market-engine/internal/adapter/in_memory"
	"github.com/olyamironova/market-engine/internal/core"
	"github.com/olyamironova/market-engine/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type inMemoryRepo = in_memory.MemoryRepo

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	t     require.TestingT
	ctx   context.Context
	repo  *in_memory.MemoryRepo
	cache *in_memory.Cache
	rec   *in_memory.Recorder
	clock *fakeClock
	eng   *core.Engine
}

func newFixture(t require.TestingT) *fixture {
	f := &fixture{
		t:     t,
		ctx:   context.Background(),
		repo:  in_memory.NewMemoryRepo(),
		cache: in_memory.NewCache(time.Minute),
		rec:   in_memory.NewRecorder(),
		clock: &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)},
	}
	f.eng = core.NewEngine(f.repo, f.cache, f.rec,
		core.WithClock(f.clock.Now),
		core.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	return f
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func (f *fixture) user(balance string) uuid.UUID {
	id := uuid.New()
	_, err := f.eng.RegisterUser(f.ctx, id)
	require.NoError(f.t, err)
	if b := dec(balance); b.IsPositive() {
		_, err := f.eng.Ledger.AddFunds(f.ctx, id, b)
		require.NoError(f.t, err)
	}
	return id
}

func (f *fixture) auction(owner uuid.UUID, startingBid string, d time.Duration) uuid.UUID {
	l, err := f.eng.PutListing(f.ctx, &domain.Listing{
		ID:      uuid.New(),
		OwnerID: owner,
		Title:   "auction lot",
		Modes:   domain.ModeAuction,
		Auction: &domain.AuctionState{
			StartingBid: dec(startingBid),
			EndTime:     f.clock.Now().Add(d),
		},
	})
	require.NoError(f.t, err)
	return l.ID
}

func (f *fixture) fixed(owner uuid.UUID, price string, acceptsOffers bool) uuid.UUID {
	l, err := f.eng.PutListing(f.ctx, &domain.Listing{
		ID:      uuid.New(),
		OwnerID: owner,
		Title:   "fixed price item",
		Modes:   domain.ModeFixedPrice,
		Sale:    &domain.FixedPriceState{Price: dec(price), AcceptsOffers: acceptsOffers},
	})
	require.NoError(f.t, err)
	return l.ID
}

func (f *fixture) book(owner uuid.UUID) uuid.UUID {
	l, err := f.eng.PutListing(f.ctx, &domain.Listing{
		ID:      uuid.New(),
		OwnerID: owner,
		Title:   "book",
		Modes:   domain.ModeTrade,
	})
	require.NoError(f.t, err)
	return l.ID
}

// hybrid lists one item under an auction together with extra modes.
func (f *fixture) hybrid(owner uuid.UUID, modes domain.Mode, startingBid, price string, d time.Duration) uuid.UUID {
	l := &domain.Listing{
		ID:      uuid.New(),
		OwnerID: owner,
		Title:   "hybrid lot",
		Modes:   domain.ModeAuction | modes,
		Auction: &domain.AuctionState{
			StartingBid: dec(startingBid),
			EndTime:     f.clock.Now().Add(d),
		},
	}
	if modes.Has(domain.ModeFixedPrice) {
		l.Sale = &domain.FixedPriceState{Price: dec(price), AcceptsOffers: true}
	}
	stored, err := f.eng.PutListing(f.ctx, l)
	require.NoError(f.t, err)
	return stored.ID
}

func (f *fixture) balance(id uuid.UUID) decimal.Decimal {
	b, err := f.eng.Ledger.Balance(f.ctx, id)
	require.NoError(f.t, err)
	return b
}

func (f *fixture) listing(id uuid.UUID) *domain.Listing {
	l, err := f.eng.Listing(f.ctx, id)
	require.NoError(f.t, err)
	return l
}

func (f *fixture) history(id uuid.UUID) []*domain.Transaction {
	txns, err := f.eng.Ledger.History(f.ctx, id, 0)
	require.NoError(f.t, err)
	return txns
}

func requireAmount(t require.TestingT, want string, got decimal.Decimal) {
	require.Truef(t, dec(want).Equal(got), "want %s, got %s", want, got)
}
