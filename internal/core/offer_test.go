package core_test

import (
	"testing"
	"time"

	"github.com/olyamironova/market-engine/internal/core"
	"github.com/olyamironova/market-engine/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounterOfferScenario(t *testing.T) {
	f := newFixture(t)
	seller := f.user("0")
	buyer := f.user("100")
	other := f.user("100")
	l := f.fixed(seller, "50", true)

	offer, err := f.eng.Offers.MakeOffer(f.ctx, l, buyer, dec("30"), "would you take 30?")
	require.NoError(t, err)
	assert.Equal(t, domain.OfferPending, offer.Status)
	assert.Equal(t, f.clock.Now().Add(core.DefaultOfferTTL), offer.ExpiresAt)
	rival, err := f.eng.Offers.MakeOffer(f.ctx, l, other, dec("25"), "")
	require.NoError(t, err)

	countered, err := f.eng.Offers.CounterOffer(f.ctx, offer.ID, seller, dec("40"))
	require.NoError(t, err)
	assert.Equal(t, domain.OfferCountered, countered.Status)
	requireAmount(t, "40", *countered.CounterAmount)
	assert.Equal(t, f.clock.Now().Add(core.DefaultCounterTTL), countered.ExpiresAt)

	res, err := f.eng.Offers.AcceptCounter(f.ctx, offer.ID, buyer)
	require.NoError(t, err)
	requireAmount(t, "40", res.Amount)
	assert.False(t, res.Available)
	assert.Equal(t, []any{rival.ID}, toAny(res.Rejected))

	requireAmount(t, "60", f.balance(buyer))
	requireAmount(t, "40", f.balance(seller))

	got := f.listing(l)
	assert.False(t, got.Available)
	require.NotNil(t, got.SoldTo)
	assert.Equal(t, buyer, *got.SoldTo)

	r, err := f.eng.Offers.Get(f.ctx, rival.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OfferRejected, r.Status)
	assert.Contains(t, f.rec.Names(domain.UserChannel(other)), domain.EventOfferRejected)

	hist := f.history(seller)
	require.Len(t, hist, 1)
	assert.Equal(t, domain.TxOfferSettlement, hist[0].Type)
	assert.Equal(t, res.TransactionID, hist[0].ID)
	requireAmount(t, "40", hist[0].Amount)
}

func TestAcceptOfferRejectsOthersAtomically(t *testing.T) {
	f := newFixture(t)
	seller := f.user("0")
	a := f.user("100")
	b := f.user("100")
	c := f.user("100")
	l := f.fixed(seller, "80", true)

	oa, err := f.eng.Offers.MakeOffer(f.ctx, l, a, dec("60"), "")
	require.NoError(t, err)
	ob, err := f.eng.Offers.MakeOffer(f.ctx, l, b, dec("55"), "")
	require.NoError(t, err)
	oc, err := f.eng.Offers.MakeOffer(f.ctx, l, c, dec("50"), "")
	require.NoError(t, err)
	_, err = f.eng.Offers.CounterOffer(f.ctx, oc.ID, seller, dec("70"))
	require.NoError(t, err)

	res, err := f.eng.Offers.AcceptOffer(f.ctx, oa.ID, seller)
	require.NoError(t, err)
	assert.ElementsMatch(t, []any{ob.ID, oc.ID}, toAny(res.Rejected))

	for _, id := range res.Rejected {
		o, err := f.eng.Offers.Get(f.ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.OfferRejected, o.Status)
	}
	settlements := 0
	for _, txn := range f.history(seller) {
		if txn.Type == domain.TxOfferSettlement && txn.Status == domain.TxCompleted {
			settlements++
		}
	}
	assert.Equal(t, 1, settlements)

	_, err = f.eng.Offers.AcceptCounter(f.ctx, oc.ID, c)
	assert.ErrorIs(t, err, domain.ErrStateConflict)
	requireAmount(t, "100", f.balance(c))
}

func TestMakeOfferRules(t *testing.T) {
	f := newFixture(t)
	seller := f.user("0")
	buyer := f.user("40")
	l := f.fixed(seller, "50", true)
	noOffers := f.fixed(seller, "50", false)
	auction := f.auction(seller, "10", time.Hour)

	_, err := f.eng.Offers.MakeOffer(f.ctx, l, seller, dec("30"), "")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = f.eng.Offers.MakeOffer(f.ctx, noOffers, buyer, dec("30"), "")
	assert.ErrorIs(t, err, domain.ErrStateConflict)

	_, err = f.eng.Offers.MakeOffer(f.ctx, auction, buyer, dec("30"), "")
	assert.ErrorIs(t, err, domain.ErrStateConflict)

	_, err = f.eng.Offers.MakeOffer(f.ctx, l, buyer, dec("45"), "")
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)

	_, err = f.eng.Offers.MakeOffer(f.ctx, l, buyer, dec("60"), "")
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.eng.Offers.MakeOffer(f.ctx, l, buyer, dec("0"), "")
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.eng.Offers.MakeOffer(f.ctx, l, buyer, dec("30.001"), "")
	assert.ErrorIs(t, err, domain.ErrValidation)

	first, err := f.eng.Offers.MakeOffer(f.ctx, l, buyer, dec("30"), "")
	require.NoError(t, err)
	_, err = f.eng.Offers.MakeOffer(f.ctx, l, buyer, dec("31"), "")
	assert.ErrorIs(t, err, domain.ErrStateConflict, "one open offer per buyer")

	f.clock.Advance(core.DefaultOfferTTL)
	second, err := f.eng.Offers.MakeOffer(f.ctx, l, buyer, dec("31"), "")
	require.NoError(t, err, "an expired offer does not block a new one")
	old, err := f.eng.Offers.Get(f.ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OfferExpired, old.Status)
	assert.Equal(t, domain.OfferPending, second.Status)
}

func TestAcceptOfferRechecksBalance(t *testing.T) {
	f := newFixture(t)
	seller := f.user("0")
	buyer := f.user("40")
	l := f.fixed(seller, "50", true)
	o, err := f.eng.Offers.MakeOffer(f.ctx, l, buyer, dec("35"), "")
	require.NoError(t, err)

	_, err = f.eng.Ledger.DeductFunds(f.ctx, buyer, dec("10"))
	require.NoError(t, err)

	_, err = f.eng.Offers.AcceptOffer(f.ctx, o.ID, seller)
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)

	assert.True(t, f.listing(l).Available)
	got, err := f.eng.Offers.Get(f.ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OfferPending, got.Status)
}

func TestOfferActorsAndStates(t *testing.T) {
	f := newFixture(t)
	seller := f.user("0")
	buyer := f.user("100")
	stranger := f.user("100")
	l := f.fixed(seller, "50", true)
	o, err := f.eng.Offers.MakeOffer(f.ctx, l, buyer, dec("30"), "")
	require.NoError(t, err)

	_, err = f.eng.Offers.AcceptOffer(f.ctx, o.ID, stranger)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	_, err = f.eng.Offers.RejectOffer(f.ctx, o.ID, buyer)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	_, err = f.eng.Offers.CounterOffer(f.ctx, o.ID, stranger, dec("40"))
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	_, err = f.eng.Offers.AcceptCounter(f.ctx, o.ID, buyer)
	assert.ErrorIs(t, err, domain.ErrStateConflict, "not countered yet")

	_, err = f.eng.Offers.CounterOffer(f.ctx, o.ID, seller, dec("50"))
	assert.ErrorIs(t, err, domain.ErrValidation, "counter must be below price")

	_, err = f.eng.Offers.CounterOffer(f.ctx, o.ID, seller, dec("45"))
	require.NoError(t, err)
	_, err = f.eng.Offers.AcceptOffer(f.ctx, o.ID, seller)
	assert.ErrorIs(t, err, domain.ErrStateConflict, "countered offers are settled by the buyer")
	_, err = f.eng.Offers.AcceptCounter(f.ctx, o.ID, stranger)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	declined, err := f.eng.Offers.DeclineCounter(f.ctx, o.ID, buyer)
	require.NoError(t, err)
	assert.Equal(t, domain.OfferRejected, declined.Status)
	assert.Contains(t, f.rec.Names(domain.UserChannel(seller)), domain.EventOfferRejected)

	_, err = f.eng.Offers.RejectOffer(f.ctx, o.ID, seller)
	assert.ErrorIs(t, err, domain.ErrStateConflict)
}

func TestExpiredOfferCannotBeAccepted(t *testing.T) {
	f := newFixture(t)
	seller := f.user("0")
	buyer := f.user("100")
	l := f.fixed(seller, "50", true)
	o, err := f.eng.Offers.MakeOffer(f.ctx, l, buyer, dec("30"), "")
	require.NoError(t, err)
	_, err = f.eng.Offers.CounterOffer(f.ctx, o.ID, seller, dec("40"))
	require.NoError(t, err)

	f.clock.Advance(core.DefaultCounterTTL + time.Second)
	_, err = f.eng.Offers.AcceptCounter(f.ctx, o.ID, buyer)
	require.ErrorIs(t, err, domain.ErrStateConflict)

	n, err := f.eng.Offers.ExpireOffers(f.ctx, f.clock.Now(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, err = f.eng.Offers.AcceptCounter(f.ctx, o.ID, buyer)
	assert.ErrorIs(t, err, domain.ErrStateConflict)
	requireAmount(t, "100", f.balance(buyer))
}

func TestOfferOnSoldListingConflicts(t *testing.T) {
	f := newFixture(t)
	seller := f.user("0")
	a := f.user("100")
	b := f.user("100")
	l := f.fixed(seller, "50", true)
	oa, err := f.eng.Offers.MakeOffer(f.ctx, l, a, dec("45"), "")
	require.NoError(t, err)
	_, err = f.eng.Offers.AcceptOffer(f.ctx, oa.ID, seller)
	require.NoError(t, err)

	_, err = f.eng.Offers.MakeOffer(f.ctx, l, b, dec("45"), "")
	assert.ErrorIs(t, err, domain.ErrStateConflict)
}

func toAny[T any](xs []T) []any {
	res := make([]any, 0, len(xs))
	for _, x := range xs {
		res = append(res, x)
	}
	return res
}

func TestOfferSaleClosesUnbidAuction(t *testing.T) {
	f := newFixture(t)
	seller := f.user("0")
	buyer := f.user("100")
	bidder := f.user("100")
	l := f.hybrid(seller, domain.ModeFixedPrice, "10", "50", time.Hour)

	v, err := f.eng.Auctions.View(f.ctx, l)
	require.NoError(t, err)
	require.True(t, v.Active)

	offer, err := f.eng.Offers.MakeOffer(f.ctx, l, buyer, dec("40"), "")
	require.NoError(t, err)
	_, err = f.eng.Offers.AcceptOffer(f.ctx, offer.ID, seller)
	require.NoError(t, err)

	cached, err := f.cache.GetAuction(f.ctx, l)
	require.NoError(t, err)
	assert.Nil(t, cached, "sale drops the cached auction view")

	v, err = f.eng.Auctions.View(f.ctx, l)
	require.NoError(t, err)
	assert.False(t, v.Available)
	assert.False(t, v.Active)

	events := f.rec.On(domain.AuctionChannel(l))
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, domain.EventAuctionClosed, last.Name)
	assert.Equal(t, string(core.OutcomeSoldByOffer), last.Payload["outcome"])

	_, err = f.eng.Auctions.PlaceBid(f.ctx, l, bidder, dec("45"))
	assert.ErrorIs(t, err, domain.ErrStateConflict)
	requireAmount(t, "100", f.balance(bidder))

	f.clock.Advance(time.Hour)
	rep := core.NewSweeper(f.eng, time.Second, 10).Tick(f.ctx)
	require.NoError(t, rep.Err)
	assert.Empty(t, rep.Closures, "the sweep has nothing left to close")
}

func TestOfferCannotEndAuctionWithLeader(t *testing.T) {
	f := newFixture(t)
	seller := f.user("0")
	buyer := f.user("100")
	bidder := f.user("100")
	l := f.hybrid(seller, domain.ModeFixedPrice, "10", "50", time.Hour)

	_, err := f.eng.Auctions.PlaceBid(f.ctx, l, bidder, dec("15"))
	require.NoError(t, err)
	offer, err := f.eng.Offers.MakeOffer(f.ctx, l, buyer, dec("40"), "")
	require.NoError(t, err)

	_, err = f.eng.Offers.AcceptOffer(f.ctx, offer.ID, seller)
	require.ErrorIs(t, err, domain.ErrStateConflict)

	got := f.listing(l)
	assert.True(t, got.Available)
	assert.True(t, got.Auction.Active)
	requireAmount(t, "100", f.balance(buyer))
	requireAmount(t, "0", f.balance(seller))
	o, err := f.eng.Offers.Get(f.ctx, offer.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OfferPending, o.Status)

	f.clock.Advance(time.Hour)
	rep := core.NewSweeper(f.eng, time.Second, 10).Tick(f.ctx)
	require.Len(t, rep.Closures, 1)
	assert.Equal(t, core.OutcomeSold, rep.Closures[0].Outcome)
	require.NotNil(t, rep.Closures[0].WinnerID)
	assert.Equal(t, bidder, *rep.Closures[0].WinnerID)
	requireAmount(t, "85", f.balance(bidder))
	requireAmount(t, "100", f.balance(buyer))
}
