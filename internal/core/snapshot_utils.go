package core

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/olyamironova/market-engine/internal/domain"
)

// View returns the auction read model for a listing, served from the cache
// when present.
func (a *AuctionEngine) View(ctx context.Context, listingID uuid.UUID) (*domain.AuctionView, error) {
	if a.cache != nil {
		if v, err := a.cache.GetAuction(ctx, listingID); err == nil && v != nil {
			return v, nil
		}
	}
	v, err := a.loadView(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if a.cache != nil {
		a.store(ctx, v)
	}
	return v, nil
}

// store caches v, then rereads the listing version. A commit that landed
// between the load and the write has already run its invalidation, so a
// moved version means the entry just written is stale and is dropped.
func (a *AuctionEngine) store(ctx context.Context, v *domain.AuctionView) {
	if err := a.cache.SetAuction(ctx, v); err != nil {
		a.log.DebugContext(ctx, "auction view not cached", slog.Any("error", err))
		return
	}
	l, err := a.repo.GetListing(ctx, v.ListingID)
	if err != nil || l.Version != v.Version {
		a.invalidate(ctx, v.ListingID)
	}
}

func (a *AuctionEngine) loadView(ctx context.Context, listingID uuid.UUID) (*domain.AuctionView, error) {
	l, err := a.repo.GetListing(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if !l.Modes.Has(domain.ModeAuction) || l.Auction == nil {
		return nil, domain.Conflict("listing %s is not an auction", l.ID)
	}
	bids, err := a.repo.ListBids(ctx, listingID)
	if err != nil {
		return nil, err
	}
	v := &domain.AuctionView{
		ListingID:  l.ID,
		OwnerID:    l.OwnerID,
		Available:  l.Available,
		Active:     l.Auction.Active,
		CurrentBid: l.Auction.CurrentBid,
		BidCount:   len(bids),
		EndTime:    l.Auction.EndTime,
		Version:    l.Version,
		Timestamp:  a.now(),
	}
	for _, b := range bids {
		if b.Winning {
			leader := b.BidderID
			v.LeaderID = &leader
		}
	}
	return v, nil
}

func (b *base) invalidate(ctx context.Context, listingID uuid.UUID) {
	if b.cache == nil {
		return
	}
	if err := b.cache.Invalidate(ctx, listingID); err != nil {
		b.log.WarnContext(ctx, "auction view invalidation failed",
			slog.String("listing_id", listingID.String()),
			slog.Any("error", err))
	}
}
