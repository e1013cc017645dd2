package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/olyamironova/market-engine/internal/domain"
	"github.com/olyamironova/market-engine/internal/port"
	"github.com/shopspring/decimal"
)

type AuctionEngine struct {
	*base
	ledger *Ledger
}

// BidResult carries what an observer needs to refresh after a bid.
type BidResult struct {
	ListingID      uuid.UUID
	BidID          uuid.UUID
	CurrentBid     decimal.Decimal
	PreviousLeader *uuid.UUID
}

type Outcome string

const (
	OutcomeSold   Outcome = "sold"
	OutcomeNoBids Outcome = "no_bids"
	// OutcomeSettlementFailed deactivates the auction but leaves the listing
	// available to its owner, who may sell it again at a fixed price, by
	// offer or by trade. The winner keeps their balance and a failed
	// settlement transaction is recorded.
	OutcomeSettlementFailed Outcome = "settlement_failed"
	OutcomeSkipped          Outcome = "skipped"
	// OutcomeSoldByOffer is published when an accepted offer ends an
	// auction that nobody had bid on yet. The sweep never reports it.
	OutcomeSoldByOffer Outcome = "sold_by_offer"
)

// Closure describes how one expired auction was closed. For
// OutcomeSettlementFailed the listing is still available afterwards; only
// OutcomeSold and OutcomeNoBids take it off the market.
type Closure struct {
	ListingID     uuid.UUID
	Outcome       Outcome
	WinnerID      *uuid.UUID
	Amount        decimal.Decimal
	TransactionID *uuid.UUID
}

func (a *AuctionEngine) PlaceBid(ctx context.Context, listingID, bidderID uuid.UUID, amount decimal.Decimal) (*BidResult, error) {
	if err := positive(amount); err != nil {
		return nil, err
	}
	var res *BidResult
	err := a.commit(ctx, "auction.place_bid", func(tx port.Tx, out *outbox) error {
		l, err := tx.GetListingForUpdate(ctx, listingID)
		if err != nil {
			return err
		}
		now := a.now()
		if !l.Available || !l.InActiveAuction() {
			return domain.Conflict("listing %s is not an active auction", l.ID)
		}
		if !now.Before(l.Auction.EndTime) {
			return domain.Conflict("auction on listing %s has ended", l.ID)
		}
		if l.OwnerID == bidderID {
			return domain.Conflict("owner cannot bid on listing %s", l.ID)
		}
		if !amount.GreaterThan(l.Auction.CurrentBid) {
			return domain.Invalid("bid %s must exceed current bid %s", amount, l.Auction.CurrentBid)
		}
		bidder, err := tx.GetUserForUpdate(ctx, bidderID)
		if err != nil {
			return err
		}
		if bidder.Balance.LessThan(amount) {
			return insufficient(bidderID, bidder.Balance, amount)
		}

		prev, err := tx.GetWinningBid(ctx, l.ID)
		if err != nil {
			return err
		}
		if err := tx.ClearWinningBids(ctx, l.ID); err != nil {
			return err
		}
		bid := &domain.Bid{
			ID:        uuid.New(),
			ListingID: l.ID,
			BidderID:  bidderID,
			Amount:    amount,
			Winning:   true,
			CreatedAt: now,
		}
		if err := tx.InsertBid(ctx, bid); err != nil {
			return err
		}
		l.Auction.CurrentBid = amount
		l.UpdatedAt = now
		if err := tx.UpdateListing(ctx, l); err != nil {
			return err
		}
		out.touch(l.ID)

		res = &BidResult{ListingID: l.ID, BidID: bid.ID, CurrentBid: amount}
		out.add(domain.AuctionChannel(l.ID), domain.EventBid, map[string]any{
			"listing_id":  l.ID.String(),
			"bid_id":      bid.ID.String(),
			"bidder_id":   bidderID.String(),
			"current_bid": amount.String(),
			"end_time":    l.Auction.EndTime.Format(time.RFC3339),
		})
		if prev != nil && prev.BidderID != bidderID {
			leader := prev.BidderID
			res.PreviousLeader = &leader
			out.add(domain.UserChannel(leader), domain.EventOutbid, map[string]any{
				"listing_id":  l.ID.String(),
				"your_bid":    prev.Amount.String(),
				"current_bid": amount.String(),
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (a *AuctionEngine) Bids(ctx context.Context, listingID uuid.UUID) ([]*domain.Bid, error) {
	if _, err := a.repo.GetListing(ctx, listingID); err != nil {
		return nil, err
	}
	return a.repo.ListBids(ctx, listingID)
}

// CloseExpired closes up to limit auctions whose end time is at or before
// now. Each closure runs in its own transaction; a failing or panicking
// closure is logged and left for the next call.
func (a *AuctionEngine) CloseExpired(ctx context.Context, now time.Time, limit int) ([]Closure, int, error) {
	ids, err := a.repo.ListExpiredAuctions(ctx, now, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("list expired auctions: %w", err)
	}
	var (
		closed []Closure
		failed int
	)
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		c, err := a.safeClose(ctx, id)
		if err != nil {
			failed++
			a.log.ErrorContext(ctx, "auction closure failed",
				slog.String("listing_id", id.String()),
				slog.Any("error", err))
			continue
		}
		if c.Outcome != OutcomeSkipped {
			closed = append(closed, *c)
		}
	}
	return closed, failed, nil
}

func (a *AuctionEngine) safeClose(ctx context.Context, id uuid.UUID) (c *Closure, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic closing auction: %v", r)
		}
	}()
	return a.CloseAuction(ctx, id)
}

// CloseAuction ends one auction if it is still active and past its end
// time. A winner who can no longer pay leaves the listing available and is
// recorded as a failed settlement.
func (a *AuctionEngine) CloseAuction(ctx context.Context, listingID uuid.UUID) (*Closure, error) {
	var res *Closure
	err := a.commit(ctx, "auction.close", func(tx port.Tx, out *outbox) error {
		res = &Closure{ListingID: listingID, Outcome: OutcomeSkipped}
		l, err := tx.GetListingForUpdate(ctx, listingID)
		if err != nil {
			return err
		}
		now := a.now()
		if !l.InActiveAuction() || now.Before(l.Auction.EndTime) {
			return nil
		}
		win, err := tx.GetWinningBid(ctx, l.ID)
		if err != nil {
			return err
		}
		l.Auction.Active = false
		l.UpdatedAt = now
		out.touch(l.ID)
		if win == nil {
			l.Available = false
			if err := tx.UpdateListing(ctx, l); err != nil {
				return err
			}
			res.Outcome = OutcomeNoBids
			out.add(domain.UserChannel(l.OwnerID), domain.EventAuctionNoBids, map[string]any{
				"listing_id": l.ID.String(),
			})
			out.add(domain.AuctionChannel(l.ID), domain.EventAuctionClosed, map[string]any{
				"listing_id": l.ID.String(),
				"outcome":    string(OutcomeNoBids),
			})
			return nil
		}

		price := l.Auction.CurrentBid
		txn, err := a.ledger.transferTx(ctx, tx, out, transfer{
			from:      win.BidderID,
			to:        l.OwnerID,
			amount:    price,
			kind:      domain.TxAuctionSettlement,
			ref:       &domain.Reference{Kind: domain.RefBid, ID: win.ID},
			listingID: &l.ID,
		})
		if err != nil {
			return err
		}
		l.MarkSold(win.BidderID, now)
		if err := tx.UpdateListing(ctx, l); err != nil {
			return err
		}
		bids, err := tx.ListBids(ctx, l.ID)
		if err != nil {
			return err
		}

		winner := win.BidderID
		res.Outcome = OutcomeSold
		res.WinnerID = &winner
		res.Amount = price
		res.TransactionID = &txn.ID

		out.add(domain.UserChannel(winner), domain.EventAuctionWon, map[string]any{
			"listing_id":     l.ID.String(),
			"amount":         price.String(),
			"transaction_id": txn.ID.String(),
		})
		out.add(domain.UserChannel(l.OwnerID), domain.EventAuctionSold, map[string]any{
			"listing_id":     l.ID.String(),
			"winner_id":      winner.String(),
			"amount":         price.String(),
			"transaction_id": txn.ID.String(),
		})
		for _, loser := range losers(bids, winner) {
			out.add(domain.UserChannel(loser), domain.EventAuctionLost, map[string]any{
				"listing_id":  l.ID.String(),
				"final_price": price.String(),
			})
		}
		out.add(domain.AuctionChannel(l.ID), domain.EventAuctionClosed, map[string]any{
			"listing_id": l.ID.String(),
			"outcome":    string(OutcomeSold),
			"winner_id":  winner.String(),
			"amount":     price.String(),
		})
		return nil
	})
	if errors.Is(err, domain.ErrInsufficientFunds) {
		return a.failSettlement(ctx, listingID, err)
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

// failSettlement ends an auction whose winner cannot pay. The auction is
// deactivated, the listing stays with its owner and a failed transaction is
// kept for audit.
func (a *AuctionEngine) failSettlement(ctx context.Context, listingID uuid.UUID, cause error) (*Closure, error) {
	var res *Closure
	err := a.commit(ctx, "auction.settlement_failed", func(tx port.Tx, out *outbox) error {
		res = &Closure{ListingID: listingID, Outcome: OutcomeSkipped}
		l, err := tx.GetListingForUpdate(ctx, listingID)
		if err != nil {
			return err
		}
		now := a.now()
		if !l.InActiveAuction() || now.Before(l.Auction.EndTime) {
			return nil
		}
		win, err := tx.GetWinningBid(ctx, l.ID)
		if err != nil {
			return err
		}
		if win == nil {
			return domain.Conflict("listing %s lost its winning bid", l.ID)
		}
		l.Auction.Active = false
		l.UpdatedAt = now
		if err := tx.UpdateListing(ctx, l); err != nil {
			return err
		}
		out.touch(l.ID)
		owner := l.OwnerID
		txn := a.ledger.record(domain.TxAuctionSettlement, win.BidderID, &owner, l.Auction.CurrentBid, domain.TxFailed)
		txn.Reference = &domain.Reference{Kind: domain.RefBid, ID: win.ID}
		txn.ListingID = &l.ID
		if err := tx.InsertTransaction(ctx, txn); err != nil {
			return err
		}

		winner := win.BidderID
		res.Outcome = OutcomeSettlementFailed
		res.WinnerID = &winner
		res.Amount = l.Auction.CurrentBid
		res.TransactionID = &txn.ID
		payload := map[string]any{
			"listing_id":     l.ID.String(),
			"winner_id":      winner.String(),
			"amount":         l.Auction.CurrentBid.String(),
			"transaction_id": txn.ID.String(),
			"reason":         "insufficient funds",
		}
		out.add(domain.UserChannel(winner), domain.EventAuctionSettlementFailed, payload)
		out.add(domain.UserChannel(owner), domain.EventAuctionSettlementFailed, payload)
		out.add(domain.AuctionChannel(l.ID), domain.EventAuctionClosed, map[string]any{
			"listing_id": l.ID.String(),
			"outcome":    string(OutcomeSettlementFailed),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	a.log.WarnContext(ctx, "auction settlement failed",
		slog.String("listing_id", listingID.String()),
		slog.Any("cause", cause))
	return res, nil
}

func losers(bids []*domain.Bid, winner uuid.UUID) []uuid.UUID {
	seen := map[uuid.UUID]bool{winner: true}
	var res []uuid.UUID
	for _, b := range bids {
		if !seen[b.BidderID] {
			seen[b.BidderID] = true
			res = append(res, b.BidderID)
		}
	}
	return res
}
