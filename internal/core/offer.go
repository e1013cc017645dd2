package core

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/olyamironova/market-engine/internal/domain"
	"github.com/olyamironova/market-engine/internal/port"
	"github.com/shopspring/decimal"
)

// OfferEngine runs the negotiation on fixed-price listings:
//
//	pending   -> accepted | rejected | countered | expired
//	countered -> accepted | rejected | expired
type OfferEngine struct {
	*base
	ledger *Ledger
}

// Settlement is the result of an accepted offer or counter.
type Settlement struct {
	OfferID       uuid.UUID
	ListingID     uuid.UUID
	TransactionID uuid.UUID
	Amount        decimal.Decimal
	Available     bool
	Rejected      []uuid.UUID
}

func (o *OfferEngine) MakeOffer(ctx context.Context, listingID, buyerID uuid.UUID, amount decimal.Decimal, message string) (*domain.Offer, error) {
	if err := positive(amount); err != nil {
		return nil, err
	}
	var offer *domain.Offer
	err := o.commit(ctx, "offer.make", func(tx port.Tx, out *outbox) error {
		l, err := tx.GetListingForUpdate(ctx, listingID)
		if err != nil {
			return err
		}
		now := o.now()
		if !l.Available {
			return domain.Conflict("listing %s is not available", l.ID)
		}
		if !l.AcceptsOffers() {
			return domain.Conflict("listing %s does not accept offers", l.ID)
		}
		if l.OwnerID == buyerID {
			return domain.Forbidden("owner cannot make an offer on listing %s", l.ID)
		}
		if amount.GreaterThan(l.Sale.Price) {
			return domain.Invalid("offer %s exceeds asking price %s", amount, l.Sale.Price)
		}
		buyer, err := tx.GetUserForUpdate(ctx, buyerID)
		if err != nil {
			return err
		}
		if buyer.Balance.LessThan(amount) {
			return insufficient(buyerID, buyer.Balance, amount)
		}
		existing, err := tx.FindOpenOffer(ctx, l.ID, buyerID)
		if err != nil {
			return err
		}
		if existing != nil {
			if !existing.ExpiredAt(now) {
				return domain.Conflict("buyer already has an open offer %s on listing %s", existing.ID, l.ID)
			}
			if err := o.expire(ctx, tx, out, existing, now); err != nil {
				return err
			}
		}

		offer = &domain.Offer{
			ID:        uuid.New(),
			ListingID: l.ID,
			BuyerID:   buyerID,
			SellerID:  l.OwnerID,
			Amount:    amount,
			Message:   message,
			Status:    domain.OfferPending,
			ExpiresAt: now.Add(o.opts.offerTTL),
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := tx.InsertOffer(ctx, offer); err != nil {
			return err
		}
		out.add(domain.UserChannel(l.OwnerID), domain.EventOfferReceived, offerPayload(offer))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return offer, nil
}

func (o *OfferEngine) AcceptOffer(ctx context.Context, offerID, sellerID uuid.UUID) (*Settlement, error) {
	var res *Settlement
	err := o.commit(ctx, "offer.accept", func(tx port.Tx, out *outbox) error {
		offer, l, err := o.load(ctx, tx, offerID)
		if err != nil {
			return err
		}
		if l.OwnerID != sellerID {
			return domain.Forbidden("only the seller can accept offer %s", offer.ID)
		}
		if offer.Status != domain.OfferPending {
			return domain.Conflict("offer %s is %s", offer.ID, offer.Status)
		}
		if err := o.checkOpen(offer, l); err != nil {
			return err
		}
		res, err = o.settle(ctx, tx, out, offer, l)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (o *OfferEngine) RejectOffer(ctx context.Context, offerID, sellerID uuid.UUID) (*domain.Offer, error) {
	var offer *domain.Offer
	err := o.commit(ctx, "offer.reject", func(tx port.Tx, out *outbox) error {
		var err error
		offer, err = tx.GetOfferForUpdate(ctx, offerID)
		if err != nil {
			return err
		}
		if offer.SellerID != sellerID {
			return domain.Forbidden("only the seller can reject offer %s", offer.ID)
		}
		if !offer.Open() {
			return domain.Conflict("offer %s is %s", offer.ID, offer.Status)
		}
		offer.Status = domain.OfferRejected
		offer.UpdatedAt = o.now()
		if err := tx.UpdateOffer(ctx, offer); err != nil {
			return err
		}
		out.add(domain.UserChannel(offer.BuyerID), domain.EventOfferRejected, offerPayload(offer))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return offer, nil
}

func (o *OfferEngine) CounterOffer(ctx context.Context, offerID, sellerID uuid.UUID, counter decimal.Decimal) (*domain.Offer, error) {
	if err := positive(counter); err != nil {
		return nil, err
	}
	var offer *domain.Offer
	err := o.commit(ctx, "offer.counter", func(tx port.Tx, out *outbox) error {
		var (
			l   *domain.Listing
			err error
		)
		offer, l, err = o.load(ctx, tx, offerID)
		if err != nil {
			return err
		}
		if l.OwnerID != sellerID {
			return domain.Forbidden("only the seller can counter offer %s", offer.ID)
		}
		if offer.Status != domain.OfferPending {
			return domain.Conflict("offer %s is %s", offer.ID, offer.Status)
		}
		if err := o.checkOpen(offer, l); err != nil {
			return err
		}
		if l.Sale == nil || !counter.LessThan(l.Sale.Price) {
			return domain.Invalid("counter %s must be below the listing price", counter)
		}
		now := o.now()
		offer.Status = domain.OfferCountered
		offer.CounterAmount = &counter
		offer.ExpiresAt = now.Add(o.opts.counterTTL)
		offer.UpdatedAt = now
		if err := tx.UpdateOffer(ctx, offer); err != nil {
			return err
		}
		out.add(domain.UserChannel(offer.BuyerID), domain.EventOfferCountered, offerPayload(offer))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return offer, nil
}

func (o *OfferEngine) AcceptCounter(ctx context.Context, offerID, buyerID uuid.UUID) (*Settlement, error) {
	var res *Settlement
	err := o.commit(ctx, "offer.accept_counter", func(tx port.Tx, out *outbox) error {
		offer, l, err := o.load(ctx, tx, offerID)
		if err != nil {
			return err
		}
		if offer.BuyerID != buyerID {
			return domain.Forbidden("only the buyer can accept the counter on offer %s", offer.ID)
		}
		if offer.Status != domain.OfferCountered {
			return domain.Conflict("offer %s is %s", offer.ID, offer.Status)
		}
		if err := o.checkOpen(offer, l); err != nil {
			return err
		}
		res, err = o.settle(ctx, tx, out, offer, l)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// DeclineCounter lets the buyer turn down a counter, closing the offer.
func (o *OfferEngine) DeclineCounter(ctx context.Context, offerID, buyerID uuid.UUID) (*domain.Offer, error) {
	var offer *domain.Offer
	err := o.commit(ctx, "offer.decline_counter", func(tx port.Tx, out *outbox) error {
		var err error
		offer, err = tx.GetOfferForUpdate(ctx, offerID)
		if err != nil {
			return err
		}
		if offer.BuyerID != buyerID {
			return domain.Forbidden("only the buyer can decline the counter on offer %s", offer.ID)
		}
		if offer.Status != domain.OfferCountered {
			return domain.Conflict("offer %s is %s", offer.ID, offer.Status)
		}
		offer.Status = domain.OfferRejected
		offer.UpdatedAt = o.now()
		if err := tx.UpdateOffer(ctx, offer); err != nil {
			return err
		}
		out.add(domain.UserChannel(offer.SellerID), domain.EventOfferRejected, offerPayload(offer))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return offer, nil
}

func (o *OfferEngine) Get(ctx context.Context, offerID uuid.UUID) (*domain.Offer, error) {
	return o.repo.GetOffer(ctx, offerID)
}

// ExpireOffers moves up to limit open offers past their expiry to expired.
// Offers that fail are logged and picked up again next time.
func (o *OfferEngine) ExpireOffers(ctx context.Context, now time.Time, limit int) (int, error) {
	ids, err := o.repo.ListExpiredOffers(ctx, now, limit)
	if err != nil {
		return 0, fmt.Errorf("list expired offers: %w", err)
	}
	expired := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		done := false
		err := o.commit(ctx, "offer.expire", func(tx port.Tx, out *outbox) error {
			done = false
			offer, err := tx.GetOfferForUpdate(ctx, id)
			if err != nil {
				return err
			}
			if !offer.Open() || !offer.ExpiredAt(o.now()) {
				return nil
			}
			done = true
			return o.expire(ctx, tx, out, offer, o.now())
		})
		if err != nil {
			o.log.ErrorContext(ctx, "offer expiry failed",
				slog.String("offer_id", id.String()),
				slog.Any("error", err))
			continue
		}
		if done {
			expired++
		}
	}
	return expired, nil
}

func (o *OfferEngine) expire(ctx context.Context, tx port.Tx, out *outbox, offer *domain.Offer, now time.Time) error {
	offer.Status = domain.OfferExpired
	offer.UpdatedAt = now
	if err := tx.UpdateOffer(ctx, offer); err != nil {
		return err
	}
	p := offerPayload(offer)
	out.add(domain.UserChannel(offer.BuyerID), domain.EventOfferExpired, p)
	out.add(domain.UserChannel(offer.SellerID), domain.EventOfferExpired, p)
	return nil
}

func (o *OfferEngine) load(ctx context.Context, tx port.Tx, offerID uuid.UUID) (*domain.Offer, *domain.Listing, error) {
	offer, err := tx.GetOfferForUpdate(ctx, offerID)
	if err != nil {
		return nil, nil, err
	}
	l, err := tx.GetListingForUpdate(ctx, offer.ListingID)
	if err != nil {
		return nil, nil, err
	}
	return offer, l, nil
}

func (o *OfferEngine) checkOpen(offer *domain.Offer, l *domain.Listing) error {
	if offer.ExpiredAt(o.now()) {
		return domain.Conflict("offer %s has expired", offer.ID)
	}
	if !l.Available {
		return domain.Conflict("listing %s is no longer available", l.ID)
	}
	return nil
}

// settle charges the buyer, marks the listing sold and rejects every other
// open offer on it, all inside tx. A running auction on the same listing is
// closed by the sale unless somebody already leads it, in which case the
// auction has to run its course.
func (o *OfferEngine) settle(ctx context.Context, tx port.Tx, out *outbox, offer *domain.Offer, l *domain.Listing) (*Settlement, error) {
	closesAuction := l.InActiveAuction()
	if closesAuction {
		win, err := tx.GetWinningBid(ctx, l.ID)
		if err != nil {
			return nil, err
		}
		if win != nil {
			return nil, domain.Conflict("listing %s has a leading bid in its running auction", l.ID)
		}
	}
	now := o.now()
	price := offer.Price()
	txn, err := o.ledger.transferTx(ctx, tx, out, transfer{
		from:      offer.BuyerID,
		to:        l.OwnerID,
		amount:    price,
		kind:      domain.TxOfferSettlement,
		ref:       &domain.Reference{Kind: domain.RefOffer, ID: offer.ID},
		listingID: &l.ID,
	})
	if err != nil {
		return nil, err
	}
	offer.Status = domain.OfferAccepted
	offer.UpdatedAt = now
	if err := tx.UpdateOffer(ctx, offer); err != nil {
		return nil, err
	}
	l.MarkSold(offer.BuyerID, now)
	if err := tx.UpdateListing(ctx, l); err != nil {
		return nil, err
	}
	out.touch(l.ID)
	if closesAuction {
		out.add(domain.AuctionChannel(l.ID), domain.EventAuctionClosed, map[string]any{
			"listing_id": l.ID.String(),
			"outcome":    string(OutcomeSoldByOffer),
			"buyer_id":   offer.BuyerID.String(),
			"amount":     price.String(),
		})
	}

	res := &Settlement{
		OfferID:       offer.ID,
		ListingID:     l.ID,
		TransactionID: txn.ID,
		Amount:        price,
		Available:     l.Available,
	}
	others, err := tx.ListOpenOffers(ctx, l.ID)
	if err != nil {
		return nil, err
	}
	for _, other := range others {
		if other.ID == offer.ID {
			continue
		}
		other.Status = domain.OfferRejected
		other.UpdatedAt = now
		if err := tx.UpdateOffer(ctx, other); err != nil {
			return nil, err
		}
		res.Rejected = append(res.Rejected, other.ID)
		p := offerPayload(other)
		p["reason"] = "listing sold"
		out.add(domain.UserChannel(other.BuyerID), domain.EventOfferRejected, p)
	}

	p := offerPayload(offer)
	p["transaction_id"] = txn.ID.String()
	p["price"] = price.String()
	out.add(domain.UserChannel(offer.BuyerID), domain.EventOfferAccepted, p)
	out.add(domain.UserChannel(offer.SellerID), domain.EventOfferAccepted, p)
	return res, nil
}

func offerPayload(o *domain.Offer) map[string]any {
	p := map[string]any{
		"offer_id":   o.ID.String(),
		"listing_id": o.ListingID.String(),
		"buyer_id":   o.BuyerID.String(),
		"seller_id":  o.SellerID.String(),
		"amount":     o.Amount.String(),
		"status":     string(o.Status),
		"expires_at": o.ExpiresAt.Format(time.RFC3339),
	}
	if o.CounterAmount != nil {
		p["counter_amount"] = o.CounterAmount.String()
	}
	return p
}
