package pg

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/olyamironova/market-engine/internal/domain"
	"github.com/shopspring/decimal"
)

// Numeric columns are read as text and parsed with decimal so no precision
// is lost through float conversion.
const (
	userColumns        = `id, balance::text, created_at, updated_at`
	listingColumns     = `id, owner_id, title, available, modes, starting_bid::text, current_bid::text, end_time, auction_active, price::text, accepts_offers, sold_at, sold_to, version, created_at, updated_at`
	bidColumns         = `id, listing_id, bidder_id, amount::text, winning, created_at`
	offerColumns       = `id, listing_id, buyer_id, seller_id, amount::text, counter_amount::text, message, status, expires_at, created_at, updated_at`
	tradeColumns       = `id, proposer_id, recipient_id, proposer_listings::text[], recipient_listings::text[], message, status, created_at, updated_at`
	transactionColumns = `id, type, from_user, to_user, amount::text, status, ref_kind, ref_id, listing_id, created_at`
)

const forUpdate = " FOR UPDATE"

type scanner interface {
	Scan(dest ...any) error
}

func notFound(err error, kind string, id uuid.UUID) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Missing(kind, id)
	}
	return mapErr(err)
}

func getUser(ctx context.Context, q querier, id uuid.UUID, lock string) (*domain.User, error) {
	u, err := scanUser(q.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`+lock, id))
	if err != nil {
		return nil, notFound(err, "user", id)
	}
	return u, nil
}

func getListing(ctx context.Context, q querier, id uuid.UUID, lock string) (*domain.Listing, error) {
	l, err := scanListing(q.QueryRow(ctx, `SELECT `+listingColumns+` FROM listings WHERE id = $1`+lock, id))
	if err != nil {
		return nil, notFound(err, "listing", id)
	}
	return l, nil
}

func getOffer(ctx context.Context, q querier, id uuid.UUID, lock string) (*domain.Offer, error) {
	o, err := scanOffer(q.QueryRow(ctx, `SELECT `+offerColumns+` FROM offers WHERE id = $1`+lock, id))
	if err != nil {
		return nil, notFound(err, "offer", id)
	}
	return o, nil
}

func getTrade(ctx context.Context, q querier, id uuid.UUID, lock string) (*domain.TradeProposal, error) {
	t, err := scanTrade(q.QueryRow(ctx, `SELECT `+tradeColumns+` FROM trade_proposals WHERE id = $1`+lock, id))
	if err != nil {
		return nil, notFound(err, "trade", id)
	}
	return t, nil
}

func listBids(ctx context.Context, q querier, listingID uuid.UUID) ([]*domain.Bid, error) {
	rows, err := q.Query(ctx, `SELECT `+bidColumns+` FROM bids WHERE listing_id = $1 ORDER BY amount ASC`, listingID)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	res := []*domain.Bid{}
	for rows.Next() {
		b, err := scanBid(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, b)
	}
	return res, mapErr(rows.Err())
}

func scanUser(row scanner) (*domain.User, error) {
	var u domain.User
	var balance string
	if err := row.Scan(&u.ID, &balance, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	var err error
	if u.Balance, err = decimal.NewFromString(balance); err != nil {
		return nil, fmt.Errorf("parse balance: %w", err)
	}
	return &u, nil
}

func scanListing(row scanner) (*domain.Listing, error) {
	var (
		l                        domain.Listing
		modes                    []string
		starting, current, price *string
		end                      *time.Time
		active, acceptsOffers    bool
	)
	if err := row.Scan(&l.ID, &l.OwnerID, &l.Title, &l.Available, &modes, &starting, &current, &end,
		&active, &price, &acceptsOffers, &l.SoldAt, &l.SoldTo, &l.Version, &l.CreatedAt, &l.UpdatedAt); err != nil {
		return nil, err
	}
	var err error
	if l.Modes, err = domain.ParseModes(modes); err != nil {
		return nil, fmt.Errorf("listing %s: %w", l.ID, err)
	}
	if starting != nil {
		a := &domain.AuctionState{Active: active}
		if a.StartingBid, err = decimal.NewFromString(*starting); err != nil {
			return nil, fmt.Errorf("parse starting bid: %w", err)
		}
		a.CurrentBid = a.StartingBid
		if current != nil {
			if a.CurrentBid, err = decimal.NewFromString(*current); err != nil {
				return nil, fmt.Errorf("parse current bid: %w", err)
			}
		}
		if end != nil {
			a.EndTime = *end
		}
		l.Auction = a
	}
	if price != nil {
		s := &domain.FixedPriceState{AcceptsOffers: acceptsOffers}
		if s.Price, err = decimal.NewFromString(*price); err != nil {
			return nil, fmt.Errorf("parse price: %w", err)
		}
		l.Sale = s
	}
	return &l, nil
}

func scanBid(row scanner) (*domain.Bid, error) {
	var b domain.Bid
	var amount string
	if err := row.Scan(&b.ID, &b.ListingID, &b.BidderID, &amount, &b.Winning, &b.CreatedAt); err != nil {
		return nil, err
	}
	var err error
	if b.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("parse bid amount: %w", err)
	}
	return &b, nil
}

func scanOffer(row scanner) (*domain.Offer, error) {
	var o domain.Offer
	var amount string
	var counter *string
	var status string
	if err := row.Scan(&o.ID, &o.ListingID, &o.BuyerID, &o.SellerID, &amount, &counter, &o.Message,
		&status, &o.ExpiresAt, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, err
	}
	o.Status = domain.OfferStatus(status)
	var err error
	if o.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("parse offer amount: %w", err)
	}
	if counter != nil {
		c, err := decimal.NewFromString(*counter)
		if err != nil {
			return nil, fmt.Errorf("parse counter amount: %w", err)
		}
		o.CounterAmount = &c
	}
	return &o, nil
}

func scanTrade(row scanner) (*domain.TradeProposal, error) {
	var t domain.TradeProposal
	var offered, requested []string
	var status string
	if err := row.Scan(&t.ID, &t.ProposerID, &t.RecipientID, &offered, &requested, &t.Message,
		&status, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	t.Status = domain.TradeStatus(status)
	var err error
	if t.ProposerListings, err = parseIDs(offered); err != nil {
		return nil, err
	}
	if t.RecipientListings, err = parseIDs(requested); err != nil {
		return nil, err
	}
	return &t, nil
}

func scanTransaction(row scanner) (*domain.Transaction, error) {
	var (
		t       domain.Transaction
		typ     string
		status  string
		amount  string
		refKind *string
		refID   *uuid.UUID
	)
	if err := row.Scan(&t.ID, &typ, &t.FromUser, &t.ToUser, &amount, &status, &refKind, &refID,
		&t.ListingID, &t.CreatedAt); err != nil {
		return nil, err
	}
	t.Type = domain.TransactionType(typ)
	t.Status = domain.TransactionStatus(status)
	var err error
	if t.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("parse transaction amount: %w", err)
	}
	if refKind != nil && refID != nil {
		t.Reference = &domain.Reference{Kind: domain.ReferenceKind(*refKind), ID: *refID}
	}
	return &t, nil
}

func parseIDs(ss []string) ([]uuid.UUID, error) {
	res := make([]uuid.UUID, 0, len(ss))
	for _, s := range ss {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("parse listing id %q: %w", s, err)
		}
		res = append(res, id)
	}
	return res, nil
}

func idStrings(ids []uuid.UUID) []string {
	res := make([]string, 0, len(ids))
	for _, id := range ids {
		res = append(res, id.String())
	}
	return res
}

func decPtr(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}
