package pg

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/olyamironova/market-engine/internal/domain"
	"github.com/olyamironova/market-engine/internal/port"
	"github.com/shopspring/decimal"
)

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) Commit(ctx context.Context) error {
	return mapErr(t.tx.Commit(ctx))
}

// Rollback after Commit is a no-op.
func (t *pgTx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return err
}

func (t *pgTx) exec(ctx context.Context, sql string, args ...any) (int64, error) {
	tag, err := t.tx.Exec(ctx, sql, args...)
	if err != nil {
		return 0, mapErr(err)
	}
	return tag.RowsAffected(), nil
}

func (t *pgTx) GetUser(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	return getUser(ctx, t.tx, id, "")
}

func (t *pgTx) GetUserForUpdate(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	return getUser(ctx, t.tx, id, forUpdate)
}

func (t *pgTx) InsertUser(ctx context.Context, u *domain.User) error {
	_, err := t.exec(ctx, `
INSERT INTO users(id, balance, created_at, updated_at)
VALUES($1, $2, $3, $4)
`, u.ID, u.Balance.String(), u.CreatedAt, u.UpdatedAt)
	return err
}

func (t *pgTx) SetBalance(ctx context.Context, userID uuid.UUID, balance decimal.Decimal) error {
	n, err := t.exec(ctx, `UPDATE users SET balance = $2, updated_at = NOW() WHERE id = $1`, userID, balance.String())
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.Missing("user", userID)
	}
	return nil
}

func (t *pgTx) InsertTransaction(ctx context.Context, txn *domain.Transaction) error {
	var refKind *string
	var refID *uuid.UUID
	if txn.Reference != nil {
		k := string(txn.Reference.Kind)
		refKind, refID = &k, &txn.Reference.ID
	}
	_, err := t.exec(ctx, `
INSERT INTO transactions(id, type, from_user, to_user, amount, status, ref_kind, ref_id, listing_id, created_at)
VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
`, txn.ID, string(txn.Type), txn.FromUser, txn.ToUser, txn.Amount.String(), string(txn.Status),
		refKind, refID, txn.ListingID, txn.CreatedAt)
	return err
}

func (t *pgTx) GetListingForUpdate(ctx context.Context, id uuid.UUID) (*domain.Listing, error) {
	return getListing(ctx, t.tx, id, forUpdate)
}

// listingArgs returns the mutable columns in the order used by insert and
// update statements ($2 to $14).
func listingArgs(l *domain.Listing) []any {
	var starting, current, price *string
	var end *time.Time
	active, accepts := false, false
	if a := l.Auction; a != nil {
		starting, current = decPtr(&a.StartingBid), decPtr(&a.CurrentBid)
		e := a.EndTime
		end = &e
		active = a.Active
	}
	if s := l.Sale; s != nil {
		price = decPtr(&s.Price)
		accepts = s.AcceptsOffers
	}
	return []any{l.OwnerID, l.Title, l.Available, l.Modes.Names(), starting, current, end, active,
		price, accepts, l.SoldAt, l.SoldTo, l.UpdatedAt}
}

func (t *pgTx) InsertListing(ctx context.Context, l *domain.Listing) error {
	args := append([]any{l.ID}, listingArgs(l)...)
	args = append(args, l.Version, l.CreatedAt)
	_, err := t.exec(ctx, `
INSERT INTO listings(id, owner_id, title, available, modes, starting_bid, current_bid, end_time, auction_active,
  price, accepts_offers, sold_at, sold_to, updated_at, version, created_at)
VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
`, args...)
	return err
}

func (t *pgTx) UpdateListing(ctx context.Context, l *domain.Listing) error {
	args := append([]any{l.ID}, listingArgs(l)...)
	args = append(args, l.Version)
	n, err := t.exec(ctx, `
UPDATE listings SET
  owner_id = $2, title = $3, available = $4, modes = $5, starting_bid = $6, current_bid = $7,
  end_time = $8, auction_active = $9, price = $10, accepts_offers = $11, sold_at = $12,
  sold_to = $13, updated_at = $14, version = version + 1
WHERE id = $1 AND version = $15
`, args...)
	if err != nil {
		return err
	}
	if n == 0 {
		return port.ErrTxConflict
	}
	l.Version++
	return nil
}

func (t *pgTx) InsertBid(ctx context.Context, b *domain.Bid) error {
	_, err := t.exec(ctx, `
INSERT INTO bids(id, listing_id, bidder_id, amount, winning, created_at)
VALUES($1, $2, $3, $4, $5, $6)
`, b.ID, b.ListingID, b.BidderID, b.Amount.String(), b.Winning, b.CreatedAt)
	return err
}

func (t *pgTx) ClearWinningBids(ctx context.Context, listingID uuid.UUID) error {
	_, err := t.exec(ctx, `UPDATE bids SET winning = FALSE WHERE listing_id = $1 AND winning`, listingID)
	return err
}

func (t *pgTx) GetWinningBid(ctx context.Context, listingID uuid.UUID) (*domain.Bid, error) {
	b, err := scanBid(t.tx.QueryRow(ctx, `SELECT `+bidColumns+` FROM bids WHERE listing_id = $1 AND winning`, listingID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, mapErr(err)
	}
	return b, nil
}

func (t *pgTx) ListBids(ctx context.Context, listingID uuid.UUID) ([]*domain.Bid, error) {
	return listBids(ctx, t.tx, listingID)
}

func (t *pgTx) InsertOffer(ctx context.Context, o *domain.Offer) error {
	_, err := t.exec(ctx, `
INSERT INTO offers(id, listing_id, buyer_id, seller_id, amount, counter_amount, message, status, expires_at, created_at, updated_at)
VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
`, o.ID, o.ListingID, o.BuyerID, o.SellerID, o.Amount.String(), decPtr(o.CounterAmount), o.Message,
		string(o.Status), o.ExpiresAt, o.CreatedAt, o.UpdatedAt)
	return err
}

func (t *pgTx) GetOfferForUpdate(ctx context.Context, id uuid.UUID) (*domain.Offer, error) {
	return getOffer(ctx, t.tx, id, forUpdate)
}

func (t *pgTx) UpdateOffer(ctx context.Context, o *domain.Offer) error {
	n, err := t.exec(ctx, `
UPDATE offers SET counter_amount = $2, status = $3, expires_at = $4, updated_at = $5
WHERE id = $1
`, o.ID, decPtr(o.CounterAmount), string(o.Status), o.ExpiresAt, o.UpdatedAt)
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.Missing("offer", o.ID)
	}
	return nil
}

func (t *pgTx) FindOpenOffer(ctx context.Context, listingID, buyerID uuid.UUID) (*domain.Offer, error) {
	o, err := scanOffer(t.tx.QueryRow(ctx, `
SELECT `+offerColumns+` FROM offers
WHERE listing_id = $1 AND buyer_id = $2 AND status IN ('pending', 'countered')
FOR UPDATE
`, listingID, buyerID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, mapErr(err)
	}
	return o, nil
}

func (t *pgTx) ListOpenOffers(ctx context.Context, listingID uuid.UUID) ([]*domain.Offer, error) {
	rows, err := t.tx.Query(ctx, `
SELECT `+offerColumns+` FROM offers
WHERE listing_id = $1 AND status IN ('pending', 'countered')
ORDER BY created_at ASC
FOR UPDATE
`, listingID)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	var res []*domain.Offer
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, o)
	}
	return res, mapErr(rows.Err())
}

func (t *pgTx) InsertTrade(ctx context.Context, tr *domain.TradeProposal) error {
	_, err := t.exec(ctx, `
INSERT INTO trade_proposals(id, proposer_id, recipient_id, proposer_listings, recipient_listings, message, status, created_at, updated_at)
VALUES($1, $2, $3, $4::text[]::uuid[], $5::text[]::uuid[], $6, $7, $8, $9)
`, tr.ID, tr.ProposerID, tr.RecipientID, idStrings(tr.ProposerListings), idStrings(tr.RecipientListings),
		tr.Message, string(tr.Status), tr.CreatedAt, tr.UpdatedAt)
	return err
}

func (t *pgTx) GetTradeForUpdate(ctx context.Context, id uuid.UUID) (*domain.TradeProposal, error) {
	return getTrade(ctx, t.tx, id, forUpdate)
}

func (t *pgTx) UpdateTrade(ctx context.Context, tr *domain.TradeProposal) error {
	n, err := t.exec(ctx, `UPDATE trade_proposals SET status = $2, updated_at = $3 WHERE id = $1`,
		tr.ID, string(tr.Status), tr.UpdatedAt)
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.Missing("trade", tr.ID)
	}
	return nil
}
