package port

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/olyamironova/market-engine/internal/domain"
	"github.com/shopspring/decimal"
)

// ErrTxConflict is returned when the store aborted a transaction because a
// concurrent one touched the same rows. The whole unit may be retried.
var ErrTxConflict = errors.New("transaction conflict")

// Repository exposes reads outside a transaction and starts atomic units.
// Lookups of a missing entity return an error wrapping domain.ErrNotFound.
type Repository interface {
	BeginTx(ctx context.Context) (Tx, error)

	GetUser(ctx context.Context, id uuid.UUID) (*domain.User, error)
	GetListing(ctx context.Context, id uuid.UUID) (*domain.Listing, error)
	GetOffer(ctx context.Context, id uuid.UUID) (*domain.Offer, error)
	GetTrade(ctx context.Context, id uuid.UUID) (*domain.TradeProposal, error)
	ListBids(ctx context.Context, listingID uuid.UUID) ([]*domain.Bid, error)
	ListTransactions(ctx context.Context, userID uuid.UUID, limit int) ([]*domain.Transaction, error)

	ListExpiredAuctions(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)
	ListExpiredOffers(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)
}

// Tx is one all-or-nothing unit. Every *ForUpdate read locks the row until
// Commit or Rollback.
type Tx interface {
	GetUser(ctx context.Context, id uuid.UUID) (*domain.User, error)
	GetUserForUpdate(ctx context.Context, id uuid.UUID) (*domain.User, error)
	InsertUser(ctx context.Context, u *domain.User) error
	SetBalance(ctx context.Context, userID uuid.UUID, balance decimal.Decimal) error
	InsertTransaction(ctx context.Context, t *domain.Transaction) error

	GetListingForUpdate(ctx context.Context, id uuid.UUID) (*domain.Listing, error)
	InsertListing(ctx context.Context, l *domain.Listing) error
	// UpdateListing writes l if its Version still matches the stored one and
	// increments l.Version. A mismatch returns ErrTxConflict.
	UpdateListing(ctx context.Context, l *domain.Listing) error

	InsertBid(ctx context.Context, b *domain.Bid) error
	ClearWinningBids(ctx context.Context, listingID uuid.UUID) error
	// GetWinningBid returns nil when the listing has no bids.
	GetWinningBid(ctx context.Context, listingID uuid.UUID) (*domain.Bid, error)
	ListBids(ctx context.Context, listingID uuid.UUID) ([]*domain.Bid, error)

	InsertOffer(ctx context.Context, o *domain.Offer) error
	GetOfferForUpdate(ctx context.Context, id uuid.UUID) (*domain.Offer, error)
	UpdateOffer(ctx context.Context, o *domain.Offer) error
	// FindOpenOffer returns the pending or countered offer of buyer on the
	// listing, or nil.
	FindOpenOffer(ctx context.Context, listingID, buyerID uuid.UUID) (*domain.Offer, error)
	ListOpenOffers(ctx context.Context, listingID uuid.UUID) ([]*domain.Offer, error)

	InsertTrade(ctx context.Context, t *domain.TradeProposal) error
	GetTradeForUpdate(ctx context.Context, id uuid.UUID) (*domain.TradeProposal, error)
	UpdateTrade(ctx context.Context, t *domain.TradeProposal) error

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}
