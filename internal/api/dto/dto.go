package dto

import (
	"time"

	"github.com/google/uuid"
	"github.com/olyamironova/market-engine/internal/domain"
	"github.com/shopspring/decimal"
)

type AuctionTerms struct {
	StartingBid decimal.Decimal `json:"starting_bid"`
	CurrentBid  decimal.Decimal `json:"current_bid"`
	EndTime     time.Time       `json:"end_time"`
	Active      bool            `json:"active"`
}

type SaleTerms struct {
	Price         decimal.Decimal `json:"price"`
	AcceptsOffers bool            `json:"accepts_offers"`
}

// PutListingRequest is the catalog hand-off. Modes wins over the legacy
// single-valued listing_type when both are sent.
type PutListingRequest struct {
	OwnerID     string        `json:"owner_id" binding:"required,uuid"`
	Title       string        `json:"title" binding:"max=200"`
	Modes       []string      `json:"modes,omitempty"`
	ListingType string        `json:"listing_type,omitempty"`
	Auction     *AuctionTerms `json:"auction,omitempty"`
	Sale        *SaleTerms    `json:"sale,omitempty"`
}

func (r *PutListingRequest) ToListing(id uuid.UUID) (*domain.Listing, error) {
	owner, err := uuid.Parse(r.OwnerID)
	if err != nil {
		return nil, domain.Invalid("bad owner id")
	}
	var modes domain.Mode
	switch {
	case len(r.Modes) > 0:
		modes, err = domain.ParseModes(r.Modes)
	case r.ListingType != "":
		modes, err = domain.ModeFromLegacy(r.ListingType)
	default:
		err = domain.Invalid("modes or listing_type is required")
	}
	if err != nil {
		return nil, err
	}
	l := &domain.Listing{ID: id, OwnerID: owner, Title: r.Title, Modes: modes}
	if r.Auction != nil {
		l.Auction = &domain.AuctionState{
			StartingBid: r.Auction.StartingBid,
			EndTime:     r.Auction.EndTime.UTC(),
		}
	}
	if r.Sale != nil {
		l.Sale = &domain.FixedPriceState{Price: r.Sale.Price, AcceptsOffers: r.Sale.AcceptsOffers}
	}
	return l, nil
}

type Listing struct {
	ID        uuid.UUID     `json:"id"`
	OwnerID   uuid.UUID     `json:"owner_id"`
	Title     string        `json:"title"`
	Modes     []string      `json:"modes"`
	Available bool          `json:"available"`
	Auction   *AuctionTerms `json:"auction,omitempty"`
	Sale      *SaleTerms    `json:"sale,omitempty"`
	SoldTo    *uuid.UUID    `json:"sold_to,omitempty"`
	SoldAt    *time.Time    `json:"sold_at,omitempty"`
	Version   int64         `json:"version"`
	UpdatedAt time.Time     `json:"updated_at"`
}

func FromListing(l *domain.Listing) Listing {
	out := Listing{
		ID:        l.ID,
		OwnerID:   l.OwnerID,
		Title:     l.Title,
		Modes:     l.Modes.Names(),
		Available: l.Available,
		SoldTo:    l.SoldTo,
		SoldAt:    l.SoldAt,
		Version:   l.Version,
		UpdatedAt: l.UpdatedAt,
	}
	if a := l.Auction; a != nil {
		out.Auction = &AuctionTerms{StartingBid: a.StartingBid, CurrentBid: a.CurrentBid, EndTime: a.EndTime, Active: a.Active}
	}
	if s := l.Sale; s != nil {
		out.Sale = &SaleTerms{Price: s.Price, AcceptsOffers: s.AcceptsOffers}
	}
	return out
}

type User struct {
	ID      uuid.UUID       `json:"id"`
	Balance decimal.Decimal `json:"balance"`
}

type AmountRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type TransferRequest struct {
	To     string          `json:"to" binding:"required,uuid"`
	Amount decimal.Decimal `json:"amount"`
}

type BalanceResponse struct {
	UserID  uuid.UUID       `json:"user_id"`
	Balance decimal.Decimal `json:"balance"`
}

type Reference struct {
	Kind string    `json:"kind"`
	ID   uuid.UUID `json:"id"`
}

type Transaction struct {
	ID        uuid.UUID       `json:"id"`
	Type      string          `json:"type"`
	FromUser  uuid.UUID       `json:"from_user"`
	ToUser    *uuid.UUID      `json:"to_user,omitempty"`
	Amount    decimal.Decimal `json:"amount"`
	Status    string          `json:"status"`
	Reference *Reference      `json:"reference,omitempty"`
	ListingID *uuid.UUID      `json:"listing_id,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

func FromTransaction(t *domain.Transaction) Transaction {
	out := Transaction{
		ID:        t.ID,
		Type:      string(t.Type),
		FromUser:  t.FromUser,
		ToUser:    t.ToUser,
		Amount:    t.Amount,
		Status:    string(t.Status),
		ListingID: t.ListingID,
		CreatedAt: t.CreatedAt,
	}
	if t.Reference != nil {
		out.Reference = &Reference{Kind: string(t.Reference.Kind), ID: t.Reference.ID}
	}
	return out
}

func FromTransactions(ts []*domain.Transaction) []Transaction {
	out := make([]Transaction, 0, len(ts))
	for _, t := range ts {
		out = append(out, FromTransaction(t))
	}
	return out
}

type BidRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type BidResponse struct {
	ListingID      uuid.UUID       `json:"listing_id"`
	BidID          uuid.UUID       `json:"bid_id"`
	CurrentBid     decimal.Decimal `json:"current_bid"`
	PreviousLeader *uuid.UUID      `json:"previous_leader,omitempty"`
}

type Bid struct {
	ID        uuid.UUID       `json:"id"`
	BidderID  uuid.UUID       `json:"bidder_id"`
	Amount    decimal.Decimal `json:"amount"`
	Winning   bool            `json:"winning"`
	CreatedAt time.Time       `json:"created_at"`
}

func FromBids(bids []*domain.Bid) []Bid {
	out := make([]Bid, 0, len(bids))
	for _, b := range bids {
		out = append(out, Bid{ID: b.ID, BidderID: b.BidderID, Amount: b.Amount, Winning: b.Winning, CreatedAt: b.CreatedAt})
	}
	return out
}

type OfferRequest struct {
	Amount  decimal.Decimal `json:"amount"`
	Message string          `json:"message" binding:"max=1000"`
}

type CounterRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type Offer struct {
	ID            uuid.UUID        `json:"id"`
	ListingID     uuid.UUID        `json:"listing_id"`
	BuyerID       uuid.UUID        `json:"buyer_id"`
	SellerID      uuid.UUID        `json:"seller_id"`
	Amount        decimal.Decimal  `json:"amount"`
	CounterAmount *decimal.Decimal `json:"counter_amount,omitempty"`
	Message       string           `json:"message,omitempty"`
	Status        string           `json:"status"`
	ExpiresAt     time.Time        `json:"expires_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

func FromOffer(o *domain.Offer) Offer {
	return Offer{
		ID:            o.ID,
		ListingID:     o.ListingID,
		BuyerID:       o.BuyerID,
		SellerID:      o.SellerID,
		Amount:        o.Amount,
		CounterAmount: o.CounterAmount,
		Message:       o.Message,
		Status:        string(o.Status),
		ExpiresAt:     o.ExpiresAt,
		UpdatedAt:     o.UpdatedAt,
	}
}

type Settlement struct {
	OfferID       uuid.UUID       `json:"offer_id"`
	ListingID     uuid.UUID       `json:"listing_id"`
	TransactionID uuid.UUID       `json:"transaction_id"`
	Amount        decimal.Decimal `json:"amount"`
	Available     bool            `json:"available"`
	Rejected      []uuid.UUID     `json:"rejected_offers"`
}

type TradeRequest struct {
	RecipientID string   `json:"recipient_id" binding:"required,uuid"`
	Offered     []string `json:"offered" binding:"required,min=1,dive,uuid"`
	Requested   []string `json:"requested" binding:"required,min=1,dive,uuid"`
	Message     string   `json:"message" binding:"max=1000"`
}

type Trade struct {
	ID                uuid.UUID   `json:"id"`
	ProposerID        uuid.UUID   `json:"proposer_id"`
	RecipientID       uuid.UUID   `json:"recipient_id"`
	ProposerListings  []uuid.UUID `json:"proposer_listings"`
	RecipientListings []uuid.UUID `json:"recipient_listings"`
	Message           string      `json:"message,omitempty"`
	Status            string      `json:"status"`
	UpdatedAt         time.Time   `json:"updated_at"`
}

func FromTrade(t *domain.TradeProposal) Trade {
	return Trade{
		ID:                t.ID,
		ProposerID:        t.ProposerID,
		RecipientID:       t.RecipientID,
		ProposerListings:  t.ProposerListings,
		RecipientListings: t.RecipientListings,
		Message:           t.Message,
		Status:            string(t.Status),
		UpdatedAt:         t.UpdatedAt,
	}
}

type TradeListing struct {
	ListingID uuid.UUID `json:"listing_id"`
	OwnerID   uuid.UUID `json:"owner_id"`
	Available bool      `json:"available"`
}

type TradeResult struct {
	TradeID       uuid.UUID      `json:"trade_id"`
	TransactionID uuid.UUID      `json:"transaction_id"`
	Listings      []TradeListing `json:"listings"`
}

type Closure struct {
	ListingID     uuid.UUID       `json:"listing_id"`
	Outcome       string          `json:"outcome"`
	WinnerID      *uuid.UUID      `json:"winner_id,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	TransactionID *uuid.UUID      `json:"transaction_id,omitempty"`
}

type SweepResponse struct {
	StartedAt      time.Time `json:"started_at"`
	Closures       []Closure `json:"closures"`
	AuctionsFailed int       `json:"auctions_failed"`
	OffersExpired  int       `json:"offers_expired"`
	Error          string    `json:"error,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

// ParseIDs converts validated uuid strings.
func ParseIDs(raw []string) ([]uuid.UUID, error) {
	out := make([]uuid.UUID, 0, len(raw))
	for _, s := range raw {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, domain.Invalid("bad listing id %q", s)
		}
		out = append(out, id)
	}
	return out, nil
}
