package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type OfferStatus string

const (
	OfferPending   OfferStatus = "pending"
	OfferAccepted  OfferStatus = "accepted"
	OfferRejected  OfferStatus = "rejected"
	OfferCountered OfferStatus = "countered"
	OfferExpired   OfferStatus = "expired"
)

type Offer struct {
	ID            uuid.UUID
	ListingID     uuid.UUID
	BuyerID       uuid.UUID
	SellerID      uuid.UUID
	Amount        decimal.Decimal
	CounterAmount *decimal.Decimal
	Message       string
	Status        OfferStatus
	ExpiresAt     time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Open reports whether the offer can still be acted on by either party.
func (o *Offer) Open() bool {
	return o.Status == OfferPending || o.Status == OfferCountered
}

func (o *Offer) ExpiredAt(now time.Time) bool {
	return !now.Before(o.ExpiresAt)
}

// Price is what the buyer pays if the offer settles in its current state.
func (o *Offer) Price() decimal.Decimal {
	if o.Status == OfferCountered && o.CounterAmount != nil {
		return *o.CounterAmount
	}
	return o.Amount
}

func (o *Offer) Clone() *Offer {
	c := *o
	if o.CounterAmount != nil {
		v := *o.CounterAmount
		c.CounterAmount = &v
	}
	return &c
}
