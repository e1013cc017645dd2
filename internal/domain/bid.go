package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Bid struct {
	ID        uuid.UUID
	ListingID uuid.UUID
	BidderID  uuid.UUID
	Amount    decimal.Decimal
	Winning   bool
	CreatedAt time.Time
}
