package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AuctionView is a read model of an auction used for refetching state after
// a missed notification.
type AuctionView struct {
	ListingID  uuid.UUID       `json:"listing_id"`
	OwnerID    uuid.UUID       `json:"owner_id"`
	Available  bool            `json:"available"`
	Active     bool            `json:"active"`
	CurrentBid decimal.Decimal `json:"current_bid"`
	LeaderID   *uuid.UUID      `json:"leader_id,omitempty"`
	BidCount   int             `json:"bid_count"`
	EndTime    time.Time       `json:"end_time"`
	Version    int64           `json:"version"`
	Timestamp  time.Time       `json:"timestamp"`
}
