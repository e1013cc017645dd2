package domain

import (
	"time"

	"github.com/google/uuid"
)

type TradeStatus string

const (
	TradePending   TradeStatus = "pending"
	TradeAccepted  TradeStatus = "accepted"
	TradeRejected  TradeStatus = "rejected"
	TradeCancelled TradeStatus = "cancelled"
	TradeCompleted TradeStatus = "completed"
)

// TradeProposal is a barter of one user's listings for another's.
type TradeProposal struct {
	ID                uuid.UUID
	ProposerID        uuid.UUID
	RecipientID       uuid.UUID
	ProposerListings  []uuid.UUID
	RecipientListings []uuid.UUID
	Message           string
	Status            TradeStatus
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (t *TradeProposal) Clone() *TradeProposal {
	c := *t
	c.ProposerListings = append([]uuid.UUID(nil), t.ProposerListings...)
	c.RecipientListings = append([]uuid.UUID(nil), t.RecipientListings...)
	return &c
}
