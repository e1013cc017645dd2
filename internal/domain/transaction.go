package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type TransactionType string

const (
	TxDeposit           TransactionType = "deposit"
	TxWithdrawal        TransactionType = "withdrawal"
	TxTransfer          TransactionType = "transfer"
	TxAuctionSettlement TransactionType = "auction_settlement"
	TxOfferSettlement   TransactionType = "offer_settlement"
	TxTrade             TransactionType = "trade"
)

type TransactionStatus string

const (
	TxPending   TransactionStatus = "pending"
	TxCompleted TransactionStatus = "completed"
	TxCancelled TransactionStatus = "cancelled"
	TxFailed    TransactionStatus = "failed"
)

type ReferenceKind string

const (
	RefBid   ReferenceKind = "bid"
	RefOffer ReferenceKind = "offer"
	RefTrade ReferenceKind = "trade"
)

// Reference links a ledger transaction to the record that caused it.
type Reference struct {
	Kind ReferenceKind
	ID   uuid.UUID
}

// Transaction is an immutable ledger entry. FromUser is the party funds
// leave (or the proposer of a trade); ToUser is nil for deposits and
// withdrawals.
type Transaction struct {
	ID        uuid.UUID
	Type      TransactionType
	FromUser  uuid.UUID
	ToUser    *uuid.UUID
	Amount    decimal.Decimal
	Status    TransactionStatus
	Reference *Reference
	ListingID *uuid.UUID
	CreatedAt time.Time
}

type User struct {
	ID        uuid.UUID
	Balance   decimal.Decimal
	CreatedAt time.Time
	UpdatedAt time.Time
}
