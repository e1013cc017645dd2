package domain

import (
	"strings"

	"github.com/google/uuid"
)

// Channel names a notification topic: "user:<id>" is private to one user,
// "auction:<id>" is shared by everyone watching a listing's auction.
type Channel string

const (
	userPrefix    = "user:"
	auctionPrefix = "auction:"
)

func UserChannel(id uuid.UUID) Channel    { return Channel(userPrefix + id.String()) }
func AuctionChannel(id uuid.UUID) Channel { return Channel(auctionPrefix + id.String()) }

// ParseChannel validates a channel name and returns its owner id. private is
// true for user channels.
func ParseChannel(s string) (id uuid.UUID, private bool, err error) {
	switch {
	case strings.HasPrefix(s, userPrefix):
		private = true
		id, err = uuid.Parse(strings.TrimPrefix(s, userPrefix))
	case strings.HasPrefix(s, auctionPrefix):
		id, err = uuid.Parse(strings.TrimPrefix(s, auctionPrefix))
	default:
		return uuid.Nil, false, Invalid("unknown channel %q", s)
	}
	if err != nil {
		return uuid.Nil, false, Invalid("bad channel id in %q", s)
	}
	return id, private, nil
}

const (
	EventBalanceChanged = "balance.changed"

	EventBid                     = "auction.bid"
	EventOutbid                  = "auction.outbid"
	EventAuctionWon              = "auction.won"
	EventAuctionSold             = "auction.sold"
	EventAuctionLost             = "auction.lost"
	EventAuctionClosed           = "auction.closed"
	EventAuctionNoBids           = "auction.no_bids"
	EventAuctionSettlementFailed = "auction.settlement_failed"

	EventOfferReceived  = "offer.received"
	EventOfferAccepted  = "offer.accepted"
	EventOfferRejected  = "offer.rejected"
	EventOfferCountered = "offer.countered"
	EventOfferExpired   = "offer.expired"

	EventTradeProposed  = "trade.proposed"
	EventTradeRejected  = "trade.rejected"
	EventTradeCancelled = "trade.cancelled"
	EventTradeCompleted = "trade.completed"
)

// Event is one notification as it leaves an engine.
type Event struct {
	Channel Channel
	Name    string
	Payload map[string]any
}
