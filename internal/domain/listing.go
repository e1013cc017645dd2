package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Mode is a set of sale modes a listing is offered under. Modes combine.
type Mode uint8

const (
	ModeFixedPrice Mode = 1 << iota
	ModeAuction
	ModeTrade
)

var modeNames = []struct {
	mode Mode
	name string
}{
	{ModeFixedPrice, "fixed_price"},
	{ModeAuction, "auction"},
	{ModeTrade, "trade"},
}

func (m Mode) Has(f Mode) bool { return m&f == f && f != 0 }

func (m Mode) Names() []string {
	var out []string
	for _, mn := range modeNames {
		if m.Has(mn.mode) {
			out = append(out, mn.name)
		}
	}
	return out
}

func (m Mode) String() string { return strings.Join(m.Names(), "|") }

func ParseModes(names []string) (Mode, error) {
	var m Mode
	for _, n := range names {
		found := false
		for _, mn := range modeNames {
			if mn.name == n {
				m |= mn.mode
				found = true
			}
		}
		if !found {
			return 0, Invalid("unknown listing mode %q", n)
		}
	}
	if m == 0 {
		return 0, Invalid("listing needs at least one mode")
	}
	return m, nil
}

// ModeFromLegacy converts the single-valued listing type used before modes
// became combinable. The SQL bootstrap performs the same mapping.
func ModeFromLegacy(legacy string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(legacy)) {
	case "sale", "fixed", "fixed_price":
		return ModeFixedPrice, nil
	case "auction":
		return ModeAuction, nil
	case "trade", "exchange":
		return ModeTrade, nil
	case "both", "sale_trade":
		return ModeFixedPrice | ModeTrade, nil
	}
	return 0, Invalid("unknown legacy listing type %q", legacy)
}

type AuctionState struct {
	StartingBid decimal.Decimal
	CurrentBid  decimal.Decimal
	EndTime     time.Time
	Active      bool
}

type FixedPriceState struct {
	Price         decimal.Decimal
	AcceptsOffers bool
}

type Listing struct {
	ID        uuid.UUID
	OwnerID   uuid.UUID
	Title     string
	Available bool
	Modes     Mode
	Auction   *AuctionState
	Sale      *FixedPriceState
	SoldAt    *time.Time
	SoldTo    *uuid.UUID
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Validate checks that every mode carries its sub-state and that amounts
// are positive money values. It does not look at lifecycle fields.
func (l *Listing) Validate() error {
	if l.ID == uuid.Nil || l.OwnerID == uuid.Nil {
		return Invalid("listing id and owner are required")
	}
	if l.Modes == 0 {
		return Invalid("listing %s has no mode", l.ID)
	}
	if l.Modes.Has(ModeAuction) {
		if l.Auction == nil {
			return Invalid("auction listing %s has no auction state", l.ID)
		}
		if err := CheckAmount("starting bid", l.Auction.StartingBid); err != nil {
			return err
		}
		if l.Auction.CurrentBid.LessThan(l.Auction.StartingBid) {
			return Invalid("current bid below starting bid")
		}
		if l.Auction.EndTime.IsZero() {
			return Invalid("auction end time is required")
		}
	}
	if l.Modes.Has(ModeFixedPrice) {
		if l.Sale == nil {
			return Invalid("fixed-price listing %s has no price", l.ID)
		}
		if err := CheckAmount("price", l.Sale.Price); err != nil {
			return err
		}
	}
	return nil
}

// InActiveAuction reports whether the auction sub-state is still open,
// regardless of whether its end time has passed.
func (l *Listing) InActiveAuction() bool {
	return l.Modes.Has(ModeAuction) && l.Auction != nil && l.Auction.Active
}

func (l *Listing) AcceptsOffers() bool {
	return l.Modes.Has(ModeFixedPrice) && l.Sale != nil && l.Sale.AcceptsOffers
}

// MarkSold moves the listing into its terminal state.
func (l *Listing) MarkSold(to uuid.UUID, at time.Time) {
	l.Available = false
	l.SoldTo = &to
	l.SoldAt = &at
	if l.Auction != nil {
		l.Auction.Active = false
	}
	l.UpdatedAt = at
}

func (l *Listing) Clone() *Listing {
	c := *l
	if l.Auction != nil {
		a := *l.Auction
		c.Auction = &a
	}
	if l.Sale != nil {
		s := *l.Sale
		c.Sale = &s
	}
	if l.SoldAt != nil {
		t := *l.SoldAt
		c.SoldAt = &t
	}
	if l.SoldTo != nil {
		u := *l.SoldTo
		c.SoldTo = &u
	}
	return &c
}

func (l *Listing) String() string {
	return fmt.Sprintf("listing %s (%s)", l.ID, l.Modes)
}
