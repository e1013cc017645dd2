package core

import (
	"context"
	"sort"

	"github.com/google/uuid"
	"github.com/olyamironova/market-engine/internal/domain"
	"github.com/olyamironova/market-engine/internal/port"
	"github.com/shopspring/decimal"
)

// TradeEngine swaps listings between two users without money changing
// hands.
type TradeEngine struct {
	*base
}

// ListingState is the post-commit view of one listing touched by a trade.
type ListingState struct {
	ListingID uuid.UUID
	OwnerID   uuid.UUID
	Available bool
}

type TradeResult struct {
	TradeID       uuid.UUID
	TransactionID uuid.UUID
	Listings      []ListingState
}

func (t *TradeEngine) ProposeTrade(ctx context.Context, proposerID, recipientID uuid.UUID, offered, requested []uuid.UUID, message string) (*domain.TradeProposal, error) {
	if proposerID == recipientID {
		return nil, domain.Invalid("cannot trade with yourself")
	}
	if err := checkSets(offered, requested); err != nil {
		return nil, err
	}
	var trade *domain.TradeProposal
	err := t.commit(ctx, "trade.propose", func(tx port.Tx, out *outbox) error {
		if _, err := tx.GetUser(ctx, recipientID); err != nil {
			return err
		}
		if _, err := t.lockBooks(ctx, tx, offered, proposerID); err != nil {
			return err
		}
		if _, err := t.lockBooks(ctx, tx, requested, recipientID); err != nil {
			return err
		}
		now := t.now()
		trade = &domain.TradeProposal{
			ID:                uuid.New(),
			ProposerID:        proposerID,
			RecipientID:       recipientID,
			ProposerListings:  append([]uuid.UUID(nil), offered...),
			RecipientListings: append([]uuid.UUID(nil), requested...),
			Message:           message,
			Status:            domain.TradePending,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		if err := tx.InsertTrade(ctx, trade); err != nil {
			return err
		}
		out.add(domain.UserChannel(recipientID), domain.EventTradeProposed, tradePayload(trade))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return trade, nil
}

// AcceptTrade checks every listing again, then swaps owners of both sets.
func (t *TradeEngine) AcceptTrade(ctx context.Context, tradeID, recipientID uuid.UUID) (*TradeResult, error) {
	var res *TradeResult
	err := t.commit(ctx, "trade.accept", func(tx port.Tx, out *outbox) error {
		trade, err := tx.GetTradeForUpdate(ctx, tradeID)
		if err != nil {
			return err
		}
		if trade.RecipientID != recipientID {
			return domain.Forbidden("only the recipient can accept trade %s", trade.ID)
		}
		if trade.Status != domain.TradePending {
			return domain.Conflict("trade %s is %s", trade.ID, trade.Status)
		}
		offered, err := t.lockBooks(ctx, tx, trade.ProposerListings, trade.ProposerID)
		if err != nil {
			return err
		}
		requested, err := t.lockBooks(ctx, tx, trade.RecipientListings, trade.RecipientID)
		if err != nil {
			return err
		}

		now := t.now()
		res = &TradeResult{TradeID: trade.ID}
		swap := func(books []*domain.Listing, to uuid.UUID) error {
			for _, l := range books {
				l.OwnerID = to
				l.MarkSold(to, now)
				if err := tx.UpdateListing(ctx, l); err != nil {
					return err
				}
				out.touch(l.ID)
				res.Listings = append(res.Listings, ListingState{ListingID: l.ID, OwnerID: l.OwnerID, Available: l.Available})
			}
			return nil
		}
		if err := swap(offered, trade.RecipientID); err != nil {
			return err
		}
		if err := swap(requested, trade.ProposerID); err != nil {
			return err
		}

		recipient := trade.RecipientID
		txn := &domain.Transaction{
			ID:        uuid.New(),
			Type:      domain.TxTrade,
			FromUser:  trade.ProposerID,
			ToUser:    &recipient,
			Amount:    decimal.Zero,
			Status:    domain.TxCompleted,
			Reference: &domain.Reference{Kind: domain.RefTrade, ID: trade.ID},
			CreatedAt: now,
		}
		if err := tx.InsertTransaction(ctx, txn); err != nil {
			return err
		}
		trade.Status = domain.TradeCompleted
		trade.UpdatedAt = now
		if err := tx.UpdateTrade(ctx, trade); err != nil {
			return err
		}
		res.TransactionID = txn.ID

		p := tradePayload(trade)
		p["transaction_id"] = txn.ID.String()
		out.add(domain.UserChannel(trade.ProposerID), domain.EventTradeCompleted, p)
		out.add(domain.UserChannel(trade.RecipientID), domain.EventTradeCompleted, p)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (t *TradeEngine) RejectTrade(ctx context.Context, tradeID, recipientID uuid.UUID) (*domain.TradeProposal, error) {
	return t.close(ctx, "trade.reject", tradeID, func(trade *domain.TradeProposal) (domain.TradeStatus, uuid.UUID, string, error) {
		if trade.RecipientID != recipientID {
			return "", uuid.Nil, "", domain.Forbidden("only the recipient can reject trade %s", trade.ID)
		}
		return domain.TradeRejected, trade.ProposerID, domain.EventTradeRejected, nil
	})
}

func (t *TradeEngine) CancelTrade(ctx context.Context, tradeID, proposerID uuid.UUID) (*domain.TradeProposal, error) {
	return t.close(ctx, "trade.cancel", tradeID, func(trade *domain.TradeProposal) (domain.TradeStatus, uuid.UUID, string, error) {
		if trade.ProposerID != proposerID {
			return "", uuid.Nil, "", domain.Forbidden("only the proposer can cancel trade %s", trade.ID)
		}
		return domain.TradeCancelled, trade.RecipientID, domain.EventTradeCancelled, nil
	})
}

func (t *TradeEngine) Get(ctx context.Context, tradeID uuid.UUID) (*domain.TradeProposal, error) {
	return t.repo.GetTrade(ctx, tradeID)
}

// close moves a pending trade to a terminal state chosen by decide and
// notifies the other party.
func (t *TradeEngine) close(ctx context.Context, op string, tradeID uuid.UUID,
	decide func(*domain.TradeProposal) (domain.TradeStatus, uuid.UUID, string, error)) (*domain.TradeProposal, error) {
	var trade *domain.TradeProposal
	err := t.commit(ctx, op, func(tx port.Tx, out *outbox) error {
		var err error
		trade, err = tx.GetTradeForUpdate(ctx, tradeID)
		if err != nil {
			return err
		}
		status, notify, event, err := decide(trade)
		if err != nil {
			return err
		}
		if trade.Status != domain.TradePending {
			return domain.Conflict("trade %s is %s", trade.ID, trade.Status)
		}
		trade.Status = status
		trade.UpdatedAt = t.now()
		if err := tx.UpdateTrade(ctx, trade); err != nil {
			return err
		}
		out.add(domain.UserChannel(notify), event, tradePayload(trade))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return trade, nil
}

// lockBooks locks the listings in id order and checks each one is owned by
// owner, available and not in a running auction.
func (t *TradeEngine) lockBooks(ctx context.Context, tx port.Tx, ids []uuid.UUID, owner uuid.UUID) ([]*domain.Listing, error) {
	sorted := append([]uuid.UUID(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].String() < sorted[j].String() })
	books := make([]*domain.Listing, 0, len(sorted))
	for _, id := range sorted {
		l, err := tx.GetListingForUpdate(ctx, id)
		if err != nil {
			return nil, err
		}
		if l.OwnerID != owner {
			return nil, domain.Conflict("listing %s is not owned by %s", l.ID, owner)
		}
		if !l.Available {
			return nil, domain.Conflict("listing %s is no longer available", l.ID)
		}
		if l.InActiveAuction() {
			return nil, domain.Conflict("listing %s is in a running auction", l.ID)
		}
		books = append(books, l)
	}
	return books, nil
}

func checkSets(offered, requested []uuid.UUID) error {
	if len(offered) == 0 || len(requested) == 0 {
		return domain.Invalid("both sides of a trade need at least one listing")
	}
	seen := make(map[uuid.UUID]bool, len(offered)+len(requested))
	for _, set := range [][]uuid.UUID{offered, requested} {
		for _, id := range set {
			if id == uuid.Nil {
				return domain.Invalid("listing id is required")
			}
			if seen[id] {
				return domain.Invalid("listing %s appears more than once", id)
			}
			seen[id] = true
		}
	}
	return nil
}

func tradePayload(t *domain.TradeProposal) map[string]any {
	ids := func(set []uuid.UUID) []any {
		res := make([]any, 0, len(set))
		for _, id := range set {
			res = append(res, id.String())
		}
		return res
	}
	return map[string]any{
		"trade_id":           t.ID.String(),
		"proposer_id":        t.ProposerID.String(),
		"recipient_id":       t.RecipientID.String(),
		"proposer_listings":  ids(t.ProposerListings),
		"recipient_listings": ids(t.RecipientListings),
		"status":             string(t.Status),
	}
}
