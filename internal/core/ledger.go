package core

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/olyamironova/market-engine/internal/domain"
	"github.com/olyamironova/market-engine/internal/port"
	"github.com/shopspring/decimal"
)

// Ledger moves money between user balances. Every mutation writes exactly
// one completed transaction in the same atomic unit.
type Ledger struct {
	*base
}

// transfer describes one fund movement made on behalf of an engine.
type transfer struct {
	from, to  uuid.UUID
	amount    decimal.Decimal
	kind      domain.TransactionType
	ref       *domain.Reference
	listingID *uuid.UUID
}

func (l *Ledger) AddFunds(ctx context.Context, userID uuid.UUID, amount decimal.Decimal) (*domain.Transaction, error) {
	if err := positive(amount); err != nil {
		return nil, err
	}
	var txn *domain.Transaction
	err := l.commit(ctx, "ledger.add_funds", func(tx port.Tx, out *outbox) error {
		u, err := tx.GetUserForUpdate(ctx, userID)
		if err != nil {
			return err
		}
		balance := u.Balance.Add(amount)
		if err := tx.SetBalance(ctx, userID, balance); err != nil {
			return err
		}
		txn = l.record(domain.TxDeposit, userID, nil, amount, domain.TxCompleted)
		if err := tx.InsertTransaction(ctx, txn); err != nil {
			return err
		}
		balanceChanged(out, userID, balance, txn)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return txn, nil
}

func (l *Ledger) DeductFunds(ctx context.Context, userID uuid.UUID, amount decimal.Decimal) (*domain.Transaction, error) {
	if err := positive(amount); err != nil {
		return nil, err
	}
	var txn *domain.Transaction
	err := l.commit(ctx, "ledger.deduct_funds", func(tx port.Tx, out *outbox) error {
		u, err := tx.GetUserForUpdate(ctx, userID)
		if err != nil {
			return err
		}
		if u.Balance.LessThan(amount) {
			return insufficient(userID, u.Balance, amount)
		}
		balance := u.Balance.Sub(amount)
		if err := tx.SetBalance(ctx, userID, balance); err != nil {
			return err
		}
		txn = l.record(domain.TxWithdrawal, userID, nil, amount, domain.TxCompleted)
		if err := tx.InsertTransaction(ctx, txn); err != nil {
			return err
		}
		balanceChanged(out, userID, balance, txn)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return txn, nil
}

func (l *Ledger) TransferFunds(ctx context.Context, from, to uuid.UUID, amount decimal.Decimal) (*domain.Transaction, error) {
	var txn *domain.Transaction
	err := l.commit(ctx, "ledger.transfer_funds", func(tx port.Tx, out *outbox) error {
		var err error
		txn, err = l.transferTx(ctx, tx, out, transfer{from: from, to: to, amount: amount, kind: domain.TxTransfer})
		return err
	})
	if err != nil {
		return nil, err
	}
	return txn, nil
}

// transferTx applies t inside an already open transaction. Both users are
// locked in id order so concurrent transfers cannot deadlock.
func (l *Ledger) transferTx(ctx context.Context, tx port.Tx, out *outbox, t transfer) (*domain.Transaction, error) {
	if err := positive(t.amount); err != nil {
		return nil, err
	}
	if t.from == t.to {
		return nil, domain.Invalid("cannot transfer to the same account")
	}
	first, second := t.from, t.to
	if second.String() < first.String() {
		first, second = second, first
	}
	users := make(map[uuid.UUID]*domain.User, 2)
	for _, id := range []uuid.UUID{first, second} {
		u, err := tx.GetUserForUpdate(ctx, id)
		if err != nil {
			return nil, err
		}
		users[id] = u
	}
	src, dst := users[t.from], users[t.to]
	if src.Balance.LessThan(t.amount) {
		return nil, insufficient(t.from, src.Balance, t.amount)
	}
	srcBalance := src.Balance.Sub(t.amount)
	dstBalance := dst.Balance.Add(t.amount)
	if err := tx.SetBalance(ctx, t.from, srcBalance); err != nil {
		return nil, err
	}
	if err := tx.SetBalance(ctx, t.to, dstBalance); err != nil {
		return nil, err
	}
	to := t.to
	txn := l.record(t.kind, t.from, &to, t.amount, domain.TxCompleted)
	txn.Reference = t.ref
	txn.ListingID = t.listingID
	if err := tx.InsertTransaction(ctx, txn); err != nil {
		return nil, err
	}
	balanceChanged(out, t.from, srcBalance, txn)
	balanceChanged(out, t.to, dstBalance, txn)
	return txn, nil
}

func (l *Ledger) record(kind domain.TransactionType, from uuid.UUID, to *uuid.UUID, amount decimal.Decimal, status domain.TransactionStatus) *domain.Transaction {
	return &domain.Transaction{
		ID:        uuid.New(),
		Type:      kind,
		FromUser:  from,
		ToUser:    to,
		Amount:    amount,
		Status:    status,
		CreatedAt: l.now(),
	}
}

func (l *Ledger) Balance(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error) {
	u, err := l.repo.GetUser(ctx, userID)
	if err != nil {
		return decimal.Zero, err
	}
	return u.Balance, nil
}

// History returns the user's most recent transactions, newest first.
func (l *Ledger) History(ctx context.Context, userID uuid.UUID, limit int) ([]*domain.Transaction, error) {
	if _, err := l.repo.GetUser(ctx, userID); err != nil {
		return nil, err
	}
	return l.repo.ListTransactions(ctx, userID, limit)
}

func positive(amount decimal.Decimal) error {
	return domain.CheckAmount("amount", amount)
}

func insufficient(userID uuid.UUID, balance, need decimal.Decimal) error {
	return fmt.Errorf("%w: user %s has %s, needs %s", domain.ErrInsufficientFunds, userID, balance, need)
}

func balanceChanged(out *outbox, userID uuid.UUID, balance decimal.Decimal, txn *domain.Transaction) {
	out.add(domain.UserChannel(userID), domain.EventBalanceChanged, map[string]any{
		"user_id":        userID.String(),
		"balance":        balance.String(),
		"transaction_id": txn.ID.String(),
		"type":           string(txn.Type),
		"amount":         txn.Amount.String(),
	})
}
