package pg

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/olyamironova/market-engine/internal/domain"
	"github.com/olyamironova/market-engine/internal/port"
)

var (
	_ port.Repository = (*PgRepo)(nil)
	_ port.Tx         = (*pgTx)(nil)
)

type PgRepo struct {
	pool *pgxpool.Pool
}

// call Close when finish to work with database.
func NewPgRepo(ctx context.Context, dsn string) (*PgRepo, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pg: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pg: ping: %w", err)
	}
	return &PgRepo{pool: pool}, nil
}

func (p *PgRepo) Close(ctx context.Context) {
	if p.pool != nil {
		p.pool.Close()
	}
}

// BeginTx opens a serializable transaction. Serialization failures surface
// as port.ErrTxConflict so the caller can retry the unit.
func (p *PgRepo) BeginTx(ctx context.Context) (port.Tx, error) {
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return nil, mapErr(err)
	}
	return &pgTx{tx: tx}, nil
}

func (p *PgRepo) GetUser(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	return getUser(ctx, p.pool, id, "")
}

func (p *PgRepo) GetListing(ctx context.Context, id uuid.UUID) (*domain.Listing, error) {
	return getListing(ctx, p.pool, id, "")
}

func (p *PgRepo) GetOffer(ctx context.Context, id uuid.UUID) (*domain.Offer, error) {
	return getOffer(ctx, p.pool, id, "")
}

func (p *PgRepo) GetTrade(ctx context.Context, id uuid.UUID) (*domain.TradeProposal, error) {
	return getTrade(ctx, p.pool, id, "")
}

func (p *PgRepo) ListBids(ctx context.Context, listingID uuid.UUID) ([]*domain.Bid, error) {
	return listBids(ctx, p.pool, listingID)
}

// ListTransactions returns the newest transactions touching userID first.
// A non-positive limit returns all of them.
func (p *PgRepo) ListTransactions(ctx context.Context, userID uuid.UUID, limit int) ([]*domain.Transaction, error) {
	rows, err := p.pool.Query(ctx, `
SELECT `+transactionColumns+`
FROM transactions
WHERE from_user = $1 OR to_user = $1
ORDER BY seq DESC
LIMIT $2
`, userID, limitArg(limit))
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var res []*domain.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, mapErr(rows.Err())
}

// ListExpiredAuctions returns running auctions whose end time has passed,
// oldest first.
func (p *PgRepo) ListExpiredAuctions(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	return p.ids(ctx, `
SELECT id FROM listings
WHERE auction_active AND 'auction' = ANY(modes) AND end_time <= $1
ORDER BY end_time ASC
LIMIT $2
`, now, limitArg(limit))
}

func (p *PgRepo) ListExpiredOffers(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	return p.ids(ctx, `
SELECT id FROM offers
WHERE status IN ('pending', 'countered') AND expires_at <= $1
ORDER BY expires_at ASC
LIMIT $2
`, now, limitArg(limit))
}

func (p *PgRepo) ids(ctx context.Context, query string, args ...any) ([]uuid.UUID, error) {
	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	var res []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		res = append(res, id)
	}
	return res, mapErr(rows.Err())
}

// LIMIT NULL means no limit.
func limitArg(limit int) *int {
	if limit <= 0 {
		return nil
	}
	return &limit
}

// mapErr translates driver errors into the port and domain taxonomy.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01":
			return fmt.Errorf("%w: %s", port.ErrTxConflict, pgErr.Message)
		case "23505":
			return domain.Conflict("%s", pgErr.Detail)
		case "23514":
			if pgErr.ConstraintName == "users_balance_non_negative" {
				return domain.ErrInsufficientFunds
			}
			return domain.Invalid("%s", pgErr.Message)
		}
	}
	return err
}

// querier is satisfied by both the pool and an open transaction.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}
