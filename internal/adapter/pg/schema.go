package pg

import (
	"context"
	"fmt"
)

// schema is applied statement by statement so each step reports its own
// error. Every statement is idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
	id         UUID PRIMARY KEY,
	balance    NUMERIC(20, 2) NOT NULL DEFAULT 0 CONSTRAINT users_balance_non_negative CHECK (balance >= 0),
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`,
	`CREATE TABLE IF NOT EXISTS listings (
	id             UUID PRIMARY KEY,
	owner_id       UUID NOT NULL REFERENCES users(id),
	title          TEXT NOT NULL DEFAULT '',
	available      BOOLEAN NOT NULL DEFAULT TRUE,
	starting_bid   NUMERIC(20, 2),
	current_bid    NUMERIC(20, 2),
	end_time       TIMESTAMPTZ,
	auction_active BOOLEAN NOT NULL DEFAULT FALSE,
	price          NUMERIC(20, 2),
	accepts_offers BOOLEAN NOT NULL DEFAULT FALSE,
	sold_at        TIMESTAMPTZ,
	sold_to        UUID,
	version        BIGINT NOT NULL DEFAULT 0,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`,
	`ALTER TABLE listings ADD COLUMN IF NOT EXISTS modes TEXT[] NOT NULL DEFAULT '{}'`,
	// Older databases stored a single listing_type per row.
	`DO $$
BEGIN
	IF EXISTS (
		SELECT 1 FROM information_schema.columns
		WHERE table_schema = current_schema() AND table_name = 'listings' AND column_name = 'listing_type'
	) THEN
		UPDATE listings SET modes = CASE lower(trim(listing_type))
			WHEN 'auction'    THEN ARRAY['auction']
			WHEN 'trade'      THEN ARRAY['trade']
			WHEN 'exchange'   THEN ARRAY['trade']
			WHEN 'both'       THEN ARRAY['fixed_price', 'trade']
			WHEN 'sale_trade' THEN ARRAY['fixed_price', 'trade']
			ELSE ARRAY['fixed_price']
		END
		WHERE cardinality(modes) = 0;
		ALTER TABLE listings DROP COLUMN listing_type;
	END IF;
END $$`,
	`CREATE INDEX IF NOT EXISTS listings_auction_end_idx ON listings (end_time) WHERE auction_active`,
	`CREATE TABLE IF NOT EXISTS bids (
	id         UUID PRIMARY KEY,
	listing_id UUID NOT NULL REFERENCES listings(id),
	bidder_id  UUID NOT NULL REFERENCES users(id),
	amount     NUMERIC(20, 2) NOT NULL CHECK (amount > 0),
	winning    BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS bids_one_winner_idx ON bids (listing_id) WHERE winning`,
	`CREATE TABLE IF NOT EXISTS offers (
	id             UUID PRIMARY KEY,
	listing_id     UUID NOT NULL REFERENCES listings(id),
	buyer_id       UUID NOT NULL REFERENCES users(id),
	seller_id      UUID NOT NULL REFERENCES users(id),
	amount         NUMERIC(20, 2) NOT NULL CHECK (amount > 0),
	counter_amount NUMERIC(20, 2),
	message        TEXT NOT NULL DEFAULT '',
	status         TEXT NOT NULL,
	expires_at     TIMESTAMPTZ NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS offers_one_open_idx ON offers (listing_id, buyer_id) WHERE status IN ('pending', 'countered')`,
	`CREATE INDEX IF NOT EXISTS offers_expiry_idx ON offers (expires_at) WHERE status IN ('pending', 'countered')`,
	`CREATE TABLE IF NOT EXISTS trade_proposals (
	id                 UUID PRIMARY KEY,
	proposer_id        UUID NOT NULL REFERENCES users(id),
	recipient_id       UUID NOT NULL REFERENCES users(id),
	proposer_listings  UUID[] NOT NULL,
	recipient_listings UUID[] NOT NULL,
	message            TEXT NOT NULL DEFAULT '',
	status             TEXT NOT NULL,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`,
	`CREATE TABLE IF NOT EXISTS transactions (
	seq        BIGSERIAL,
	id         UUID PRIMARY KEY,
	type       TEXT NOT NULL,
	from_user  UUID NOT NULL,
	to_user    UUID,
	amount     NUMERIC(20, 2) NOT NULL CHECK (amount >= 0),
	status     TEXT NOT NULL,
	ref_kind   TEXT,
	ref_id     UUID,
	listing_id UUID,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`,
	`CREATE INDEX IF NOT EXISTS transactions_from_idx ON transactions (from_user, seq)`,
	`CREATE INDEX IF NOT EXISTS transactions_to_idx ON transactions (to_user, seq)`,
}

// Migrate creates missing tables and converts legacy single-type listings
// into mode sets.
func (p *PgRepo) Migrate(ctx context.Context) error {
	for i, stmt := range schema {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("pg: migrate step %d: %w", i, err)
		}
	}
	return nil
}
