package marketdb

import (
	"context"
	"fmt"
)

// schemaStatements creates the exchange tables. All monetary columns are
// NUMERIC; volumes carry 4 decimal places, prices 8.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id            BIGSERIAL PRIMARY KEY,
		username      TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS assets (
		id            BIGSERIAL PRIMARY KEY,
		name          TEXT,
		previous_name TEXT,
		removed_at    TIMESTAMPTZ
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_assets_active_name
		ON assets(name) WHERE name IS NOT NULL`,

	`CREATE TABLE IF NOT EXISTS holdings (
		id          BIGSERIAL PRIMARY KEY,
		user_id     BIGINT NOT NULL REFERENCES users(id),
		asset_id    BIGINT NOT NULL REFERENCES assets(id),
		volume      NUMERIC(10,4) NOT NULL CHECK (volume <> 0),
		source      TEXT NOT NULL CHECK (source IN ('InternalTrade', 'External')),
		description TEXT,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_holdings_user_asset ON holdings(user_id, asset_id)`,
	`CREATE INDEX IF NOT EXISTS idx_holdings_asset ON holdings(asset_id)`,

	`CREATE TABLE IF NOT EXISTS contracts (
		id            BIGSERIAL PRIMARY KEY,
		created_at    TIMESTAMPTZ NOT NULL,
		contract_type TEXT NOT NULL CHECK (contract_type IN ('Future')),
		issuer_id     BIGINT NOT NULL REFERENCES users(id)
	)`,

	`CREATE TABLE IF NOT EXISTS futures (
		id                BIGINT PRIMARY KEY REFERENCES contracts(id),
		cancelled         BOOLEAN NOT NULL DEFAULT FALSE,
		expired           BOOLEAN NOT NULL DEFAULT FALSE,
		expires_at        TIMESTAMPTZ NOT NULL,
		volume            NUMERIC(10,4) NOT NULL,
		asset_id          BIGINT NOT NULL REFERENCES assets(id),
		contract_asset_id BIGINT NOT NULL REFERENCES assets(id)
	)`,

	`CREATE TABLE IF NOT EXISTS orders (
		id          BIGSERIAL PRIMARY KEY,
		created_at  TIMESTAMPTZ NOT NULL,
		user_id     BIGINT NOT NULL REFERENCES users(id),
		price       NUMERIC(15,8),
		asset_id    BIGINT NOT NULL REFERENCES assets(id),
		volume      NUMERIC(10,4) NOT NULL CHECK (volume > 0),
		contract_id BIGINT NOT NULL REFERENCES contracts(id),
		expires_in  INTERVAL,
		direction   TEXT NOT NULL CHECK (direction IN ('Bid', 'Ask')),
		order_type  TEXT NOT NULL CHECK (order_type IN ('MarketOrder', 'LimitOrder')),
		state       TEXT NOT NULL CHECK (state IN ('Created', 'InMarket', 'Executed', 'Cancelled')),
		executed_at TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_orders_book ON orders(contract_id, direction, state)`,
	`CREATE INDEX IF NOT EXISTS idx_orders_user ON orders(user_id)`,

	`CREATE TABLE IF NOT EXISTS transactions (
		id           BIGSERIAL PRIMARY KEY,
		executed_at  TIMESTAMPTZ,
		contract_id  BIGINT NOT NULL REFERENCES contracts(id),
		ask_order_id BIGINT NOT NULL REFERENCES orders(id),
		bid_order_id BIGINT NOT NULL REFERENCES orders(id),
		price        NUMERIC(15,8) NOT NULL,
		asset_id     BIGINT NOT NULL REFERENCES assets(id),
		volume       NUMERIC(10,4) NOT NULL,
		UNIQUE (ask_order_id, bid_order_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_contract ON transactions(contract_id, executed_at)`,
}

func (s *Store) initSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}

// DropSchema removes every exchange table. Used by the test harness to
// start each test from a clean database.
func (s *Store) DropSchema(ctx context.Context) error {
	if s.db == nil {
		return ErrStoreClosed
	}
	_, err := s.db.ExecContext(ctx,
		`DROP TABLE IF EXISTS transactions, orders, futures, contracts, holdings, assets, users CASCADE`)
	if err != nil {
		return NewSchemaError("drop_schema", "failed to drop schema", err)
	}
	return nil
}

// ResetSchema drops and recreates every table.
func (s *Store) ResetSchema(ctx context.Context) error {
	if err := s.DropSchema(ctx); err != nil {
		return err
	}
	return s.initSchema(ctx)
}
