package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

type migration struct {
	Name    string
	Version string
	Up      string
}

// Migrations lists the schema changes of the Wallet store (SQLite) in order.
var Migrations = []migration{
	{
		Name:    "create_wallet_balances",
		Version: "20250101000001",
		Up: `
CREATE TABLE IF NOT EXISTS wallet_balances (
    user_id    TEXT PRIMARY KEY,
    amount     INTEGER NOT NULL DEFAULT 0 CHECK (amount >= 0),
    currency   TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);`,
	},
	{
		Name:    "create_wallet_transactions",
		Version: "20250101000002",
		Up: `
CREATE TABLE IF NOT EXISTS wallet_transactions (
    seq             INTEGER PRIMARY KEY AUTOINCREMENT,
    id              TEXT NOT NULL UNIQUE,
    user_id         TEXT NOT NULL,
    type            TEXT NOT NULL,
    amount          INTEGER NOT NULL CHECK (amount > 0),
    currency        TEXT NOT NULL,
    status          TEXT NOT NULL,
    description     TEXT NOT NULL DEFAULT '',
    reference_id    TEXT NOT NULL DEFAULT '',
    reference_type  TEXT NOT NULL DEFAULT '',
    metadata        TEXT NOT NULL DEFAULT '{}',
    idempotency_key TEXT NOT NULL DEFAULT '',
    balance_after   INTEGER NOT NULL DEFAULT 0,
    created_at      TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_wallet_transactions_user ON wallet_transactions (user_id, seq);
CREATE INDEX IF NOT EXISTS idx_wallet_transactions_reference ON wallet_transactions (user_id, reference_id, reference_type);
CREATE UNIQUE INDEX IF NOT EXISTS idx_wallet_transactions_idempotency
    ON wallet_transactions (user_id, idempotency_key) WHERE idempotency_key != '';`,
	},
	{
		Name:    "create_wallet_grants",
		Version: "20250101000003",
		Up: `
CREATE TABLE IF NOT EXISTS wallet_grants (
    id             TEXT NOT NULL UNIQUE,
    payer_id       TEXT NOT NULL,
    resource_id    TEXT NOT NULL,
    kind           TEXT NOT NULL,
    amount_paid    INTEGER NOT NULL,
    currency       TEXT NOT NULL,
    transaction_id TEXT NOT NULL,
    granted_at     TEXT NOT NULL,
    PRIMARY KEY (payer_id, resource_id, kind)
);`,
	},
	{
		Name:    "create_wallet_prices",
		Version: "20250101000004",
		Up: `
CREATE TABLE IF NOT EXISTS wallet_prices (
    service_type      TEXT PRIMARY KEY,
    id                TEXT NOT NULL UNIQUE,
    service_name      TEXT NOT NULL DEFAULT '',
    price             INTEGER NOT NULL,
    currency          TEXT NOT NULL,
    is_active         INTEGER NOT NULL DEFAULT 1,
    has_offer         INTEGER NOT NULL DEFAULT 0,
    offer_price       INTEGER NOT NULL DEFAULT 0,
    offer_percentage  TEXT,
    offer_valid_until TEXT,
    description       TEXT NOT NULL DEFAULT '',
    created_at        TEXT NOT NULL,
    updated_at        TEXT NOT NULL
);`,
	},
}

// migrate applies every migration not yet recorded in wallet_migrations.
func migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS wallet_migrations (
    version    TEXT PRIMARY KEY,
    name       TEXT NOT NULL,
    applied_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
)`); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	for _, m := range Migrations {
		if err := applyMigration(ctx, db, m); err != nil {
			return fmt.Errorf("%s: %w", m.Name, err)
		}
	}
	return nil
}

func applyMigration(ctx context.Context, db *sql.DB, m migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	var n int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM wallet_migrations WHERE version = ?`, m.Version).Scan(&n); err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	if _, err := tx.ExecContext(ctx, m.Up); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO wallet_migrations (version, name) VALUES (?, ?)`, m.Version, m.Name); err != nil {
		return err
	}
	return tx.Commit()
}
