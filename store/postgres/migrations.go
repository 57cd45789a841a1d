package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

type migration struct {
	Name    string
	Version string
	Up      func(ctx context.Context, tx pgx.Tx) error
	Down    func(ctx context.Context, tx pgx.Tx) error
}

// migrationLockID serializes concurrent migrators through an advisory lock.
const migrationLockID = 7_305_112_009

func execSQL(query string) func(ctx context.Context, tx pgx.Tx) error {
	return func(ctx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctx, query)
		return err
	}
}

// Migrations lists the schema changes of the Wallet store (PostgreSQL) in order.
var Migrations = []migration{
	{
		Name:    "create_wallet_balances",
		Version: "20250101000001",
		Up: execSQL(`
CREATE TABLE IF NOT EXISTS wallet_balances (
    user_id    TEXT PRIMARY KEY,
    amount     BIGINT NOT NULL DEFAULT 0 CHECK (amount >= 0),
    currency   TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`),
		Down: execSQL(`DROP TABLE IF EXISTS wallet_balances`),
	},
	{
		Name:    "create_wallet_transactions",
		Version: "20250101000002",
		Up: execSQL(`
CREATE TABLE IF NOT EXISTS wallet_transactions (
    seq             BIGSERIAL PRIMARY KEY,
    id              TEXT NOT NULL UNIQUE,
    user_id         TEXT NOT NULL,
    type            TEXT NOT NULL,
    amount          BIGINT NOT NULL CHECK (amount > 0),
    currency        TEXT NOT NULL,
    status          TEXT NOT NULL,
    description     TEXT NOT NULL DEFAULT '',
    reference_id    TEXT NOT NULL DEFAULT '',
    reference_type  TEXT NOT NULL DEFAULT '',
    metadata        JSONB NOT NULL DEFAULT '{}',
    idempotency_key TEXT NOT NULL DEFAULT '',
    balance_after   BIGINT NOT NULL DEFAULT 0,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_wallet_transactions_user ON wallet_transactions (user_id, seq DESC);
CREATE INDEX IF NOT EXISTS idx_wallet_transactions_reference ON wallet_transactions (user_id, reference_id, reference_type);
CREATE UNIQUE INDEX IF NOT EXISTS idx_wallet_transactions_idempotency
    ON wallet_transactions (user_id, idempotency_key) WHERE idempotency_key <> ''`),
		Down: execSQL(`DROP TABLE IF EXISTS wallet_transactions`),
	},
	{
		Name:    "create_wallet_grants",
		Version: "20250101000003",
		Up: execSQL(`
CREATE TABLE IF NOT EXISTS wallet_grants (
    id             TEXT NOT NULL UNIQUE,
    payer_id       TEXT NOT NULL,
    resource_id    TEXT NOT NULL,
    kind           TEXT NOT NULL,
    amount_paid    BIGINT NOT NULL,
    currency       TEXT NOT NULL,
    transaction_id TEXT NOT NULL,
    granted_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (payer_id, resource_id, kind)
)`),
		Down: execSQL(`DROP TABLE IF EXISTS wallet_grants`),
	},
	{
		Name:    "create_wallet_prices",
		Version: "20250101000004",
		Up: execSQL(`
CREATE TABLE IF NOT EXISTS wallet_prices (
    service_type      TEXT PRIMARY KEY,
    id                TEXT NOT NULL UNIQUE,
    service_name      TEXT NOT NULL DEFAULT '',
    price             BIGINT NOT NULL CHECK (price > 0),
    currency          TEXT NOT NULL,
    is_active         BOOLEAN NOT NULL DEFAULT TRUE,
    has_offer         BOOLEAN NOT NULL DEFAULT FALSE,
    offer_price       BIGINT NOT NULL DEFAULT 0,
    offer_percentage  NUMERIC(5, 2),
    offer_valid_until TIMESTAMPTZ,
    description       TEXT NOT NULL DEFAULT '',
    created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`),
		Down: execSQL(`DROP TABLE IF EXISTS wallet_prices`),
	},
}

// migrate applies every migration not yet recorded in wallet_migrations,
// each in its own transaction.
func migrate(ctx context.Context, db beginner) error {
	if _, err := db.Exec(ctx, `
CREATE TABLE IF NOT EXISTS wallet_migrations (
    version    TEXT PRIMARY KEY,
    name       TEXT NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
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

func applyMigration(ctx context.Context, db beginner, m migration) error {
	tx, err := db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(migrationLockID)); err != nil {
		return err
	}

	var applied bool
	if err := tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM wallet_migrations WHERE version = $1)`, m.Version,
	).Scan(&applied); err != nil {
		return err
	}
	if applied {
		return nil
	}

	if err := m.Up(ctx, tx); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO wallet_migrations (version, name) VALUES ($1, $2)`, m.Version, m.Name,
	); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
