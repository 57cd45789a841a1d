// Package postgres implements store.Store on PostgreSQL through pgx.
// Atomic units lock the user's balance row with SELECT ... FOR UPDATE, so
// units for one user are serialized across processes.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xraph/wallet"
	"github.com/xraph/wallet/access"
	"github.com/xraph/wallet/balance"
	"github.com/xraph/wallet/id"
	"github.com/xraph/wallet/pricing"
	walletstore "github.com/xraph/wallet/store"
	"github.com/xraph/wallet/transaction"
)

// compile-time interface check
var _ walletstore.Store = (*Store)(nil)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type beginner interface {
	querier
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store implements store.Store using PostgreSQL.
type Store struct {
	pool      *pgxpool.Pool
	closeOnce sync.Once
}

// Open connects a new pool to databaseURL and verifies it with a ping.
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("wallet/postgres: parse config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("wallet/postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, classify("ping", err)
	}
	return New(pool), nil
}

// New wraps an existing pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Pool returns the underlying connection pool.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// Migrate creates the required tables and indexes.
func (s *Store) Migrate(ctx context.Context) error {
	if err := migrate(ctx, s.pool); err != nil {
		return fmt.Errorf("wallet/postgres: %w: %w", wallet.ErrMigrationFailed, err)
	}
	return nil
}

// Drop reverts every migration in reverse order and removes the migration
// history. Intended for tests.
func (s *Store) Drop(ctx context.Context) error {
	for i := len(Migrations) - 1; i >= 0; i-- {
		m := Migrations[i]
		if err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
			return m.Down(ctx, tx)
		}); err != nil {
			return fmt.Errorf("wallet/postgres: drop %s: %w", m.Name, err)
		}
	}
	if _, err := s.pool.Exec(ctx, `DROP TABLE IF EXISTS wallet_migrations`); err != nil {
		return fmt.Errorf("wallet/postgres: drop migrations table: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return classify("ping", err)
	}
	return nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	s.closeOnce.Do(s.pool.Close)
	return nil
}

// ==================== Balance Store ====================

func (s *Store) GetBalance(ctx context.Context, userID string) (*balance.Balance, error) {
	b, err := scanBalance(s.pool.QueryRow(ctx,
		`SELECT `+balanceColumns+` FROM wallet_balances WHERE user_id = $1`, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, wallet.ErrWalletNotFound
	}
	if err != nil {
		return nil, classify("get balance", err)
	}
	if b.Currency == "" && b.Amount == 0 {
		// Row materialized by a unit that never charged.
		return nil, wallet.ErrWalletNotFound
	}
	return b, nil
}

func (s *Store) RunAtomic(ctx context.Context, userID string, fn func(ctx context.Context, u walletstore.Unit) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return classify("begin", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	// Materialize the row so there is always something to lock.
	if _, err := tx.Exec(ctx, `
INSERT INTO wallet_balances (user_id, amount, currency)
VALUES ($1, 0, '')
ON CONFLICT (user_id) DO NOTHING`, userID); err != nil {
		return classify("ensure balance", err)
	}

	current, err := scanBalance(tx.QueryRow(ctx,
		`SELECT `+balanceColumns+` FROM wallet_balances WHERE user_id = $1 FOR UPDATE`, userID))
	if err != nil {
		return classify("lock balance", err)
	}
	if current.Currency == "" && current.Amount == 0 {
		current = balance.Zero(userID)
	}

	u := &unit{tx: tx, userID: userID, bal: current}
	if err := fn(ctx, u); err != nil {
		return err
	}
	if u.empty() {
		// Read-only unit; rolling back drops the placeholder row.
		return nil
	}
	if err := u.flush(ctx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return classify("commit", err)
	}
	return nil
}

// ==================== Transaction Store ====================

func (s *Store) GetTransaction(ctx context.Context, txnID id.TransactionID) (*transaction.Transaction, error) {
	txns, err := queryTransactions(ctx, s.pool,
		`SELECT `+txnColumns+` FROM wallet_transactions WHERE id = $1`, txnID.String())
	if err != nil {
		return nil, err
	}
	if len(txns) == 0 {
		return nil, wallet.ErrTransactionNotFound
	}
	return txns[0], nil
}

func (s *Store) ListTransactions(ctx context.Context, userID string, opts transaction.ListOpts) ([]*transaction.Transaction, error) {
	var w where
	w.add("user_id = %s", userID)
	if opts.Type != "" {
		w.add("type = %s", string(opts.Type))
	}
	if opts.Status != "" {
		w.add("status = %s", string(opts.Status))
	}
	if opts.ReferenceID != "" {
		w.add("reference_id = %s", opts.ReferenceID)
	}
	if opts.ReferenceType != "" {
		w.add("reference_type = %s", opts.ReferenceType)
	}
	if opts.Since != nil {
		w.add("created_at >= %s", opts.Since.UTC())
	}
	if opts.Until != nil {
		w.add("created_at < %s", opts.Until.UTC())
	}

	query := `SELECT ` + txnColumns + ` FROM wallet_transactions` + w.String() +
		` ORDER BY seq DESC` + limitClause(opts.Limit, opts.Offset)
	return queryTransactions(ctx, s.pool, query, w.args...)
}

func queryTransactions(ctx context.Context, q querier, query string, args ...any) ([]*transaction.Transaction, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, classify("query transactions", err)
	}
	txns, err := pgx.CollectRows(rows, scanTransaction)
	if err != nil {
		return nil, classify("scan transactions", err)
	}
	return txns, nil
}

// ==================== Grant Store ====================

func (s *Store) GetGrant(ctx context.Context, key access.Key) (*access.Grant, error) {
	g, err := getGrant(ctx, s.pool, key)
	if err != nil {
		return nil, err
	}
	if g == nil {
		return nil, wallet.ErrGrantNotFound
	}
	return g, nil
}

func getGrant(ctx context.Context, q querier, key access.Key) (*access.Grant, error) {
	rows, err := q.Query(ctx,
		`SELECT `+grantColumns+` FROM wallet_grants WHERE payer_id = $1 AND resource_id = $2 AND kind = $3`,
		key.PayerID, key.ResourceID, string(key.Kind))
	if err != nil {
		return nil, classify("get grant", err)
	}
	g, err := pgx.CollectOneRow(rows, scanGrant)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil //nolint:nilnil // absence is not an error here
	}
	if err != nil {
		return nil, classify("scan grant", err)
	}
	return g, nil
}

func (s *Store) ListGrants(ctx context.Context, payerID string, opts access.ListOpts) ([]*access.Grant, error) {
	var w where
	w.add("payer_id = %s", payerID)
	if opts.Kind != "" {
		w.add("kind = %s", string(opts.Kind))
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+grantColumns+` FROM wallet_grants`+w.String()+
			` ORDER BY granted_at DESC, id DESC`+limitClause(opts.Limit, opts.Offset),
		w.args...)
	if err != nil {
		return nil, classify("list grants", err)
	}
	grants, err := pgx.CollectRows(rows, scanGrant)
	if err != nil {
		return nil, classify("scan grants", err)
	}
	return grants, nil
}

func (s *Store) CreateGrant(ctx context.Context, g *access.Grant) error {
	return insertGrant(ctx, s.pool, g)
}

func insertGrant(ctx context.Context, q querier, g *access.Grant) error {
	tag, err := q.Exec(ctx, `
INSERT INTO wallet_grants (`+grantColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (payer_id, resource_id, kind) DO NOTHING`, grantArgs(g)...)
	if err != nil {
		return classify("create grant", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("wallet/postgres: create grant %s: %w", g.Key, wallet.ErrGrantExists)
	}
	return nil
}

// ==================== Pricing Store ====================

func (s *Store) GetPrice(ctx context.Context, serviceType string) (*pricing.ServicePrice, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+priceColumns+` FROM wallet_prices WHERE service_type = $1`, serviceType)
	if err != nil {
		return nil, classify("get price", err)
	}
	p, err := pgx.CollectOneRow(rows, scanPrice)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, wallet.ErrPriceNotFound
	}
	if err != nil {
		return nil, classify("scan price", err)
	}
	return p, nil
}

func (s *Store) UpsertPrice(ctx context.Context, p *pricing.ServicePrice) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO wallet_prices (`+priceColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
ON CONFLICT (service_type) DO UPDATE SET
    service_name      = EXCLUDED.service_name,
    price             = EXCLUDED.price,
    currency          = EXCLUDED.currency,
    is_active         = EXCLUDED.is_active,
    has_offer         = EXCLUDED.has_offer,
    offer_price       = EXCLUDED.offer_price,
    offer_percentage  = EXCLUDED.offer_percentage,
    offer_valid_until = EXCLUDED.offer_valid_until,
    description       = EXCLUDED.description,
    updated_at        = EXCLUDED.updated_at`, priceArgs(p)...)
	if err != nil {
		return classify("upsert price", err)
	}
	return nil
}

func (s *Store) DeletePrice(ctx context.Context, serviceType string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM wallet_prices WHERE service_type = $1`, serviceType)
	if err != nil {
		return classify("delete price", err)
	}
	if tag.RowsAffected() == 0 {
		return wallet.ErrPriceNotFound
	}
	return nil
}

func (s *Store) ListPrices(ctx context.Context, opts pricing.ListOpts) ([]*pricing.ServicePrice, error) {
	query := `SELECT ` + priceColumns + ` FROM wallet_prices`
	if opts.ActiveOnly {
		query += ` WHERE is_active`
	}
	rows, err := s.pool.Query(ctx, query+` ORDER BY service_type`+limitClause(opts.Limit, opts.Offset))
	if err != nil {
		return nil, classify("list prices", err)
	}
	prices, err := pgx.CollectRows(rows, scanPrice)
	if err != nil {
		return nil, classify("scan prices", err)
	}
	return prices, nil
}

// ==================== Atomic unit ====================

type unit struct {
	tx         pgx.Tx
	userID     string
	bal        *balance.Balance
	balanceSet bool
	txns       []*transaction.Transaction
	grants     []*access.Grant
}

func (u *unit) empty() bool {
	return !u.balanceSet && len(u.txns) == 0 && len(u.grants) == 0
}

func (u *unit) Balance() *balance.Balance {
	cp := *u.bal
	return &cp
}

func (u *unit) LookupGrant(ctx context.Context, key access.Key) (*access.Grant, bool, error) {
	for _, g := range u.grants {
		if g.Key == key {
			return g, true, nil
		}
	}
	g, err := getGrant(ctx, u.tx, key)
	if err != nil {
		return nil, false, err
	}
	return g, g != nil, nil
}

func (u *unit) LookupIdempotent(ctx context.Context, key string) (*transaction.Transaction, bool, error) {
	for _, t := range u.txns {
		if t.IdempotencyKey == key {
			return t, true, nil
		}
	}
	txns, err := queryTransactions(ctx, u.tx,
		`SELECT `+txnColumns+` FROM wallet_transactions WHERE user_id = $1 AND idempotency_key = $2 LIMIT 1`,
		u.userID, key)
	if err != nil || len(txns) == 0 {
		return nil, false, err
	}
	return txns[0], true, nil
}

func (u *unit) FindPayment(ctx context.Context, resourceID, referenceType string) (*transaction.Transaction, bool, error) {
	for i := len(u.txns) - 1; i >= 0; i-- {
		t := u.txns[i]
		if t.Type == transaction.TypePayment && t.Status == transaction.StatusCompleted &&
			t.ReferenceID == resourceID && t.ReferenceType == referenceType {
			return t, true, nil
		}
	}
	txns, err := queryTransactions(ctx, u.tx, `SELECT `+txnColumns+` FROM wallet_transactions
WHERE user_id = $1 AND type = $2 AND status = $3 AND reference_id = $4 AND reference_type = $5
ORDER BY seq DESC LIMIT 1`,
		u.userID, string(transaction.TypePayment), string(transaction.StatusCompleted), resourceID, referenceType)
	if err != nil || len(txns) == 0 {
		return nil, false, err
	}
	return txns[0], true, nil
}

func (u *unit) SetBalance(b *balance.Balance) {
	cp := *b
	u.bal = &cp
	u.balanceSet = true
}

func (u *unit) AppendTransaction(t *transaction.Transaction) {
	u.txns = append(u.txns, t)
}

func (u *unit) CreateGrant(g *access.Grant) {
	u.grants = append(u.grants, g)
}

// flush writes the queued rows as one batch inside the unit's transaction.
func (u *unit) flush(ctx context.Context) error {
	batch := &pgx.Batch{}
	for _, t := range u.txns {
		args, err := transactionArgs(t)
		if err != nil {
			return fmt.Errorf("wallet/postgres: %w", err)
		}
		batch.Queue(`INSERT INTO wallet_transactions (`+txnColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`, args...)
	}
	if u.balanceSet {
		batch.Queue(`UPDATE wallet_balances SET amount = $2, currency = $3, created_at = $4, updated_at = $5
WHERE user_id = $1`,
			u.userID, u.bal.Amount, u.bal.Currency, u.bal.CreatedAt.UTC(), u.bal.UpdatedAt.UTC())
	}
	if batch.Len() > 0 {
		if err := u.tx.SendBatch(ctx, batch).Close(); err != nil {
			return classify("write unit", err)
		}
	}

	// Grants go one by one so a lost race surfaces as ErrGrantExists.
	for _, g := range u.grants {
		if err := insertGrant(ctx, u.tx, g); err != nil {
			return err
		}
	}
	return nil
}

// ==================== Helpers ====================

// where accumulates AND-ed predicates with positional parameters.
type where struct {
	clauses []string
	args    []any
}

func (w *where) add(format string, arg any) {
	w.args = append(w.args, arg)
	w.clauses = append(w.clauses, fmt.Sprintf(format, "$"+strconv.Itoa(len(w.args))))
}

func (w *where) String() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.clauses, " AND ")
}

func limitClause(limit, offset int) string {
	var b strings.Builder
	if limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", limit)
	}
	if offset > 0 {
		fmt.Fprintf(&b, " OFFSET %d", offset)
	}
	return b.String()
}

// classify maps pgx errors onto the wallet sentinels.
func classify(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "55P03": // serialization_failure, deadlock_detected, lock_not_available
			return fmt.Errorf("wallet/postgres: %s: %w: %w", op, wallet.ErrConflict, err)
		case "23505":
			return fmt.Errorf("wallet/postgres: %s: %w: %w", op, wallet.ErrAlreadyExists, err)
		case "57P01", "57P02", "57P03", "53300":
			return fmt.Errorf("wallet/postgres: %s: %w: %w", op, wallet.ErrStoreUnavailable, err)
		}
		return fmt.Errorf("wallet/postgres: %s: %w", op, err)
	}
	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return fmt.Errorf("wallet/postgres: %s: %w: %w", op, wallet.ErrStoreUnavailable, err)
	}
	if strings.Contains(err.Error(), "closed pool") {
		return fmt.Errorf("wallet/postgres: %s: %w: %w", op, wallet.ErrStoreClosed, err)
	}
	return fmt.Errorf("wallet/postgres: %s: %w", op, err)
}
