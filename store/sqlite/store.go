// Package sqlite implements store.Store on SQLite through database/sql and
// the pure-Go modernc.org/sqlite driver. The pool is limited to one
// connection, so atomic units are serialized for every user of the process.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/xraph/wallet"
	"github.com/xraph/wallet/access"
	"github.com/xraph/wallet/balance"
	"github.com/xraph/wallet/id"
	"github.com/xraph/wallet/pricing"
	walletstore "github.com/xraph/wallet/store"
	"github.com/xraph/wallet/transaction"
	"github.com/xraph/wallet/types"
)

// compile-time interface check
var _ walletstore.Store = (*Store)(nil)

// timeFormat sorts lexically in the same order as the instants it encodes.
const timeFormat = "2006-01-02T15:04:05.000000000Z"

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store implements store.Store using SQLite.
type Store struct {
	db        *sql.DB
	closeOnce sync.Once
	closeErr  error
}

// Open opens the database at dsn, for example "file:wallet.db" or ":memory:".
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("wallet/sqlite: open: %w", err)
	}
	return New(db), nil
}

// New wraps an existing handle. The pool is limited to one connection.
func New(db *sql.DB) *Store {
	db.SetMaxOpenConns(1)
	return &Store{db: db}
}

// DB returns the underlying database handle.
func (s *Store) DB() *sql.DB { return s.db }

// Migrate creates the required tables and indexes.
func (s *Store) Migrate(ctx context.Context) error {
	if err := migrate(ctx, s.db); err != nil {
		return fmt.Errorf("wallet/sqlite: %w: %w", wallet.ErrMigrationFailed, err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return classify("ping", err)
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.db.Close()
	})
	return s.closeErr
}

// ==================== Balance Store ====================

func (s *Store) GetBalance(ctx context.Context, userID string) (*balance.Balance, error) {
	b, err := getBalance(ctx, s.db, userID)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, wallet.ErrWalletNotFound
	}
	return b, nil
}

func getBalance(ctx context.Context, q querier, userID string) (*balance.Balance, error) {
	var (
		b                    balance.Balance
		createdAt, updatedAt string
	)
	err := q.QueryRowContext(ctx,
		`SELECT user_id, amount, currency, created_at, updated_at FROM wallet_balances WHERE user_id = ?`,
		userID,
	).Scan(&b.UserID, &b.Amount, &b.Currency, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil //nolint:nilnil // absence is not an error here
	}
	if err != nil {
		return nil, classify("get balance", err)
	}
	b.CreatedAt = parseTime(createdAt)
	b.UpdatedAt = parseTime(updatedAt)
	return &b, nil
}

func (s *Store) RunAtomic(ctx context.Context, userID string, fn func(ctx context.Context, u walletstore.Unit) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify("begin", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	current, err := getBalance(ctx, tx, userID)
	if err != nil {
		return err
	}
	if current == nil {
		current = balance.Zero(userID)
	}

	u := &unit{tx: tx, userID: userID, bal: current}
	if err := fn(ctx, u); err != nil {
		return err
	}
	if err := u.flush(ctx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return classify("commit", err)
	}
	return nil
}

// ==================== Transaction Store ====================

const txnColumns = `id, user_id, type, amount, currency, status, description, reference_id,
reference_type, metadata, idempotency_key, balance_after, created_at`

func (s *Store) GetTransaction(ctx context.Context, txnID id.TransactionID) (*transaction.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+txnColumns+` FROM wallet_transactions WHERE id = ?`, txnID.String())
	if err != nil {
		return nil, classify("get transaction", err)
	}
	txns, err := scanTransactions(rows)
	if err != nil {
		return nil, err
	}
	if len(txns) == 0 {
		return nil, wallet.ErrTransactionNotFound
	}
	return txns[0], nil
}

func (s *Store) ListTransactions(ctx context.Context, userID string, opts transaction.ListOpts) ([]*transaction.Transaction, error) {
	where := []string{"user_id = ?"}
	args := []any{userID}
	if opts.Type != "" {
		where = append(where, "type = ?")
		args = append(args, string(opts.Type))
	}
	if opts.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(opts.Status))
	}
	if opts.ReferenceID != "" {
		where = append(where, "reference_id = ?")
		args = append(args, opts.ReferenceID)
	}
	if opts.ReferenceType != "" {
		where = append(where, "reference_type = ?")
		args = append(args, opts.ReferenceType)
	}
	if opts.Since != nil {
		where = append(where, "created_at >= ?")
		args = append(args, formatTime(*opts.Since))
	}
	if opts.Until != nil {
		where = append(where, "created_at < ?")
		args = append(args, formatTime(*opts.Until))
	}

	query := `SELECT ` + txnColumns + ` FROM wallet_transactions WHERE ` +
		strings.Join(where, " AND ") + ` ORDER BY seq DESC` + limitClause(opts.Limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify("list transactions", err)
	}
	return scanTransactions(rows)
}

func scanTransactions(rows *sql.Rows) ([]*transaction.Transaction, error) {
	defer rows.Close()

	result := make([]*transaction.Transaction, 0)
	for rows.Next() {
		var (
			t                  transaction.Transaction
			currency, metadata string
			createdAt          string
			balanceAfter       int64
		)
		if err := rows.Scan(&t.ID, &t.UserID, &t.Type, &t.Amount.Amount, &currency, &t.Status,
			&t.Description, &t.ReferenceID, &t.ReferenceType, &metadata, &t.IdempotencyKey,
			&balanceAfter, &createdAt); err != nil {
			return nil, classify("scan transaction", err)
		}
		t.Amount.Currency = currency
		t.BalanceAfter = types.Money{Amount: balanceAfter, Currency: currency}
		t.CreatedAt = parseTime(createdAt)
		if metadata != "" && metadata != "{}" {
			if err := json.Unmarshal([]byte(metadata), &t.Metadata); err != nil {
				return nil, fmt.Errorf("wallet/sqlite: decode metadata of %s: %w", t.ID, err)
			}
		}
		result = append(result, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("scan transactions", err)
	}
	return result, nil
}

// ==================== Grant Store ====================

const grantColumns = `id, payer_id, resource_id, kind, amount_paid, currency, transaction_id, granted_at`

func (s *Store) GetGrant(ctx context.Context, key access.Key) (*access.Grant, error) {
	g, err := getGrant(ctx, s.db, key)
	if err != nil {
		return nil, err
	}
	if g == nil {
		return nil, wallet.ErrGrantNotFound
	}
	return g, nil
}

func getGrant(ctx context.Context, q querier, key access.Key) (*access.Grant, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+grantColumns+` FROM wallet_grants WHERE payer_id = ? AND resource_id = ? AND kind = ?`,
		key.PayerID, key.ResourceID, string(key.Kind),
	)
	if err != nil {
		return nil, classify("get grant", err)
	}
	grants, err := scanGrants(rows)
	if err != nil || len(grants) == 0 {
		return nil, err
	}
	return grants[0], nil
}

func (s *Store) ListGrants(ctx context.Context, payerID string, opts access.ListOpts) ([]*access.Grant, error) {
	query := `SELECT ` + grantColumns + ` FROM wallet_grants WHERE payer_id = ?`
	args := []any{payerID}
	if opts.Kind != "" {
		query += ` AND kind = ?`
		args = append(args, string(opts.Kind))
	}
	query += ` ORDER BY granted_at DESC, id DESC` + limitClause(opts.Limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify("list grants", err)
	}
	return scanGrants(rows)
}

func (s *Store) CreateGrant(ctx context.Context, g *access.Grant) error {
	return insertGrant(ctx, s.db, g)
}

func insertGrant(ctx context.Context, q querier, g *access.Grant) error {
	res, err := q.ExecContext(ctx, `
INSERT INTO wallet_grants (`+grantColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (payer_id, resource_id, kind) DO NOTHING`,
		g.ID.String(), g.Key.PayerID, g.Key.ResourceID, string(g.Key.Kind),
		g.AmountPaid.Amount, g.AmountPaid.Currency, g.TransactionID.String(), formatTime(g.GrantedAt),
	)
	if err != nil {
		return classify("create grant", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return classify("create grant", err)
	}
	if n == 0 {
		return fmt.Errorf("wallet/sqlite: create grant %s: %w", g.Key, wallet.ErrGrantExists)
	}
	return nil
}

func scanGrants(rows *sql.Rows) ([]*access.Grant, error) {
	defer rows.Close()

	result := make([]*access.Grant, 0)
	for rows.Next() {
		var (
			g         access.Grant
			kind      string
			grantedAt string
		)
		if err := rows.Scan(&g.ID, &g.Key.PayerID, &g.Key.ResourceID, &kind,
			&g.AmountPaid.Amount, &g.AmountPaid.Currency, &g.TransactionID, &grantedAt); err != nil {
			return nil, classify("scan grant", err)
		}
		g.Key.Kind = access.Kind(kind)
		g.GrantedAt = parseTime(grantedAt)
		result = append(result, &g)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("scan grants", err)
	}
	return result, nil
}

// ==================== Pricing Store ====================

const priceColumns = `service_type, id, service_name, price, currency, is_active, has_offer, offer_price,
offer_percentage, offer_valid_until, description, created_at, updated_at`

func (s *Store) GetPrice(ctx context.Context, serviceType string) (*pricing.ServicePrice, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+priceColumns+` FROM wallet_prices WHERE service_type = ?`, serviceType)
	if err != nil {
		return nil, classify("get price", err)
	}
	prices, err := scanPrices(rows)
	if err != nil {
		return nil, err
	}
	if len(prices) == 0 {
		return nil, wallet.ErrPriceNotFound
	}
	return prices[0], nil
}

func (s *Store) UpsertPrice(ctx context.Context, p *pricing.ServicePrice) error {
	var validUntil any
	if p.OfferValidUntil != nil {
		validUntil = formatTime(*p.OfferValidUntil)
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO wallet_prices (`+priceColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (service_type) DO UPDATE SET
    service_name      = excluded.service_name,
    price             = excluded.price,
    currency          = excluded.currency,
    is_active         = excluded.is_active,
    has_offer         = excluded.has_offer,
    offer_price       = excluded.offer_price,
    offer_percentage  = excluded.offer_percentage,
    offer_valid_until = excluded.offer_valid_until,
    description       = excluded.description,
    updated_at        = excluded.updated_at`,
		p.ServiceType, p.ID.String(), p.ServiceName, p.Price.Amount, p.Price.Currency,
		p.IsActive, p.HasOffer, p.OfferPrice.Amount, p.OfferPercentage, validUntil,
		p.Description, formatTime(p.CreatedAt), formatTime(p.UpdatedAt),
	)
	if err != nil {
		return classify("upsert price", err)
	}
	return nil
}

func (s *Store) DeletePrice(ctx context.Context, serviceType string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM wallet_prices WHERE service_type = ?`, serviceType)
	if err != nil {
		return classify("delete price", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return wallet.ErrPriceNotFound
	}
	return nil
}

func (s *Store) ListPrices(ctx context.Context, opts pricing.ListOpts) ([]*pricing.ServicePrice, error) {
	query := `SELECT ` + priceColumns + ` FROM wallet_prices`
	if opts.ActiveOnly {
		query += ` WHERE is_active = 1`
	}
	query += ` ORDER BY service_type` + limitClause(opts.Limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, classify("list prices", err)
	}
	return scanPrices(rows)
}

func scanPrices(rows *sql.Rows) ([]*pricing.ServicePrice, error) {
	defer rows.Close()

	result := make([]*pricing.ServicePrice, 0)
	for rows.Next() {
		var (
			p                    pricing.ServicePrice
			currency             string
			offerPrice           int64
			pct                  decimal.NullDecimal
			validUntil           sql.NullString
			createdAt, updatedAt string
		)
		if err := rows.Scan(&p.ServiceType, &p.ID, &p.ServiceName, &p.Price.Amount, &currency,
			&p.IsActive, &p.HasOffer, &offerPrice, &pct, &validUntil,
			&p.Description, &createdAt, &updatedAt); err != nil {
			return nil, classify("scan price", err)
		}
		p.Price.Currency = currency
		if p.HasOffer {
			p.OfferPrice = types.Money{Amount: offerPrice, Currency: currency}
		}
		p.OfferPercentage = pct
		if validUntil.Valid {
			t := parseTime(validUntil.String)
			p.OfferValidUntil = &t
		}
		p.CreatedAt = parseTime(createdAt)
		p.UpdatedAt = parseTime(updatedAt)
		result = append(result, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("scan prices", err)
	}
	return result, nil
}

// ==================== Atomic unit ====================

type unit struct {
	tx         *sql.Tx
	userID     string
	bal        *balance.Balance
	balanceSet bool
	txns       []*transaction.Transaction
	grants     []*access.Grant
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
	rows, err := u.tx.QueryContext(ctx,
		`SELECT `+txnColumns+` FROM wallet_transactions WHERE user_id = ? AND idempotency_key = ? LIMIT 1`,
		u.userID, key,
	)
	if err != nil {
		return nil, false, classify("lookup idempotency key", err)
	}
	txns, err := scanTransactions(rows)
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
	rows, err := u.tx.QueryContext(ctx, `SELECT `+txnColumns+` FROM wallet_transactions
WHERE user_id = ? AND type = ? AND status = ? AND reference_id = ? AND reference_type = ?
ORDER BY seq DESC LIMIT 1`,
		u.userID, string(transaction.TypePayment), string(transaction.StatusCompleted), resourceID, referenceType,
	)
	if err != nil {
		return nil, false, classify("find payment", err)
	}
	txns, err := scanTransactions(rows)
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

// flush writes the queued rows inside the unit's transaction.
func (u *unit) flush(ctx context.Context) error {
	for _, t := range u.txns {
		metadata := "{}"
		if len(t.Metadata) > 0 {
			raw, err := json.Marshal(t.Metadata)
			if err != nil {
				return fmt.Errorf("wallet/sqlite: encode metadata: %w", err)
			}
			metadata = string(raw)
		}
		if _, err := u.tx.ExecContext(ctx, `
INSERT INTO wallet_transactions (`+txnColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			t.ID.String(), t.UserID, string(t.Type), t.Amount.Amount, t.Amount.Currency, string(t.Status),
			t.Description, t.ReferenceID, t.ReferenceType, metadata, t.IdempotencyKey,
			t.BalanceAfter.Amount, formatTime(t.CreatedAt),
		); err != nil {
			return classify("insert transaction", err)
		}
	}

	if u.balanceSet {
		if _, err := u.tx.ExecContext(ctx, `
INSERT INTO wallet_balances (user_id, amount, currency, created_at, updated_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (user_id) DO UPDATE SET
    amount     = excluded.amount,
    currency   = excluded.currency,
    updated_at = excluded.updated_at`,
			u.userID, u.bal.Amount, u.bal.Currency, formatTime(u.bal.CreatedAt), formatTime(u.bal.UpdatedAt),
		); err != nil {
			return classify("set balance", err)
		}
	}

	for _, g := range u.grants {
		if err := insertGrant(ctx, u.tx, g); err != nil {
			return err
		}
	}
	return nil
}

// ==================== Helpers ====================

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeFormat, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s) //nolint:errcheck // zero time on malformed input
	}
	return t.UTC()
}

func limitClause(limit, offset int) string {
	switch {
	case limit > 0 && offset > 0:
		return fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset)
	case limit > 0:
		return fmt.Sprintf(" LIMIT %d", limit)
	case offset > 0:
		return fmt.Sprintf(" LIMIT -1 OFFSET %d", offset)
	default:
		return ""
	}
}

// classify maps driver errors onto the wallet sentinels.
func classify(op string, err error) error {
	var serr *sqlite.Error
	if errors.As(err, &serr) {
		switch serr.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return fmt.Errorf("wallet/sqlite: %s: %w: %w", op, wallet.ErrConflict, err)
		case sqlite3.SQLITE_CANTOPEN, sqlite3.SQLITE_IOERR, sqlite3.SQLITE_FULL:
			return fmt.Errorf("wallet/sqlite: %s: %w: %w", op, wallet.ErrStoreUnavailable, err)
		}
	}
	if errors.Is(err, sql.ErrConnDone) || strings.Contains(err.Error(), "database is closed") {
		return fmt.Errorf("wallet/sqlite: %s: %w: %w", op, wallet.ErrStoreClosed, err)
	}
	return fmt.Errorf("wallet/sqlite: %s: %w", op, err)
}
