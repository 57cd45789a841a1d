package postgres

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/xraph/wallet/access"
	"github.com/xraph/wallet/balance"
	"github.com/xraph/wallet/id"
	"github.com/xraph/wallet/pricing"
	"github.com/xraph/wallet/transaction"
	"github.com/xraph/wallet/types"
)

const (
	balanceColumns = `user_id, amount, currency, created_at, updated_at`

	txnColumns = `id, user_id, type, amount, currency, status, description, reference_id,
reference_type, metadata, idempotency_key, balance_after, created_at`

	grantColumns = `id, payer_id, resource_id, kind, amount_paid, currency, transaction_id, granted_at`

	priceColumns = `service_type, id, service_name, price, currency, is_active, has_offer, offer_price,
offer_percentage, offer_valid_until, description, created_at, updated_at`
)

// ──────────────────────────────────────────────────
// Balance
// ──────────────────────────────────────────────────

func scanBalance(row pgx.Row) (*balance.Balance, error) {
	var b balance.Balance
	if err := row.Scan(&b.UserID, &b.Amount, &b.Currency, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return nil, err
	}
	b.CreatedAt = b.CreatedAt.UTC()
	b.UpdatedAt = b.UpdatedAt.UTC()
	return &b, nil
}

// ──────────────────────────────────────────────────
// Transaction
// ──────────────────────────────────────────────────

func scanTransaction(row pgx.CollectableRow) (*transaction.Transaction, error) {
	var (
		t            transaction.Transaction
		txnID        string
		typ, status  string
		currency     string
		metadata     []byte
		balanceAfter int64
	)
	if err := row.Scan(&txnID, &t.UserID, &typ, &t.Amount.Amount, &currency, &status,
		&t.Description, &t.ReferenceID, &t.ReferenceType, &metadata, &t.IdempotencyKey,
		&balanceAfter, &t.CreatedAt); err != nil {
		return nil, err
	}

	parsed, err := id.ParseTransactionID(txnID)
	if err != nil {
		return nil, err
	}
	t.ID = parsed
	t.Type = transaction.Type(typ)
	t.Status = transaction.Status(status)
	t.Amount.Currency = currency
	t.BalanceAfter = types.Money{Amount: balanceAfter, Currency: currency}
	t.CreatedAt = t.CreatedAt.UTC()

	if len(metadata) > 0 && string(metadata) != "{}" {
		if err := json.Unmarshal(metadata, &t.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata of %s: %w", txnID, err)
		}
	}
	return &t, nil
}

func transactionArgs(t *transaction.Transaction) ([]any, error) {
	metadata := []byte("{}")
	if len(t.Metadata) > 0 {
		raw, err := json.Marshal(t.Metadata)
		if err != nil {
			return nil, fmt.Errorf("encode metadata: %w", err)
		}
		metadata = raw
	}
	return []any{
		t.ID.String(), t.UserID, string(t.Type), t.Amount.Amount, t.Amount.Currency, string(t.Status),
		t.Description, t.ReferenceID, t.ReferenceType, metadata, t.IdempotencyKey,
		t.BalanceAfter.Amount, t.CreatedAt.UTC(),
	}, nil
}

// ──────────────────────────────────────────────────
// Grant
// ──────────────────────────────────────────────────

func scanGrant(row pgx.CollectableRow) (*access.Grant, error) {
	var (
		g             access.Grant
		grantID, txID string
		kind          string
	)
	if err := row.Scan(&grantID, &g.Key.PayerID, &g.Key.ResourceID, &kind,
		&g.AmountPaid.Amount, &g.AmountPaid.Currency, &txID, &g.GrantedAt); err != nil {
		return nil, err
	}

	var err error
	if g.ID, err = id.ParseGrantID(grantID); err != nil {
		return nil, err
	}
	if g.TransactionID, err = id.ParseTransactionID(txID); err != nil {
		return nil, err
	}
	g.Key.Kind = access.Kind(kind)
	g.GrantedAt = g.GrantedAt.UTC()
	return &g, nil
}

func grantArgs(g *access.Grant) []any {
	return []any{
		g.ID.String(), g.Key.PayerID, g.Key.ResourceID, string(g.Key.Kind),
		g.AmountPaid.Amount, g.AmountPaid.Currency, g.TransactionID.String(), g.GrantedAt.UTC(),
	}
}

// ──────────────────────────────────────────────────
// Price
// ──────────────────────────────────────────────────

func scanPrice(row pgx.CollectableRow) (*pricing.ServicePrice, error) {
	var (
		p          pricing.ServicePrice
		priceID    string
		currency   string
		offerPrice int64
		pct        decimal.NullDecimal
		validUntil *time.Time
	)
	if err := row.Scan(&p.ServiceType, &priceID, &p.ServiceName, &p.Price.Amount, &currency,
		&p.IsActive, &p.HasOffer, &offerPrice, &pct, &validUntil,
		&p.Description, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}

	parsed, err := id.ParsePriceID(priceID)
	if err != nil {
		return nil, err
	}
	p.ID = parsed
	p.Price.Currency = currency
	if p.HasOffer {
		p.OfferPrice = types.Money{Amount: offerPrice, Currency: currency}
	}
	p.OfferPercentage = pct
	if validUntil != nil {
		t := validUntil.UTC()
		p.OfferValidUntil = &t
	}
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return &p, nil
}

func priceArgs(p *pricing.ServicePrice) []any {
	return []any{
		p.ServiceType, p.ID.String(), p.ServiceName, p.Price.Amount, p.Price.Currency,
		p.IsActive, p.HasOffer, p.OfferPrice.Amount, p.OfferPercentage, p.OfferValidUntil,
		p.Description, p.CreatedAt.UTC(), p.UpdatedAt.UTC(),
	}
}
