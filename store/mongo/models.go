package mongo

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xraph/grove"

	"github.com/xraph/wallet/access"
	"github.com/xraph/wallet/balance"
	"github.com/xraph/wallet/id"
	"github.com/xraph/wallet/pricing"
	"github.com/xraph/wallet/transaction"
	"github.com/xraph/wallet/types"
)

// ==================== Balance models ====================

type balanceModel struct {
	grove.BaseModel `grove:"table:wallet_balances" bson:"-"`

	UserID    string    `grove:"id,pk"      bson:"_id"`
	Amount    int64     `grove:"amount"     bson:"amount"`
	Currency  string    `grove:"currency"   bson:"currency"`
	Version   int64     `grove:"version"    bson:"version"`
	TxnSeq    int64     `grove:"txn_seq"    bson:"txn_seq"`
	CreatedAt time.Time `grove:"created_at" bson:"created_at"`
	UpdatedAt time.Time `grove:"updated_at" bson:"updated_at"`
}

func fromBalanceModel(m *balanceModel) *balance.Balance {
	if m.Currency == "" && m.Amount == 0 {
		return balance.Zero(m.UserID)
	}
	return &balance.Balance{
		Entity:   types.Entity{CreatedAt: m.CreatedAt.UTC(), UpdatedAt: m.UpdatedAt.UTC()},
		UserID:   m.UserID,
		Amount:   m.Amount,
		Currency: m.Currency,
	}
}

// ==================== Transaction models ====================

type transactionModel struct {
	grove.BaseModel `grove:"table:wallet_transactions" bson:"-"`

	ID             string            `grove:"id,pk"           bson:"_id"`
	Seq            int64             `grove:"seq"             bson:"seq"`
	UserID         string            `grove:"user_id"         bson:"user_id"`
	Type           string            `grove:"type"            bson:"type"`
	Amount         int64             `grove:"amount"          bson:"amount"`
	Currency       string            `grove:"currency"        bson:"currency"`
	Status         string            `grove:"status"          bson:"status"`
	Description    string            `grove:"description"     bson:"description"`
	ReferenceID    string            `grove:"reference_id"    bson:"reference_id"`
	ReferenceType  string            `grove:"reference_type"  bson:"reference_type"`
	Metadata       map[string]string `grove:"metadata"        bson:"metadata,omitempty"`
	IdempotencyKey string            `grove:"idempotency_key" bson:"idempotency_key,omitempty"`
	BalanceAfter   int64             `grove:"balance_after"   bson:"balance_after"`
	CreatedAt      time.Time         `grove:"created_at"      bson:"created_at"`
}

func toTransactionModel(t *transaction.Transaction, seq int64) *transactionModel {
	return &transactionModel{
		ID:             t.ID.String(),
		Seq:            seq,
		UserID:         t.UserID,
		Type:           string(t.Type),
		Amount:         t.Amount.Amount,
		Currency:       t.Amount.Currency,
		Status:         string(t.Status),
		Description:    t.Description,
		ReferenceID:    t.ReferenceID,
		ReferenceType:  t.ReferenceType,
		Metadata:       t.Metadata,
		IdempotencyKey: t.IdempotencyKey,
		BalanceAfter:   t.BalanceAfter.Amount,
		CreatedAt:      t.CreatedAt.UTC(),
	}
}

func fromTransactionModel(m *transactionModel) (*transaction.Transaction, error) {
	txnID, err := id.ParseTransactionID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse transaction id: %w", err)
	}
	return &transaction.Transaction{
		ID:             txnID,
		UserID:         m.UserID,
		Type:           transaction.Type(m.Type),
		Amount:         types.Money{Amount: m.Amount, Currency: m.Currency},
		Status:         transaction.Status(m.Status),
		Description:    m.Description,
		ReferenceID:    m.ReferenceID,
		ReferenceType:  m.ReferenceType,
		Metadata:       m.Metadata,
		IdempotencyKey: m.IdempotencyKey,
		BalanceAfter:   types.Money{Amount: m.BalanceAfter, Currency: m.Currency},
		CreatedAt:      m.CreatedAt.UTC(),
	}, nil
}

// ==================== Grant models ====================

type grantModel struct {
	grove.BaseModel `grove:"table:wallet_grants" bson:"-"`

	ID            string    `grove:"id,pk"          bson:"_id"`
	PayerID       string    `grove:"payer_id"       bson:"payer_id"`
	ResourceID    string    `grove:"resource_id"    bson:"resource_id"`
	Kind          string    `grove:"kind"           bson:"kind"`
	AmountPaid    int64     `grove:"amount_paid"    bson:"amount_paid"`
	Currency      string    `grove:"currency"       bson:"currency"`
	TransactionID string    `grove:"transaction_id" bson:"transaction_id"`
	GrantedAt     time.Time `grove:"granted_at"     bson:"granted_at"`
}

func toGrantModel(g *access.Grant) *grantModel {
	return &grantModel{
		ID:            g.ID.String(),
		PayerID:       g.Key.PayerID,
		ResourceID:    g.Key.ResourceID,
		Kind:          string(g.Key.Kind),
		AmountPaid:    g.AmountPaid.Amount,
		Currency:      g.AmountPaid.Currency,
		TransactionID: g.TransactionID.String(),
		GrantedAt:     g.GrantedAt.UTC(),
	}
}

func fromGrantModel(m *grantModel) (*access.Grant, error) {
	grantID, err := id.ParseGrantID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse grant id: %w", err)
	}
	txnID, err := id.ParseTransactionID(m.TransactionID)
	if err != nil {
		return nil, fmt.Errorf("parse grant transaction id: %w", err)
	}
	return &access.Grant{
		ID:            grantID,
		Key:           access.Key{PayerID: m.PayerID, ResourceID: m.ResourceID, Kind: access.Kind(m.Kind)},
		AmountPaid:    types.Money{Amount: m.AmountPaid, Currency: m.Currency},
		TransactionID: txnID,
		GrantedAt:     m.GrantedAt.UTC(),
	}, nil
}

// ==================== Price models ====================

type priceModel struct {
	grove.BaseModel `grove:"table:wallet_prices" bson:"-"`

	ServiceType     string     `grove:"id,pk"             bson:"_id"`
	ID              string     `grove:"price_id"          bson:"price_id"`
	ServiceName     string     `grove:"service_name"      bson:"service_name"`
	Price           int64      `grove:"price"             bson:"price"`
	Currency        string     `grove:"currency"          bson:"currency"`
	IsActive        bool       `grove:"is_active"         bson:"is_active"`
	HasOffer        bool       `grove:"has_offer"         bson:"has_offer"`
	OfferPrice      int64      `grove:"offer_price"       bson:"offer_price"`
	OfferPercentage *string    `grove:"offer_percentage"  bson:"offer_percentage,omitempty"`
	OfferValidUntil *time.Time `grove:"offer_valid_until" bson:"offer_valid_until,omitempty"`
	Description     string     `grove:"description"       bson:"description"`
	CreatedAt       time.Time  `grove:"created_at"        bson:"created_at"`
	UpdatedAt       time.Time  `grove:"updated_at"        bson:"updated_at"`
}

func toPriceModel(p *pricing.ServicePrice) *priceModel {
	m := &priceModel{
		ServiceType: p.ServiceType,
		ID:          p.ID.String(),
		ServiceName: p.ServiceName,
		Price:       p.Price.Amount,
		Currency:    p.Price.Currency,
		IsActive:    p.IsActive,
		HasOffer:    p.HasOffer,
		OfferPrice:  p.OfferPrice.Amount,
		Description: p.Description,
		CreatedAt:   p.CreatedAt.UTC(),
		UpdatedAt:   p.UpdatedAt.UTC(),
	}
	if p.OfferPercentage.Valid {
		s := p.OfferPercentage.Decimal.String()
		m.OfferPercentage = &s
	}
	if p.OfferValidUntil != nil {
		t := p.OfferValidUntil.UTC()
		m.OfferValidUntil = &t
	}
	return m
}

func fromPriceModel(m *priceModel) (*pricing.ServicePrice, error) {
	priceID, err := id.ParsePriceID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse price id: %w", err)
	}
	p := &pricing.ServicePrice{
		Entity:      types.Entity{CreatedAt: m.CreatedAt.UTC(), UpdatedAt: m.UpdatedAt.UTC()},
		ID:          priceID,
		ServiceType: m.ServiceType,
		ServiceName: m.ServiceName,
		Price:       types.Money{Amount: m.Price, Currency: m.Currency},
		IsActive:    m.IsActive,
		HasOffer:    m.HasOffer,
		Description: m.Description,
	}
	if m.HasOffer {
		p.OfferPrice = types.Money{Amount: m.OfferPrice, Currency: m.Currency}
	}
	if m.OfferPercentage != nil {
		d, err := decimal.NewFromString(*m.OfferPercentage)
		if err != nil {
			return nil, fmt.Errorf("parse offer percentage: %w", err)
		}
		p.OfferPercentage = decimal.NewNullDecimal(d)
	}
	if m.OfferValidUntil != nil {
		t := m.OfferValidUntil.UTC()
		p.OfferValidUntil = &t
	}
	return p, nil
}
