package wallet

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"math"
	"time"

	"github.com/xraph/wallet/id"
	"github.com/xraph/wallet/store"
	"github.com/xraph/wallet/transaction"
	"github.com/xraph/wallet/types"
)

// ChargeInput describes one balance-affecting event. The direction of the
// change is derived from Type.
type ChargeInput struct {
	UserID         string            `json:"user_id" validate:"required,max=128"`
	Type           transaction.Type  `json:"type" validate:"required"`
	Amount         types.Money       `json:"amount"`
	Description    string            `json:"description" validate:"max=512"`
	ReferenceID    string            `json:"reference_id" validate:"max=256"`
	ReferenceType  string            `json:"reference_type" validate:"max=64"`
	Metadata       map[string]string `json:"metadata"`
	IdempotencyKey string            `json:"idempotency_key" validate:"max=128"`
}

func (in *ChargeInput) validate() error {
	in.Amount.Currency = types.NormalizeCurrency(in.Amount.Currency)
	if !in.Amount.IsPositive() {
		return fmt.Errorf("%w: got %d", ErrInvalidAmount, in.Amount.Amount)
	}
	if !in.Type.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidTransactionType, in.Type)
	}
	if in.Amount.Currency == "" {
		return ValidationError{Field: "currency", Message: "is required"}
	}
	return validateStruct(in)
}

// Charge records a transaction and moves the balance in one atomic unit.
// Debits that would take the balance below zero fail with an
// *InsufficientBalanceError and leave no trace. A repeated IdempotencyKey
// returns the transaction recorded the first time.
func (e *Engine) Charge(ctx context.Context, in ChargeInput) (*transaction.Transaction, error) {
	if err := in.validate(); err != nil {
		e.plugins.EmitChargeRejected(ctx, in.UserID, in.Type, in.Amount, err)
		return nil, err
	}

	var (
		txn      *transaction.Transaction
		replayed bool
	)
	err := e.atomically(ctx, in.UserID, func(ctx context.Context, u store.Unit) error {
		txn, replayed = nil, false
		if in.IdempotencyKey != "" {
			prev, ok, err := u.LookupIdempotent(ctx, in.IdempotencyKey)
			if err != nil {
				return err
			}
			if ok {
				txn, replayed = prev, true
				return nil
			}
		}
		t, err := e.applyCharge(u, in, e.now())
		if err != nil {
			return err
		}
		txn = t
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrInsufficientBalance) || errors.Is(err, ErrCurrencyMismatch) || errors.Is(err, ErrInvalidAmount) {
			e.plugins.EmitChargeRejected(ctx, in.UserID, in.Type, in.Amount, err)
		}
		e.logger.Warn("charge failed",
			"user_id", in.UserID,
			"type", in.Type,
			"amount", in.Amount.Amount,
			"error", err,
		)
		return nil, err
	}

	if replayed {
		e.logger.Debug("charge replayed",
			"user_id", in.UserID,
			"transaction_id", txn.ID.String(),
			"idempotency_key", in.IdempotencyKey,
		)
		return txn, nil
	}

	e.logger.Info("transaction completed",
		"user_id", in.UserID,
		"transaction_id", txn.ID.String(),
		"type", txn.Type,
		"amount", txn.Amount.Amount,
		"balance_after", txn.BalanceAfter.Amount,
	)
	e.plugins.EmitTransactionCompleted(ctx, txn)
	return txn, nil
}

// applyCharge validates the debit against the unit's balance and queues the
// transaction and the new balance. in must already be validated.
func (e *Engine) applyCharge(u store.Unit, in ChargeInput, now time.Time) (*transaction.Transaction, error) {
	current := u.Balance()
	currency := in.Amount.Currency

	if current.HasCurrency() && current.Currency != currency {
		return nil, fmt.Errorf("%w: wallet is %s, charge is %s", ErrCurrencyMismatch, current.Currency, currency)
	}

	delta := int64(in.Type.Direction()) * in.Amount.Amount
	if (delta > 0 && current.Amount > math.MaxInt64-delta) || (delta < 0 && current.Amount < math.MinInt64-delta) {
		return nil, fmt.Errorf("%w: balance would overflow", ErrInvalidAmount)
	}
	after := current.Amount + delta
	if after < 0 {
		return nil, newInsufficientBalance(in.Amount, types.Money{Amount: current.Amount, Currency: currency})
	}

	txn := &transaction.Transaction{
		ID:             id.NewTransactionID(),
		UserID:         in.UserID,
		Type:           in.Type,
		Amount:         in.Amount,
		Status:         transaction.StatusCompleted,
		Description:    in.Description,
		ReferenceID:    in.ReferenceID,
		ReferenceType:  in.ReferenceType,
		Metadata:       maps.Clone(in.Metadata),
		IdempotencyKey: in.IdempotencyKey,
		BalanceAfter:   types.Money{Amount: after, Currency: currency},
		CreatedAt:      now,
	}

	next := *current
	if next.CreatedAt.IsZero() {
		next.Entity = types.NewEntityAt(now)
	}
	next.UserID = in.UserID
	next.Amount = after
	next.Currency = currency
	next.Touch(now)

	u.AppendTransaction(txn)
	u.SetBalance(&next)
	return txn, nil
}
