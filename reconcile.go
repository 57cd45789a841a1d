package wallet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/wallet/access"
	"github.com/xraph/wallet/balance"
	"github.com/xraph/wallet/store"
	"github.com/xraph/wallet/transaction"
	"github.com/xraph/wallet/types"
)

// ReconcileReport compares a wallet's stored balance with its transactions.
type ReconcileReport struct {
	UserID           string                     `json:"user_id"`
	Stored           types.Money                `json:"stored"`
	Computed         types.Money                `json:"computed"`
	BalanceMatches   bool                       `json:"balance_matches"`
	TransactionCount int                        `json:"transaction_count"`
	UnbackedPayments []*transaction.Transaction `json:"unbacked_payments,omitempty"`
	CheckedAt        time.Time                  `json:"checked_at"`
}

// Consistent reports whether the balance matches and every access payment
// has its grant.
func (r *ReconcileReport) Consistent() bool {
	return r.BalanceMatches && len(r.UnbackedPayments) == 0
}

// Reconcile recomputes the balance of userID from its completed transactions
// and lists completed access payments that have no grant.
func (e *Engine) Reconcile(ctx context.Context, userID string) (*ReconcileReport, error) {
	bal, txns, err := e.snapshot(ctx, userID)
	if err != nil {
		return nil, err
	}

	currency := bal.Currency
	if currency == "" && len(txns) > 0 {
		currency = txns[0].Amount.Currency
	}

	report := &ReconcileReport{
		UserID:           userID,
		Stored:           types.Money{Amount: bal.Amount, Currency: currency},
		Computed:         types.Money{Amount: transaction.SignedSum(txns), Currency: currency},
		TransactionCount: len(txns),
		CheckedAt:        e.now(),
	}
	report.BalanceMatches = report.Stored.Amount == report.Computed.Amount

	for _, t := range txns {
		key, ok := e.paymentKey(t)
		if !ok {
			continue
		}
		_, err := e.store.GetGrant(ctx, key)
		switch {
		case err == nil:
		case errors.Is(err, ErrGrantNotFound):
			report.UnbackedPayments = append(report.UnbackedPayments, t)
		default:
			return nil, err
		}
	}

	if !report.Consistent() {
		e.logger.Warn("wallet inconsistent",
			"user_id", userID,
			"stored", report.Stored.Amount,
			"computed", report.Computed.Amount,
			"unbacked_payments", len(report.UnbackedPayments),
		)
		e.plugins.EmitReconcileMismatch(ctx, userID, report.Stored, report.Computed, len(report.UnbackedPayments))
	}
	return report, nil
}

// snapshot reads the balance of userID together with the history it was
// derived from. The history is listed on both sides of the balance read;
// transactions are append-only and commit with their balance, so equal
// counts mean no charge landed in between. Otherwise the read is retried.
func (e *Engine) snapshot(ctx context.Context, userID string) (*balance.Balance, []*transaction.Transaction, error) {
	var (
		bal  *balance.Balance
		txns []*transaction.Transaction
	)
	err := e.retryConflicts(ctx, userID, func() error {
		before, err := e.store.ListTransactions(ctx, userID, transaction.ListOpts{})
		if err != nil {
			return err
		}
		b, err := e.GetBalance(ctx, userID)
		if err != nil {
			return err
		}
		after, err := e.store.ListTransactions(ctx, userID, transaction.ListOpts{})
		if err != nil {
			return err
		}
		if len(after) != len(before) {
			return fmt.Errorf("%w: history changed during reconcile", ErrConflict)
		}
		bal, txns = b, after
		return nil
	})
	return bal, txns, err
}

// RepairGrants creates the missing grant of every unbacked access payment of
// payerID and returns how many were created. Running it again creates none.
func (e *Engine) RepairGrants(ctx context.Context, payerID string) (int, error) {
	report, err := e.Reconcile(ctx, payerID)
	if err != nil {
		return 0, err
	}
	if len(report.UnbackedPayments) == 0 {
		return 0, nil
	}

	var created []*access.Grant
	err = e.atomically(ctx, payerID, func(ctx context.Context, u store.Unit) error {
		created = created[:0]
		now := e.now()
		seen := make(map[access.Key]bool)
		for _, t := range report.UnbackedPayments {
			key, _ := e.paymentKey(t)
			if seen[key] {
				continue
			}
			seen[key] = true
			_, ok, err := u.LookupGrant(ctx, key)
			if err != nil {
				return err
			}
			if ok {
				continue
			}
			g := newGrant(key, t.Amount, t.ID, now)
			u.CreateGrant(g)
			created = append(created, g)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	for _, g := range created {
		e.plugins.EmitAccessRestored(ctx, g)
	}
	e.logger.Info("grants repaired", "user_id", payerID, "created", len(created))
	return len(created), nil
}

// paymentKey returns the grant key a completed access payment should back.
func (e *Engine) paymentKey(t *transaction.Transaction) (access.Key, bool) {
	if t.Type != transaction.TypePayment || t.Status != transaction.StatusCompleted || t.ReferenceID == "" {
		return access.Key{}, false
	}
	kind := access.Kind(t.ReferenceType)
	if _, ok := e.services[kind]; !ok {
		return access.Key{}, false
	}
	return access.Key{PayerID: t.UserID, ResourceID: t.ReferenceID, Kind: kind}, true
}
