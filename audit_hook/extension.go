// Package audithook bridges Wallet events to an audit trail backend.
//
// It defines a local Recorder interface so the package does not depend on
// any audit product. Callers inject a RecorderFunc adapter at wiring time.
package audithook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/xraph/wallet"
	"github.com/xraph/wallet/access"
	"github.com/xraph/wallet/plugin"
	"github.com/xraph/wallet/pricing"
	"github.com/xraph/wallet/transaction"
	"github.com/xraph/wallet/types"
)

// Compile-time interface checks.
var (
	_ plugin.Plugin                 = (*Extension)(nil)
	_ plugin.OnTransactionCompleted = (*Extension)(nil)
	_ plugin.OnChargeRejected       = (*Extension)(nil)
	_ plugin.OnAccessGranted        = (*Extension)(nil)
	_ plugin.OnAccessRestored       = (*Extension)(nil)
	_ plugin.OnPriceChanged         = (*Extension)(nil)
	_ plugin.OnPriceDeleted         = (*Extension)(nil)
	_ plugin.OnReconcileMismatch    = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is a local representation of an audit event.
type AuditEvent struct {
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	Category   string         `json:"category"`
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Extension bridges Wallet events to an audit trail backend.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements plugin.Plugin.
func (e *Extension) Name() string { return "audit-hook" }

// ──────────────────────────────────────────────────
// Transaction hooks
// ──────────────────────────────────────────────────

// OnTransactionCompleted implements plugin.OnTransactionCompleted.
func (e *Extension) OnTransactionCompleted(ctx context.Context, txn *transaction.Transaction) error {
	return e.record(ctx, ActionTransactionCompleted, SeverityInfo, OutcomeSuccess,
		ResourceTransaction, txn.ID.String(), CategoryLedger, nil,
		"user_id", txn.UserID,
		"type", string(txn.Type),
		"amount", txn.Amount.Amount,
		"currency", txn.Amount.Currency,
		"balance_after", txn.BalanceAfter.Amount,
		"reference_id", txn.ReferenceID,
		"reference_type", txn.ReferenceType,
	)
}

// OnChargeRejected implements plugin.OnChargeRejected.
func (e *Extension) OnChargeRejected(ctx context.Context, userID string, typ transaction.Type, amount types.Money, reason error) error {
	severity := SeverityWarning
	if errors.Is(reason, wallet.ErrInsufficientBalance) {
		severity = SeverityInfo
	}
	return e.record(ctx, ActionChargeRejected, severity, OutcomeFailure,
		ResourceWallet, userID, CategoryLedger, reason,
		"type", string(typ),
		"amount", amount.Amount,
		"currency", amount.Currency,
	)
}

// ──────────────────────────────────────────────────
// Access hooks
// ──────────────────────────────────────────────────

// OnAccessGranted implements plugin.OnAccessGranted.
func (e *Extension) OnAccessGranted(ctx context.Context, grant *access.Grant) error {
	return e.recordGrant(ctx, ActionAccessGranted, SeverityInfo, grant)
}

// OnAccessRestored implements plugin.OnAccessRestored.
func (e *Extension) OnAccessRestored(ctx context.Context, grant *access.Grant) error {
	return e.recordGrant(ctx, ActionAccessRestored, SeverityWarning, grant)
}

func (e *Extension) recordGrant(ctx context.Context, action, severity string, grant *access.Grant) error {
	return e.record(ctx, action, severity, OutcomeSuccess,
		ResourceGrant, grant.ID.String(), CategoryAccess, nil,
		"payer_id", grant.Key.PayerID,
		"resource_id", grant.Key.ResourceID,
		"kind", string(grant.Key.Kind),
		"amount_paid", grant.AmountPaid.Amount,
		"currency", grant.AmountPaid.Currency,
		"transaction_id", grant.TransactionID.String(),
	)
}

// ──────────────────────────────────────────────────
// Pricing hooks
// ──────────────────────────────────────────────────

// OnPriceChanged implements plugin.OnPriceChanged.
func (e *Extension) OnPriceChanged(ctx context.Context, price *pricing.ServicePrice) error {
	kv := []any{
		"price", price.Price.Amount,
		"currency", price.Price.Currency,
		"is_active", price.IsActive,
		"has_offer", price.HasOffer,
	}
	if price.HasOffer {
		kv = append(kv, "offer_price", price.OfferPrice.Amount)
	}
	return e.record(ctx, ActionPriceChanged, SeverityInfo, OutcomeSuccess,
		ResourcePrice, price.ServiceType, CategoryPricing, nil, kv...)
}

// OnPriceDeleted implements plugin.OnPriceDeleted.
func (e *Extension) OnPriceDeleted(ctx context.Context, serviceType string) error {
	return e.record(ctx, ActionPriceDeleted, SeverityWarning, OutcomeSuccess,
		ResourcePrice, serviceType, CategoryPricing, nil)
}

// ──────────────────────────────────────────────────
// Reconciliation hooks
// ──────────────────────────────────────────────────

// OnReconcileMismatch implements plugin.OnReconcileMismatch.
func (e *Extension) OnReconcileMismatch(ctx context.Context, userID string, stored, computed types.Money, unbacked int) error {
	severity := SeverityError
	if stored.Amount != computed.Amount {
		severity = SeverityCritical
	}
	return e.record(ctx, ActionReconcileMismatch, severity, OutcomeFailure,
		ResourceWallet, userID, CategoryIntegrity, nil,
		"stored", stored.Amount,
		"computed", computed.Amount,
		"currency", stored.Currency,
		"unbacked_payments", unbacked,
	)
}

// ──────────────────────────────────────────────────
// Internal helpers
// ──────────────────────────────────────────────────

// record builds and sends an audit event if the action is enabled.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}
