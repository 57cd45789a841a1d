// Package plugin provides an extensible plugin system for Wallet.
// Plugins can hook into lifecycle events to extend functionality.
package plugin

import (
	"context"

	"github.com/xraph/wallet/access"
	"github.com/xraph/wallet/pricing"
	"github.com/xraph/wallet/transaction"
	"github.com/xraph/wallet/types"
)

// Plugin is the base interface that all plugins must implement.
type Plugin interface {
	Name() string
}

// ──────────────────────────────────────────────────
// Lifecycle hooks
// ──────────────────────────────────────────────────

// OnInit is called when the engine starts.
type OnInit interface {
	Plugin
	OnInit(ctx context.Context, engine any) error
}

// OnShutdown is called when the engine stops.
type OnShutdown interface {
	Plugin
	OnShutdown(ctx context.Context) error
}

// ──────────────────────────────────────────────────
// Transaction hooks
// ──────────────────────────────────────────────────

// OnTransactionCompleted is called after a transaction is committed.
type OnTransactionCompleted interface {
	Plugin
	OnTransactionCompleted(ctx context.Context, txn *transaction.Transaction) error
}

// OnChargeRejected is called when a charge fails validation or the balance check.
type OnChargeRejected interface {
	Plugin
	OnChargeRejected(ctx context.Context, userID string, typ transaction.Type, amount types.Money, reason error) error
}

// ──────────────────────────────────────────────────
// Access hooks
// ──────────────────────────────────────────────────

// OnAccessGranted is called after a paid grant is created.
type OnAccessGranted interface {
	Plugin
	OnAccessGranted(ctx context.Context, grant *access.Grant) error
}

// OnAccessRestored is called when a missing grant is recreated from an
// earlier payment without charging again.
type OnAccessRestored interface {
	Plugin
	OnAccessRestored(ctx context.Context, grant *access.Grant) error
}

// ──────────────────────────────────────────────────
// Pricing hooks
// ──────────────────────────────────────────────────

// OnPriceChanged is called after a price row is created or updated.
type OnPriceChanged interface {
	Plugin
	OnPriceChanged(ctx context.Context, price *pricing.ServicePrice) error
}

// OnPriceDeleted is called after a price row is deleted.
type OnPriceDeleted interface {
	Plugin
	OnPriceDeleted(ctx context.Context, serviceType string) error
}

// ──────────────────────────────────────────────────
// Reconciliation hooks
// ──────────────────────────────────────────────────

// OnReconcileMismatch is called when a wallet's balance disagrees with its
// transactions or it holds payments without grants.
type OnReconcileMismatch interface {
	Plugin
	OnReconcileMismatch(ctx context.Context, userID string, stored, computed types.Money, unbacked int) error
}
