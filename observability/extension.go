// Package observability provides a metrics extension for Wallet that records
// event counts and amounts through a MetricFactory.
package observability

import (
	"context"
	"errors"

	"github.com/xraph/wallet"
	"github.com/xraph/wallet/access"
	"github.com/xraph/wallet/plugin"
	"github.com/xraph/wallet/pricing"
	"github.com/xraph/wallet/transaction"
	"github.com/xraph/wallet/types"
)

// Ensure MetricsExtension implements required interfaces.
var (
	_ plugin.Plugin                 = (*MetricsExtension)(nil)
	_ plugin.OnInit                 = (*MetricsExtension)(nil)
	_ plugin.OnTransactionCompleted = (*MetricsExtension)(nil)
	_ plugin.OnChargeRejected       = (*MetricsExtension)(nil)
	_ plugin.OnAccessGranted        = (*MetricsExtension)(nil)
	_ plugin.OnAccessRestored       = (*MetricsExtension)(nil)
	_ plugin.OnPriceChanged         = (*MetricsExtension)(nil)
	_ plugin.OnPriceDeleted         = (*MetricsExtension)(nil)
	_ plugin.OnReconcileMismatch    = (*MetricsExtension)(nil)
)

// Counter interface for metric counters.
type Counter interface {
	Inc()
	Add(float64)
}

// Histogram interface for metric histograms.
type Histogram interface {
	Observe(float64)
}

// MetricFactory creates metrics.
type MetricFactory interface {
	Counter(name string) Counter
	Histogram(name string) Histogram
}

// MetricsExtension records wallet metrics.
// Register it as a Wallet plugin to track them automatically.
type MetricsExtension struct {
	factory MetricFactory

	// Ledger metrics
	Deposits     Counter
	Withdrawals  Counter
	Payments     Counter
	Refunds      Counter
	Bonuses      Counter
	Cashbacks    Counter
	ChargeAmount Histogram
	Rejected     Counter
	Insufficient Counter

	// Access metrics
	AccessGranted  Counter
	AccessRestored Counter
	AccessRevenue  Histogram

	// Pricing metrics
	PriceChanged Counter
	PriceDeleted Counter

	// Integrity metrics
	ReconcileMismatch Counter
	UnbackedPayments  Counter
}

// NewMetricsExtension creates a MetricsExtension with the provided MetricFactory.
func NewMetricsExtension(factory MetricFactory) *MetricsExtension {
	return &MetricsExtension{
		factory: factory,

		Deposits:     factory.Counter("wallet.transaction.deposit"),
		Withdrawals:  factory.Counter("wallet.transaction.withdrawal"),
		Payments:     factory.Counter("wallet.transaction.payment"),
		Refunds:      factory.Counter("wallet.transaction.refund"),
		Bonuses:      factory.Counter("wallet.transaction.bonus"),
		Cashbacks:    factory.Counter("wallet.transaction.cashback"),
		ChargeAmount: factory.Histogram("wallet.transaction.amount_minor"),
		Rejected:     factory.Counter("wallet.charge.rejected"),
		Insufficient: factory.Counter("wallet.charge.insufficient_balance"),

		AccessGranted:  factory.Counter("wallet.access.granted"),
		AccessRestored: factory.Counter("wallet.access.restored"),
		AccessRevenue:  factory.Histogram("wallet.access.paid_minor"),

		PriceChanged: factory.Counter("wallet.price.changed"),
		PriceDeleted: factory.Counter("wallet.price.deleted"),

		ReconcileMismatch: factory.Counter("wallet.reconcile.mismatch"),
		UnbackedPayments:  factory.Counter("wallet.reconcile.unbacked_payments"),
	}
}

// Name implements plugin.Plugin.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// OnInit implements plugin.OnInit.
func (m *MetricsExtension) OnInit(_ context.Context, _ any) error {
	return nil
}

// OnTransactionCompleted implements plugin.OnTransactionCompleted.
func (m *MetricsExtension) OnTransactionCompleted(_ context.Context, txn *transaction.Transaction) error {
	switch txn.Type {
	case transaction.TypeDeposit:
		m.Deposits.Inc()
	case transaction.TypeWithdrawal:
		m.Withdrawals.Inc()
	case transaction.TypePayment:
		m.Payments.Inc()
	case transaction.TypeRefund:
		m.Refunds.Inc()
	case transaction.TypeBonus:
		m.Bonuses.Inc()
	case transaction.TypeCashback:
		m.Cashbacks.Inc()
	}
	m.ChargeAmount.Observe(float64(txn.Amount.Amount))
	return nil
}

// OnChargeRejected implements plugin.OnChargeRejected.
func (m *MetricsExtension) OnChargeRejected(_ context.Context, _ string, _ transaction.Type, _ types.Money, reason error) error {
	m.Rejected.Inc()
	if errors.Is(reason, wallet.ErrInsufficientBalance) {
		m.Insufficient.Inc()
	}
	return nil
}

// OnAccessGranted implements plugin.OnAccessGranted.
func (m *MetricsExtension) OnAccessGranted(_ context.Context, grant *access.Grant) error {
	m.AccessGranted.Inc()
	m.AccessRevenue.Observe(float64(grant.AmountPaid.Amount))
	return nil
}

// OnAccessRestored implements plugin.OnAccessRestored.
func (m *MetricsExtension) OnAccessRestored(_ context.Context, _ *access.Grant) error {
	m.AccessRestored.Inc()
	return nil
}

// OnPriceChanged implements plugin.OnPriceChanged.
func (m *MetricsExtension) OnPriceChanged(_ context.Context, _ *pricing.ServicePrice) error {
	m.PriceChanged.Inc()
	return nil
}

// OnPriceDeleted implements plugin.OnPriceDeleted.
func (m *MetricsExtension) OnPriceDeleted(_ context.Context, _ string) error {
	m.PriceDeleted.Inc()
	return nil
}

// OnReconcileMismatch implements plugin.OnReconcileMismatch.
func (m *MetricsExtension) OnReconcileMismatch(_ context.Context, _ string, _, _ types.Money, unbacked int) error {
	m.ReconcileMismatch.Inc()
	m.UnbackedPayments.Add(float64(unbacked))
	return nil
}
