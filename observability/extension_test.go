package observability

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/xraph/wallet"
	"github.com/xraph/wallet/access"
	"github.com/xraph/wallet/transaction"
	"github.com/xraph/wallet/types"
)

func TestMetricsExtensionExportsCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	ext := NewMetricsExtension(NewPrometheusFactory(reg))
	ctx := context.Background()

	for _, typ := range []transaction.Type{transaction.TypeDeposit, transaction.TypeDeposit, transaction.TypePayment} {
		if err := ext.OnTransactionCompleted(ctx, &transaction.Transaction{Type: typ, Amount: types.EGP(500)}); err != nil {
			t.Fatalf("OnTransactionCompleted: %v", err)
		}
	}
	_ = ext.OnChargeRejected(ctx, "u1", transaction.TypeWithdrawal, types.EGP(100), wallet.ErrInsufficientBalance)
	_ = ext.OnChargeRejected(ctx, "u1", transaction.TypeWithdrawal, types.EGP(100), errors.New("boom"))
	_ = ext.OnAccessGranted(ctx, &access.Grant{AmountPaid: types.EGP(1000)})
	_ = ext.OnAccessRestored(ctx, &access.Grant{})
	_ = ext.OnPriceChanged(ctx, nil)
	_ = ext.OnPriceDeleted(ctx, "job_details")
	_ = ext.OnReconcileMismatch(ctx, "u1", types.EGP(10), types.EGP(10), 3)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	counters := map[string]float64{
		"wallet_transaction_deposit_total":         2,
		"wallet_transaction_payment_total":         1,
		"wallet_transaction_withdrawal_total":      0,
		"wallet_charge_rejected_total":             2,
		"wallet_charge_insufficient_balance_total": 1,
		"wallet_access_granted_total":              1,
		"wallet_access_restored_total":             1,
		"wallet_price_changed_total":               1,
		"wallet_price_deleted_total":               1,
		"wallet_reconcile_mismatch_total":          1,
		"wallet_reconcile_unbacked_payments_total": 3,
	}
	for name, want := range counters {
		got, err := fetchCounterValue(mfs, name)
		if err != nil {
			t.Fatalf("fetch %s: %v", name, err)
		}
		if got != want {
			t.Errorf("%s: got %f, want %f", name, got, want)
		}
	}

	if got, err := fetchHistogramSum(mfs, "wallet_transaction_amount_minor"); err != nil {
		t.Fatalf("fetch amount: %v", err)
	} else if got != 1500 {
		t.Errorf("amount sum: got %f, want 1500", got)
	}
	if got, err := fetchHistogramSum(mfs, "wallet_access_paid_minor"); err != nil {
		t.Fatalf("fetch paid: %v", err)
	} else if got != 1000 {
		t.Errorf("paid sum: got %f, want 1000", got)
	}
}

func TestPrometheusFactoryReusesCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	f := NewPrometheusFactory(reg)

	a := f.Counter("wallet.test")
	b := f.Counter("wallet.test")
	a.Inc()
	b.Inc()

	// A second factory on the same registry adopts the registered counter.
	NewPrometheusFactory(reg).Counter("wallet.test").Add(2)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	got, err := fetchCounterValue(mfs, "wallet_test_total")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if got != 4 {
		t.Errorf("got %f, want 4", got)
	}
}

func TestMetricName(t *testing.T) {
	tests := map[string]string{
		"wallet.access.granted": "wallet_access_granted",
		"wallet.price-changed":  "wallet_price_changed",
		"plain":                 "plain",
	}
	for in, want := range tests {
		if got := metricName(in); got != want {
			t.Errorf("metricName(%q) = %q, want %q", in, got, want)
		}
	}
}

func fetchCounterValue(mfs []*dto.MetricFamily, name string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil || len(mf.GetMetric()) == 0 {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	return mf.GetMetric()[0].GetCounter().GetValue(), nil
}

func fetchHistogramSum(mfs []*dto.MetricFamily, name string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil || len(mf.GetMetric()) == 0 {
		return 0, fmt.Errorf("histogram %q not found", name)
	}
	return mf.GetMetric()[0].GetHistogram().GetSampleSum(), nil
}

func findMetricFamily(mfs []*dto.MetricFamily, name string) *dto.MetricFamily {
	for _, mf := range mfs {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}
