// Package storetest holds the behavior every store.Store backend must share.
// Backend packages call Run from their tests.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xraph/wallet"
	"github.com/xraph/wallet/access"
	"github.com/xraph/wallet/id"
	"github.com/xraph/wallet/pricing"
	"github.com/xraph/wallet/store"
	"github.com/xraph/wallet/transaction"
	"github.com/xraph/wallet/types"
)

// Factory returns a migrated, empty store. The suite closes it.
type Factory func(t *testing.T) store.Store

var base = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// Run executes the conformance suite against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"MissingRecords", testMissingRecords},
		{"UnitCommit", testUnitCommit},
		{"UnitRollback", testUnitRollback},
		{"TransactionOrderAndFilters", testTransactionOrderAndFilters},
		{"IdempotencyLookup", testIdempotencyLookup},
		{"FindPayment", testFindPayment},
		{"GrantUniqueness", testGrantUniqueness},
		{"ListGrants", testListGrants},
		{"Prices", testPrices},
		{"SerializedUnits", testSerializedUnits},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			t.Cleanup(func() { _ = s.Close() })
			tt.fn(t, s)
		})
	}
}

func newTxn(userID string, typ transaction.Type, amount, after int64, at time.Time) *transaction.Transaction {
	return &transaction.Transaction{
		ID:           id.NewTransactionID(),
		UserID:       userID,
		Type:         typ,
		Amount:       types.EGP(amount),
		Status:       transaction.StatusCompleted,
		BalanceAfter: types.EGP(after),
		CreatedAt:    at,
	}
}

func setBalance(u store.Unit, userID string, amount int64, at time.Time) {
	b := u.Balance()
	if b.CreatedAt.IsZero() {
		b.Entity = types.NewEntityAt(at)
	}
	b.UserID = userID
	b.Amount = amount
	b.Currency = "egp"
	b.Touch(at)
	u.SetBalance(b)
}

// deposit commits one deposit and the matching balance.
func deposit(t *testing.T, s store.Store, userID string, amount int64, at time.Time) *transaction.Transaction {
	t.Helper()
	var txn *transaction.Transaction
	err := s.RunAtomic(context.Background(), userID, func(_ context.Context, u store.Unit) error {
		after := u.Balance().Amount + amount
		txn = newTxn(userID, transaction.TypeDeposit, amount, after, at)
		u.AppendTransaction(txn)
		setBalance(u, userID, after, at)
		return nil
	})
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	return txn
}

func testMissingRecords(t *testing.T, s store.Store) {
	ctx := context.Background()

	if _, err := s.GetBalance(ctx, "nobody"); !errors.Is(err, wallet.ErrWalletNotFound) {
		t.Errorf("GetBalance: expected ErrWalletNotFound, got %v", err)
	}
	if _, err := s.GetTransaction(ctx, id.NewTransactionID()); !errors.Is(err, wallet.ErrTransactionNotFound) {
		t.Errorf("GetTransaction: expected ErrTransactionNotFound, got %v", err)
	}
	key := access.Key{PayerID: "p", ResourceID: "r", Kind: access.KindJobDetails}
	if _, err := s.GetGrant(ctx, key); !errors.Is(err, wallet.ErrGrantNotFound) {
		t.Errorf("GetGrant: expected ErrGrantNotFound, got %v", err)
	}
	if _, err := s.GetPrice(ctx, "nothing"); !errors.Is(err, wallet.ErrPriceNotFound) {
		t.Errorf("GetPrice: expected ErrPriceNotFound, got %v", err)
	}
	if err := s.DeletePrice(ctx, "nothing"); !errors.Is(err, wallet.ErrPriceNotFound) {
		t.Errorf("DeletePrice: expected ErrPriceNotFound, got %v", err)
	}

	txns, err := s.ListTransactions(ctx, "nobody", transaction.ListOpts{})
	if err != nil || len(txns) != 0 {
		t.Errorf("ListTransactions: got %d, %v", len(txns), err)
	}
}

func testUnitCommit(t *testing.T, s store.Store) {
	ctx := context.Background()

	err := s.RunAtomic(ctx, "u1", func(_ context.Context, u store.Unit) error {
		b := u.Balance()
		if b.Amount != 0 || b.HasCurrency() {
			return fmt.Errorf("fresh wallet: got %+v", b)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("read-only unit: %v", err)
	}

	txn := deposit(t, s, "u1", 5000, base)

	b, err := s.GetBalance(ctx, "u1")
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	if !b.Money().Equal(types.EGP(5000)) {
		t.Errorf("balance: got %v", b.Money())
	}

	got, err := s.GetTransaction(ctx, txn.ID)
	if err != nil {
		t.Fatalf("GetTransaction: %v", err)
	}
	if got.ID != txn.ID || !got.Amount.Equal(types.EGP(5000)) || !got.BalanceAfter.Equal(types.EGP(5000)) {
		t.Errorf("transaction: got %+v", got)
	}
	if !got.CreatedAt.Equal(base) {
		t.Errorf("created_at: got %v, want %v", got.CreatedAt, base)
	}
}

func testUnitRollback(t *testing.T, s store.Store) {
	ctx := context.Background()
	deposit(t, s, "u1", 1000, base)

	boom := errors.New("boom")
	err := s.RunAtomic(ctx, "u1", func(_ context.Context, u store.Unit) error {
		u.AppendTransaction(newTxn("u1", transaction.TypeWithdrawal, 400, 600, base.Add(time.Second)))
		setBalance(u, "u1", 600, base.Add(time.Second))
		u.CreateGrant(&access.Grant{
			ID:            id.NewGrantID(),
			Key:           access.Key{PayerID: "u1", ResourceID: "r", Kind: access.KindJobDetails},
			AmountPaid:    types.EGP(400),
			TransactionID: id.NewTransactionID(),
			GrantedAt:     base,
		})
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected callback error, got %v", err)
	}

	b, _ := s.GetBalance(ctx, "u1")
	if b.Amount != 1000 {
		t.Errorf("balance after rollback: got %d, want 1000", b.Amount)
	}
	txns, _ := s.ListTransactions(ctx, "u1", transaction.ListOpts{})
	if len(txns) != 1 {
		t.Errorf("transactions after rollback: got %d, want 1", len(txns))
	}
	grants, _ := s.ListGrants(ctx, "u1", access.ListOpts{})
	if len(grants) != 0 {
		t.Errorf("grants after rollback: got %d, want 0", len(grants))
	}
}

func testTransactionOrderAndFilters(t *testing.T, s store.Store) {
	ctx := context.Background()

	first := deposit(t, s, "u1", 100, base)
	second := deposit(t, s, "u1", 200, base.Add(time.Minute))
	third := deposit(t, s, "u1", 300, base.Add(2*time.Minute))
	deposit(t, s, "u2", 999, base)

	txns, err := s.ListTransactions(ctx, "u1", transaction.ListOpts{})
	if err != nil {
		t.Fatalf("ListTransactions: %v", err)
	}
	want := []id.TransactionID{third.ID, second.ID, first.ID}
	if len(txns) != len(want) {
		t.Fatalf("got %d transactions, want %d", len(txns), len(want))
	}
	for i := range want {
		if txns[i].ID != want[i] {
			t.Errorf("position %d: got %s, want %s", i, txns[i].ID, want[i])
		}
	}

	paged, _ := s.ListTransactions(ctx, "u1", transaction.ListOpts{Limit: 1, Offset: 1})
	if len(paged) != 1 || paged[0].ID != second.ID {
		t.Errorf("page: got %v", paged)
	}

	since := base.Add(time.Minute)
	until := base.Add(2 * time.Minute)
	ranged, _ := s.ListTransactions(ctx, "u1", transaction.ListOpts{Since: &since, Until: &until})
	if len(ranged) != 1 || ranged[0].ID != second.ID {
		t.Errorf("range: got %v", ranged)
	}

	none, _ := s.ListTransactions(ctx, "u1", transaction.ListOpts{Type: transaction.TypePayment})
	if len(none) != 0 {
		t.Errorf("type filter: got %d", len(none))
	}
}

func testIdempotencyLookup(t *testing.T, s store.Store) {
	ctx := context.Background()

	var stored *transaction.Transaction
	err := s.RunAtomic(ctx, "u1", func(_ context.Context, u store.Unit) error {
		stored = newTxn("u1", transaction.TypeDeposit, 100, 100, base)
		stored.IdempotencyKey = "topup-1"
		u.AppendTransaction(stored)
		setBalance(u, "u1", 100, base)
		return nil
	})
	if err != nil {
		t.Fatalf("RunAtomic: %v", err)
	}

	err = s.RunAtomic(ctx, "u1", func(ctx context.Context, u store.Unit) error {
		got, ok, err := u.LookupIdempotent(ctx, "topup-1")
		if err != nil {
			return err
		}
		if !ok || got.ID != stored.ID {
			return fmt.Errorf("lookup topup-1: ok=%v got=%v", ok, got)
		}
		if _, ok, err := u.LookupIdempotent(ctx, "other"); err != nil || ok {
			return fmt.Errorf("lookup other: ok=%v err=%v", ok, err)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	// Keys are scoped to the user.
	err = s.RunAtomic(ctx, "u2", func(ctx context.Context, u store.Unit) error {
		if _, ok, err := u.LookupIdempotent(ctx, "topup-1"); err != nil || ok {
			return fmt.Errorf("foreign lookup: ok=%v err=%v", ok, err)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func testFindPayment(t *testing.T, s store.Store) {
	ctx := context.Background()
	deposit(t, s, "emp", 5000, base)

	var pay *transaction.Transaction
	err := s.RunAtomic(ctx, "emp", func(ctx context.Context, u store.Unit) error {
		pay = newTxn("emp", transaction.TypePayment, 2000, 3000, base.Add(time.Second))
		pay.ReferenceID = "seeker-1"
		pay.ReferenceType = string(access.KindSeekerProfile)
		u.AppendTransaction(pay)
		setBalance(u, "emp", 3000, base.Add(time.Second))

		// Queued writes are visible to the same unit.
		got, ok, err := u.FindPayment(ctx, "seeker-1", string(access.KindSeekerProfile))
		if err != nil || !ok || got.ID != pay.ID {
			return fmt.Errorf("in-unit find: ok=%v err=%v", ok, err)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	err = s.RunAtomic(ctx, "emp", func(ctx context.Context, u store.Unit) error {
		got, ok, err := u.FindPayment(ctx, "seeker-1", string(access.KindSeekerProfile))
		if err != nil || !ok || got.ID != pay.ID {
			return fmt.Errorf("committed find: ok=%v err=%v", ok, err)
		}
		if _, ok, err := u.FindPayment(ctx, "seeker-1", string(access.KindJobDetails)); err != nil || ok {
			return fmt.Errorf("other kind: ok=%v err=%v", ok, err)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func testGrantUniqueness(t *testing.T, s store.Store) {
	ctx := context.Background()
	key := access.Key{PayerID: "emp", ResourceID: "job-1", Kind: access.KindJobDetails}
	grant := func() *access.Grant {
		return &access.Grant{
			ID:            id.NewGrantID(),
			Key:           key,
			AmountPaid:    types.EGP(1000),
			TransactionID: id.NewTransactionID(),
			GrantedAt:     base,
		}
	}

	first := grant()
	if err := s.CreateGrant(ctx, first); err != nil {
		t.Fatalf("CreateGrant: %v", err)
	}
	if err := s.CreateGrant(ctx, grant()); !errors.Is(err, wallet.ErrGrantExists) {
		t.Errorf("duplicate CreateGrant: expected ErrGrantExists, got %v", err)
	}

	err := s.RunAtomic(ctx, "emp", func(ctx context.Context, u store.Unit) error {
		g, ok, err := u.LookupGrant(ctx, key)
		if err != nil || !ok || g.ID != first.ID {
			return fmt.Errorf("lookup: ok=%v err=%v", ok, err)
		}
		u.CreateGrant(grant())
		return nil
	})
	if !errors.Is(err, wallet.ErrGrantExists) {
		t.Errorf("duplicate grant in unit: expected ErrGrantExists, got %v", err)
	}

	got, err := s.GetGrant(ctx, key)
	if err != nil || got.ID != first.ID {
		t.Errorf("GetGrant: got %v, %v", got, err)
	}
}

func testListGrants(t *testing.T, s store.Store) {
	ctx := context.Background()
	for i, kind := range []access.Kind{access.KindJobDetails, access.KindSeekerProfile, access.KindJobDetails} {
		g := &access.Grant{
			ID:            id.NewGrantID(),
			Key:           access.Key{PayerID: "emp", ResourceID: fmt.Sprintf("r%d", i), Kind: kind},
			AmountPaid:    types.EGP(1000),
			TransactionID: id.NewTransactionID(),
			GrantedAt:     base.Add(time.Duration(i) * time.Minute),
		}
		if err := s.CreateGrant(ctx, g); err != nil {
			t.Fatalf("CreateGrant: %v", err)
		}
	}

	all, err := s.ListGrants(ctx, "emp", access.ListOpts{})
	if err != nil {
		t.Fatalf("ListGrants: %v", err)
	}
	if len(all) != 3 || all[0].Key.ResourceID != "r2" {
		t.Errorf("ListGrants: got %d, first %v", len(all), all)
	}

	jobs, _ := s.ListGrants(ctx, "emp", access.ListOpts{Kind: access.KindJobDetails})
	if len(jobs) != 2 {
		t.Errorf("kind filter: got %d, want 2", len(jobs))
	}
	other, _ := s.ListGrants(ctx, "someone", access.ListOpts{})
	if len(other) != 0 {
		t.Errorf("other payer: got %d", len(other))
	}
}

func testPrices(t *testing.T, s store.Store) {
	ctx := context.Background()
	until := base.Add(24 * time.Hour)

	p := &pricing.ServicePrice{
		Entity:          types.NewEntityAt(base),
		ID:              id.NewPriceID(),
		ServiceType:     pricing.ServiceViewSeekerProfile,
		ServiceName:     "View seeker profile",
		Price:           types.EGP(2000),
		IsActive:        true,
		HasOffer:        true,
		OfferPrice:      types.EGP(1600),
		OfferPercentage: decimal.NewNullDecimal(decimal.NewFromInt(20)),
		OfferValidUntil: &until,
	}
	if err := s.UpsertPrice(ctx, p); err != nil {
		t.Fatalf("UpsertPrice: %v", err)
	}

	got, err := s.GetPrice(ctx, pricing.ServiceViewSeekerProfile)
	if err != nil {
		t.Fatalf("GetPrice: %v", err)
	}
	if got.ID != p.ID || !got.Price.Equal(types.EGP(2000)) || !got.OfferPrice.Equal(types.EGP(1600)) {
		t.Errorf("GetPrice: got %+v", got)
	}
	if !got.OfferPercentage.Valid || !got.OfferPercentage.Decimal.Equal(decimal.NewFromInt(20)) {
		t.Errorf("offer percentage: got %v", got.OfferPercentage)
	}
	if got.OfferValidUntil == nil || !got.OfferValidUntil.Equal(until) {
		t.Errorf("offer valid until: got %v", got.OfferValidUntil)
	}

	// Update in place: deactivate and drop the offer.
	p.IsActive = false
	p.HasOffer = false
	p.OfferPrice = types.Money{}
	p.OfferPercentage = decimal.NullDecimal{}
	p.OfferValidUntil = nil
	if err := s.UpsertPrice(ctx, p); err != nil {
		t.Fatalf("UpsertPrice update: %v", err)
	}
	got, _ = s.GetPrice(ctx, pricing.ServiceViewSeekerProfile)
	if got.IsActive || got.HasOffer || got.OfferPercentage.Valid || got.OfferValidUntil != nil {
		t.Errorf("after update: got %+v", got)
	}

	other := &pricing.ServicePrice{
		Entity:      types.NewEntityAt(base),
		ID:          id.NewPriceID(),
		ServiceType: pricing.ServiceViewJobDetails,
		Price:       types.EGP(1000),
		IsActive:    true,
	}
	if err := s.UpsertPrice(ctx, other); err != nil {
		t.Fatalf("UpsertPrice: %v", err)
	}

	all, _ := s.ListPrices(ctx, pricing.ListOpts{})
	if len(all) != 2 || all[0].ServiceType != pricing.ServiceViewJobDetails {
		t.Errorf("ListPrices: got %v", all)
	}
	active, _ := s.ListPrices(ctx, pricing.ListOpts{ActiveOnly: true})
	if len(active) != 1 || active[0].ServiceType != pricing.ServiceViewJobDetails {
		t.Errorf("ListPrices active: got %v", active)
	}

	if err := s.DeletePrice(ctx, pricing.ServiceViewJobDetails); err != nil {
		t.Fatalf("DeletePrice: %v", err)
	}
	if _, err := s.GetPrice(ctx, pricing.ServiceViewJobDetails); !errors.Is(err, wallet.ErrPriceNotFound) {
		t.Errorf("after delete: got %v", err)
	}
}

// testSerializedUnits runs read-modify-write units concurrently; none may
// observe a stale balance.
func testSerializedUnits(t *testing.T, s store.Store) {
	ctx := context.Background()
	const n = 10

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := range n {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			at := base.Add(time.Duration(i) * time.Millisecond)
			for {
				err := s.RunAtomic(ctx, "hot", func(_ context.Context, u store.Unit) error {
					after := u.Balance().Amount + 10
					u.AppendTransaction(newTxn("hot", transaction.TypeDeposit, 10, after, at))
					setBalance(u, "hot", after, at)
					return nil
				})
				if errors.Is(err, wallet.ErrConflict) {
					continue
				}
				errs <- err
				return
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("RunAtomic: %v", err)
		}
	}

	b, err := s.GetBalance(ctx, "hot")
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	if b.Amount != n*10 {
		t.Errorf("balance: got %d, want %d", b.Amount, n*10)
	}
	txns, _ := s.ListTransactions(ctx, "hot", transaction.ListOpts{})
	if len(txns) != n || transaction.SignedSum(txns) != b.Amount {
		t.Errorf("transactions: got %d summing %d", len(txns), transaction.SignedSum(txns))
	}
}
