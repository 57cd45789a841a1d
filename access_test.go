package wallet_test

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
	"github.com/xraph/wallet/lock"
	"github.com/xraph/wallet/lock/redislock"
	"github.com/xraph/wallet/pricing"
	"github.com/xraph/wallet/store"
	"github.com/xraph/wallet/store/memory"
	"github.com/xraph/wallet/transaction"
	"github.com/xraph/wallet/types"
)

func TestPayToViewGrantsOnce(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s store.Store) {
		rec := &recorder{}
		eng := newEngine(t, s, wallet.WithPlugin(rec))
		ctx := context.Background()
		deposit(t, eng, "u1", types.EGP(5000))

		res, err := eng.PayToView(ctx, "u1", "job-1", access.KindJobDetails)
		if err != nil {
			t.Fatalf("PayToView: %v", err)
		}
		if !res.Success || res.Message != access.MessageGranted {
			t.Fatalf("got %+v, want granted", res)
		}
		if !res.Charged.Equal(types.EGP(1000)) {
			t.Errorf("charged: got %v, want fallback E£10.00", res.Charged)
		}
		if got := balanceOf(t, eng, "u1"); !got.Equal(types.EGP(4000)) {
			t.Errorf("balance: got %v, want E£40.00", got)
		}

		ok, err := eng.CanView(ctx, "u1", "job-1", access.KindJobDetails)
		if err != nil || !ok {
			t.Fatalf("CanView: got %v, %v", ok, err)
		}

		again, err := eng.PayToView(ctx, "u1", "job-1", access.KindJobDetails)
		if err != nil {
			t.Fatalf("second PayToView: %v", err)
		}
		if again.Message != access.MessageAlreadyGranted || !again.Charged.IsZero() {
			t.Errorf("second call: got %+v, want already granted without charge", again)
		}
		if again.TransactionID.String() != res.TransactionID.String() {
			t.Errorf("second call transaction: got %s, want %s", again.TransactionID, res.TransactionID)
		}
		if got := balanceOf(t, eng, "u1"); !got.Equal(types.EGP(4000)) {
			t.Errorf("balance after second call: got %v", got)
		}

		payments, err := eng.ListTransactions(ctx, "u1", transaction.ListOpts{Type: transaction.TypePayment})
		if err != nil {
			t.Fatal(err)
		}
		if len(payments) != 1 {
			t.Fatalf("payments: got %d, want 1", len(payments))
		}
		p := payments[0]
		if p.ReferenceID != "job-1" || p.ReferenceType != string(access.KindJobDetails) {
			t.Errorf("payment reference: got %s/%s", p.ReferenceType, p.ReferenceID)
		}
		if p.Metadata["service_type"] != pricing.ServiceViewJobDetails {
			t.Errorf("payment metadata: got %v", p.Metadata)
		}

		if len(rec.granted) != 1 || len(rec.completed) != 2 {
			t.Errorf("hooks: granted=%d completed=%d", len(rec.granted), len(rec.completed))
		}

		grants, err := eng.ListGrants(ctx, "u1", access.ListOpts{})
		if err != nil {
			t.Fatal(err)
		}
		if len(grants) != 1 || grants[0].TransactionID.String() != p.ID.String() {
			t.Errorf("grants: got %v", grants)
		}
	})
}

func TestPayToViewInsufficientBalance(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s store.Store) {
		rec := &recorder{}
		eng := newEngine(t, s, wallet.WithPlugin(rec))
		ctx := context.Background()
		deposit(t, eng, "u1", types.EGP(500))

		res, err := eng.PayToView(ctx, "u1", "profile-7", access.KindSeekerProfile)
		if !errors.Is(err, wallet.ErrInsufficientBalance) {
			t.Fatalf("got %v, want ErrInsufficientBalance", err)
		}
		if res == nil || res.Success || res.Code != access.CodeInsufficientBalance {
			t.Fatalf("got %+v, want insufficient_balance", res)
		}
		if res.Shortfall == nil || !res.Shortfall.Equal(types.EGP(1500)) {
			t.Errorf("shortfall: got %v, want E£15.00", res.Shortfall)
		}

		ok, err := eng.CanView(ctx, "u1", "profile-7", access.KindSeekerProfile)
		if err != nil || ok {
			t.Errorf("CanView after failed payment: got %v, %v", ok, err)
		}
		if got := balanceOf(t, eng, "u1"); !got.Equal(types.EGP(500)) {
			t.Errorf("balance changed: %v", got)
		}
		if len(rec.rejected) != 1 {
			t.Errorf("rejected hooks: got %d, want 1", len(rec.rejected))
		}
	})
}

func TestPayToViewUnfundedWallet(t *testing.T) {
	eng := newEngine(t, memory.New())

	res, err := eng.PayToView(context.Background(), "fresh", "job-1", access.KindJobDetails)
	if !errors.Is(err, wallet.ErrInsufficientBalance) {
		t.Fatalf("got %v, want ErrInsufficientBalance", err)
	}
	if res.Shortfall == nil || !res.Shortfall.Equal(types.EGP(1000)) {
		t.Errorf("shortfall: got %v, want E£10.00", res.Shortfall)
	}
}

func TestPayToViewInvalidRequests(t *testing.T) {
	eng := newEngine(t, memory.New())
	ctx := context.Background()

	tests := []struct {
		name     string
		payer    string
		resource string
		kind     access.Kind
		wantErr  error
	}{
		{"unknown kind", "u1", "r1", "video", wallet.ErrInvalidResourceKind},
		{"missing payer", "", "r1", access.KindJobDetails, wallet.ErrInvalidInput},
		{"missing resource", "u1", "", access.KindJobDetails, wallet.ErrInvalidInput},
		{"missing kind", "u1", "r1", "", wallet.ErrInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := eng.PayToView(ctx, tt.payer, tt.resource, tt.kind)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("got %v, want %v", err, tt.wantErr)
			}
			if res == nil || res.Success || res.Code != access.CodeInvalidRequest {
				t.Errorf("got %+v, want invalid_request", res)
			}
			if res.Message != access.MessageInvalid {
				t.Errorf("message: got %q", res.Message)
			}

			if _, err := eng.CanView(ctx, tt.payer, tt.resource, tt.kind); !errors.Is(err, tt.wantErr) {
				t.Errorf("CanView: got %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestPayToViewUsesCatalogOffer(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s store.Store) {
		eng := newEngine(t, s)
		ctx := context.Background()
		deposit(t, eng, "u1", types.EGP(5000))

		_, err := eng.SetPrice(ctx, pricing.ServiceViewJobDetails, types.EGP(1000), pricing.PriceOptions{
			HasOffer:        true,
			OfferPercentage: decimal.NewNullDecimal(decimal.NewFromInt(20)),
		})
		if err != nil {
			t.Fatalf("SetPrice: %v", err)
		}

		res, err := eng.PayToView(ctx, "u1", "job-1", access.KindJobDetails)
		if err != nil {
			t.Fatalf("PayToView: %v", err)
		}
		if !res.Charged.Equal(types.EGP(800)) {
			t.Errorf("charged: got %v, want E£8.00", res.Charged)
		}
		if got := balanceOf(t, eng, "u1"); !got.Equal(types.EGP(4200)) {
			t.Errorf("balance: got %v, want E£42.00", got)
		}
	})
}

func TestPayToViewConcurrentDuplicates(t *testing.T) {
	const n = 20

	forEachBackend(t, func(t *testing.T, s store.Store) {
		eng := newEngine(t, s, wallet.WithMaxAttempts(10))
		ctx := context.Background()
		deposit(t, eng, "u1", types.EGP(10000))

		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			granted int
			errs    []error
		)
		for range n {
			wg.Add(1)
			go func() {
				defer wg.Done()
				res, err := eng.PayToView(ctx, "u1", "job-1", access.KindJobDetails)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					errs = append(errs, err)
					return
				}
				if res.Message == access.MessageGranted {
					granted++
				}
			}()
		}
		wg.Wait()

		if len(errs) > 0 {
			t.Fatalf("PayToView errors: %v", errs)
		}
		if granted != 1 {
			t.Errorf("granted: got %d, want exactly 1", granted)
		}
		payments, err := eng.ListTransactions(ctx, "u1", transaction.ListOpts{Type: transaction.TypePayment})
		if err != nil {
			t.Fatal(err)
		}
		if len(payments) != 1 {
			t.Errorf("payments: got %d, want 1", len(payments))
		}
		if got := balanceOf(t, eng, "u1"); !got.Equal(types.EGP(9000)) {
			t.Errorf("balance: got %v, want E£90.00", got)
		}
	})
}

func TestPayToViewConcurrentDuplicatesWithLocker(t *testing.T) {
	const n = 10

	forEachBackend(t, func(t *testing.T, s store.Store) {
		locker, err := redislock.New(newFakeRedis())
		if err != nil {
			t.Fatal(err)
		}
		eng := newEngine(t, &slowStore{Store: s, delay: 20 * time.Millisecond},
			wallet.WithLocker(locker),
			wallet.WithMaxAttempts(10),
		)
		ctx := context.Background()
		deposit(t, eng, "u1", types.EGP(10000))

		var (
			wg       sync.WaitGroup
			mu       sync.Mutex
			outcomes = make(map[string]int)
			errs     []error
		)
		for range n {
			wg.Add(1)
			go func() {
				defer wg.Done()
				res, err := eng.PayToView(ctx, "u1", "job-1", access.KindJobDetails)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					errs = append(errs, err)
					return
				}
				outcomes[res.Message]++
			}()
		}
		wg.Wait()

		if len(errs) > 0 {
			t.Fatalf("PayToView errors: %v", errs)
		}
		if outcomes[access.MessageGranted] != 1 || outcomes[access.MessageAlreadyGranted] != n-1 {
			t.Errorf("outcomes: got %v, want 1 granted and %d already granted", outcomes, n-1)
		}
		if got := balanceOf(t, eng, "u1"); !got.Equal(types.EGP(9000)) {
			t.Errorf("balance: got %v, want E£90.00", got)
		}
	})
}

func TestPayToViewConcurrentResources(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s store.Store) {
		eng := newEngine(t, s, wallet.WithMaxAttempts(10))
		ctx := context.Background()
		deposit(t, eng, "u1", types.EGP(3500))

		// Seven views of E£10.00 against E£35.00: three must be refused.
		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			granted int
			refused int
		)
		for i := range 7 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				res, err := eng.PayToView(ctx, "u1", fmt.Sprintf("job-%d", i), access.KindJobDetails)
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil && res.Message == access.MessageGranted:
					granted++
				case res.Code == access.CodeInsufficientBalance:
					refused++
				default:
					t.Errorf("unexpected result %+v: %v", res, err)
				}
			}()
		}
		wg.Wait()

		if granted != 3 || refused != 4 {
			t.Errorf("granted=%d refused=%d, want 3 and 4", granted, refused)
		}
		if got := balanceOf(t, eng, "u1"); !got.Equal(types.EGP(500)) {
			t.Errorf("balance: got %v, want E£5.00", got)
		}
	})
}

func TestPayToViewRestoresUnbackedPayment(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s store.Store) {
		rec := &recorder{}
		eng := newEngine(t, s, wallet.WithPlugin(rec))
		ctx := context.Background()
		deposit(t, eng, "u1", types.EGP(5000))

		// A payment recorded without its grant.
		payment, err := eng.Charge(ctx, wallet.ChargeInput{
			UserID:        "u1",
			Type:          transaction.TypePayment,
			Amount:        types.EGP(1000),
			ReferenceID:   "job-9",
			ReferenceType: string(access.KindJobDetails),
		})
		if err != nil {
			t.Fatalf("Charge: %v", err)
		}

		res, err := eng.PayToView(ctx, "u1", "job-9", access.KindJobDetails)
		if err != nil {
			t.Fatalf("PayToView: %v", err)
		}
		if res.Message != access.MessageRestored || !res.Charged.IsZero() {
			t.Errorf("got %+v, want restored without charge", res)
		}
		if res.TransactionID.String() != payment.ID.String() {
			t.Errorf("restored transaction: got %s, want %s", res.TransactionID, payment.ID)
		}
		if got := balanceOf(t, eng, "u1"); !got.Equal(types.EGP(4000)) {
			t.Errorf("balance: got %v, want E£40.00", got)
		}
		if len(rec.restored) != 1 {
			t.Errorf("restored hooks: got %d, want 1", len(rec.restored))
		}

		ok, err := eng.CanView(ctx, "u1", "job-9", access.KindJobDetails)
		if err != nil || !ok {
			t.Errorf("CanView: got %v, %v", ok, err)
		}
	})
}

func TestPayToViewCustomKind(t *testing.T) {
	eng := newEngine(t, memory.New(),
		wallet.WithResourceService("course", "view-course"),
		wallet.WithFallbackPrice("view-course", types.Money{Amount: 1500, Currency: "EGP"}),
	)
	deposit(t, eng, "u1", types.EGP(2000))

	res, err := eng.PayToView(context.Background(), "u1", "course-1", "course")
	if err != nil {
		t.Fatalf("PayToView: %v", err)
	}
	if !res.Charged.Equal(types.EGP(1500)) {
		t.Errorf("charged: got %v, want E£15.00", res.Charged)
	}
}

func TestPayToViewMissingPrice(t *testing.T) {
	eng := newEngine(t, memory.New(), wallet.WithResourceService("course", "view-course"))
	deposit(t, eng, "u1", types.EGP(2000))

	res, err := eng.PayToView(context.Background(), "u1", "course-1", "course")
	if !errors.Is(err, wallet.ErrPriceNotFound) {
		t.Fatalf("got %v, want ErrPriceNotFound", err)
	}
	if res.Code != access.CodeTransactionFailed {
		t.Errorf("code: got %s, want transaction_failed", res.Code)
	}
}

func TestPayToViewStoreFailureIsOpaque(t *testing.T) {
	s := memory.New()
	eng := newEngine(t, s)
	deposit(t, eng, "u1", types.EGP(2000))

	s.FailCommits(fmt.Errorf("disk on fire: %w", wallet.ErrStoreUnavailable))
	res, err := eng.PayToView(context.Background(), "u1", "job-1", access.KindJobDetails)
	if !errors.Is(err, wallet.ErrStoreUnavailable) {
		t.Fatalf("got %v, want ErrStoreUnavailable", err)
	}
	if res.Code != access.CodeTransactionFailed || res.Message != access.MessageFailed {
		t.Errorf("got %+v, want transaction_failed with generic message", res)
	}
	if got := balanceOf(t, eng, "u1"); !got.Equal(types.EGP(2000)) {
		t.Errorf("balance changed: %v", got)
	}
}

func TestPayToViewLocker(t *testing.T) {
	t.Run("held elsewhere", func(t *testing.T) {
		locker := &stubLocker{err: lock.ErrNotObtained}
		eng := newEngine(t, memory.New(), wallet.WithLocker(locker))
		deposit(t, eng, "u1", types.EGP(2000))

		res, err := eng.PayToView(context.Background(), "u1", "job-1", access.KindJobDetails)
		if err != nil || res.Message != access.MessageGranted {
			t.Fatalf("got %+v, %v; want granted through the store unit", res, err)
		}
		if locker.released != 0 {
			t.Errorf("released: got %d, want 0", locker.released)
		}
		if got := balanceOf(t, eng, "u1"); !got.Equal(types.EGP(1000)) {
			t.Errorf("balance: got %v, want E£10.00", got)
		}
	})

	t.Run("backend down", func(t *testing.T) {
		locker := &stubLocker{err: errors.New("connection refused")}
		eng := newEngine(t, memory.New(), wallet.WithLocker(locker))
		deposit(t, eng, "u1", types.EGP(2000))

		res, err := eng.PayToView(context.Background(), "u1", "job-1", access.KindJobDetails)
		if err != nil || res.Message != access.MessageGranted {
			t.Fatalf("got %+v, %v; want granted despite lock failure", res, err)
		}
	})

	t.Run("obtained and released", func(t *testing.T) {
		locker := &stubLocker{}
		eng := newEngine(t, memory.New(), wallet.WithLocker(locker))
		deposit(t, eng, "u1", types.EGP(2000))

		if _, err := eng.PayToView(context.Background(), "u1", "job-1", access.KindJobDetails); err != nil {
			t.Fatalf("PayToView: %v", err)
		}
		if locker.released != 1 {
			t.Errorf("released: got %d, want 1", locker.released)
		}
		if len(locker.keys) != 1 || locker.keys[0] != "access:u1:job_details:job-1" {
			t.Errorf("keys: got %v", locker.keys)
		}
	})
}

func TestCanViewWithoutGrant(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s store.Store) {
		eng := newEngine(t, s)
		ok, err := eng.CanView(context.Background(), "u1", "job-1", access.KindJobDetails)
		if err != nil || ok {
			t.Errorf("got %v, %v; want false, nil", ok, err)
		}
	})
}

func TestCodeFor(t *testing.T) {
	tests := []struct {
		err  error
		want access.Code
	}{
		{nil, ""},
		{&wallet.InsufficientBalanceError{}, access.CodeInsufficientBalance},
		{wallet.ErrConflict, access.CodeTransactionFailed},
		{wallet.ErrStoreClosed, access.CodeTransactionFailed},
		{context.DeadlineExceeded, access.CodeTransactionFailed},
		{wallet.ValidationError{Field: "x", Message: "bad"}, access.CodeInvalidRequest},
		{wallet.ErrInvalidResourceKind, access.CodeInvalidRequest},
		{errors.New("boom"), access.CodeUnknown},
	}

	for _, tt := range tests {
		if got := wallet.CodeFor(tt.err); got != tt.want {
			t.Errorf("CodeFor(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
