package wallet_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/xraph/wallet"
	"github.com/xraph/wallet/access"
	"github.com/xraph/wallet/lock"
	"github.com/xraph/wallet/pricing"
	"github.com/xraph/wallet/store"
	"github.com/xraph/wallet/store/memory"
	"github.com/xraph/wallet/store/sqlite"
	"github.com/xraph/wallet/transaction"
	"github.com/xraph/wallet/types"
)

var epoch = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// clock is a settable time source.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock { return &clock{now: epoch} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type backend struct {
	name string
	open func(t *testing.T) store.Store
}

var backends = []backend{
	{"memory", func(t *testing.T) store.Store { return memory.New() }},
	{"sqlite", func(t *testing.T) store.Store {
		t.Helper()
		s, err := sqlite.Open(filepath.Join(t.TempDir(), "wallet.db"))
		if err != nil {
			t.Fatalf("open sqlite: %v", err)
		}
		t.Cleanup(func() { _ = s.Close() })
		return s
	}},
}

// forEachBackend runs fn once per in-process backend.
func forEachBackend(t *testing.T, fn func(t *testing.T, s store.Store)) {
	t.Helper()
	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			fn(t, b.open(t))
		})
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newEngine(t *testing.T, s store.Store, opts ...wallet.Option) *wallet.Engine {
	t.Helper()
	base := []wallet.Option{
		wallet.WithLogger(discardLogger()),
		wallet.WithRetryBackoff(time.Millisecond, 2*time.Millisecond),
	}
	eng := wallet.New(s, append(base, opts...)...)
	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return eng
}

func deposit(t *testing.T, eng *wallet.Engine, userID string, amount types.Money) *transaction.Transaction {
	t.Helper()
	txn, err := eng.Charge(context.Background(), wallet.ChargeInput{
		UserID:      userID,
		Type:        transaction.TypeDeposit,
		Amount:      amount,
		Description: "top up",
	})
	if err != nil {
		t.Fatalf("deposit %s: %v", amount, err)
	}
	return txn
}

func balanceOf(t *testing.T, eng *wallet.Engine, userID string) types.Money {
	t.Helper()
	b, err := eng.GetBalance(context.Background(), userID)
	if err != nil {
		t.Fatalf("GetBalance(%s): %v", userID, err)
	}
	return b.Money()
}

func allTransactions(t *testing.T, eng *wallet.Engine, userID string) []*transaction.Transaction {
	t.Helper()
	txns, err := eng.ListTransactions(context.Background(), userID, transaction.ListOpts{Limit: 1000})
	if err != nil {
		t.Fatalf("ListTransactions(%s): %v", userID, err)
	}
	return txns
}

// recorder counts plugin hook calls.
type recorder struct {
	mu         sync.Mutex
	completed  []*transaction.Transaction
	rejected   []error
	granted    []*access.Grant
	restored   []*access.Grant
	priced     []string
	deleted    []string
	mismatches []string
	inited     bool
}

func (r *recorder) Name() string { return "recorder" }

func (r *recorder) OnInit(context.Context, any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inited = true
	return nil
}

func (r *recorder) OnTransactionCompleted(_ context.Context, txn *transaction.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completed = append(r.completed, txn)
	return nil
}

func (r *recorder) OnChargeRejected(_ context.Context, _ string, _ transaction.Type, _ types.Money, reason error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rejected = append(r.rejected, reason)
	return nil
}

func (r *recorder) OnAccessGranted(_ context.Context, g *access.Grant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.granted = append(r.granted, g)
	return nil
}

func (r *recorder) OnAccessRestored(_ context.Context, g *access.Grant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.restored = append(r.restored, g)
	return nil
}

func (r *recorder) OnPriceChanged(_ context.Context, p *pricing.ServicePrice) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.priced = append(r.priced, p.ServiceType)
	return nil
}

func (r *recorder) OnPriceDeleted(_ context.Context, serviceType string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deleted = append(r.deleted, serviceType)
	return nil
}

func (r *recorder) OnReconcileMismatch(_ context.Context, userID string, _, _ types.Money, _ int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mismatches = append(r.mismatches, userID)
	return nil
}

// stubLocker returns err from Obtain, or a lease that counts releases.
type stubLocker struct {
	err      error
	mu       sync.Mutex
	keys     []string
	released int
}

func (l *stubLocker) Obtain(_ context.Context, key string, _ time.Duration) (lock.Lease, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.keys = append(l.keys, key)
	if l.err != nil {
		return nil, l.err
	}
	return stubLease{l}, nil
}

type stubLease struct{ l *stubLocker }

func (s stubLease) Release(context.Context) error {
	s.l.mu.Lock()
	defer s.l.mu.Unlock()
	s.l.released++
	return nil
}

// slowStore stretches every atomic unit so concurrent callers overlap.
type slowStore struct {
	store.Store
	delay time.Duration
}

func (s *slowStore) RunAtomic(ctx context.Context, userID string, fn func(ctx context.Context, u store.Unit) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(s.delay):
	}
	return s.Store.RunAtomic(ctx, userID, fn)
}

// fakeRedis answers the SETNX and release script calls of redislock.
type fakeRedis struct {
	mu   sync.Mutex
	data map[string]string
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{data: make(map[string]string)}
}

func (f *fakeRedis) SetNX(_ context.Context, key string, value any, _ time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.data[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	f.data[key] = fmt.Sprint(value)
	return redis.NewBoolResult(true, nil)
}

func (f *fakeRedis) Eval(_ context.Context, _ string, keys []string, args ...any) *redis.Cmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if v, ok := f.data[keys[0]]; ok && v == fmt.Sprint(args[0]) {
		delete(f.data, keys[0])
		return redis.NewCmdResult(int64(1), nil)
	}
	return redis.NewCmdResult(int64(0), nil)
}

func TestEngineLifecycle(t *testing.T) {
	rec := &recorder{}
	s := memory.New()
	eng := newEngine(t, s, wallet.WithPlugin(rec))

	if !rec.inited {
		t.Error("OnInit was not called on Start")
	}
	if eng.Store() != s {
		t.Error("Store() does not return the configured store")
	}
	if eng.Plugins().Count() != 1 {
		t.Errorf("plugins: got %d, want 1", eng.Plugins().Count())
	}

	if err := eng.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if _, err := eng.GetBalance(context.Background(), "u1"); !errors.Is(err, wallet.ErrStoreClosed) {
		t.Errorf("after Stop: got %v, want ErrStoreClosed", err)
	}
}

// countingStore records Migrate calls.
type countingStore struct {
	store.Store
	migrations int
}

func (s *countingStore) Migrate(ctx context.Context) error {
	s.migrations++
	return s.Store.Migrate(ctx)
}

func TestStartWithoutMigrate(t *testing.T) {
	rec := &recorder{}
	s := &countingStore{Store: memory.New()}
	newEngine(t, s, wallet.WithPlugin(rec), wallet.WithoutMigrate())

	if s.migrations != 0 {
		t.Errorf("migrations: got %d, want 0", s.migrations)
	}
	if !rec.inited {
		t.Error("OnInit not called")
	}
}

func TestGetBalanceUnusedWallet(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s store.Store) {
		eng := newEngine(t, s)

		b, err := eng.GetBalance(context.Background(), "nobody")
		if err != nil {
			t.Fatalf("GetBalance: %v", err)
		}
		if b.Amount != 0 || b.HasCurrency() {
			t.Errorf("got %+v, want zero balance without currency", b)
		}

		if _, err := eng.GetBalance(context.Background(), ""); !wallet.IsValidation(err) {
			t.Errorf("empty user: got %v, want validation error", err)
		}
	})
}
