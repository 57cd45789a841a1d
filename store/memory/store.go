// Package memory provides an in-process Store for tests and development.
// Atomic units are serialized with a mutex per user, which only holds within
// a single process.
package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"

	"github.com/xraph/wallet"
	"github.com/xraph/wallet/access"
	"github.com/xraph/wallet/balance"
	"github.com/xraph/wallet/id"
	"github.com/xraph/wallet/pricing"
	"github.com/xraph/wallet/store"
	"github.com/xraph/wallet/transaction"
)

type Store struct {
	mu sync.RWMutex

	// Per-user unit serialization
	locksMu   sync.Mutex
	userLocks map[string]*sync.Mutex

	balances map[string]*balance.Balance

	// Transactions in commit order
	txns    []*transaction.Transaction
	txnByID map[string]*transaction.Transaction

	grants map[access.Key]*access.Grant
	prices map[string]*pricing.ServicePrice

	commitErrs []error
	closed     bool
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		userLocks: make(map[string]*sync.Mutex),
		balances:  make(map[string]*balance.Balance),
		txnByID:   make(map[string]*transaction.Transaction),
		grants:    make(map[access.Key]*access.Grant),
		prices:    make(map[string]*pricing.ServicePrice),
	}
}

// FailCommits makes the next len(errs) unit commits fail with the given
// errors, in order, without applying their writes.
func (s *Store) FailCommits(errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commitErrs = append(s.commitErrs, errs...)
}

func (s *Store) userLock(userID string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	m, ok := s.userLocks[userID]
	if !ok {
		m = &sync.Mutex{}
		s.userLocks[userID] = m
	}
	return m
}

// Balance Store implementation
func (s *Store) GetBalance(_ context.Context, userID string) (*balance.Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, wallet.ErrStoreClosed
	}
	if b, ok := s.balances[userID]; ok {
		cp := *b
		return &cp, nil
	}
	return nil, wallet.ErrWalletNotFound
}

func (s *Store) RunAtomic(ctx context.Context, userID string, fn func(ctx context.Context, u store.Unit) error) error {
	m := s.userLock(userID)
	m.Lock()
	defer m.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	closed := s.closed
	start := balance.Zero(userID)
	if b, ok := s.balances[userID]; ok {
		cp := *b
		start = &cp
	}
	s.mu.RUnlock()
	if closed {
		return wallet.ErrStoreClosed
	}

	u := &unit{s: s, userID: userID, bal: start}
	if err := fn(ctx, u); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.commit(u)
}

func (s *Store) commit(u *unit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return wallet.ErrStoreClosed
	}
	if len(s.commitErrs) > 0 {
		err := s.commitErrs[0]
		s.commitErrs = s.commitErrs[1:]
		return err
	}
	for _, g := range u.grants {
		if _, exists := s.grants[g.Key]; exists {
			return fmt.Errorf("memory: create grant %s: %w", g.Key, wallet.ErrGrantExists)
		}
	}

	if u.balanceSet {
		cp := *u.bal
		s.balances[u.userID] = &cp
	}
	for _, t := range u.txns {
		s.txns = append(s.txns, t)
		s.txnByID[t.ID.String()] = t
	}
	for _, g := range u.grants {
		s.grants[g.Key] = g
	}
	return nil
}

// Transaction Store implementation
func (s *Store) GetTransaction(_ context.Context, txnID id.TransactionID) (*transaction.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if t, ok := s.txnByID[txnID.String()]; ok {
		return copyTxn(t), nil
	}
	return nil, wallet.ErrTransactionNotFound
}

func (s *Store) ListTransactions(_ context.Context, userID string, opts transaction.ListOpts) ([]*transaction.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*transaction.Transaction, 0)
	for i := len(s.txns) - 1; i >= 0; i-- {
		t := s.txns[i]
		if t.UserID == userID && opts.Match(t) {
			result = append(result, copyTxn(t))
		}
	}
	return page(result, opts.Offset, opts.Limit), nil
}

// Grant Store implementation
func (s *Store) GetGrant(_ context.Context, key access.Key) (*access.Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if g, ok := s.grants[key]; ok {
		cp := *g
		return &cp, nil
	}
	return nil, wallet.ErrGrantNotFound
}

func (s *Store) ListGrants(_ context.Context, payerID string, opts access.ListOpts) ([]*access.Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*access.Grant, 0)
	for _, g := range s.grants {
		if g.Key.PayerID != payerID {
			continue
		}
		if opts.Kind != "" && g.Key.Kind != opts.Kind {
			continue
		}
		cp := *g
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].GrantedAt.Equal(result[j].GrantedAt) {
			return result[i].ID.String() > result[j].ID.String()
		}
		return result[i].GrantedAt.After(result[j].GrantedAt)
	})
	return page(result, opts.Offset, opts.Limit), nil
}

func (s *Store) CreateGrant(_ context.Context, g *access.Grant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.grants[g.Key]; exists {
		return wallet.ErrGrantExists
	}
	cp := *g
	s.grants[g.Key] = &cp
	return nil
}

// Pricing Store implementation
func (s *Store) GetPrice(_ context.Context, serviceType string) (*pricing.ServicePrice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if p, ok := s.prices[serviceType]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, wallet.ErrPriceNotFound
}

func (s *Store) UpsertPrice(_ context.Context, p *pricing.ServicePrice) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *p
	if existing, ok := s.prices[p.ServiceType]; ok {
		cp.ID = existing.ID
		cp.CreatedAt = existing.CreatedAt
	}
	s.prices[p.ServiceType] = &cp
	return nil
}

func (s *Store) DeletePrice(_ context.Context, serviceType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.prices[serviceType]; !ok {
		return wallet.ErrPriceNotFound
	}
	delete(s.prices, serviceType)
	return nil
}

func (s *Store) ListPrices(_ context.Context, opts pricing.ListOpts) ([]*pricing.ServicePrice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := slices.Sorted(maps.Keys(s.prices))
	result := make([]*pricing.ServicePrice, 0, len(keys))
	for _, k := range keys {
		p := s.prices[k]
		if opts.ActiveOnly && !p.IsActive {
			continue
		}
		cp := *p
		result = append(result, &cp)
	}
	return page(result, opts.Offset, opts.Limit), nil
}

// Store management
func (s *Store) Migrate(_ context.Context) error {
	return nil // No migration needed for memory store
}

func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return wallet.ErrStoreClosed
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// unit buffers the writes of one RunAtomic call.
type unit struct {
	s          *Store
	userID     string
	bal        *balance.Balance
	balanceSet bool
	txns       []*transaction.Transaction
	grants     []*access.Grant
}

func (u *unit) Balance() *balance.Balance {
	cp := *u.bal
	return &cp
}

func (u *unit) LookupGrant(_ context.Context, key access.Key) (*access.Grant, bool, error) {
	for _, g := range u.grants {
		if g.Key == key {
			return g, true, nil
		}
	}
	u.s.mu.RLock()
	defer u.s.mu.RUnlock()
	if g, ok := u.s.grants[key]; ok {
		cp := *g
		return &cp, true, nil
	}
	return nil, false, nil
}

func (u *unit) LookupIdempotent(_ context.Context, key string) (*transaction.Transaction, bool, error) {
	for _, t := range u.txns {
		if t.IdempotencyKey == key {
			return t, true, nil
		}
	}
	u.s.mu.RLock()
	defer u.s.mu.RUnlock()
	for _, t := range u.s.txns {
		if t.UserID == u.userID && t.IdempotencyKey == key {
			return copyTxn(t), true, nil
		}
	}
	return nil, false, nil
}

func (u *unit) FindPayment(_ context.Context, resourceID, referenceType string) (*transaction.Transaction, bool, error) {
	match := func(t *transaction.Transaction) bool {
		return t.UserID == u.userID &&
			t.Type == transaction.TypePayment &&
			t.Status == transaction.StatusCompleted &&
			t.ReferenceID == resourceID &&
			t.ReferenceType == referenceType
	}
	for i := len(u.txns) - 1; i >= 0; i-- {
		if match(u.txns[i]) {
			return u.txns[i], true, nil
		}
	}
	u.s.mu.RLock()
	defer u.s.mu.RUnlock()
	for i := len(u.s.txns) - 1; i >= 0; i-- {
		if match(u.s.txns[i]) {
			return copyTxn(u.s.txns[i]), true, nil
		}
	}
	return nil, false, nil
}

func (u *unit) SetBalance(b *balance.Balance) {
	cp := *b
	u.bal = &cp
	u.balanceSet = true
}

func (u *unit) AppendTransaction(t *transaction.Transaction) {
	u.txns = append(u.txns, copyTxn(t))
}

func (u *unit) CreateGrant(g *access.Grant) {
	cp := *g
	u.grants = append(u.grants, &cp)
}

// Helper functions
func copyTxn(t *transaction.Transaction) *transaction.Transaction {
	cp := *t
	cp.Metadata = maps.Clone(t.Metadata)
	return &cp
}

func page[T any](items []T, offset, limit int) []T {
	start := offset
	if start > len(items) {
		start = len(items)
	}
	if start < 0 {
		start = 0
	}
	end := start + limit
	if limit <= 0 || end > len(items) {
		end = len(items)
	}
	return items[start:end]
}
