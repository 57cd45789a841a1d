package store

import (
	"context"

	"github.com/xraph/wallet/access"
	"github.com/xraph/wallet/balance"
	"github.com/xraph/wallet/id"
	"github.com/xraph/wallet/pricing"
	"github.com/xraph/wallet/transaction"
)

// Store is the unified storage interface for all Wallet entities.
// Instead of embedding the sub-interfaces, we explicitly declare all methods
// to avoid naming conflicts.
type Store interface {
	// Balance methods
	GetBalance(ctx context.Context, userID string) (*balance.Balance, error)

	// RunAtomic executes fn inside one atomic unit scoped to userID. Units for
	// the same user never interleave. The queued writes of the unit are
	// committed together if fn returns nil and discarded otherwise.
	RunAtomic(ctx context.Context, userID string, fn func(ctx context.Context, u Unit) error) error

	// Transaction methods
	GetTransaction(ctx context.Context, txnID id.TransactionID) (*transaction.Transaction, error)
	ListTransactions(ctx context.Context, userID string, opts transaction.ListOpts) ([]*transaction.Transaction, error)

	// Grant methods
	GetGrant(ctx context.Context, key access.Key) (*access.Grant, error)
	ListGrants(ctx context.Context, payerID string, opts access.ListOpts) ([]*access.Grant, error)
	CreateGrant(ctx context.Context, g *access.Grant) error

	// Pricing methods
	GetPrice(ctx context.Context, serviceType string) (*pricing.ServicePrice, error)
	UpsertPrice(ctx context.Context, p *pricing.ServicePrice) error
	DeletePrice(ctx context.Context, serviceType string) error
	ListPrices(ctx context.Context, opts pricing.ListOpts) ([]*pricing.ServicePrice, error)

	// Core methods
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// Unit is the view of one atomic unit handed to RunAtomic callbacks.
type Unit interface {
	// Balance returns the balance as read at the start of the unit, or a zero
	// balance when the wallet does not exist yet.
	Balance() *balance.Balance

	// LookupGrant reads a grant inside the unit.
	LookupGrant(ctx context.Context, key access.Key) (*access.Grant, bool, error)

	// LookupIdempotent finds a transaction of the unit's user by idempotency key.
	LookupIdempotent(ctx context.Context, key string) (*transaction.Transaction, bool, error)

	// FindPayment returns the newest completed payment of the unit's user
	// referencing the given resource and kind.
	FindPayment(ctx context.Context, resourceID, referenceType string) (*transaction.Transaction, bool, error)

	SetBalance(b *balance.Balance)
	AppendTransaction(t *transaction.Transaction)
	CreateGrant(g *access.Grant)
}
