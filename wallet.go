package wallet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/xraph/wallet/access"
	"github.com/xraph/wallet/balance"
	"github.com/xraph/wallet/lock"
	"github.com/xraph/wallet/plugin"
	"github.com/xraph/wallet/pricing"
	"github.com/xraph/wallet/store"
	"github.com/xraph/wallet/transaction"
	"github.com/xraph/wallet/types"
)

// Defaults used when no option overrides them.
const (
	DefaultMaxAttempts     = 3
	DefaultRetryInitial    = 20 * time.Millisecond
	DefaultRetryMax        = 250 * time.Millisecond
	DefaultLockTTL         = 10 * time.Second
	defaultListTransaction = 50
)

// Engine is the wallet ledger and pay-per-view access engine.
type Engine struct {
	store   store.Store
	plugins *plugin.Registry
	logger  *slog.Logger
	clock   func() time.Time

	maxAttempts  int
	retryInitial time.Duration
	retryMax     time.Duration

	locker  lock.Locker
	lockTTL time.Duration

	skipMigrate bool

	fallbacks map[string]types.Money
	services  map[access.Kind]string
}

// New creates a new Engine instance.
func New(s store.Store, opts ...Option) *Engine {
	e := &Engine{
		store:        s,
		plugins:      plugin.NewRegistry(),
		logger:       slog.Default(),
		clock:        time.Now,
		maxAttempts:  DefaultMaxAttempts,
		retryInitial: DefaultRetryInitial,
		retryMax:     DefaultRetryMax,
		lockTTL:      DefaultLockTTL,
		fallbacks:    pricing.DefaultFallbacks(),
		services: map[access.Kind]string{
			access.KindSeekerProfile: pricing.ServiceViewSeekerProfile,
			access.KindJobDetails:    pricing.ServiceViewJobDetails,
		},
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Option configures an Engine instance.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
		e.plugins.WithLogger(logger)
	}
}

// WithPlugin registers a plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Engine) {
		_ = e.plugins.Register(p) //nolint:errcheck // best-effort plugin registration during init
	}
}

// WithClock replaces time.Now. Offer expiry and timestamps use it.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.clock = now
		}
	}
}

// WithMaxAttempts bounds how often a conflicting atomic unit is attempted.
func WithMaxAttempts(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxAttempts = n
		}
	}
}

// WithRetryBackoff sets the exponential backoff between conflict retries.
func WithRetryBackoff(initial, maxInterval time.Duration) Option {
	return func(e *Engine) {
		if initial > 0 {
			e.retryInitial = initial
		}
		if maxInterval > 0 {
			e.retryMax = maxInterval
		}
	}
}

// WithPluginTimeout bounds each plugin hook call.
func WithPluginTimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.plugins.WithTimeout(d)
	}
}

// WithoutMigrate makes Start leave the schema alone. Plugins are still
// initialised.
func WithoutMigrate() Option {
	return func(e *Engine) {
		e.skipMigrate = true
	}
}

// WithLocker adds a per-key lock around pay-to-view units.
func WithLocker(l lock.Locker) Option {
	return func(e *Engine) {
		e.locker = l
	}
}

// WithLockTTL sets the lease duration used with WithLocker.
func WithLockTTL(ttl time.Duration) Option {
	return func(e *Engine) {
		if ttl > 0 {
			e.lockTTL = ttl
		}
	}
}

// WithFallbackPrice sets the price used for serviceType when the catalog has
// no active row for it.
func WithFallbackPrice(serviceType string, price types.Money) Option {
	return func(e *Engine) {
		price.Currency = types.NormalizeCurrency(price.Currency)
		e.fallbacks[serviceType] = price
	}
}

// WithResourceService maps a resource kind to the service that prices it.
// Kinds registered here are accepted by CanView and PayToView.
func WithResourceService(kind access.Kind, serviceType string) Option {
	return func(e *Engine) {
		e.services[kind] = serviceType
	}
}

// Start migrates the store and initializes plugins.
func (e *Engine) Start(ctx context.Context) error {
	if !e.skipMigrate {
		if err := e.store.Migrate(ctx); err != nil {
			return err
		}
	}

	e.plugins.EmitInit(ctx, e)

	e.logger.Info("wallet started",
		"max_attempts", e.maxAttempts,
		"plugins", e.plugins.Count(),
		"locker", e.locker != nil,
	)

	return nil
}

// Stop shuts down plugins and closes the store.
func (e *Engine) Stop() error {
	ctx := context.Background()
	e.plugins.EmitShutdown(ctx)

	return e.store.Close()
}

// Store returns the underlying store.
func (e *Engine) Store() store.Store { return e.store }

// Plugins returns the plugin registry.
func (e *Engine) Plugins() *plugin.Registry { return e.plugins }

// ──────────────────────────────────────────────────
// Balance & history
// ──────────────────────────────────────────────────

// GetBalance returns the user's balance. A wallet that has never been used
// reports a zero balance without a currency.
func (e *Engine) GetBalance(ctx context.Context, userID string) (*balance.Balance, error) {
	if userID == "" {
		return nil, ValidationError{Field: "user_id", Message: "is required"}
	}
	b, err := e.store.GetBalance(ctx, userID)
	if errors.Is(err, ErrWalletNotFound) {
		return balance.Zero(userID), nil
	}
	return b, err
}

// ListTransactions returns the user's transactions, newest first.
// A zero limit returns the default page size.
func (e *Engine) ListTransactions(ctx context.Context, userID string, opts transaction.ListOpts) ([]*transaction.Transaction, error) {
	if userID == "" {
		return nil, ValidationError{Field: "user_id", Message: "is required"}
	}
	if opts.Limit <= 0 {
		opts.Limit = defaultListTransaction
	}
	return e.store.ListTransactions(ctx, userID, opts)
}

// GetTransaction returns one transaction by id.
func (e *Engine) GetTransaction(ctx context.Context, txnID ID) (*transaction.Transaction, error) {
	return e.store.GetTransaction(ctx, txnID)
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

func (e *Engine) now() time.Time {
	return e.clock().UTC()
}

// atomically runs fn in one store unit for userID, retrying write conflicts
// with exponential backoff.
func (e *Engine) atomically(ctx context.Context, userID string, fn func(ctx context.Context, u store.Unit) error) error {
	return e.retryConflicts(ctx, userID, func() error {
		return e.store.RunAtomic(ctx, userID, fn)
	})
}

// retryConflicts calls fn until it succeeds, fails with anything other than
// ErrConflict, or runs out of attempts.
func (e *Engine) retryConflicts(ctx context.Context, userID string, fn func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.retryInitial
	b.MaxInterval = e.retryMax

	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		err := fn()
		switch {
		case err == nil:
			return struct{}{}, nil
		case errors.Is(err, ErrConflict):
			e.logger.Debug("conflict, retrying",
				"user_id", userID,
				"attempt", attempt,
				"error", err,
			)
			return struct{}{}, err
		default:
			return struct{}{}, backoff.Permanent(err)
		}
	}, backoff.WithBackOff(b), backoff.WithMaxTries(uint(e.maxAttempts)))
	if err != nil && errors.Is(err, ErrConflict) {
		return fmt.Errorf("after %d attempts: %w", attempt, err)
	}
	return err
}
