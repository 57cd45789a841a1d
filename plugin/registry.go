package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/wallet/access"
	"github.com/xraph/wallet/pricing"
	"github.com/xraph/wallet/transaction"
	"github.com/xraph/wallet/types"
)

// DefaultTimeout bounds a single plugin call.
const DefaultTimeout = 5 * time.Second

// Registry manages all registered plugins and provides efficient dispatch.
// It uses type-cached discovery for O(1) dispatch performance.
type Registry struct {
	mu      sync.RWMutex
	plugins []Plugin
	logger  *slog.Logger
	timeout time.Duration

	// Type-cached plugin lists for efficient dispatch
	onInit                 []OnInit
	onShutdown             []OnShutdown
	onTransactionCompleted []OnTransactionCompleted
	onChargeRejected       []OnChargeRejected
	onAccessGranted        []OnAccessGranted
	onAccessRestored       []OnAccessRestored
	onPriceChanged         []OnPriceChanged
	onPriceDeleted         []OnPriceDeleted
	onReconcileMismatch    []OnReconcileMismatch
}

// NewRegistry creates a new plugin registry.
func NewRegistry() *Registry {
	return &Registry{
		logger:  slog.Default(),
		timeout: DefaultTimeout,
	}
}

// WithLogger sets the logger for the registry.
func (r *Registry) WithLogger(logger *slog.Logger) *Registry {
	r.logger = logger
	return r
}

// WithTimeout sets the per-call plugin timeout. Non-positive values are ignored.
func (r *Registry) WithTimeout(d time.Duration) *Registry {
	if d > 0 {
		r.timeout = d
	}
	return r
}

// Register adds a plugin to the registry and caches its interfaces.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.plugins {
		if existing.Name() == p.Name() {
			return fmt.Errorf("plugin: duplicate registration: %s", p.Name())
		}
	}

	r.plugins = append(r.plugins, p)

	var hooks []string
	if v, ok := p.(OnInit); ok {
		r.onInit = append(r.onInit, v)
		hooks = append(hooks, "OnInit")
	}
	if v, ok := p.(OnShutdown); ok {
		r.onShutdown = append(r.onShutdown, v)
		hooks = append(hooks, "OnShutdown")
	}
	if v, ok := p.(OnTransactionCompleted); ok {
		r.onTransactionCompleted = append(r.onTransactionCompleted, v)
		hooks = append(hooks, "OnTransactionCompleted")
	}
	if v, ok := p.(OnChargeRejected); ok {
		r.onChargeRejected = append(r.onChargeRejected, v)
		hooks = append(hooks, "OnChargeRejected")
	}
	if v, ok := p.(OnAccessGranted); ok {
		r.onAccessGranted = append(r.onAccessGranted, v)
		hooks = append(hooks, "OnAccessGranted")
	}
	if v, ok := p.(OnAccessRestored); ok {
		r.onAccessRestored = append(r.onAccessRestored, v)
		hooks = append(hooks, "OnAccessRestored")
	}
	if v, ok := p.(OnPriceChanged); ok {
		r.onPriceChanged = append(r.onPriceChanged, v)
		hooks = append(hooks, "OnPriceChanged")
	}
	if v, ok := p.(OnPriceDeleted); ok {
		r.onPriceDeleted = append(r.onPriceDeleted, v)
		hooks = append(hooks, "OnPriceDeleted")
	}
	if v, ok := p.(OnReconcileMismatch); ok {
		r.onReconcileMismatch = append(r.onReconcileMismatch, v)
		hooks = append(hooks, "OnReconcileMismatch")
	}

	r.logger.Info("plugin registered",
		"name", p.Name(),
		"interfaces", hooks,
	)

	return nil
}

// Get returns a plugin by name.
func (r *Registry) Get(name string) Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.plugins {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// List returns all registered plugins.
func (r *Registry) List() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Plugin, len(r.plugins))
	copy(result, r.plugins)
	return result
}

// Count returns the number of registered plugins.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// ──────────────────────────────────────────────────
// Event emission methods
// ──────────────────────────────────────────────────

// EmitInit calls OnInit for all plugins that implement it.
func (r *Registry) EmitInit(ctx context.Context, engine any) {
	r.mu.RLock()
	plugins := r.onInit
	r.mu.RUnlock()

	dispatch(ctx, r, "OnInit", plugins, func(p OnInit) error {
		return p.OnInit(ctx, engine)
	})
}

// EmitShutdown calls OnShutdown for all plugins that implement it.
func (r *Registry) EmitShutdown(ctx context.Context) {
	r.mu.RLock()
	plugins := r.onShutdown
	r.mu.RUnlock()

	dispatch(ctx, r, "OnShutdown", plugins, func(p OnShutdown) error {
		return p.OnShutdown(ctx)
	})
}

// EmitTransactionCompleted emits a transaction completed event.
func (r *Registry) EmitTransactionCompleted(ctx context.Context, txn *transaction.Transaction) {
	r.mu.RLock()
	plugins := r.onTransactionCompleted
	r.mu.RUnlock()

	dispatch(ctx, r, "OnTransactionCompleted", plugins, func(p OnTransactionCompleted) error {
		return p.OnTransactionCompleted(ctx, txn)
	})
}

// EmitChargeRejected emits a charge rejected event.
func (r *Registry) EmitChargeRejected(ctx context.Context, userID string, typ transaction.Type, amount types.Money, reason error) {
	r.mu.RLock()
	plugins := r.onChargeRejected
	r.mu.RUnlock()

	dispatch(ctx, r, "OnChargeRejected", plugins, func(p OnChargeRejected) error {
		return p.OnChargeRejected(ctx, userID, typ, amount, reason)
	})
}

// EmitAccessGranted emits an access granted event.
func (r *Registry) EmitAccessGranted(ctx context.Context, grant *access.Grant) {
	r.mu.RLock()
	plugins := r.onAccessGranted
	r.mu.RUnlock()

	dispatch(ctx, r, "OnAccessGranted", plugins, func(p OnAccessGranted) error {
		return p.OnAccessGranted(ctx, grant)
	})
}

// EmitAccessRestored emits an access restored event.
func (r *Registry) EmitAccessRestored(ctx context.Context, grant *access.Grant) {
	r.mu.RLock()
	plugins := r.onAccessRestored
	r.mu.RUnlock()

	dispatch(ctx, r, "OnAccessRestored", plugins, func(p OnAccessRestored) error {
		return p.OnAccessRestored(ctx, grant)
	})
}

// EmitPriceChanged emits a price changed event.
func (r *Registry) EmitPriceChanged(ctx context.Context, price *pricing.ServicePrice) {
	r.mu.RLock()
	plugins := r.onPriceChanged
	r.mu.RUnlock()

	dispatch(ctx, r, "OnPriceChanged", plugins, func(p OnPriceChanged) error {
		return p.OnPriceChanged(ctx, price)
	})
}

// EmitPriceDeleted emits a price deleted event.
func (r *Registry) EmitPriceDeleted(ctx context.Context, serviceType string) {
	r.mu.RLock()
	plugins := r.onPriceDeleted
	r.mu.RUnlock()

	dispatch(ctx, r, "OnPriceDeleted", plugins, func(p OnPriceDeleted) error {
		return p.OnPriceDeleted(ctx, serviceType)
	})
}

// EmitReconcileMismatch emits a reconcile mismatch event.
func (r *Registry) EmitReconcileMismatch(ctx context.Context, userID string, stored, computed types.Money, unbacked int) {
	r.mu.RLock()
	plugins := r.onReconcileMismatch
	r.mu.RUnlock()

	dispatch(ctx, r, "OnReconcileMismatch", plugins, func(p OnReconcileMismatch) error {
		return p.OnReconcileMismatch(ctx, userID, stored, computed, unbacked)
	})
}

// dispatch invokes call for every plugin, logging failures without
// propagating them.
func dispatch[T Plugin](ctx context.Context, r *Registry, hook string, plugins []T, call func(T) error) {
	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return call(p)
		}); err != nil {
			r.logger.Warn("plugin "+hook+" failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// callWithTimeout calls a plugin function with a timeout.
// Plugins should never block the wallet pipeline.
func (r *Registry) callWithTimeout(ctx context.Context, pluginName string, fn func() error) error {
	done := make(chan error, 1)

	go func() {
		done <- fn()
	}()

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		return fmt.Errorf("plugin timeout: %s", pluginName)
	case <-ctx.Done():
		return ctx.Err()
	}
}
