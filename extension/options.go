package extension

import (
	"time"

	"github.com/xraph/wallet"
	"github.com/xraph/wallet/lock"
	"github.com/xraph/wallet/plugin"
	"github.com/xraph/wallet/store"
)

// Option configures the Wallet Forge extension.
type Option func(*Extension)

// WithStore sets the store for the wallet engine.
func WithStore(s store.Store) Option {
	return func(e *Extension) {
		e.store = s
	}
}

// WithWalletOption passes a wallet.Option through to the underlying engine.
// Pass-through options are applied after config-derived ones.
func WithWalletOption(opt wallet.Option) Option {
	return func(e *Extension) {
		e.walletOpts = append(e.walletOpts, opt)
	}
}

// WithPlugin registers a wallet plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Extension) {
		e.walletOpts = append(e.walletOpts, wallet.WithPlugin(p))
	}
}

// WithLocker sets the pay-to-view locker directly, bypassing RedisURL.
func WithLocker(l lock.Locker) Option {
	return func(e *Extension) { e.locker = l }
}

// WithConfig sets the Forge extension configuration.
func WithConfig(cfg Config) Option {
	return func(e *Extension) { e.config = cfg }
}

// WithDisableMigrate prevents auto-migration on start.
func WithDisableMigrate() Option {
	return func(e *Extension) { e.config.DisableMigrate = true }
}

// WithRequireConfig requires config to be present in YAML files.
// If true and no config is found, Register returns an error.
func WithRequireConfig(require bool) Option {
	return func(e *Extension) { e.config.RequireConfig = require }
}

// WithMaxAttempts bounds conflict retries of an atomic unit.
func WithMaxAttempts(n int) Option {
	return func(e *Extension) { e.config.MaxAttempts = n }
}

// WithRetryBackoff sets the backoff between conflict retries.
func WithRetryBackoff(initial, maxInterval time.Duration) Option {
	return func(e *Extension) {
		e.config.RetryInitial = initial
		e.config.RetryMax = maxInterval
	}
}

// WithPluginTimeout bounds each plugin hook call.
func WithPluginTimeout(d time.Duration) Option {
	return func(e *Extension) { e.config.PluginTimeout = d }
}

// WithRedisURL enables the Redis pay-to-view lock.
func WithRedisURL(url string) Option {
	return func(e *Extension) { e.config.RedisURL = url }
}

// WithLockTTL sets the pay-to-view lease duration.
func WithLockTTL(d time.Duration) Option {
	return func(e *Extension) { e.config.LockTTL = d }
}
