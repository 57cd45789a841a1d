// Package extension provides the Forge extension adapter for Wallet.
//
// It implements the forge.Extension interface to integrate Wallet
// into a Forge application with DI registration and lifecycle management.
//
// Configuration can be provided programmatically via Option functions
// or via YAML configuration files under "extensions.wallet" or "wallet" keys.
package extension

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/xraph/forge"
	"github.com/xraph/vessel"

	"github.com/xraph/wallet"
	"github.com/xraph/wallet/lock"
	"github.com/xraph/wallet/lock/redislock"
	"github.com/xraph/wallet/store"
	"github.com/xraph/wallet/store/memory"
)

// ExtensionName is the name registered with Forge.
const ExtensionName = "wallet"

// ExtensionDescription is the human-readable description.
const ExtensionDescription = "Wallet ledger with pay-per-view access"

// ExtensionVersion is the semantic version.
const ExtensionVersion = "0.1.0"

// Ensure Extension implements forge.Extension at compile time.
var _ forge.Extension = (*Extension)(nil)

// Extension adapts Wallet as a Forge extension.
type Extension struct {
	*forge.BaseExtension

	config     Config
	engine     *wallet.Engine
	store      store.Store
	locker     lock.Locker
	redis      *redis.Client
	walletOpts []wallet.Option
}

// New creates a new Wallet Forge extension with the given options.
func New(opts ...Option) *Extension {
	e := &Extension{
		BaseExtension: forge.NewBaseExtension(ExtensionName, ExtensionVersion, ExtensionDescription),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Engine returns the underlying wallet engine.
// This is nil until Register is called.
func (e *Extension) Engine() *wallet.Engine { return e.engine }

// Register implements [forge.Extension]. It loads configuration,
// initializes the wallet engine, and registers it in the DI container.
func (e *Extension) Register(fapp forge.App) error {
	if err := e.BaseExtension.Register(fapp); err != nil {
		return err
	}

	if err := e.loadConfiguration(); err != nil {
		return err
	}

	// Use memory store if no store was provided programmatically.
	if e.store == nil {
		e.store = memory.New()
	}

	if e.locker == nil && e.config.RedisURL != "" {
		locker, err := e.connectRedis()
		if err != nil {
			return err
		}
		e.locker = locker
	}

	e.engine = wallet.New(e.store, e.buildWalletOpts()...)

	return vessel.Provide(fapp.Container(), func() (*wallet.Engine, error) {
		return e.engine, nil
	})
}

// Start implements [forge.Extension].
func (e *Extension) Start(ctx context.Context) error {
	if e.engine == nil {
		return errors.New("wallet: extension not initialized")
	}

	if err := e.engine.Start(ctx); err != nil {
		return err
	}

	e.MarkStarted()
	return nil
}

// Stop implements [forge.Extension].
func (e *Extension) Stop(_ context.Context) error {
	var errs []error
	if e.engine != nil {
		errs = append(errs, e.engine.Stop())
	}
	if e.redis != nil {
		errs = append(errs, e.redis.Close())
	}
	e.MarkStopped()
	return errors.Join(errs...)
}

// Health implements [forge.Extension].
func (e *Extension) Health(ctx context.Context) error {
	if e.store == nil {
		return errors.New("wallet: store not initialized")
	}
	if err := e.store.Ping(ctx); err != nil {
		return err
	}
	if e.redis != nil {
		return e.redis.Ping(ctx).Err()
	}
	return nil
}

// connectRedis builds the Redis-backed locker from RedisURL.
func (e *Extension) connectRedis() (lock.Locker, error) {
	redisOpts, err := redis.ParseURL(e.config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("wallet: parse redis_url: %w", err)
	}
	e.redis = redis.NewClient(redisOpts)

	locker, err := redislock.New(e.redis, redislock.WithPrefix(e.config.LockPrefix))
	if err != nil {
		_ = e.redis.Close()
		e.redis = nil
		return nil, err
	}
	return locker, nil
}

// buildWalletOpts constructs wallet.Option values from the resolved config.
func (e *Extension) buildWalletOpts() []wallet.Option {
	opts := make([]wallet.Option, 0, len(e.walletOpts)+7)

	opts = append(opts,
		wallet.WithMaxAttempts(e.config.MaxAttempts),
		wallet.WithRetryBackoff(e.config.RetryInitial, e.config.RetryMax),
		wallet.WithPluginTimeout(e.config.PluginTimeout),
		wallet.WithLockTTL(e.config.LockTTL),
	)
	if e.config.DisableMigrate {
		opts = append(opts, wallet.WithoutMigrate())
	}
	if e.locker != nil {
		opts = append(opts, wallet.WithLocker(e.locker))
	}

	return append(opts, e.walletOpts...)
}

// loadConfiguration loads config from YAML files or programmatic sources.
func (e *Extension) loadConfiguration() error {
	programmaticConfig := e.config

	fileConfig, configLoaded := e.tryLoadFromConfigFile()

	if !configLoaded {
		if programmaticConfig.RequireConfig {
			return errors.New("wallet: configuration is required but not found in config files; " +
				"ensure 'extensions.wallet' or 'wallet' key exists in your config")
		}
		e.config = mergeWithDefaults(programmaticConfig)
	} else {
		e.config = mergeConfigurations(fileConfig, programmaticConfig)
	}

	e.Logger().Debug("wallet: configuration loaded",
		forge.F("disable_migrate", e.config.DisableMigrate),
		forge.F("max_attempts", e.config.MaxAttempts),
		forge.F("retry_initial", e.config.RetryInitial),
		forge.F("retry_max", e.config.RetryMax),
		forge.F("plugin_timeout", e.config.PluginTimeout),
		forge.F("redis_lock", e.config.RedisURL != ""),
		forge.F("lock_ttl", e.config.LockTTL),
	)

	return nil
}

// tryLoadFromConfigFile attempts to load config from YAML files.
func (e *Extension) tryLoadFromConfigFile() (Config, bool) {
	cm := e.App().Config()

	for _, key := range []string{"extensions.wallet", "wallet"} {
		if !cm.IsSet(key) {
			continue
		}
		var cfg Config
		if err := cm.Bind(key, &cfg); err != nil {
			e.Logger().Warn("wallet: failed to bind config",
				forge.F("key", key),
				forge.F("error", err),
			)
			continue
		}
		e.Logger().Debug("wallet: loaded config from file",
			forge.F("key", key),
		)
		return cfg, true
	}

	return Config{}, false
}
