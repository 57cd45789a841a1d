package extension

import "time"

// Config holds the Wallet extension configuration.
// Fields can be set programmatically via Option functions or loaded from
// YAML configuration files (under "extensions.wallet" or "wallet" keys).
type Config struct {
	// DisableMigrate prevents auto-migration on start.
	DisableMigrate bool `json:"disable_migrate" mapstructure:"disable_migrate" yaml:"disable_migrate"`

	// MaxAttempts bounds how often a conflicting atomic unit is attempted
	// (default: 3).
	MaxAttempts int `json:"max_attempts" mapstructure:"max_attempts" yaml:"max_attempts"`

	// RetryInitial is the first backoff interval between conflict retries
	// (default: 20ms).
	RetryInitial time.Duration `json:"retry_initial" mapstructure:"retry_initial" yaml:"retry_initial"`

	// RetryMax caps the backoff interval (default: 250ms).
	RetryMax time.Duration `json:"retry_max" mapstructure:"retry_max" yaml:"retry_max"`

	// PluginTimeout bounds each plugin hook call (default: 5s).
	PluginTimeout time.Duration `json:"plugin_timeout" mapstructure:"plugin_timeout" yaml:"plugin_timeout"`

	// RedisURL enables the distributed pay-to-view lock when set,
	// e.g. "redis://localhost:6379/0".
	RedisURL string `json:"redis_url" mapstructure:"redis_url" yaml:"redis_url"`

	// LockPrefix namespaces lock keys in Redis (default: "wallet:lock:").
	LockPrefix string `json:"lock_prefix" mapstructure:"lock_prefix" yaml:"lock_prefix"`

	// LockTTL is the lease duration of a pay-to-view lock (default: 10s).
	LockTTL time.Duration `json:"lock_ttl" mapstructure:"lock_ttl" yaml:"lock_ttl"`

	// RequireConfig requires config to be present in YAML files.
	// If true and no config is found, Register returns an error.
	RequireConfig bool `json:"-" yaml:"-"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:   3,
		RetryInitial:  20 * time.Millisecond,
		RetryMax:      250 * time.Millisecond,
		PluginTimeout: 5 * time.Second,
		LockPrefix:    "wallet:lock:",
		LockTTL:       10 * time.Second,
	}
}

// mergeWithDefaults fills zero-valued fields with defaults.
func mergeWithDefaults(cfg Config) Config {
	defaults := DefaultConfig()
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = defaults.MaxAttempts
	}
	if cfg.RetryInitial == 0 {
		cfg.RetryInitial = defaults.RetryInitial
	}
	if cfg.RetryMax == 0 {
		cfg.RetryMax = defaults.RetryMax
	}
	if cfg.PluginTimeout == 0 {
		cfg.PluginTimeout = defaults.PluginTimeout
	}
	if cfg.LockPrefix == "" {
		cfg.LockPrefix = defaults.LockPrefix
	}
	if cfg.LockTTL == 0 {
		cfg.LockTTL = defaults.LockTTL
	}
	return cfg
}

// mergeConfigurations merges YAML config with programmatic options.
// YAML config takes precedence for most fields; programmatic values fill gaps.
func mergeConfigurations(yamlConfig, programmaticConfig Config) Config {
	if programmaticConfig.DisableMigrate {
		yamlConfig.DisableMigrate = true
	}

	if yamlConfig.RedisURL == "" {
		yamlConfig.RedisURL = programmaticConfig.RedisURL
	}
	if yamlConfig.LockPrefix == "" {
		yamlConfig.LockPrefix = programmaticConfig.LockPrefix
	}

	if yamlConfig.MaxAttempts == 0 {
		yamlConfig.MaxAttempts = programmaticConfig.MaxAttempts
	}
	if yamlConfig.RetryInitial == 0 {
		yamlConfig.RetryInitial = programmaticConfig.RetryInitial
	}
	if yamlConfig.RetryMax == 0 {
		yamlConfig.RetryMax = programmaticConfig.RetryMax
	}
	if yamlConfig.PluginTimeout == 0 {
		yamlConfig.PluginTimeout = programmaticConfig.PluginTimeout
	}
	if yamlConfig.LockTTL == 0 {
		yamlConfig.LockTTL = programmaticConfig.LockTTL
	}

	return mergeWithDefaults(yamlConfig)
}
