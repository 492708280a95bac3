package cacheaside

import "time"

// Default configuration values.
const (
	DefaultStaleWindow    = 5 * time.Minute
	DefaultLockTTL        = 10 * time.Second
	DefaultLockRetryDelay = 50 * time.Millisecond
	DefaultLockRetryCount = 3
	DefaultWarmLockTTL    = time.Minute
	DefaultRefreshTimeout = 30 * time.Second
)

// Config defines orchestrator behavior.
type Config struct {
	// DefaultTTL is the entry TTL when no per-call TTL is given. Zero means
	// derive the TTL from the key's namespace policy.
	DefaultTTL time.Duration `yaml:"default_ttl"`

	// StaleWindow is how long before entry expiry a value is considered
	// stale (the stale marker expires StaleWindow before the entry).
	// Default: 5m.
	StaleWindow time.Duration `yaml:"stale_window"`

	// LockTTL bounds the per-key reload lock. Default: 10s.
	LockTTL time.Duration `yaml:"lock_ttl"`

	// LockRetryDelay is the sleep between reload-lock attempts.
	// Default: 50ms.
	LockRetryDelay time.Duration `yaml:"lock_retry_delay"`

	// LockRetryCount is the number of reload-lock retries. Default: 3.
	LockRetryCount int `yaml:"lock_retry_count"`

	// WarmLockTTL bounds the exclusive cache-warming lock. Default: 1m.
	WarmLockTTL time.Duration `yaml:"warm_lock_ttl"`

	// RefreshTimeout bounds each detached background refresh. Default: 30s.
	RefreshTimeout time.Duration `yaml:"refresh_timeout"`
}

// GetStaleWindow returns the configured window or the default 5m.
func (c *Config) GetStaleWindow() time.Duration {
	if c.StaleWindow <= 0 {
		return DefaultStaleWindow
	}
	return c.StaleWindow
}

// GetLockTTL returns the configured lock TTL or the default 10s.
func (c *Config) GetLockTTL() time.Duration {
	if c.LockTTL <= 0 {
		return DefaultLockTTL
	}
	return c.LockTTL
}

// GetLockRetryDelay returns the configured delay or the default 50ms.
func (c *Config) GetLockRetryDelay() time.Duration {
	if c.LockRetryDelay <= 0 {
		return DefaultLockRetryDelay
	}
	return c.LockRetryDelay
}

// GetLockRetryCount returns the configured retry count or the default 3.
func (c *Config) GetLockRetryCount() int {
	if c.LockRetryCount <= 0 {
		return DefaultLockRetryCount
	}
	return c.LockRetryCount
}

// GetWarmLockTTL returns the configured warm-lock TTL or the default 1m.
func (c *Config) GetWarmLockTTL() time.Duration {
	if c.WarmLockTTL <= 0 {
		return DefaultWarmLockTTL
	}
	return c.WarmLockTTL
}

// GetRefreshTimeout returns the configured timeout or the default 30s.
func (c *Config) GetRefreshTimeout() time.Duration {
	if c.RefreshTimeout <= 0 {
		return DefaultRefreshTimeout
	}
	return c.RefreshTimeout
}

// callOptions are the per-call knobs resolved from Config and Options.
type callOptions struct {
	ttl         time.Duration
	staleWindow time.Duration
	skipCache   bool
	revalidate  bool
}

// Option overrides read/write behavior for a single call.
type Option func(*callOptions)

// WithTTL sets the entry TTL for this call.
func WithTTL(ttl time.Duration) Option {
	return func(o *callOptions) {
		o.ttl = ttl
	}
}

// WithStaleWindow sets how long before entry expiry the value turns stale.
// Zero disables the stale marker entirely.
func WithStaleWindow(window time.Duration) Option {
	return func(o *callOptions) {
		o.staleWindow = window
	}
}

// WithSkipCache bypasses the cache and calls the loader directly.
func WithSkipCache() Option {
	return func(o *callOptions) {
		o.skipCache = true
	}
}

// WithoutRevalidate disables stale-while-revalidate: a stale hit reloads
// synchronously instead of serving the stale value.
func WithoutRevalidate() Option {
	return func(o *callOptions) {
		o.revalidate = false
	}
}

// resolveOptions applies per-call options over the configured defaults. The
// entry TTL falls back to the key namespace's policy when not set anywhere.
func (c *Cache) resolveOptions(key string, opts []Option) callOptions {
	o := callOptions{
		ttl:         c.cfg.DefaultTTL,
		staleWindow: c.cfg.GetStaleWindow(),
		revalidate:  true,
	}
	if o.ttl <= 0 {
		if parsed, err := c.keys.Parse(key); err == nil {
			o.ttl = c.keys.TTLFor(parsed.Namespace)
		} else {
			o.ttl = c.keys.TTLFor("")
		}
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
