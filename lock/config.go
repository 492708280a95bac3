package lock

import "time"

// Default configuration values.
const (
	DefaultKeyPrefix  = "lock:"
	DefaultTTL        = 30 * time.Second
	DefaultRetryDelay = 100 * time.Millisecond
	DefaultRetryCount = 3
)

// Config defines distributed lock behavior.
type Config struct {
	// KeyPrefix namespaces lock keys in Redis. Default: "lock:".
	KeyPrefix string `yaml:"key_prefix"`

	// TTL is the default lock lifetime when Acquire is called with a
	// non-positive TTL. Default: 30s.
	TTL time.Duration `yaml:"ttl"`

	// RetryDelay is the default sleep between acquisition attempts.
	// Default: 100ms.
	RetryDelay time.Duration `yaml:"retry_delay"`

	// RetryCount is the default number of retries after the first failed
	// attempt. Default: 3.
	RetryCount int `yaml:"retry_count"`
}

// GetKeyPrefix returns the configured prefix or the default "lock:".
func (c *Config) GetKeyPrefix() string {
	if c.KeyPrefix == "" {
		return DefaultKeyPrefix
	}
	return c.KeyPrefix
}

// GetDefaultTTL returns the configured TTL or the default 30s.
func (c *Config) GetDefaultTTL() time.Duration {
	if c.TTL <= 0 {
		return DefaultTTL
	}
	return c.TTL
}

// GetRetryDelay returns the configured delay or the default 100ms.
func (c *Config) GetRetryDelay() time.Duration {
	if c.RetryDelay <= 0 {
		return DefaultRetryDelay
	}
	return c.RetryDelay
}

// GetRetryCount returns the configured retry count or the default 3.
// A negative value means no retries.
func (c *Config) GetRetryCount() int {
	if c.RetryCount < 0 {
		return 0
	}
	if c.RetryCount == 0 {
		return DefaultRetryCount
	}
	return c.RetryCount
}

// acquireOptions are the per-call knobs for Acquire.
type acquireOptions struct {
	retryDelay time.Duration
	retryCount int
}

// AcquireOption overrides retry behavior for a single Acquire call.
type AcquireOption func(*acquireOptions)

// WithRetryDelay sets the sleep between acquisition attempts.
func WithRetryDelay(d time.Duration) AcquireOption {
	return func(o *acquireOptions) {
		o.retryDelay = d
	}
}

// WithRetryCount sets the number of retries after the first failed attempt.
// Zero means a single attempt.
func WithRetryCount(n int) AcquireOption {
	return func(o *acquireOptions) {
		o.retryCount = n
	}
}

// acquireOptions resolves per-call options against the manager defaults.
func (m *Manager) acquireOptions(opts []AcquireOption) acquireOptions {
	o := acquireOptions{
		retryDelay: m.cfg.GetRetryDelay(),
		retryCount: m.cfg.GetRetryCount(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.retryDelay <= 0 {
		o.retryDelay = DefaultRetryDelay
	}
	if o.retryCount < 0 {
		o.retryCount = 0
	}
	return o
}
