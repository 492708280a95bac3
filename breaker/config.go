package breaker

import "time"

// Default configuration values.
const (
	DefaultFailureThreshold = 5                // consecutive failures to open circuit
	DefaultRecoveryTimeout  = 60 * time.Second // open duration before half-open
	DefaultMonitoringPeriod = 5 * time.Minute  // closed-state counter window
	DefaultHalfOpenMaxCalls = 3                // probes admitted in half-open state
)

// Config defines circuit breaker behavior.
type Config struct {
	// FailureThreshold is the number of consecutive failures before the
	// circuit opens. Default: 5.
	FailureThreshold int `yaml:"failure_threshold"`

	// RecoveryTimeout is how long the circuit stays open before the next
	// call is admitted as a half-open probe. Default: 60s.
	RecoveryTimeout time.Duration `yaml:"recovery_timeout"`

	// MonitoringPeriod is the closed-state window after which call counters
	// are cleared. Informational; it does not affect transitions driven by
	// consecutive failures. Default: 5m.
	MonitoringPeriod time.Duration `yaml:"monitoring_period"`

	// HalfOpenMaxCalls is the number of probe calls admitted while
	// half-open. That many consecutive successes close the circuit; a single
	// failure reopens it. Default: 3.
	HalfOpenMaxCalls int `yaml:"half_open_max_calls"`
}

// GetFailureThreshold returns the configured threshold or the default 5.
func (c *Config) GetFailureThreshold() int {
	if c.FailureThreshold <= 0 {
		return DefaultFailureThreshold
	}
	return c.FailureThreshold
}

// GetRecoveryTimeout returns the configured timeout or the default 60s.
func (c *Config) GetRecoveryTimeout() time.Duration {
	if c.RecoveryTimeout <= 0 {
		return DefaultRecoveryTimeout
	}
	return c.RecoveryTimeout
}

// GetMonitoringPeriod returns the configured period or the default 5m.
func (c *Config) GetMonitoringPeriod() time.Duration {
	if c.MonitoringPeriod <= 0 {
		return DefaultMonitoringPeriod
	}
	return c.MonitoringPeriod
}

// GetHalfOpenMaxCalls returns the configured probe budget or the default 3.
func (c *Config) GetHalfOpenMaxCalls() int {
	if c.HalfOpenMaxCalls <= 0 {
		return DefaultHalfOpenMaxCalls
	}
	return c.HalfOpenMaxCalls
}
