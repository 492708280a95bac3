package metrics

import "time"

// Default configuration values.
const (
	DefaultMaxSamples      = 10_000
	DefaultRetention       = time.Hour
	DefaultSummarySchedule = "@every 5m"
	DefaultTrimSchedule    = "@every 1h"
)

// Config defines metrics recording behavior.
type Config struct {
	// MaxSamples caps the sample ring; the oldest sample is dropped once
	// the cap is reached. Default: 10000.
	MaxSamples int `yaml:"max_samples"`

	// Retention is the maximum sample age; the periodic trim discards
	// anything older. Default: 1h.
	Retention time.Duration `yaml:"retention"`

	// SummarySchedule is the cron spec for the summary log.
	// Default: "@every 5m".
	SummarySchedule string `yaml:"summary_schedule"`

	// TrimSchedule is the cron spec for the retention trim.
	// Default: "@every 1h".
	TrimSchedule string `yaml:"trim_schedule"`
}

// GetMaxSamples returns the configured cap or the default 10000.
func (c *Config) GetMaxSamples() int {
	if c.MaxSamples <= 0 {
		return DefaultMaxSamples
	}
	return c.MaxSamples
}

// GetRetention returns the configured retention or the default 1h.
func (c *Config) GetRetention() time.Duration {
	if c.Retention <= 0 {
		return DefaultRetention
	}
	return c.Retention
}

// GetSummarySchedule returns the configured schedule or the default.
func (c *Config) GetSummarySchedule() string {
	if c.SummarySchedule == "" {
		return DefaultSummarySchedule
	}
	return c.SummarySchedule
}

// GetTrimSchedule returns the configured schedule or the default.
func (c *Config) GetTrimSchedule() string {
	if c.TrimSchedule == "" {
		return DefaultTrimSchedule
	}
	return c.TrimSchedule
}
