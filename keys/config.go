package keys

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Default configuration values.
const (
	DefaultPrefix       = "chat"
	DefaultVersion      = "v1"
	DefaultSeparator    = ":"
	DefaultMaxKeyLength = 250
	DefaultEntryTTL     = time.Hour
)

// Config defines key construction behavior.
type Config struct {
	// Prefix is the leading segment shared by every key. Default: "chat".
	Prefix string `yaml:"prefix"`

	// Version is the key schema version segment. Default: "v1".
	Version string `yaml:"version"`

	// Separator joins key segments. Default: ":".
	Separator string `yaml:"separator"`

	// MaxKeyLength is the maximum physical key length before the variable
	// tail is replaced with a hash. Zero disables the limit. Default: 250.
	MaxKeyLength int `yaml:"max_key_length"`

	// TTLs maps namespaces to their default entry TTLs.
	TTLs map[string]time.Duration `yaml:"ttls"`

	// DefaultTTL applies to namespaces without a TTLs entry. Default: 1h.
	DefaultTTL time.Duration `yaml:"default_ttl"`
}

// DefaultConfig returns a Config with the chat service's TTL policy table.
func DefaultConfig() Config {
	return Config{
		Prefix:       DefaultPrefix,
		Version:      DefaultVersion,
		Separator:    DefaultSeparator,
		MaxKeyLength: DefaultMaxKeyLength,
		DefaultTTL:   DefaultEntryTTL,
		TTLs: map[string]time.Duration{
			NamespaceProfile:   24 * time.Hour,
			NamespacePresence:  30 * time.Second,
			NamespaceTyping:    5 * time.Second,
			NamespaceStale:     5 * time.Minute,
			NamespaceSession:   time.Hour,
			NamespaceRateLimit: time.Minute,
		},
	}
}

// applyDefaults fills zero-valued fields from DefaultConfig.
func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.Prefix == "" {
		c.Prefix = def.Prefix
	}
	if c.Version == "" {
		c.Version = def.Version
	}
	if c.Separator == "" {
		c.Separator = def.Separator
	}
	if c.MaxKeyLength == 0 {
		c.MaxKeyLength = def.MaxKeyLength
	}
	if c.DefaultTTL <= 0 {
		c.DefaultTTL = def.DefaultTTL
	}
	if c.TTLs == nil {
		c.TTLs = def.TTLs
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Prefix == "" {
		return errors.New("keys: prefix is required")
	}
	if c.Version == "" {
		return errors.New("keys: version is required")
	}
	if c.Separator == "" {
		return errors.New("keys: separator is required")
	}
	for _, seg := range []string{c.Prefix, c.Version} {
		if strings.Contains(seg, c.Separator) {
			return fmt.Errorf("keys: segment %q must not contain separator %q", seg, c.Separator)
		}
	}
	if c.MaxKeyLength < 0 {
		return errors.New("keys: max_key_length must not be negative")
	}
	// The hashed form must itself fit under the limit.
	minLen := len(c.Prefix) + len(c.Version) + 3*len(c.Separator) + HashLen
	if c.MaxKeyLength > 0 && c.MaxKeyLength < minLen+1 {
		return fmt.Errorf("keys: max_key_length %d too small for hashed keys", c.MaxKeyLength)
	}
	for ns, ttl := range c.TTLs {
		if ttl <= 0 {
			return fmt.Errorf("keys: ttl for namespace %q must be positive", ns)
		}
	}
	return nil
}
