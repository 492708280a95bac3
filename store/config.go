package store

import (
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Default configuration values.
const (
	DefaultPoolSize     = 10
	DefaultDialTimeout  = 5 * time.Second
	DefaultReadTimeout  = 3 * time.Second
	DefaultWriteTimeout = 3 * time.Second
)

// Config defines the remote store connection.
type Config struct {
	// Addr is the host:port of the remote store (required).
	Addr string `yaml:"addr"`

	// Password authenticates the connection. Empty means no auth.
	Password string `yaml:"password"`

	// DB selects the logical database. Default: 0.
	DB int `yaml:"db"`

	// PoolSize is the connection pool size. Default: 10.
	PoolSize int `yaml:"pool_size"`

	// DialTimeout bounds connection establishment. Default: 5s.
	DialTimeout time.Duration `yaml:"dial_timeout"`

	// ReadTimeout bounds socket reads. Default: 3s.
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout bounds socket writes. Default: 3s.
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// MergeDefaults returns a copy with zero-valued fields replaced by defaults.
func (c Config) MergeDefaults() Config {
	if c.PoolSize == 0 {
		c.PoolSize = DefaultPoolSize
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	return c
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return errors.New("store: addr is required")
	}
	if c.DB < 0 {
		return errors.New("store: db must not be negative")
	}
	if c.PoolSize < 0 {
		return errors.New("store: pool_size must not be negative")
	}
	if c.DialTimeout < 0 || c.ReadTimeout < 0 || c.WriteTimeout < 0 {
		return errors.New("store: timeouts must not be negative")
	}
	return nil
}

// Options converts the configuration into driver options.
func (c *Config) Options() *redis.Options {
	return &redis.Options{
		Addr:         c.Addr,
		Password:     c.Password,
		DB:           c.DB,
		PoolSize:     c.PoolSize,
		DialTimeout:  c.DialTimeout,
		ReadTimeout:  c.ReadTimeout,
		WriteTimeout: c.WriteTimeout,
	}
}
