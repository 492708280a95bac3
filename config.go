package cachekit

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/relaychat/cachekit/breaker"
	"github.com/relaychat/cachekit/cacheaside"
	"github.com/relaychat/cachekit/keys"
	"github.com/relaychat/cachekit/lock"
	"github.com/relaychat/cachekit/metrics"
	"github.com/relaychat/cachekit/store"
)

// Config aggregates the per-package configurations. Zero values fall back to
// each package's defaults, so an empty Config (plus a store address) is a
// working setup.
type Config struct {
	Store   store.Config      `yaml:"store"`
	Keys    keys.Config       `yaml:"keys"`
	Lock    lock.Config       `yaml:"lock"`
	Breaker breaker.Config    `yaml:"breaker"`
	Metrics metrics.Config    `yaml:"metrics"`
	Cache   cacheaside.Config `yaml:"cache"`
}

// LoadConfig reads and parses a YAML configuration file from the given path.
// Environment variables in the format ${VAR_NAME} are expanded before parsing.
func LoadConfig(path string) (cfg *Config, err error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file %s: %w", path, err)
	}

	defer func() {
		if cerr := file.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close config file: %w", cerr)
		}
	}()

	return LoadConfigFromReader(file)
}

// LoadConfigFromReader reads and parses YAML configuration from an io.Reader.
// Environment variables in the format ${VAR_NAME} are expanded before parsing.
func LoadConfigFromReader(r io.Reader) (*Config, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	expanded := os.ExpandEnv(string(content))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}

	return &cfg, nil
}
