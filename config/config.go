package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/creasty/defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"

	"github.com/fleetdns/querylogd/log"
)

// Configurable is implemented by every config section
type Configurable interface {
	// IsEnabled returns true when the section is active
	IsEnabled() bool

	// LogConfig logs the effective values of the section
	LogConfig(logger *logrus.Entry)
}

// Config main configuration
type Config struct {
	Log           log.Config    `yaml:"log"`
	QueryLogCache QueryLogCache `yaml:"queryLogCache"`
	Database      Database      `yaml:"database"`
	Nodes         Nodes         `yaml:"nodes"`
	ClientLookup  ClientLookup  `yaml:"clientLookup"`
	HTTP          HTTP          `yaml:"http"`
}

// LoadConfig reads, defaults and validates the configuration file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("can't read config file '%s': %w", path, err)
	}

	return loadConfig(data)
}

func loadConfig(data []byte) (*Config, error) {
	cfg := new(Config)

	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("can't apply default values: %w", err)
	}

	if err := yaml.UnmarshalStrict(data, cfg); err != nil {
		return nil, fmt.Errorf("wrong file structure: %w", err)
	}

	for i := range cfg.Nodes {
		if err := defaults.Set(&cfg.Nodes[i]); err != nil {
			return nil, fmt.Errorf("can't apply default values for node %d: %w", i, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the configuration for inconsistent values
func (c *Config) Validate() error {
	var errs []error

	if err := c.Log.Validate(); err != nil {
		errs = append(errs, err)
	}

	if err := c.QueryLogCache.Validate(); err != nil {
		errs = append(errs, err)
	}

	if err := c.Database.Validate(); err != nil {
		errs = append(errs, err)
	}

	if err := c.Nodes.Validate(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// LogConfig logs all config sections
func (c *Config) LogConfig(logger *logrus.Entry) {
	sections := []struct {
		name string
		cfg  Configurable
	}{
		{"queryLogCache", &c.QueryLogCache},
		{"database", &c.Database},
		{"nodes", &c.Nodes},
		{"clientLookup", &c.ClientLookup},
		{"http", &c.HTTP},
	}

	for _, s := range sections {
		if !s.cfg.IsEnabled() {
			logger.Infof("%s: disabled", s.name)

			continue
		}

		logger.Infof("%s:", s.name)
		s.cfg.LogConfig(logger.WithField("section", s.name))
	}
}
