package config

import (
	"os"
	"time"

	"github.com/tnicklin/cubeclock/logger"
	"github.com/tnicklin/cubeclock/ntp/client"
	"github.com/tnicklin/cubeclock/observer"
	"github.com/tnicklin/cubeclock/store"
	"go.uber.org/config"
)

// DefaultDriftThreshold is the offset beyond which the local clock is
// reported as drifting.
const DefaultDriftThreshold = 5 * time.Second

// AppConfig holds all application configuration.
type AppConfig struct {
	Logger         logger.Config   `yaml:"logger"`
	NTP            client.Config   `yaml:"ntp"`
	Observer       observer.Config `yaml:"observer"`
	Store          store.Config    `yaml:"store"`
	DriftThreshold time.Duration   `yaml:"drift_threshold"`
}

// Defaults applies default values to every section.
func (c *AppConfig) Defaults() {
	c.Logger.Defaults()
	c.NTP.Defaults()
	c.Observer.Defaults()
	c.Store.Defaults()
	if c.DriftThreshold <= 0 {
		c.DriftThreshold = DefaultDriftThreshold
	}
}

// Load reads configuration from the specified YAML files.
// Files are merged in order, with later files overriding earlier ones.
// Missing files are silently ignored.
func Load(files ...string) (*AppConfig, error) {
	opts := make([]config.YAMLOption, 0, len(files))
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			opts = append(opts, config.File(f))
		}
	}

	if len(opts) == 0 {
		return nil, os.ErrNotExist
	}

	provider, err := config.NewYAML(opts...)
	if err != nil {
		return nil, err
	}

	var cfg AppConfig
	if err := provider.Get(config.Root).Populate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// LoadWithDefaults loads configuration and applies defaults.
func LoadWithDefaults(files ...string) (*AppConfig, error) {
	cfg, err := Load(files...)
	if err != nil {
		return nil, err
	}
	cfg.Defaults()
	return cfg, nil
}
