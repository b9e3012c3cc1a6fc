package store

import "time"

// Config holds history store configuration.
type Config struct {
	Path      string        `yaml:"path"`
	Retention time.Duration `yaml:"retention"`
}

// Defaults applies default values to the config.
func (c *Config) Defaults() {
	if c.Path == "" {
		c.Path = "data/cubeclock.db"
	}
	if c.Retention <= 0 {
		c.Retention = 30 * 24 * time.Hour
	}
}
