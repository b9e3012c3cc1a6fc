package client

import (
	"time"

	"github.com/tnicklin/cubeclock/ntp"
)

const (
	DefaultHost    = "time.windows.com"
	DefaultTimeout = 5 * time.Second
	DefaultVersion = 4
)

// Config holds NTP client configuration.
type Config struct {
	Host    string        `yaml:"host"`
	Port    int           `yaml:"port"`
	Timeout time.Duration `yaml:"timeout"`
	Version int           `yaml:"version"`
}

// Defaults applies default values to the config.
func (c *Config) Defaults() {
	if c.Host == "" {
		c.Host = DefaultHost
	}
	if c.Port <= 0 {
		c.Port = ntp.Port
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.Version < 3 || c.Version > 4 {
		c.Version = DefaultVersion
	}
}
