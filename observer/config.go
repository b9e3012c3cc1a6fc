package observer

import "time"

const (
	DefaultTimeToLive         = time.Hour
	DefaultMaxRetry           = 3
	DefaultRetryInterval      = 5 * time.Second
	DefaultMinRefreshInterval = 30 * time.Second
)

// Config holds observer configuration.
type Config struct {
	TimeToLive time.Duration `yaml:"time_to_live"`
	// MaxRetry is the number of retries after a failed attempt, for the
	// background refresh and Synchronize. Negative disables retries.
	MaxRetry      int           `yaml:"max_retry"`
	RetryInterval time.Duration `yaml:"retry_interval"`
	// MinRefreshInterval throttles how often reads may start a background
	// refresh. Negative disables throttling.
	MinRefreshInterval time.Duration `yaml:"min_refresh_interval"`
}

// Defaults applies default values to the config.
func (c *Config) Defaults() {
	if c.TimeToLive <= 0 {
		c.TimeToLive = DefaultTimeToLive
	}
	if c.MaxRetry == 0 {
		c.MaxRetry = DefaultMaxRetry
	}
	if c.MaxRetry < 0 {
		c.MaxRetry = 0
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = DefaultRetryInterval
	}
	if c.MinRefreshInterval == 0 {
		c.MinRefreshInterval = DefaultMinRefreshInterval
	}
}
