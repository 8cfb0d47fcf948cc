package collector

import "time"

// Config holds the tunables the Collector needs beyond the sensors
// themselves: timeouts for the synchronous snapshot methods and feature
// flags for optional hwinfo enrichment. Adapted from the teacher's
// CollectorConfig/DefaultCollectorConfig/Validate() functional-option
// pattern (internal/collector/config.go), trimmed of the TUI-only fields
// (poll intervals, console log caps, CPU history buffer) that belonged to
// the dropped dashboard/flagger pipeline.
type Config struct {
	SnapshotTimeout time.Duration // budget for hardware()/os()/networks()/ports()
	StreamTimeout   time.Duration // budget for one packages()/processes() sweep

	EnableDockerMetrics bool // fold Docker container counts into hwinfo
	EnableTemperatures  bool // fold temperature sensors into hwinfo
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		SnapshotTimeout:     5 * time.Second,
		StreamTimeout:       30 * time.Second,
		EnableDockerMetrics: true,
		EnableTemperatures:  true,
	}
}

func (c Config) WithSnapshotTimeout(d time.Duration) Config {
	c.SnapshotTimeout = d
	return c
}

func (c Config) WithStreamTimeout(d time.Duration) Config {
	c.StreamTimeout = d
	return c
}

func (c Config) WithDockerMetrics(enabled bool) Config {
	c.EnableDockerMetrics = enabled
	return c
}

func (c Config) WithTemperatures(enabled bool) Config {
	c.EnableTemperatures = enabled
	return c
}

// Validate checks the configuration, matching the teacher's
// ConfigError-returning style.
func (c Config) Validate() error {
	if c.SnapshotTimeout <= 0 {
		return &ConfigError{Field: "SnapshotTimeout", Message: "must be positive"}
	}
	if c.StreamTimeout <= 0 {
		return &ConfigError{Field: "StreamTimeout", Message: "must be positive"}
	}
	return nil
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "config error: " + e.Field + " " + e.Message
}
