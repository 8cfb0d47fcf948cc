// Package mtqueue implements the durable, per-kind, bounded-capacity
// message queue described in spec §4.6: three persisted FIFOs (STATELESS,
// STATEFUL, COMMAND) sharing one total-capacity bound, blocking and
// cooperative push/pop, at-least-once delivery.
package mtqueue

import "fmt"

// Config holds the recognized queue options from §4.6/§6
// (agent.path.data, agent.queue_size, events.batch_interval,
// agent.queue_status_refresh_timer), mirroring the teacher's
// CollectorConfig / DefaultCollectorConfig / Validate() functional-option
// shape (internal/collector/config.go).
type Config struct {
	PathData           string
	QueueSize          int
	BatchIntervalMS    int
	StatusRefreshMS    int
}

const (
	minQueueSize = 1000
	// The spec's prose quotes an upper bound of 100_000_000, but §9's Open
	// Question notes the original code actually clamps to 1000*60*60; we
	// follow the code, per the decision recorded in DESIGN.md.
	maxQueueSize = 1000 * 60 * 60

	minBatchIntervalMS = 1000
	maxBatchIntervalMS = 3_600_000

	defaultQueueSize       = 10000
	defaultBatchIntervalMS = 5000
	defaultStatusRefreshMS = 1000
)

// DefaultConfig returns a Config with every option at its documented
// default.
func DefaultConfig() Config {
	return Config{
		PathData:        "",
		QueueSize:       defaultQueueSize,
		BatchIntervalMS: defaultBatchIntervalMS,
		StatusRefreshMS: defaultStatusRefreshMS,
	}
}

// Option configures a Config via the teacher's functional-option pattern.
type Option func(*Config)

func WithPathData(path string) Option {
	return func(c *Config) { c.PathData = path }
}

func WithQueueSize(n int) Option {
	return func(c *Config) { c.QueueSize = n }
}

func WithBatchInterval(ms int) Option {
	return func(c *Config) { c.BatchIntervalMS = ms }
}

func WithStatusRefresh(ms int) Option {
	return func(c *Config) { c.StatusRefreshMS = ms }
}

// NewConfig builds a validated Config from options, replacing out-of-range
// values with their defaults rather than rejecting them, per §4.6
// ("invalid → default").
func NewConfig(opts ...Option) Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg.clamp()
	return cfg
}

func (c *Config) clamp() {
	if c.QueueSize < minQueueSize || c.QueueSize > maxQueueSize {
		c.QueueSize = defaultQueueSize
	}
	if c.BatchIntervalMS < minBatchIntervalMS || c.BatchIntervalMS > maxBatchIntervalMS {
		c.BatchIntervalMS = defaultBatchIntervalMS
	}
	if c.StatusRefreshMS <= 0 {
		c.StatusRefreshMS = defaultStatusRefreshMS
	}
}

// ConfigError reports a fatal (non-clampable) configuration problem, in the
// teacher's ConfigError style (internal/collector/config.go).
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("mtqueue: invalid config field %q: %s", e.Field, e.Reason)
}

// Validate rejects configurations that clamping can't repair (an empty
// path.data when durability was explicitly requested is the only such case
// today).
func (c Config) Validate(requireDurable bool) error {
	if requireDurable && c.PathData == "" {
		return &ConfigError{Field: "path.data", Reason: "must be set for a persistent queue"}
	}
	return nil
}
