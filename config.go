package beacon

import (
	"time"

	"github.com/xraph/beacon/delivery"
	"github.com/xraph/beacon/subscription"
)

// Config holds the configuration for a Beacon instance.
type Config struct {
	// Workers is the number of delivery worker goroutines.
	Workers int `mapstructure:"workers" yaml:"workers"`

	// QueueSize bounds the number of attempts waiting for a worker.
	QueueSize int `mapstructure:"queue_size" yaml:"queue_size"`

	// RequestTimeout is the HTTP timeout per delivery attempt.
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`

	// SweepInterval is how often the ledger is scanned for due attempts
	// that are not in the queue.
	SweepInterval time.Duration `mapstructure:"sweep_interval" yaml:"sweep_interval"`

	// SweepBatchSize is the maximum number of attempts resubmitted per sweep.
	SweepBatchSize int `mapstructure:"sweep_batch_size" yaml:"sweep_batch_size"`

	// SweepGrace is how long an attempt must be overdue before the sweep
	// resubmits it.
	SweepGrace time.Duration `mapstructure:"sweep_grace" yaml:"sweep_grace"`

	// ShutdownTimeout is the maximum time to wait for in-flight deliveries on shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`

	// MaxResponseBody caps the stored response body of failed attempts.
	MaxResponseBody int `mapstructure:"max_response_body" yaml:"max_response_body"`

	UserAgent string `mapstructure:"user_agent" yaml:"user_agent"`

	// MaxRetryDelay caps computed backoff delays.
	MaxRetryDelay time.Duration `mapstructure:"max_retry_delay" yaml:"max_retry_delay"`

	// StrictCatalog rejects events whose type is not registered in the catalog.
	StrictCatalog bool `mapstructure:"strict_catalog" yaml:"strict_catalog"`

	// Defaults is the retry and health policy applied to new subscriptions
	// that do not set their own.
	Defaults subscription.Policy `mapstructure:"defaults" yaml:"defaults"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Workers:         10,
		QueueSize:       1000,
		RequestTimeout:  delivery.DefaultTimeout,
		SweepInterval:   15 * time.Second,
		SweepBatchSize:  100,
		SweepGrace:      10 * time.Second,
		ShutdownTimeout: 30 * time.Second,
		MaxResponseBody: delivery.DefaultMaxResponseBody,
		UserAgent:       delivery.DefaultUserAgent,
		MaxRetryDelay:   delivery.DefaultMaxRetryDelay,
		Defaults:        subscription.DefaultPolicy(),
	}
}
