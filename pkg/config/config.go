// Package config provides the configuration structure for connection pools.
// PoolConfig is the single structure consumed by pool.New, the creator
// middleware and the poolctl CLI.
//
// The configuration is organized into logical sections:
//   - Core pool limits: size, overflow, timeout, recycle, ordering, reset policy
//   - Connect: retry, rate limiting and circuit breaking around the creator
//   - Driver: which backend the CLI connects to
//   - Logging and Observability
//
// Example usage:
//
//	cfg := config.NewPoolConfig("orders-db")
//	cfg.Size = 10
//	cfg.PrePing = true
//
//	if err := cfg.Validate(); err != nil {
//	    log.Fatal(err)
//	}
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ajitpratap0/dbpool/pkg/errors"
)

// Reset-on-return policies accepted by PoolConfig.ResetOnReturn.
const (
	ResetRollback = "rollback"
	ResetCommit   = "commit"
	ResetNone     = "none"
)

// Default pool limits.
const (
	DefaultSize             = 5
	DefaultMaxOverflow      = 10
	DefaultTimeout          = 30 * time.Second
	DefaultCheckoutAttempts = 3
	DefaultResetTimeout     = 5 * time.Second
)

// PoolConfig is the configuration of one connection pool.
type PoolConfig struct {
	// Name identifies the pool in logs and metrics
	Name string `yaml:"name" json:"name" mapstructure:"name"`
	// Size is the number of connections kept idle in the pool
	Size int `yaml:"size" json:"size" mapstructure:"size"`
	// MaxOverflow allows connections beyond Size under load; negative means unlimited
	MaxOverflow int `yaml:"max_overflow" json:"max_overflow" mapstructure:"max_overflow"`
	// Timeout bounds how long Acquire waits for capacity; zero fails immediately
	Timeout time.Duration `yaml:"timeout" json:"timeout" mapstructure:"timeout"`
	// Recycle is the maximum connection age; zero or negative disables it
	Recycle time.Duration `yaml:"recycle" json:"recycle" mapstructure:"recycle"`
	// PrePing pings idle connections before handing them out
	PrePing bool `yaml:"pre_ping" json:"pre_ping" mapstructure:"pre_ping"`
	// UseFIFO reuses the oldest idle connection first (default)
	UseFIFO bool `yaml:"use_fifo" json:"use_fifo" mapstructure:"use_fifo"`
	// UseLIFO reuses the most recently returned connection first
	UseLIFO bool `yaml:"use_lifo" json:"use_lifo" mapstructure:"use_lifo"`
	// ResetOnReturn is one of rollback, commit or none
	ResetOnReturn string `yaml:"reset_on_return" json:"reset_on_return" mapstructure:"reset_on_return"`
	// ResetTimeout bounds the rollback/commit issued when a connection is returned
	ResetTimeout time.Duration `yaml:"reset_timeout" json:"reset_timeout" mapstructure:"reset_timeout"`
	// CheckoutAttempts bounds the discard-and-retry loop in Acquire
	CheckoutAttempts int `yaml:"checkout_attempts" json:"checkout_attempts" mapstructure:"checkout_attempts"`
	// InvalidatePoolOnDisconnect advances the pool generation whenever a
	// disconnect is detected, not only when the error asks for it
	InvalidatePoolOnDisconnect bool `yaml:"invalidate_pool_on_disconnect" json:"invalidate_pool_on_disconnect" mapstructure:"invalidate_pool_on_disconnect"`

	// Connect configures the middleware wrapped around the creator
	Connect ConnectConfig `yaml:"connect" json:"connect" mapstructure:"connect"`

	// Driver selects the backend used by the CLI
	Driver DriverConfig `yaml:"driver" json:"driver" mapstructure:"driver"`

	// Logging configures the zap logger
	Logging LoggingConfig `yaml:"logging" json:"logging" mapstructure:"logging"`

	// Observability settings for metrics and tracing
	Observability ObservabilityConfig `yaml:"observability" json:"observability" mapstructure:"observability"`
}

// ConnectConfig controls how new physical connections are opened.
type ConnectConfig struct {
	// Retries is the number of additional connect attempts after a failure
	Retries int `yaml:"retries" json:"retries" mapstructure:"retries"`
	// RetryInitialInterval is the first backoff delay
	RetryInitialInterval time.Duration `yaml:"retry_initial_interval" json:"retry_initial_interval" mapstructure:"retry_initial_interval"`
	// RetryMaxInterval caps the backoff delay
	RetryMaxInterval time.Duration `yaml:"retry_max_interval" json:"retry_max_interval" mapstructure:"retry_max_interval"`
	// RateLimitPerSec limits new connections per second (0 = unlimited)
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec" json:"rate_limit_per_sec" mapstructure:"rate_limit_per_sec"`
	// RateBurst is the burst allowed by the rate limiter
	RateBurst int `yaml:"rate_burst" json:"rate_burst" mapstructure:"rate_burst"`
	// BreakerFailureThreshold opens the breaker after this many consecutive failures (0 = disabled)
	BreakerFailureThreshold int `yaml:"breaker_failure_threshold" json:"breaker_failure_threshold" mapstructure:"breaker_failure_threshold"`
	// BreakerSuccessThreshold closes a half-open breaker after this many successes
	BreakerSuccessThreshold int `yaml:"breaker_success_threshold" json:"breaker_success_threshold" mapstructure:"breaker_success_threshold"`
	// BreakerTimeout is how long the breaker stays open
	BreakerTimeout time.Duration `yaml:"breaker_timeout" json:"breaker_timeout" mapstructure:"breaker_timeout"`
}

// DriverConfig names a backend and its data source.
type DriverConfig struct {
	// Name is one of pgx, mysql, gomysql, sqlite, snowflake
	Name string `yaml:"name" json:"name" mapstructure:"name"`
	// DSN is the driver-specific data source name
	DSN string `yaml:"dsn" json:"dsn" mapstructure:"dsn"`
}

// LoggingConfig mirrors logger.Config.
type LoggingConfig struct {
	Level       string `yaml:"level" json:"level" mapstructure:"level"`
	Encoding    string `yaml:"encoding" json:"encoding" mapstructure:"encoding"`
	Development bool   `yaml:"development" json:"development" mapstructure:"development"`
}

// ObservabilityConfig contains monitoring settings.
type ObservabilityConfig struct {
	// EnableMetrics registers the Prometheus collector
	EnableMetrics bool `yaml:"enable_metrics" json:"enable_metrics" mapstructure:"enable_metrics"`
	// MetricsAddr is where the CLI serves /metrics
	MetricsAddr string `yaml:"metrics_addr" json:"metrics_addr" mapstructure:"metrics_addr"`
	// EnableTracing installs the OpenTelemetry tracer provider
	EnableTracing bool `yaml:"enable_tracing" json:"enable_tracing" mapstructure:"enable_tracing"`
	// TracingSampleRate controls trace sampling (0.0-1.0)
	TracingSampleRate float64 `yaml:"tracing_sample_rate" json:"tracing_sample_rate" mapstructure:"tracing_sample_rate"`
}

// NewPoolConfig creates a PoolConfig with production defaults: five pooled
// connections, ten overflow, a thirty second checkout timeout and rollback on
// return.
func NewPoolConfig(name string) *PoolConfig {
	return &PoolConfig{
		Name:             name,
		Size:             DefaultSize,
		MaxOverflow:      DefaultMaxOverflow,
		Timeout:          DefaultTimeout,
		Recycle:          -1,
		ResetOnReturn:    ResetRollback,
		ResetTimeout:     DefaultResetTimeout,
		CheckoutAttempts: DefaultCheckoutAttempts,
		Connect: ConnectConfig{
			Retries:                 0,
			RetryInitialInterval:    100 * time.Millisecond,
			RetryMaxInterval:        5 * time.Second,
			RateBurst:               1,
			BreakerSuccessThreshold: 1,
			BreakerTimeout:          30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:    "info",
			Encoding: "json",
		},
		Observability: ObservabilityConfig{
			EnableMetrics:     true,
			MetricsAddr:       ":9090",
			EnableTracing:     false,
			TracingSampleRate: 0.1,
		},
	}
}

// Validate checks limits and enumerations and reports every problem found.
func (c *PoolConfig) Validate() error {
	var problems []string

	if c.Size < 0 {
		problems = append(problems, fmt.Sprintf("size must be >= 0, got %d", c.Size))
	}
	if c.Timeout < 0 {
		problems = append(problems, fmt.Sprintf("timeout must be >= 0, got %s", c.Timeout))
	}
	if c.UseFIFO && c.UseLIFO {
		problems = append(problems, "use_fifo and use_lifo are mutually exclusive")
	}
	switch c.ResetOnReturn {
	case ResetRollback, ResetCommit, ResetNone, "":
	default:
		problems = append(problems, fmt.Sprintf("reset_on_return must be rollback, commit or none, got %q", c.ResetOnReturn))
	}
	if c.CheckoutAttempts < 1 {
		problems = append(problems, fmt.Sprintf("checkout_attempts must be >= 1, got %d", c.CheckoutAttempts))
	}
	if c.ResetTimeout < 0 {
		problems = append(problems, "reset_timeout cannot be negative")
	}
	if c.Size+c.MaxOverflow <= 0 && c.MaxOverflow >= 0 {
		problems = append(problems, "size + max_overflow must allow at least one connection")
	}
	if c.Connect.Retries < 0 {
		problems = append(problems, "connect.retries cannot be negative")
	}
	if c.Connect.RateLimitPerSec < 0 {
		problems = append(problems, "connect.rate_limit_per_sec cannot be negative")
	}
	if c.Connect.BreakerFailureThreshold < 0 {
		problems = append(problems, "connect.breaker_failure_threshold cannot be negative")
	}
	if c.Observability.TracingSampleRate < 0 || c.Observability.TracingSampleRate > 1 {
		problems = append(problems, "observability.tracing_sample_rate must be within [0, 1]")
	}

	if len(problems) > 0 {
		return errors.New(errors.ErrorTypeConfig, strings.Join(problems, "; ")).
			WithDetail("pool", c.Name)
	}
	return nil
}

// IsLIFO reports whether idle connections are reused most-recent first.
func (c *PoolConfig) IsLIFO() bool {
	return c.UseLIFO
}

// IsOverflowUnlimited reports whether MaxOverflow removes the checkout limit.
func (c *PoolConfig) IsOverflowUnlimited() bool {
	return c.MaxOverflow < 0
}

// Capacity returns size + overflow, or -1 when overflow is unlimited.
func (c *PoolConfig) Capacity() int {
	if c.IsOverflowUnlimited() {
		return -1
	}
	return c.Size + c.MaxOverflow
}

// IsRecycleEnabled returns true if connections expire by age
func (c *PoolConfig) IsRecycleEnabled() bool {
	return c.Recycle > 0
}

// IsRateLimited returns true if connect rate limiting is enabled
func (c *ConnectConfig) IsRateLimited() bool {
	return c.RateLimitPerSec > 0
}

// IsBreakerEnabled returns true if the connect circuit breaker is enabled
func (c *ConnectConfig) IsBreakerEnabled() bool {
	return c.BreakerFailureThreshold > 0
}
