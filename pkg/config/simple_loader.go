// Package config provides configuration loading
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of environment overrides read by LoadViper.
const EnvPrefix = "DBPOOL"

// Load loads a PoolConfig from a YAML file on top of the defaults and
// validates it.
func Load(filePath string) (*PoolConfig, error) {
	data, err := os.ReadFile(filePath) //nolint:gosec // G304: File path is controlled by caller
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	expandEnv(&doc)

	cfg := NewPoolConfig("")
	if doc.Kind != 0 {
		if err := doc.Decode(cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save saves a configuration to a YAML file
func Save(filePath string, cfg *PoolConfig) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal YAML: %w", err)
	}

	if err := os.WriteFile(filePath, data, 0644); err != nil { //nolint:gosec
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// LoadViper loads a PoolConfig through viper. The file may be YAML, JSON or
// TOML; any key can be overridden by an environment variable such as
// DBPOOL_SIZE or DBPOOL_CONNECT_RETRIES. An empty path reads only defaults
// and the environment.
func LoadViper(v *viper.Viper, filePath string) (*PoolConfig, error) {
	if v == nil {
		v = viper.New()
	}

	defaults := NewPoolConfig("")
	setDefaults(v, defaults)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if filePath != "" {
		v.SetConfigFile(filePath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &PoolConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv can resolve it during Unmarshal.
func setDefaults(v *viper.Viper, d *PoolConfig) {
	v.SetDefault("name", d.Name)
	v.SetDefault("size", d.Size)
	v.SetDefault("max_overflow", d.MaxOverflow)
	v.SetDefault("timeout", d.Timeout)
	v.SetDefault("recycle", d.Recycle)
	v.SetDefault("pre_ping", d.PrePing)
	v.SetDefault("use_fifo", d.UseFIFO)
	v.SetDefault("use_lifo", d.UseLIFO)
	v.SetDefault("reset_on_return", d.ResetOnReturn)
	v.SetDefault("reset_timeout", d.ResetTimeout)
	v.SetDefault("checkout_attempts", d.CheckoutAttempts)
	v.SetDefault("invalidate_pool_on_disconnect", d.InvalidatePoolOnDisconnect)

	v.SetDefault("connect.retries", d.Connect.Retries)
	v.SetDefault("connect.retry_initial_interval", d.Connect.RetryInitialInterval)
	v.SetDefault("connect.retry_max_interval", d.Connect.RetryMaxInterval)
	v.SetDefault("connect.rate_limit_per_sec", d.Connect.RateLimitPerSec)
	v.SetDefault("connect.rate_burst", d.Connect.RateBurst)
	v.SetDefault("connect.breaker_failure_threshold", d.Connect.BreakerFailureThreshold)
	v.SetDefault("connect.breaker_success_threshold", d.Connect.BreakerSuccessThreshold)
	v.SetDefault("connect.breaker_timeout", d.Connect.BreakerTimeout)

	v.SetDefault("driver.name", d.Driver.Name)
	v.SetDefault("driver.dsn", d.Driver.DSN)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.encoding", d.Logging.Encoding)
	v.SetDefault("logging.development", d.Logging.Development)

	v.SetDefault("observability.enable_metrics", d.Observability.EnableMetrics)
	v.SetDefault("observability.metrics_addr", d.Observability.MetricsAddr)
	v.SetDefault("observability.enable_tracing", d.Observability.EnableTracing)
	v.SetDefault("observability.tracing_sample_rate", d.Observability.TracingSampleRate)
}

// expandEnv substitutes ${VAR_NAME} in every scalar of the parsed document,
// so values such as DSNs with colons need no YAML quoting.
func expandEnv(n *yaml.Node) {
	if n.Kind == yaml.ScalarNode && strings.Contains(n.Value, "${") {
		n.Value = substituteEnvVars(n.Value)
		if n.Style == 0 {
			// let the decoder resolve ints, durations and bools again
			n.Tag = ""
		}
	}
	for _, c := range n.Content {
		expandEnv(c)
	}
}

// substituteEnvVars replaces ${VAR_NAME} with environment variable values.
// Substituted text is not scanned again.
func substituteEnvVars(content string) string {
	var b strings.Builder
	for {
		start := strings.Index(content, "${")
		if start == -1 {
			break
		}
		end := strings.IndexByte(content[start:], '}')
		if end == -1 {
			break
		}
		end += start

		b.WriteString(content[:start])
		b.WriteString(os.Getenv(content[start+2 : end]))
		content = content[end+1:]
	}
	b.WriteString(content)
	return b.String()
}
