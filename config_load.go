package beacon

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// LoadConfig reads a Config from a YAML file layered over DefaultConfig.
// Every key can be overridden from the environment with the BEACON_ prefix,
// e.g. BEACON_WORKERS=20 or BEACON_DEFAULTS_MAX_RETRIES=3. Durations are
// strings such as "30s". An empty path loads defaults and environment only.
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	SetConfigDefaults(v, "")

	v.SetEnvPrefix("BEACON")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config data: %w", err)
	}
	if err := cfg.Defaults.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// SetConfigDefaults registers DefaultConfig under prefix on v so that
// environment overrides apply to keys absent from the file.
func SetConfigDefaults(v *viper.Viper, prefix string) {
	if prefix != "" {
		prefix += "."
	}
	d := DefaultConfig()
	v.SetDefault(prefix+"workers", d.Workers)
	v.SetDefault(prefix+"queue_size", d.QueueSize)
	v.SetDefault(prefix+"request_timeout", d.RequestTimeout)
	v.SetDefault(prefix+"sweep_interval", d.SweepInterval)
	v.SetDefault(prefix+"sweep_batch_size", d.SweepBatchSize)
	v.SetDefault(prefix+"sweep_grace", d.SweepGrace)
	v.SetDefault(prefix+"shutdown_timeout", d.ShutdownTimeout)
	v.SetDefault(prefix+"max_response_body", d.MaxResponseBody)
	v.SetDefault(prefix+"user_agent", d.UserAgent)
	v.SetDefault(prefix+"max_retry_delay", d.MaxRetryDelay)
	v.SetDefault(prefix+"strict_catalog", d.StrictCatalog)
	v.SetDefault(prefix+"defaults.max_retries", d.Defaults.MaxRetries)
	v.SetDefault(prefix+"defaults.base_retry_delay", d.Defaults.BaseRetryDelay)
	v.SetDefault(prefix+"defaults.backoff_multiplier", d.Defaults.BackoffMultiplier)
	v.SetDefault(prefix+"defaults.auto_disable_threshold", d.Defaults.AutoDisableThreshold)
}
