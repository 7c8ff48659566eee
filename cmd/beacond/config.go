package main

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/viper"

	"github.com/xraph/beacon"
)

// Config is the daemon configuration. The engine settings live under the
// "beacon" key and accept everything beacon.LoadConfig does.
type Config struct {
	Addr        string `mapstructure:"addr"`
	APIPrefix   string `mapstructure:"api_prefix"`
	MetricsPath string `mapstructure:"metrics_path"`
	LogLevel    string `mapstructure:"log_level"`
	CatalogFile string `mapstructure:"catalog_file"`

	Store StoreConfig `mapstructure:"store"`

	Beacon beacon.Config `mapstructure:"beacon"`
}

// StoreConfig selects and configures the persistence backend.
type StoreConfig struct {
	// Driver is one of memory, redis, postgres or sqlite.
	Driver string `mapstructure:"driver"`

	// DSN is a redis:// URL, a PostgreSQL connection string or a SQLite
	// file name.
	DSN string `mapstructure:"dsn"`

	Migrate bool `mapstructure:"migrate"`
}

// LoadConfig reads the daemon configuration from path (optional) with
// BEACOND_* environment overrides, e.g. BEACOND_STORE_DRIVER=redis or
// BEACOND_BEACON_WORKERS=20.
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.SetDefault("addr", ":8080")
	v.SetDefault("api_prefix", "/api")
	v.SetDefault("metrics_path", "/metrics")
	v.SetDefault("log_level", "info")
	v.SetDefault("catalog_file", "")
	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.migrate", true)
	beacon.SetConfigDefaults(v, "beacon")

	v.SetEnvPrefix("BEACOND")
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
	if err := cfg.Beacon.Defaults.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// level maps the configured log level onto slog.
func (c Config) level() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}
