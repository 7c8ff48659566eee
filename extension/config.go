package extension

import (
	"github.com/xraph/beacon"
)

// Config holds configuration for the Beacon extension.
// It is loaded from the "beacon" key of the application configuration.
type Config struct {
	// Config embeds the core engine configuration.
	beacon.Config `json:",inline" yaml:",inline" mapstructure:",squash"`

	// BasePath is the URL prefix for the management routes (default: "/webhooks").
	BasePath string `json:"base_path" yaml:"base_path" mapstructure:"base_path"`

	// DisableRoutes disables route registration with the router.
	DisableRoutes bool `json:"disable_routes" yaml:"disable_routes" mapstructure:"disable_routes"`

	// DisableMigrate disables the schema migration run by Init.
	DisableMigrate bool `json:"disable_migrate" yaml:"disable_migrate" mapstructure:"disable_migrate"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Config:   beacon.DefaultConfig(),
		BasePath: "/webhooks",
	}
}

// beaconOptions converts the embedded Config into beacon.Option values.
func (c Config) beaconOptions() []beacon.Option {
	return []beacon.Option{beacon.WithConfig(c.Config)}
}
