package beacon_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/xraph/beacon"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := beacon.LoadConfig("")
	if err != nil {
		t.Fatal(err)
	}
	want := beacon.DefaultConfig()
	if cfg.Workers != want.Workers || cfg.QueueSize != want.QueueSize || cfg.Defaults != want.Defaults {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	doc := `
workers: 4
request_timeout: 5s
sweep_interval: 1m
strict_catalog: true
defaults:
  max_retries: 3
  base_retry_delay: 30s
`
	path := filepath.Join(t.TempDir(), "beacon.yaml")
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("BEACON_WORKERS", "12")
	t.Setenv("BEACON_DEFAULTS_AUTO_DISABLE_THRESHOLD", "7")

	cfg, err := beacon.LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Workers != 12 {
		t.Errorf("env should override file: workers = %d", cfg.Workers)
	}
	if cfg.RequestTimeout != 5*time.Second || cfg.SweepInterval != time.Minute || !cfg.StrictCatalog {
		t.Errorf("file values not applied: %+v", cfg)
	}
	if cfg.Defaults.MaxRetries != 3 || cfg.Defaults.BaseRetryDelay != 30*time.Second {
		t.Errorf("policy not applied: %+v", cfg.Defaults)
	}
	if cfg.Defaults.BackoffMultiplier != 2 || cfg.Defaults.AutoDisableThreshold != 7 {
		t.Errorf("policy defaults or env lost: %+v", cfg.Defaults)
	}
	if cfg.QueueSize != beacon.DefaultConfig().QueueSize {
		t.Errorf("unset key lost its default: %d", cfg.QueueSize)
	}
}

func TestLoadConfigRejectsInvalidPolicy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "beacon.yaml")
	if err := os.WriteFile(path, []byte("defaults:\n  backoff_multiplier: 0.5\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := beacon.LoadConfig(path); err == nil {
		t.Fatal("expected policy validation error")
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := beacon.LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected read error")
	}
}
