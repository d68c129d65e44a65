package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Sync.Interval != 6*time.Hour {
		t.Errorf("expected sync interval 6h, got %v", cfg.Sync.Interval)
	}

	if cfg.Sync.ProviderTimeout != 30*time.Second {
		t.Errorf("expected provider timeout 30s, got %v", cfg.Sync.ProviderTimeout)
	}

	if cfg.Sync.PriceDriftThreshold != 0.2 {
		t.Errorf("expected price drift threshold 0.2, got %v", cfg.Sync.PriceDriftThreshold)
	}

	if cfg.Plugins.InvokeTimeout != 60*time.Second {
		t.Errorf("expected invoke timeout 60s, got %v", cfg.Plugins.InvokeTimeout)
	}

	if cfg.Hooks.HandlerTimeout != 30*time.Second {
		t.Errorf("expected handler timeout 30s, got %v", cfg.Hooks.HandlerTimeout)
	}

	if cfg.Agents.PollInterval != 30*time.Second {
		t.Errorf("expected poll interval 30s, got %v", cfg.Agents.PollInterval)
	}

	if len(cfg.Sync.EnabledProviders) != 1 || cfg.Sync.EnabledProviders[0] != "anthropic" {
		t.Errorf("expected enabled providers [anthropic], got %v", cfg.Sync.EnabledProviders)
	}
}

func TestLoadFromPath(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
anthropic:
  api_key: test-key
  use_aws_bedrock: true
  aws_region: us-west-2
sync:
  interval: 12h
  provider_timeout: 10s
  price_drift_threshold: 0.5
  enabled_providers:
    - anthropic
    - community
  price_file: /etc/corral/prices.yaml
plugins:
  dir: /opt/corral/plugins
  invoke_timeout: 90s
  daily_cost_limit: 25.0
hooks:
  handler_timeout: 5s
agents:
  poll_interval: 1m
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := LoadFromPath(configPath)
	if err != nil {
		t.Fatalf("LoadFromPath failed: %v", err)
	}

	if cfg.Anthropic.APIKey != "test-key" {
		t.Errorf("expected api_key 'test-key', got %q", cfg.Anthropic.APIKey)
	}

	if !cfg.Anthropic.UseAWSBedrock || cfg.Anthropic.AWSRegion != "us-west-2" {
		t.Errorf("bedrock config = %+v", cfg.Anthropic)
	}

	if cfg.Sync.Interval != 12*time.Hour {
		t.Errorf("expected sync interval 12h, got %v", cfg.Sync.Interval)
	}

	if cfg.Sync.PriceDriftThreshold != 0.5 {
		t.Errorf("expected price drift threshold 0.5, got %v", cfg.Sync.PriceDriftThreshold)
	}

	if len(cfg.Sync.EnabledProviders) != 2 {
		t.Errorf("expected 2 enabled providers, got %v", cfg.Sync.EnabledProviders)
	}

	if cfg.Plugins.Dir != "/opt/corral/plugins" {
		t.Errorf("expected plugins dir '/opt/corral/plugins', got %q", cfg.Plugins.Dir)
	}

	if cfg.Plugins.InvokeTimeout != 90*time.Second {
		t.Errorf("expected invoke timeout 90s, got %v", cfg.Plugins.InvokeTimeout)
	}

	if cfg.Plugins.DailyCostLimit != 25.0 {
		t.Errorf("expected daily cost limit 25.0, got %v", cfg.Plugins.DailyCostLimit)
	}

	if cfg.Hooks.HandlerTimeout != 5*time.Second {
		t.Errorf("expected handler timeout 5s, got %v", cfg.Hooks.HandlerTimeout)
	}

	if cfg.Agents.PollInterval != time.Minute {
		t.Errorf("expected poll interval 1m, got %v", cfg.Agents.PollInterval)
	}
}

func TestLoadFromPath_DefaultsFillGaps(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	if err := os.WriteFile(configPath, []byte("anthropic:\n  api_key: only-key\n"), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := LoadFromPath(configPath)
	if err != nil {
		t.Fatalf("LoadFromPath failed: %v", err)
	}

	if cfg.Sync.Interval != 6*time.Hour {
		t.Errorf("expected default sync interval 6h, got %v", cfg.Sync.Interval)
	}

	if cfg.Plugins.InvokeTimeout != 60*time.Second {
		t.Errorf("expected default invoke timeout 60s, got %v", cfg.Plugins.InvokeTimeout)
	}
}

func TestExpandEnv(t *testing.T) {
	os.Setenv("TEST_VAR", "expanded-value")
	defer os.Unsetenv("TEST_VAR")

	result := expandEnv("${TEST_VAR}")
	if result != "expanded-value" {
		t.Errorf("expected 'expanded-value', got %q", result)
	}

	result = expandEnv("prefix-${TEST_VAR}-suffix")
	if result != "prefix-expanded-value-suffix" {
		t.Errorf("expected 'prefix-expanded-value-suffix', got %q", result)
	}
}

func TestGetUserConfigDir(t *testing.T) {
	os.Setenv("XDG_CONFIG_HOME", "/custom/config")
	defer os.Unsetenv("XDG_CONFIG_HOME")

	dir := getUserConfigDir()
	expected := "/custom/config/corral"
	if dir != expected {
		t.Errorf("expected %q, got %q", expected, dir)
	}
}
