// Package config handles configuration loading and management for Corral.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for Corral.
type Config struct {
	Anthropic AnthropicConfig `mapstructure:"anthropic"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Plugins   PluginsConfig   `mapstructure:"plugins"`
	Hooks     HooksConfig     `mapstructure:"hooks"`
	Agents    AgentsConfig    `mapstructure:"agents"`
	TUI       TUIConfig       `mapstructure:"tui"`
	Storage   StorageConfig   `mapstructure:"storage"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	APIKey        string `mapstructure:"api_key"`
	UseAWSBedrock bool   `mapstructure:"use_aws_bedrock"`
	AWSRegion     string `mapstructure:"aws_region"`
	AWSProfile    string `mapstructure:"aws_profile"`
}

// SyncConfig holds model sync scheduler settings.
type SyncConfig struct {
	// Interval between automatic catalog sync runs.
	Interval time.Duration `mapstructure:"interval"`
	// ProviderTimeout bounds each provider fetch within a run.
	ProviderTimeout time.Duration `mapstructure:"provider_timeout"`
	// PriceDriftThreshold is the relative price change that fires a
	// threshold event (0.2 = 20%). Zero disables drift detection.
	PriceDriftThreshold float64 `mapstructure:"price_drift_threshold"`
	// EnabledProviders lists the providers to register at startup.
	EnabledProviders []string `mapstructure:"enabled_providers"`
	// PriceFile is the community price list path for the pricefile provider.
	PriceFile string `mapstructure:"price_file"`
}

// PluginsConfig holds plugin manager settings.
type PluginsConfig struct {
	// Dir is the directory watched for plugin installs.
	Dir string `mapstructure:"dir"`
	// InvokeTimeout bounds a plugin invocation when its manifest declares
	// no wall-clock limit.
	InvokeTimeout time.Duration `mapstructure:"invoke_timeout"`
	// DailyCostLimit is the USD spend that triggers the cost threshold
	// builtin. Zero disables it.
	DailyCostLimit float64 `mapstructure:"daily_cost_limit"`
	// ExportDir is where the session exporter builtin writes its files.
	ExportDir string `mapstructure:"export_dir"`
}

// HooksConfig holds hook bus settings.
type HooksConfig struct {
	// HandlerTimeout bounds each hook handler invocation.
	HandlerTimeout time.Duration `mapstructure:"handler_timeout"`
}

// AgentsConfig holds agent supervisor settings.
type AgentsConfig struct {
	// PollInterval is the health/session poll period.
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// TUIConfig holds dashboard display settings.
type TUIConfig struct {
	RefreshRate time.Duration `mapstructure:"refresh_rate"`
}

// StorageConfig holds storage settings.
type StorageConfig struct {
	// DBPath overrides the default XDG database location.
	DBPath string `mapstructure:"db_path"`
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (ANTHROPIC_API_KEY)
// 2. Project config (.corral.yaml in current directory or parent)
// 3. User config (~/.config/corral/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	userConfigDir := getUserConfigDir()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(userConfigDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	projectConfig := findProjectConfig()
	if projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			// Project config takes precedence over user config.
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	v.AutomaticEnv()
	v.BindEnv("anthropic.api_key", "ANTHROPIC_API_KEY")
	v.BindEnv("anthropic.aws_region", "AWS_REGION")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// Expand ${VAR} references
	cfg.Anthropic.APIKey = expandEnv(cfg.Anthropic.APIKey)
	cfg.Plugins.Dir = expandEnv(cfg.Plugins.Dir)
	cfg.Storage.DBPath = expandEnv(cfg.Storage.DBPath)

	return cfg, nil
}

// LoadFromPath loads configuration from a specific path (for testing).
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Anthropic.APIKey = expandEnv(cfg.Anthropic.APIKey)

	return cfg, nil
}

// Save writes the current configuration to the user config file.
func Save(cfg *Config) error {
	userConfigDir := getUserConfigDir()
	if err := os.MkdirAll(userConfigDir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	configPath := filepath.Join(userConfigDir, "config.yaml")

	v := viper.New()
	v.SetConfigFile(configPath)

	v.Set("anthropic.api_key", cfg.Anthropic.APIKey)
	v.Set("anthropic.use_aws_bedrock", cfg.Anthropic.UseAWSBedrock)
	v.Set("anthropic.aws_region", cfg.Anthropic.AWSRegion)
	v.Set("anthropic.aws_profile", cfg.Anthropic.AWSProfile)
	v.Set("sync.interval", cfg.Sync.Interval.String())
	v.Set("sync.provider_timeout", cfg.Sync.ProviderTimeout.String())
	v.Set("sync.price_drift_threshold", cfg.Sync.PriceDriftThreshold)
	v.Set("sync.enabled_providers", cfg.Sync.EnabledProviders)
	v.Set("sync.price_file", cfg.Sync.PriceFile)
	v.Set("plugins.dir", cfg.Plugins.Dir)
	v.Set("plugins.invoke_timeout", cfg.Plugins.InvokeTimeout.String())
	v.Set("plugins.daily_cost_limit", cfg.Plugins.DailyCostLimit)
	v.Set("plugins.export_dir", cfg.Plugins.ExportDir)
	v.Set("hooks.handler_timeout", cfg.Hooks.HandlerTimeout.String())
	v.Set("agents.poll_interval", cfg.Agents.PollInterval.String())
	v.Set("tui.refresh_rate", cfg.TUI.RefreshRate.String())
	v.Set("storage.db_path", cfg.Storage.DBPath)

	return v.WriteConfig()
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if it exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("anthropic.api_key", "")
	v.SetDefault("anthropic.use_aws_bedrock", false)

	v.SetDefault("sync.interval", "6h")
	v.SetDefault("sync.provider_timeout", "30s")
	v.SetDefault("sync.price_drift_threshold", 0.2)
	v.SetDefault("sync.enabled_providers", []string{"anthropic"})
	v.SetDefault("sync.price_file", "")

	v.SetDefault("plugins.dir", defaultPluginsDir())
	v.SetDefault("plugins.invoke_timeout", "60s")
	v.SetDefault("plugins.daily_cost_limit", 0.0)
	v.SetDefault("plugins.export_dir", defaultExportDir())

	v.SetDefault("hooks.handler_timeout", "30s")
	v.SetDefault("agents.poll_interval", "30s")
	v.SetDefault("tui.refresh_rate", "1s")
	v.SetDefault("storage.db_path", "")
}

// getUserConfigDir returns the XDG config directory for Corral.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "corral")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "corral")
	}
	return filepath.Join(home, ".config", "corral")
}

// defaultPluginsDir returns the default plugin install directory.
func defaultPluginsDir() string {
	return filepath.Join(getUserConfigDir(), "plugins")
}

// defaultExportDir returns the default session export directory.
func defaultExportDir() string {
	return filepath.Join(getUserConfigDir(), "exports")
}

// findProjectConfig searches for .corral.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ".corral.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

// expandEnv expands ${VAR} references in a string.
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Sync: SyncConfig{
			Interval:            6 * time.Hour,
			ProviderTimeout:     30 * time.Second,
			PriceDriftThreshold: 0.2,
			EnabledProviders:    []string{"anthropic"},
		},
		Plugins: PluginsConfig{
			Dir:           defaultPluginsDir(),
			InvokeTimeout: 60 * time.Second,
			ExportDir:     defaultExportDir(),
		},
		Hooks: HooksConfig{
			HandlerTimeout: 30 * time.Second,
		},
		Agents: AgentsConfig{
			PollInterval: 30 * time.Second,
		},
		TUI: TUIConfig{
			RefreshRate: time.Second,
		},
	}
}
