package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/corralhq/corral/internal/config"
	"github.com/corralhq/corral/internal/hooks"
	"github.com/corralhq/corral/internal/modelsync"
	"github.com/corralhq/corral/internal/plugin"
	"github.com/corralhq/corral/internal/state"
)

var rootCmd = &cobra.Command{
	Use:   "corral",
	Short: "Control plane for AI coding agents",
	Long: `Corral supervises AI coding-agent CLIs, keeps a synced model price
catalog, tracks per-session spend, and runs sandboxed plugins wired
into a hook bus.

Core capabilities:
- Dispatches domain events to prioritized, isolated hook handlers
- Installs and sandboxes plugins with permission and rate-limit checks
- Syncs model pricing from official and community sources
- Aggregates request costs and session lifecycles per agent`,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(pluginsCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(costsCmd)
	rootCmd.AddCommand(hooksCmd)
}

// loadConfig loads the layered configuration.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// openStore opens the state database and brings the schema up to date.
func openStore(cfg *config.Config) (*state.DB, error) {
	path := cfg.Storage.DBPath
	if path == "" {
		path = state.GlobalDBPath()
	}

	db, err := state.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return db, nil
}

// newScheduler builds a sync scheduler with the configured providers registered.
func newScheduler(cfg *config.Config, db *state.DB, bus *hooks.Bus) (*modelsync.Scheduler, error) {
	scheduler := modelsync.NewScheduler(db, bus, modelsync.Options{
		Interval:            cfg.Sync.Interval,
		ProviderTimeout:     cfg.Sync.ProviderTimeout,
		PriceDriftThreshold: cfg.Sync.PriceDriftThreshold,
	})

	for _, name := range cfg.Sync.EnabledProviders {
		switch name {
		case "anthropic":
			acfg := modelsync.AnthropicConfig{
				UseAWSBedrock: cfg.Anthropic.UseAWSBedrock,
				AWSRegion:     cfg.Anthropic.AWSRegion,
				AWSProfile:    cfg.Anthropic.AWSProfile,
			}
			if !acfg.UseAWSBedrock {
				key, err := config.GetAPIKey(cfg)
				if err != nil {
					return nil, fmt.Errorf("anthropic provider: %w", err)
				}
				if err := config.ValidateAPIKey(key); err != nil {
					return nil, fmt.Errorf("anthropic provider: %w", err)
				}
				acfg.APIKey = key
			}
			provider, err := modelsync.NewAnthropicProvider(acfg)
			if err != nil {
				return nil, fmt.Errorf("anthropic provider: %w", err)
			}
			if err := scheduler.RegisterProvider(provider); err != nil {
				return nil, err
			}
		case "community":
			if cfg.Sync.PriceFile == "" {
				return nil, fmt.Errorf("provider %q requires sync.price_file to be set", name)
			}
			if err := scheduler.RegisterProvider(modelsync.NewPriceFileProvider("community", cfg.Sync.PriceFile, 1)); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("unknown sync provider %q", name)
		}
	}

	return scheduler, nil
}

// newPluginManager builds a plugin manager and restores the installed plugins.
func newPluginManager(cmd *cobra.Command, cfg *config.Config, db *state.DB, bus *hooks.Bus) (*plugin.Manager, error) {
	manager := plugin.NewManager(db, bus, cfg.Plugins.Dir, cfg.Plugins.InvokeTimeout)
	if err := manager.Restore(cmd.Context()); err != nil {
		return nil, fmt.Errorf("restore plugins: %w", err)
	}
	return manager, nil
}

// formatDuration renders a duration for display, rounded to the second.
func formatDuration(d time.Duration) string {
	return d.Round(time.Second).String()
}
