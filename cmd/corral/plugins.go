package main

import (
	"fmt"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/corralhq/corral/internal/hooks"
	"github.com/corralhq/corral/internal/plugin"
)

var pluginsInstallOverwrite bool

var pluginsCmd = &cobra.Command{
	Use:   "plugins",
	Short: "Manage installed plugins",
}

var pluginsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List installed plugins",
	RunE:  runPluginsList,
}

var pluginsInstallCmd = &cobra.Command{
	Use:   "install <dir>",
	Short: "Install a plugin from a directory containing manifest.yaml",
	Args:  cobra.ExactArgs(1),
	RunE:  runPluginsInstall,
}

var pluginsUninstallCmd = &cobra.Command{
	Use:   "uninstall <id>",
	Short: "Uninstall a plugin",
	Args:  cobra.ExactArgs(1),
	RunE:  runPluginsUninstall,
}

var pluginsEnableCmd = &cobra.Command{
	Use:   "enable <id>",
	Short: "Enable a plugin's hook handlers",
	Args:  cobra.ExactArgs(1),
	RunE:  runPluginsSetEnabled,
}

var pluginsDisableCmd = &cobra.Command{
	Use:   "disable <id>",
	Short: "Disable a plugin's hook handlers without uninstalling",
	Args:  cobra.ExactArgs(1),
	RunE:  runPluginsSetEnabled,
}

var pluginsViolationsCmd = &cobra.Command{
	Use:   "violations [id]",
	Short: "Show audited permission and rate-limit violations",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runPluginsViolations,
}

func init() {
	pluginsInstallCmd.Flags().BoolVar(&pluginsInstallOverwrite, "overwrite", false,
		"Replace the plugin if the id is already installed")

	pluginsCmd.AddCommand(pluginsListCmd)
	pluginsCmd.AddCommand(pluginsInstallCmd)
	pluginsCmd.AddCommand(pluginsUninstallCmd)
	pluginsCmd.AddCommand(pluginsEnableCmd)
	pluginsCmd.AddCommand(pluginsDisableCmd)
	pluginsCmd.AddCommand(pluginsViolationsCmd)
}

// withManager runs fn against a plugin manager restored from the store.
func withManager(cmd *cobra.Command, fn func(*plugin.Manager) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	bus := hooks.NewBus(cfg.Hooks.HandlerTimeout)
	manager, err := newPluginManager(cmd, cfg, db, bus)
	if err != nil {
		return err
	}
	defer manager.StopAll()

	return fn(manager)
}

func runPluginsList(cmd *cobra.Command, args []string) error {
	return withManager(cmd, func(manager *plugin.Manager) error {
		plugins := manager.List()
		if len(plugins) == 0 {
			fmt.Println("No plugins installed.")
			return nil
		}

		for _, p := range plugins {
			manifest, _, err := manager.Get(p.PluginID)
			if err != nil {
				return err
			}
			label := color.GreenString("enabled")
			if !p.Enabled {
				label = color.YellowString("disabled")
			}
			fmt.Printf("%-28s v%-8s %-10s %s\n", p.PluginID, manifest.Version, p.Status, label)
			if p.LastError != "" {
				fmt.Printf("  last error: %s\n", color.RedString(p.LastError))
			}
		}
		return nil
	})
}

func runPluginsInstall(cmd *cobra.Command, args []string) error {
	dir, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}

	return withManager(cmd, func(manager *plugin.Manager) error {
		manifest, err := manager.Install(cmd.Context(), dir, pluginsInstallOverwrite)
		if err != nil {
			return err
		}
		fmt.Printf("%s installed %s v%s\n", color.GreenString("✓"), manifest.ID, manifest.Version)
		return nil
	})
}

func runPluginsUninstall(cmd *cobra.Command, args []string) error {
	return withManager(cmd, func(manager *plugin.Manager) error {
		if err := manager.Uninstall(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("%s uninstalled %s\n", color.GreenString("✓"), args[0])
		return nil
	})
}

func runPluginsSetEnabled(cmd *cobra.Command, args []string) error {
	enable := cmd.Name() == "enable"
	return withManager(cmd, func(manager *plugin.Manager) error {
		var err error
		if enable {
			err = manager.Enable(args[0])
		} else {
			err = manager.Disable(args[0])
		}
		if err != nil {
			return err
		}
		fmt.Printf("%s %sd %s\n", color.GreenString("✓"), cmd.Name(), args[0])
		return nil
	})
}

func runPluginsViolations(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	pluginID := ""
	if len(args) > 0 {
		pluginID = args[0]
	}

	violations, err := db.ListAccessViolations(pluginID)
	if err != nil {
		return err
	}
	if len(violations) == 0 {
		fmt.Println("No violations recorded.")
		return nil
	}

	for _, v := range violations {
		fmt.Printf("%s  %-28s %-20s %s\n",
			v.OccurredAt.Format("2006-01-02 15:04:05"), v.PluginID, v.Function, color.RedString(v.Violation))
	}
	return nil
}
