package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/corralhq/corral/internal/agent"
	"github.com/corralhq/corral/internal/cost"
	"github.com/corralhq/corral/internal/hooks"
	"github.com/corralhq/corral/internal/plugin"
	"github.com/corralhq/corral/pkg/models"
)

var serveAgents []string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the control plane until interrupted",
	Long: `Run the long-lived control plane.

Starts:
  - The hook bus with all installed plugins restored
  - The plugin directory watcher (drop a plugin dir in to install it)
  - The model sync scheduler on its configured interval
  - The agent supervisor polling every supervised agent

Stops cleanly on SIGINT or SIGTERM.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringSliceVar(&serveAgents, "agents", []string{"claude-code"},
		"Agent CLIs to supervise (claude-code, codex, gemini, aider)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx := cmd.Context()
	bus := hooks.NewBus(cfg.Hooks.HandlerTimeout)
	agg := cost.NewAggregator(db)

	manager, err := newPluginManager(cmd, cfg, db, bus)
	if err != nil {
		return err
	}
	defer manager.StopAll()

	if cfg.Plugins.DailyCostLimit > 0 {
		notifier := plugin.NewCostThresholdNotifier(agg, bus, manager, cfg.Plugins.DailyCostLimit)
		if err := manager.RegisterBuiltin(ctx, notifier); err != nil {
			return fmt.Errorf("register cost threshold notifier: %w", err)
		}
	}
	exporter := plugin.NewSessionExporter(db, manager, cfg.Plugins.ExportDir)
	if err := manager.RegisterBuiltin(ctx, exporter); err != nil {
		return fmt.Errorf("register session exporter: %w", err)
	}

	watcher, err := plugin.NewWatcher(manager, cfg.Plugins.Dir)
	if err != nil {
		return fmt.Errorf("watch plugins dir: %w", err)
	}
	defer watcher.Close()

	scheduler, err := newScheduler(cfg, db, bus)
	if err != nil {
		return err
	}
	scheduler.Start(ctx)
	defer scheduler.Stop()

	supervisor := agent.NewSupervisor(agent.NewRegistry(), db, bus, cfg.Agents.PollInterval)
	for _, name := range serveAgents {
		agentType := models.AgentType(name)
		if !agentType.Valid() {
			return fmt.Errorf("unknown agent type %q", name)
		}
		adapter, err := agent.NewCLIAdapter(name, agentType)
		if err != nil {
			return err
		}
		// A missing CLI binary is not fatal; the agent just is not supervised.
		if err := supervisor.Connect(ctx, name, adapter); err != nil {
			log.Printf("[serve] agent %s not connected: %v", name, err)
		}
	}
	supervisor.Start(ctx)
	defer supervisor.Stop()

	fmt.Printf("%s control plane running (plugins: %s)\n", color.GreenString("✓"), cfg.Plugins.Dir)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		fmt.Printf("\nreceived %s, shutting down\n", sig)
	case <-ctx.Done():
	}
	return nil
}
