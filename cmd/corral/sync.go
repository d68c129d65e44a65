package main

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/corralhq/corral/internal/config"
	"github.com/corralhq/corral/internal/hooks"
	"github.com/corralhq/corral/pkg/models"
)

var (
	syncNowProvider  string
	syncHistoryLimit int
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Manage the model price catalog",
}

var syncNowCmd = &cobra.Command{
	Use:   "now",
	Short: "Run a catalog sync immediately",
	RunE:  runSyncNow,
}

var syncStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the last sync run and catalog size",
	RunE:  runSyncStatus,
}

var syncHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "Show past sync runs, newest first",
	RunE:  runSyncHistory,
}

func init() {
	syncNowCmd.Flags().StringVar(&syncNowProvider, "provider", "", "Sync a single provider instead of all")
	syncHistoryCmd.Flags().IntVar(&syncHistoryLimit, "limit", 10, "Maximum runs to show")

	syncCmd.AddCommand(syncNowCmd)
	syncCmd.AddCommand(syncStatusCmd)
	syncCmd.AddCommand(syncHistoryCmd)
}

func runSyncNow(cmd *cobra.Command, args []string) error {
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
	scheduler, err := newScheduler(cfg, db, bus)
	if err != nil {
		return err
	}

	var entry *models.SyncHistoryEntry
	if syncNowProvider != "" {
		entry, err = scheduler.TriggerProviderSync(cmd.Context(), syncNowProvider)
	} else {
		entry, err = scheduler.TriggerSync(cmd.Context())
	}
	if err != nil {
		return err
	}

	displaySyncEntry(entry)
	return nil
}

func runSyncStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	count, err := db.CountModels()
	if err != nil {
		return err
	}
	fmt.Printf("Catalog: %d models\n", count)
	fmt.Printf("Providers: %v (every %s)\n", cfg.Sync.EnabledProviders, cfg.Sync.Interval)

	key, _ := config.GetAPIKey(cfg)
	fmt.Printf("Anthropic key: %s (%s)\n", config.MaskAPIKey(key), config.GetAPIKeySource(cfg))

	entry, err := db.LastSyncRun()
	if err != nil {
		return err
	}
	if entry == nil {
		fmt.Println("No sync runs yet. Run 'corral sync now' to fetch.")
		return nil
	}

	fmt.Printf("\nLast run (%s ago):\n", formatDuration(time.Since(entry.FinishedAt)))
	displaySyncEntry(entry)
	return nil
}

func runSyncHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	entries, err := db.ListSyncHistory(syncHistoryLimit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("No sync runs recorded.")
		return nil
	}

	for _, entry := range entries {
		var total int
		var failures int
		for _, r := range entry.ProviderResults {
			total += r.ModelCount
			if r.Error != "" {
				failures++
			}
		}
		status := color.GreenString("ok")
		if entry.Error != "" || failures > 0 {
			status = color.RedString("degraded")
		}
		fmt.Printf("%s  %s  %d models, %d conflicts, %d provider failures  %s\n",
			entry.StartedAt.Format("2006-01-02 15:04:05"), entry.RunID,
			total, entry.ConflictsResolved, failures, status)
	}
	return nil
}

func displaySyncEntry(entry *models.SyncHistoryEntry) {
	for _, r := range entry.ProviderResults {
		if r.Error != "" {
			fmt.Printf("  %s %s: %s\n", color.RedString("✗"), r.Provider, r.Error)
		} else {
			fmt.Printf("  %s %s: %d models in %s\n",
				color.GreenString("✓"), r.Provider, r.ModelCount, r.Duration.Round(time.Millisecond))
		}
	}
	fmt.Printf("  run %s: %d conflicts resolved\n", entry.RunID, entry.ConflictsResolved)
	if entry.Error != "" {
		fmt.Printf("  %s\n", color.RedString(entry.Error))
	}
}
