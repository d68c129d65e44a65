package main

import (
	"fmt"
	"sort"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/corralhq/corral/internal/hooks"
)

var hooksCmd = &cobra.Command{
	Use:   "hooks",
	Short: "Inspect hook registrations",
}

var hooksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered handlers per event type",
	Long: `List every handler registered on the hook bus, grouped by event
type. Installed plugins are restored first so their manifest hook
registrations appear.`,
	RunE: runHooksList,
}

func init() {
	hooksCmd.AddCommand(hooksListCmd)
}

func runHooksList(cmd *cobra.Command, args []string) error {
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

	registrations := bus.ListAll()
	if len(registrations) == 0 {
		fmt.Println("No handlers registered.")
		return nil
	}

	eventTypes := make([]string, 0, len(registrations))
	for et := range registrations {
		eventTypes = append(eventTypes, string(et))
	}
	sort.Strings(eventTypes)

	bold := color.New(color.Bold)
	for _, et := range eventTypes {
		bold.Println(et)
		for _, handlerID := range registrations[hooks.EventType(et)] {
			fmt.Printf("  %s\n", handlerID)
		}
	}
	return nil
}
