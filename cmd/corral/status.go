package main

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/corralhq/corral/internal/cost"
	"github.com/corralhq/corral/internal/state"
	"github.com/corralhq/corral/internal/tui"
	"github.com/corralhq/corral/pkg/models"
)

var statusWatch bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show control plane state",
	Long: `Display the current state of the control plane.

Shows:
  - Supervised agents and their health
  - Installed plugins
  - Model catalog size and last sync run
  - Today's spend and active sessions

With --watch, opens a live dashboard that refreshes continuously.`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().BoolVarP(&statusWatch, "watch", "w", false, "Open a live refreshing dashboard")
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	source := &storeSource{db: db, agg: cost.NewAggregator(db)}

	if statusWatch {
		dashboard := tui.NewDashboard(source, cfg.TUI.RefreshRate)
		_, err := tea.NewProgram(dashboard, tea.WithAltScreen()).Run()
		return err
	}

	snapshot, err := source.Snapshot()
	if err != nil {
		return err
	}
	displaySnapshot(snapshot)
	return nil
}

func displaySnapshot(s *tui.Snapshot) {
	bold := color.New(color.Bold)

	bold.Println("Agents")
	if len(s.Agents) == 0 {
		fmt.Println("  none connected")
	}
	for _, a := range s.Agents {
		fmt.Printf("  %-20s %-12s %s\n", a.Name, a.Type, agentStatusString(a.Status))
	}

	bold.Println("\nPlugins")
	if len(s.Plugins) == 0 {
		fmt.Println("  none installed")
	}
	for _, p := range s.Plugins {
		label := "enabled"
		if !p.Enabled {
			label = color.YellowString("disabled")
		}
		fmt.Printf("  %-28s %s\n", p.PluginID, label)
	}

	bold.Println("\nModel Catalog")
	fmt.Printf("  %d models\n", s.CatalogSize)
	if s.LastSync == nil {
		fmt.Println("  no sync runs yet. Run 'corral sync now' to fetch.")
	} else {
		fmt.Printf("  last sync: %s ago, %d conflicts resolved\n",
			formatDuration(time.Since(s.LastSync.FinishedAt)), s.LastSync.ConflictsResolved)
		for _, r := range s.LastSync.ProviderResults {
			if r.Error != "" {
				fmt.Printf("  %s: %s\n", r.Provider, color.RedString(r.Error))
			} else {
				fmt.Printf("  %s: %d models\n", r.Provider, r.ModelCount)
			}
		}
	}

	bold.Println("\nCosts")
	fmt.Printf("  today: $%.4f   active sessions: %d\n", s.TodayCost, s.ActiveSessions)
}

func agentStatusString(s models.AgentStatus) string {
	switch s {
	case models.AgentStatusConnected:
		return color.GreenString(string(s))
	case models.AgentStatusUnhealthy:
		return color.RedString(string(s))
	default:
		return string(s)
	}
}

// storeSource reads dashboard snapshots straight from the state database.
type storeSource struct {
	db  *state.DB
	agg *cost.Aggregator
}

// Snapshot implements tui.Source.
func (s *storeSource) Snapshot() (*tui.Snapshot, error) {
	agents, err := s.db.ListAgents(nil)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}

	manifests, enabled, err := s.db.ListPlugins()
	if err != nil {
		return nil, fmt.Errorf("list plugins: %w", err)
	}
	plugins := make([]models.PluginRuntimeState, 0, len(manifests))
	for _, m := range manifests {
		plugins = append(plugins, models.PluginRuntimeState{
			PluginID: m.ID,
			Status:   models.PluginStopped,
			Enabled:  enabled[m.ID],
		})
	}

	lastSync, err := s.db.LastSyncRun()
	if err != nil {
		return nil, fmt.Errorf("last sync run: %w", err)
	}

	catalogSize, err := s.db.CountModels()
	if err != nil {
		return nil, fmt.Errorf("count models: %w", err)
	}

	dayStart := time.Now().UTC().Truncate(24 * time.Hour)
	summary, err := s.agg.Summarize(cost.Filter{Since: dayStart})
	if err != nil {
		return nil, fmt.Errorf("summarize costs: %w", err)
	}

	active := models.SessionActive
	activeSessions, err := s.db.CountSessions(&active)
	if err != nil {
		return nil, fmt.Errorf("count sessions: %w", err)
	}

	return &tui.Snapshot{
		Agents:         agents,
		Plugins:        plugins,
		LastSync:       lastSync,
		CatalogSize:    catalogSize,
		TodayCost:      summary.TotalCost,
		ActiveSessions: activeSessions,
	}, nil
}
