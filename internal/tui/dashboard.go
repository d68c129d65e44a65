// Package tui provides the live status dashboard for Corral.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/corralhq/corral/pkg/models"
)

// Snapshot is one refresh of everything the dashboard shows.
type Snapshot struct {
	// Agents is the supervised agent list.
	Agents []models.Agent
	// Plugins is the installed plugin runtime state, ordered by id.
	Plugins []models.PluginRuntimeState
	// LastSync is the most recent sync run, nil if none has happened.
	LastSync *models.SyncHistoryEntry
	// CatalogSize is the model catalog entry count.
	CatalogSize int
	// TodayCost is the UTC-day spend in dollars.
	TodayCost float64
	// ActiveSessions is the count of sessions still running.
	ActiveSessions int
}

// Source produces dashboard snapshots. The dashboard reads only through
// this interface; it never touches storage directly.
type Source interface {
	Snapshot() (*Snapshot, error)
}

// tickMsg drives the refresh loop.
type tickMsg time.Time

// snapshotMsg carries a fetched snapshot or the fetch error.
type snapshotMsg struct {
	snapshot *Snapshot
	err      error
}

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#4ECDC4"))

	sectionStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FFC857"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	okStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#96E6A1"))
)

// Dashboard is the bubbletea model for `corral status --watch`.
type Dashboard struct {
	source  Source
	refresh time.Duration

	spinner  spinner.Model
	snapshot *Snapshot
	err      error
	quitting bool
}

// NewDashboard creates a dashboard refreshing at the given rate.
func NewDashboard(source Source, refresh time.Duration) *Dashboard {
	if refresh <= 0 {
		refresh = time.Second
	}
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	return &Dashboard{source: source, refresh: refresh, spinner: sp}
}

// Init implements tea.Model.
func (d *Dashboard) Init() tea.Cmd {
	return tea.Batch(d.fetch, d.tick(), d.spinner.Tick)
}

// Update implements tea.Model.
func (d *Dashboard) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			d.quitting = true
			return d, tea.Quit
		case "r":
			return d, d.fetch
		}
	case tickMsg:
		return d, tea.Batch(d.fetch, d.tick())
	case snapshotMsg:
		if msg.err != nil {
			d.err = msg.err
		} else {
			d.snapshot = msg.snapshot
			d.err = nil
		}
		return d, nil
	case spinner.TickMsg:
		var cmd tea.Cmd
		d.spinner, cmd = d.spinner.Update(msg)
		return d, cmd
	}
	return d, nil
}

// View implements tea.Model.
func (d *Dashboard) View() string {
	if d.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("CORRAL"))
	b.WriteString(dimStyle.Render("  control plane  ") + d.spinner.View() + "\n\n")

	if d.err != nil {
		b.WriteString(errorStyle.Render(fmt.Sprintf("error: %v", d.err)) + "\n")
		return b.String()
	}
	if d.snapshot == nil {
		b.WriteString(dimStyle.Render("loading...") + "\n")
		return b.String()
	}

	s := d.snapshot

	b.WriteString(sectionStyle.Render("Agents") + "\n")
	if len(s.Agents) == 0 {
		b.WriteString(dimStyle.Render("  none connected") + "\n")
	}
	for _, a := range s.Agents {
		b.WriteString(fmt.Sprintf("  %-20s %-12s %s\n", a.Name, a.Type, renderAgentStatus(a.Status)))
	}
	b.WriteString("\n")

	b.WriteString(sectionStyle.Render("Plugins") + "\n")
	if len(s.Plugins) == 0 {
		b.WriteString(dimStyle.Render("  none installed") + "\n")
	}
	for _, p := range s.Plugins {
		line := fmt.Sprintf("  %-28s %-10s restarts:%d", p.PluginID, renderPluginStatus(p.Status), p.RestartCount)
		if !p.Enabled {
			line += dimStyle.Render("  (disabled)")
		}
		b.WriteString(line + "\n")
	}
	b.WriteString("\n")

	b.WriteString(sectionStyle.Render("Model Sync") + "\n")
	b.WriteString(fmt.Sprintf("  catalog: %d models\n", s.CatalogSize))
	if s.LastSync == nil {
		b.WriteString(dimStyle.Render("  no sync runs yet") + "\n")
	} else {
		b.WriteString(fmt.Sprintf("  last run: %s ago, %d conflicts resolved\n",
			formatAge(time.Since(s.LastSync.FinishedAt)), s.LastSync.ConflictsResolved))
		for _, r := range s.LastSync.ProviderResults {
			if r.Error != "" {
				b.WriteString("  " + errorStyle.Render(fmt.Sprintf("%s: %s", r.Provider, r.Error)) + "\n")
			} else {
				b.WriteString(fmt.Sprintf("  %s: %d models in %s\n", r.Provider, r.ModelCount, r.Duration.Round(time.Millisecond)))
			}
		}
	}
	b.WriteString("\n")

	b.WriteString(sectionStyle.Render("Costs") + "\n")
	b.WriteString(fmt.Sprintf("  today: $%.4f   active sessions: %d\n", s.TodayCost, s.ActiveSessions))
	b.WriteString("\n" + dimStyle.Render("q quit · r refresh") + "\n")
	return b.String()
}

// fetch loads one snapshot off the model goroutine.
func (d *Dashboard) fetch() tea.Msg {
	snapshot, err := d.source.Snapshot()
	return snapshotMsg{snapshot: snapshot, err: err}
}

// tick schedules the next refresh.
func (d *Dashboard) tick() tea.Cmd {
	return tea.Tick(d.refresh, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func renderAgentStatus(s models.AgentStatus) string {
	switch s {
	case models.AgentStatusConnected:
		return okStyle.Render(string(s))
	case models.AgentStatusUnhealthy:
		return errorStyle.Render(string(s))
	default:
		return dimStyle.Render(string(s))
	}
}

func renderPluginStatus(s models.PluginStatus) string {
	switch s {
	case models.PluginRunning:
		return okStyle.Render(string(s))
	case models.PluginError:
		return errorStyle.Render(string(s))
	default:
		return dimStyle.Render(string(s))
	}
}

// formatAge formats a duration in a human-readable way.
func formatAge(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		return fmt.Sprintf("%dh", int(d.Hours()))
	}
	return fmt.Sprintf("%dd", int(d.Hours())/24)
}
