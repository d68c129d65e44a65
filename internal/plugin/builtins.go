package plugin

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/corralhq/corral/internal/cost"
	"github.com/corralhq/corral/internal/hooks"
	"github.com/corralhq/corral/pkg/faults"
	"github.com/corralhq/corral/pkg/models"
)

// Authorizer checks a plugin's declared permissions before a host-side
// facility acts on its behalf.
type Authorizer interface {
	Authorize(pluginID, function string, perm models.Permission) error
}

// Built-in plugins ship with the binary but follow the exact same manifest
// and permission contract as external ones.

// CostThresholdNotifier watches recorded costs and emits a threshold event
// when the daily spend crosses its configured limit.
type CostThresholdNotifier struct {
	agg        *cost.Aggregator
	bus        *hooks.Bus
	auth       Authorizer
	dailyLimit float64
}

// CostThresholdPluginID identifies the built-in cost threshold notifier.
const CostThresholdPluginID = "corral.cost-threshold"

// NewCostThresholdNotifier creates the notifier with a daily USD limit.
func NewCostThresholdNotifier(agg *cost.Aggregator, bus *hooks.Bus, auth Authorizer, dailyLimit float64) *CostThresholdNotifier {
	return &CostThresholdNotifier{agg: agg, bus: bus, auth: auth, dailyLimit: dailyLimit}
}

// Manifest implements Builtin.
func (n *CostThresholdNotifier) Manifest() *models.PluginManifest {
	return &models.PluginManifest{
		ID:       CostThresholdPluginID,
		Name:     "Cost Threshold Notifier",
		Version:  "1.0.0",
		Language: "builtin",
		Permissions: []models.Permission{
			models.PermissionCostRead,
			models.PermissionHookEmit,
		},
		Functions: []models.FunctionDecl{
			{
				Name:        "check_spend",
				Description: "Compare today's total spend against the daily limit.",
				Requires:    []models.Permission{models.PermissionCostRead, models.PermissionHookEmit},
			},
		},
		Hooks: []models.HookRegistration{
			{
				HandlerID: CostThresholdPluginID + ".on-cost",
				EventType: string(hooks.EventCostRecorded),
				Function:  "check_spend",
				Priority:  10,
			},
		},
	}
}

// Invoke implements Builtin.
func (n *CostThresholdNotifier) Invoke(ctx context.Context, function string, payload map[string]any) (map[string]any, error) {
	if function != "check_spend" {
		return nil, faults.New(faults.NotFound, "builtin %s has no function %q", CostThresholdPluginID, function)
	}
	if err := n.auth.Authorize(CostThresholdPluginID, function, models.PermissionCostRead); err != nil {
		return nil, err
	}

	dayStart := time.Now().UTC().Truncate(24 * time.Hour)
	summary, err := n.agg.Summarize(cost.Filter{Since: dayStart})
	if err != nil {
		return nil, fmt.Errorf("summarize daily spend: %w", err)
	}

	exceeded := n.dailyLimit > 0 && summary.TotalCost > n.dailyLimit
	if exceeded {
		if err := n.auth.Authorize(CostThresholdPluginID, function, models.PermissionHookEmit); err != nil {
			return nil, err
		}
		n.bus.Dispatch(ctx, hooks.NewThresholdExceeded("daily_cost", summary.TotalCost, n.dailyLimit))
	}

	return map[string]any{
		"total_cost":         summary.TotalCost,
		"daily_limit":        n.dailyLimit,
		"threshold_exceeded": exceeded,
	}, nil
}

// SessionLister is the slice of the storage layer the exporter reads.
type SessionLister interface {
	ListSessions(agentID string, status *models.SessionStatus) ([]models.Session, error)
}

// SessionExporter dumps session records to a JSON file on demand and when
// a session ends.
type SessionExporter struct {
	sessions  SessionLister
	auth      Authorizer
	exportDir string
}

// SessionExporterPluginID identifies the built-in session exporter.
const SessionExporterPluginID = "corral.session-exporter"

// NewSessionExporter creates the exporter writing into exportDir.
func NewSessionExporter(sessions SessionLister, auth Authorizer, exportDir string) *SessionExporter {
	return &SessionExporter{sessions: sessions, auth: auth, exportDir: exportDir}
}

// Manifest implements Builtin.
func (e *SessionExporter) Manifest() *models.PluginManifest {
	return &models.PluginManifest{
		ID:       SessionExporterPluginID,
		Name:     "Session Exporter",
		Version:  "1.0.0",
		Language: "builtin",
		Permissions: []models.Permission{
			models.PermissionCostRead,
			models.PermissionFilesystemWrite,
		},
		Functions: []models.FunctionDecl{
			{
				Name:        "export_sessions",
				Description: "Write session records to a JSON file.",
				Requires:    []models.Permission{models.PermissionCostRead, models.PermissionFilesystemWrite},
			},
		},
		Hooks: []models.HookRegistration{
			{
				HandlerID: SessionExporterPluginID + ".on-session-end",
				EventType: string(hooks.EventSessionEnded),
				Function:  "export_sessions",
				Priority:  0,
			},
		},
	}
}

// Invoke implements Builtin.
func (e *SessionExporter) Invoke(ctx context.Context, function string, payload map[string]any) (map[string]any, error) {
	if function != "export_sessions" {
		return nil, faults.New(faults.NotFound, "builtin %s has no function %q", SessionExporterPluginID, function)
	}
	if err := e.auth.Authorize(SessionExporterPluginID, function, models.PermissionCostRead); err != nil {
		return nil, err
	}
	if err := e.auth.Authorize(SessionExporterPluginID, function, models.PermissionFilesystemWrite); err != nil {
		return nil, err
	}

	agentID, _ := payload["agent_id"].(string)
	sessions, err := e.sessions.ListSessions(agentID, nil)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	raw, err := json.MarshalIndent(sessions, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal sessions: %w", err)
	}

	if err := os.MkdirAll(e.exportDir, 0o755); err != nil {
		return nil, fmt.Errorf("create export dir: %w", err)
	}
	path := filepath.Join(e.exportDir, fmt.Sprintf("sessions-%s.json", time.Now().UTC().Format("20060102-150405")))
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return nil, fmt.Errorf("write export: %w", err)
	}

	return map[string]any{
		"path":  path,
		"count": len(sessions),
	}, nil
}
