package state

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/corralhq/corral/pkg/models"
)

// Installed plugin persistence. The manifest is stored as JSON; runtime
// state stays in memory with the plugin manager.

// SavePlugin persists an installed plugin's manifest and enabled flag.
func (db *DB) SavePlugin(manifest *models.PluginManifest, enabled bool) error {
	raw, err := json.Marshal(manifest)
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}

	enabledInt := 0
	if enabled {
		enabledInt = 1
	}

	_, err = db.Exec(`
		INSERT INTO plugins (id, manifest, enabled, installed_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET manifest = excluded.manifest, enabled = excluded.enabled
	`, manifest.ID, string(raw), enabledInt, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("save plugin: %w", err)
	}
	return nil
}

// GetPlugin retrieves an installed plugin's manifest and enabled flag.
// Returns a nil manifest if the plugin is unknown.
func (db *DB) GetPlugin(id string) (*models.PluginManifest, bool, error) {
	row := db.QueryRow("SELECT manifest, enabled FROM plugins WHERE id = ?", id)

	var raw string
	var enabled int
	err := row.Scan(&raw, &enabled)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get plugin: %w", err)
	}

	var manifest models.PluginManifest
	if err := json.Unmarshal([]byte(raw), &manifest); err != nil {
		return nil, false, fmt.Errorf("unmarshal manifest: %w", err)
	}
	return &manifest, enabled != 0, nil
}

// SetPluginEnabled updates the persisted enabled flag.
func (db *DB) SetPluginEnabled(id string, enabled bool) error {
	enabledInt := 0
	if enabled {
		enabledInt = 1
	}
	_, err := db.Exec("UPDATE plugins SET enabled = ? WHERE id = ?", enabledInt, id)
	if err != nil {
		return fmt.Errorf("set plugin enabled: %w", err)
	}
	return nil
}

// DeletePlugin removes an installed plugin row.
func (db *DB) DeletePlugin(id string) error {
	_, err := db.Exec("DELETE FROM plugins WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete plugin: %w", err)
	}
	return nil
}

// ListPlugins returns every installed plugin manifest with its enabled flag.
func (db *DB) ListPlugins() ([]models.PluginManifest, map[string]bool, error) {
	rows, err := db.Query("SELECT manifest, enabled FROM plugins ORDER BY id")
	if err != nil {
		return nil, nil, fmt.Errorf("list plugins: %w", err)
	}
	defer rows.Close()

	var manifests []models.PluginManifest
	enabled := make(map[string]bool)
	for rows.Next() {
		var raw string
		var en int
		if err := rows.Scan(&raw, &en); err != nil {
			return nil, nil, fmt.Errorf("scan plugin: %w", err)
		}
		var m models.PluginManifest
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			return nil, nil, fmt.Errorf("unmarshal manifest: %w", err)
		}
		manifests = append(manifests, m)
		enabled[m.ID] = en != 0
	}
	return manifests, enabled, nil
}

// AccessViolation is one audited permission or resource-limit breach.
type AccessViolation struct {
	ID         string    `json:"id"`
	PluginID   string    `json:"plugin_id"`
	Function   string    `json:"function"`
	Violation  string    `json:"violation"`
	OccurredAt time.Time `json:"occurred_at"`
}

// RecordAccessViolation appends one audit entry.
func (db *DB) RecordAccessViolation(pluginID, function, violation string) error {
	_, err := db.Exec(`
		INSERT INTO audit_log (id, plugin_id, function, violation, occurred_at)
		VALUES (?, ?, ?, ?, ?)
	`, uuid.New().String(), pluginID, function, violation, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("record access violation: %w", err)
	}
	return nil
}

// ListAccessViolations returns audit entries for one plugin, newest first.
// An empty pluginID returns entries for all plugins.
func (db *DB) ListAccessViolations(pluginID string) ([]AccessViolation, error) {
	query := "SELECT id, plugin_id, function, violation, occurred_at FROM audit_log"
	var args []any
	if pluginID != "" {
		query += " WHERE plugin_id = ?"
		args = append(args, pluginID)
	}
	query += " ORDER BY occurred_at DESC"

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list access violations: %w", err)
	}
	defer rows.Close()

	var violations []AccessViolation
	for rows.Next() {
		var v AccessViolation
		var occurredAt string
		if err := rows.Scan(&v.ID, &v.PluginID, &v.Function, &v.Violation, &occurredAt); err != nil {
			return nil, fmt.Errorf("scan access violation: %w", err)
		}
		v.OccurredAt, _ = parseTime(occurredAt)
		violations = append(violations, v)
	}
	return violations, nil
}
