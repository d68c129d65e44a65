package state

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/corralhq/corral/pkg/models"
)

// Model catalog operations. The sync scheduler owns the catalog; everything
// else reads it through these queries.

// UpsertModels applies a batch of catalog records within one transaction so
// a sync run's merge lands atomically: either every record of the run is
// visible or none is.
func (db *DB) UpsertModels(records []models.ModelInfo) error {
	return db.Transaction(func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`
			INSERT INTO model_catalog (provider, model_id, display_name, input_price, output_price, context_window, capabilities, official, source_priority, last_synced)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (provider, model_id) DO UPDATE SET
				display_name = excluded.display_name,
				input_price = excluded.input_price,
				output_price = excluded.output_price,
				context_window = excluded.context_window,
				capabilities = excluded.capabilities,
				official = excluded.official,
				source_priority = excluded.source_priority,
				last_synced = excluded.last_synced
		`)
		if err != nil {
			return fmt.Errorf("prepare catalog upsert: %w", err)
		}
		defer stmt.Close()

		for _, m := range records {
			official := 0
			if m.Official {
				official = 1
			}
			_, err := stmt.Exec(m.Provider, m.ModelID, m.DisplayName, m.InputPrice, m.OutputPrice,
				m.ContextWindow, strings.Join(m.Capabilities, ","), official, m.SourcePriority, formatTime(m.LastSynced))
			if err != nil {
				return fmt.Errorf("upsert model %s: %w", m.Key(), err)
			}
		}
		return nil
	})
}

// GetModel retrieves one catalog entry. Returns nil if not found.
func (db *DB) GetModel(provider, modelID string) (*models.ModelInfo, error) {
	row := db.QueryRow(`
		SELECT provider, model_id, display_name, input_price, output_price, context_window, capabilities, official, source_priority, last_synced
		FROM model_catalog WHERE provider = ? AND model_id = ?
	`, provider, modelID)

	m, err := scanModel(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get model: %w", err)
	}
	return m, nil
}

// ListModels returns the whole catalog, ordered by provider then model id.
func (db *DB) ListModels() ([]models.ModelInfo, error) {
	rows, err := db.Query(`
		SELECT provider, model_id, display_name, input_price, output_price, context_window, capabilities, official, source_priority, last_synced
		FROM model_catalog ORDER BY provider, model_id
	`)
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	defer rows.Close()

	var catalog []models.ModelInfo
	for rows.Next() {
		m, err := scanModel(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan model: %w", err)
		}
		catalog = append(catalog, *m)
	}
	return catalog, nil
}

// CountModels returns the number of catalog entries.
func (db *DB) CountModels() (int, error) {
	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM model_catalog").Scan(&count); err != nil {
		return 0, fmt.Errorf("count models: %w", err)
	}
	return count, nil
}

// scanModel scans one catalog row using the given scan function.
func scanModel(scan func(...any) error) (*models.ModelInfo, error) {
	var m models.ModelInfo
	var displayName, capabilities sql.NullString
	var official int
	var lastSynced string

	if err := scan(&m.Provider, &m.ModelID, &displayName, &m.InputPrice, &m.OutputPrice,
		&m.ContextWindow, &capabilities, &official, &m.SourcePriority, &lastSynced); err != nil {
		return nil, err
	}

	m.DisplayName = displayName.String
	if capabilities.String != "" {
		m.Capabilities = strings.Split(capabilities.String, ",")
	}
	m.Official = official != 0
	m.LastSynced, _ = parseTime(lastSynced)
	return &m, nil
}
