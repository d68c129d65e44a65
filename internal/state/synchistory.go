package state

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/corralhq/corral/pkg/models"
)

// Sync history operations. The table is append-only: one row per run.

// AppendSyncHistory records one completed scheduler run.
func (db *DB) AppendSyncHistory(entry *models.SyncHistoryEntry) error {
	results, err := json.Marshal(entry.ProviderResults)
	if err != nil {
		return fmt.Errorf("marshal provider results: %w", err)
	}

	_, err = db.Exec(`
		INSERT INTO sync_history (run_id, started_at, finished_at, provider_results, conflicts_resolved, error)
		VALUES (?, ?, ?, ?, ?, ?)
	`, entry.RunID, formatTime(entry.StartedAt), formatTime(entry.FinishedAt),
		string(results), entry.ConflictsResolved, entry.Error)
	if err != nil {
		return fmt.Errorf("append sync history: %w", err)
	}
	return nil
}

// ListSyncHistory returns the most recent runs, newest first.
func (db *DB) ListSyncHistory(limit int) ([]models.SyncHistoryEntry, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := db.Query(`
		SELECT run_id, started_at, finished_at, provider_results, conflicts_resolved, error
		FROM sync_history ORDER BY started_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list sync history: %w", err)
	}
	defer rows.Close()

	var entries []models.SyncHistoryEntry
	for rows.Next() {
		var e models.SyncHistoryEntry
		var startedAt, finishedAt, results string
		var errMsg sql.NullString

		if err := rows.Scan(&e.RunID, &startedAt, &finishedAt, &results, &e.ConflictsResolved, &errMsg); err != nil {
			return nil, fmt.Errorf("scan sync history: %w", err)
		}
		e.StartedAt, _ = parseTime(startedAt)
		e.FinishedAt, _ = parseTime(finishedAt)
		e.Error = errMsg.String
		if err := json.Unmarshal([]byte(results), &e.ProviderResults); err != nil {
			return nil, fmt.Errorf("unmarshal provider results: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// LastSyncRun returns the most recent run, or nil if none have happened.
func (db *DB) LastSyncRun() (*models.SyncHistoryEntry, error) {
	entries, err := db.ListSyncHistory(1)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}
	return &entries[0], nil
}
