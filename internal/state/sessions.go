package state

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/corralhq/corral/pkg/faults"
	"github.com/corralhq/corral/pkg/models"
)

// Session CRUD operations

// CreateSession creates a new session.
func (db *DB) CreateSession(s *models.Session) error {
	var endedAt *string
	if s.EndedAt != nil {
		v := formatTime(*s.EndedAt)
		endedAt = &v
	}

	_, err := db.Exec(`
		INSERT INTO sessions (id, agent_id, title, model, status, started_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, s.ID, s.AgentID, s.Title, s.Model, string(s.Status), formatTime(s.StartedAt), endedAt)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// GetSession retrieves a session by ID. Returns nil if not found.
func (db *DB) GetSession(id string) (*models.Session, error) {
	row := db.QueryRow(`
		SELECT id, agent_id, title, model, status, started_at, ended_at
		FROM sessions WHERE id = ?
	`, id)

	s, err := scanSession(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return s, nil
}

// EndSession transitions a session to a terminal status and sets ended_at.
// The transition must be a legal forward move; ended_at is set at most once.
func (db *DB) EndSession(id string, status models.SessionStatus, endedAt time.Time) error {
	existing, err := db.GetSession(id)
	if err != nil {
		return err
	}
	if existing == nil {
		return faults.New(faults.NotFound, "session %q not found", id)
	}
	if !existing.Status.CanTransitionTo(status) {
		return faults.New(faults.Validation, "session %q cannot transition %s -> %s", id, existing.Status, status)
	}

	_, err = db.Exec(`
		UPDATE sessions SET status = ?, ended_at = ? WHERE id = ? AND ended_at IS NULL
	`, string(status), formatTime(endedAt), id)
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	return nil
}

// DeleteSession deletes a session by ID.
func (db *DB) DeleteSession(id string) error {
	_, err := db.Exec("DELETE FROM sessions WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// ListSessions lists sessions, optionally filtered by agent and/or status.
func (db *DB) ListSessions(agentID string, status *models.SessionStatus) ([]models.Session, error) {
	query := `
		SELECT id, agent_id, title, model, status, started_at, ended_at
		FROM sessions WHERE 1=1`
	var args []any

	if agentID != "" {
		query += " AND agent_id = ?"
		args = append(args, agentID)
	}
	if status != nil {
		query += " AND status = ?"
		args = append(args, string(*status))
	}
	query += " ORDER BY started_at DESC"

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []models.Session
	for rows.Next() {
		s, err := scanSession(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, *s)
	}
	return sessions, nil
}

// CountSessions returns the number of sessions, optionally filtered by status.
func (db *DB) CountSessions(status *models.SessionStatus) (int, error) {
	var row *sql.Row
	if status != nil {
		row = db.QueryRow("SELECT COUNT(*) FROM sessions WHERE status = ?", string(*status))
	} else {
		row = db.QueryRow("SELECT COUNT(*) FROM sessions")
	}

	var count int
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("count sessions: %w", err)
	}
	return count, nil
}

// PurgeOldSessions deletes terminal sessions started before the cutoff.
// Returns the number of sessions deleted.
func (db *DB) PurgeOldSessions(olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)

	result, err := db.Exec(`
		DELETE FROM sessions WHERE started_at < ? AND status != ?
	`, formatTime(cutoff), string(models.SessionActive))
	if err != nil {
		return 0, fmt.Errorf("purge old sessions: %w", err)
	}

	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	return count, nil
}

// scanSession scans one session row using the given scan function.
func scanSession(scan func(...any) error) (*models.Session, error) {
	var s models.Session
	var title, model sql.NullString
	var startedAt string
	var endedAt sql.NullString

	if err := scan(&s.ID, &s.AgentID, &title, &model, &s.Status, &startedAt, &endedAt); err != nil {
		return nil, err
	}

	s.Title = title.String
	s.Model = model.String
	s.StartedAt, _ = parseTime(startedAt)
	s.EndedAt = parseNullableTime(endedAt)
	return &s, nil
}
