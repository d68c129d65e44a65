package state

import (
	"database/sql"
	"fmt"

	"github.com/corralhq/corral/pkg/models"
)

// Agent CRUD operations

// CreateAgent creates a new agent record.
func (db *DB) CreateAgent(a *models.Agent) error {
	var connectedAt, lastSeenAt *string
	if a.ConnectedAt != nil {
		s := formatTime(*a.ConnectedAt)
		connectedAt = &s
	}
	if a.LastSeenAt != nil {
		s := formatTime(*a.LastSeenAt)
		lastSeenAt = &s
	}

	_, err := db.Exec(`
		INSERT INTO agents (id, name, type, status, version, connected_at, last_seen_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, a.ID, a.Name, string(a.Type), string(a.Status), a.Version, connectedAt, lastSeenAt)
	if err != nil {
		return fmt.Errorf("create agent: %w", err)
	}
	return nil
}

// GetAgent retrieves an agent by ID. Returns nil if not found.
func (db *DB) GetAgent(id string) (*models.Agent, error) {
	row := db.QueryRow(`
		SELECT id, name, type, status, version, connected_at, last_seen_at
		FROM agents WHERE id = ?
	`, id)

	a, err := scanAgent(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get agent: %w", err)
	}
	return a, nil
}

// UpdateAgent updates an agent record.
func (db *DB) UpdateAgent(a *models.Agent) error {
	var connectedAt, lastSeenAt *string
	if a.ConnectedAt != nil {
		s := formatTime(*a.ConnectedAt)
		connectedAt = &s
	}
	if a.LastSeenAt != nil {
		s := formatTime(*a.LastSeenAt)
		lastSeenAt = &s
	}

	_, err := db.Exec(`
		UPDATE agents SET name = ?, type = ?, status = ?, version = ?, connected_at = ?, last_seen_at = ?
		WHERE id = ?
	`, a.Name, string(a.Type), string(a.Status), a.Version, connectedAt, lastSeenAt, a.ID)
	if err != nil {
		return fmt.Errorf("update agent: %w", err)
	}
	return nil
}

// DeleteAgent deletes an agent by ID.
func (db *DB) DeleteAgent(id string) error {
	_, err := db.Exec("DELETE FROM agents WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete agent: %w", err)
	}
	return nil
}

// ListAgents lists all agents, optionally filtered by status.
func (db *DB) ListAgents(status *models.AgentStatus) ([]models.Agent, error) {
	var rows *sql.Rows
	var err error

	if status != nil {
		rows, err = db.Query(`
			SELECT id, name, type, status, version, connected_at, last_seen_at
			FROM agents WHERE status = ? ORDER BY name
		`, string(*status))
	} else {
		rows, err = db.Query(`
			SELECT id, name, type, status, version, connected_at, last_seen_at
			FROM agents ORDER BY name
		`)
	}
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var agents []models.Agent
	for rows.Next() {
		a, err := scanAgent(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		agents = append(agents, *a)
	}
	return agents, nil
}

// CountAgents returns the number of agents, optionally filtered by status.
func (db *DB) CountAgents(status *models.AgentStatus) (int, error) {
	var row *sql.Row
	if status != nil {
		row = db.QueryRow("SELECT COUNT(*) FROM agents WHERE status = ?", string(*status))
	} else {
		row = db.QueryRow("SELECT COUNT(*) FROM agents")
	}

	var count int
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("count agents: %w", err)
	}
	return count, nil
}

// scanAgent scans one agent row using the given scan function.
func scanAgent(scan func(...any) error) (*models.Agent, error) {
	var a models.Agent
	var version sql.NullString
	var connectedAt, lastSeenAt sql.NullString

	if err := scan(&a.ID, &a.Name, &a.Type, &a.Status, &version, &connectedAt, &lastSeenAt); err != nil {
		return nil, err
	}

	a.Version = version.String
	a.ConnectedAt = parseNullableTime(connectedAt)
	a.LastSeenAt = parseNullableTime(lastSeenAt)
	return &a, nil
}
