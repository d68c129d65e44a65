package state

import (
	"fmt"
	"time"

	"github.com/corralhq/corral/pkg/faults"
	"github.com/corralhq/corral/pkg/models"
)

// CostRecordFilter narrows cost record queries. Zero values are ignored.
type CostRecordFilter struct {
	AgentID   string
	AgentType models.AgentType
	Model     string
	Since     time.Time
	Until     time.Time
}

// CreateCostRecord persists a cost record. The referenced session and agent
// must exist; this is validated so the aggregator never sees orphans.
func (db *DB) CreateCostRecord(r *models.CostRecord) error {
	session, err := db.GetSession(r.SessionID)
	if err != nil {
		return err
	}
	if session == nil {
		return faults.New(faults.Validation, "cost record references unknown session %q", r.SessionID)
	}
	agent, err := db.GetAgent(r.AgentID)
	if err != nil {
		return err
	}
	if agent == nil {
		return faults.New(faults.Validation, "cost record references unknown agent %q", r.AgentID)
	}

	_, err = db.Exec(`
		INSERT INTO cost_records (id, session_id, agent_id, provider, model, input_tokens, output_tokens, input_cost, output_cost, total_cost, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.SessionID, r.AgentID, r.Provider, r.Model, r.InputTokens, r.OutputTokens,
		r.InputCost, r.OutputCost, r.TotalCost, formatTime(r.RecordedAt))
	if err != nil {
		return fmt.Errorf("create cost record: %w", err)
	}
	return nil
}

// ListCostRecords lists cost records matching the filter, oldest first.
func (db *DB) ListCostRecords(filter CostRecordFilter) ([]models.CostRecord, error) {
	query := `
		SELECT c.id, c.session_id, c.agent_id, c.provider, c.model, c.input_tokens, c.output_tokens, c.input_cost, c.output_cost, c.total_cost, c.recorded_at
		FROM cost_records c`
	var args []any

	if filter.AgentType != "" {
		query += " JOIN agents a ON a.id = c.agent_id"
	}
	query += " WHERE 1=1"

	if filter.AgentID != "" {
		query += " AND c.agent_id = ?"
		args = append(args, filter.AgentID)
	}
	if filter.AgentType != "" {
		query += " AND a.type = ?"
		args = append(args, string(filter.AgentType))
	}
	if filter.Model != "" {
		query += " AND c.model = ?"
		args = append(args, filter.Model)
	}
	if !filter.Since.IsZero() {
		query += " AND c.recorded_at >= ?"
		args = append(args, formatTime(filter.Since))
	}
	if !filter.Until.IsZero() {
		query += " AND c.recorded_at < ?"
		args = append(args, formatTime(filter.Until))
	}
	query += " ORDER BY c.recorded_at"

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list cost records: %w", err)
	}
	defer rows.Close()

	var records []models.CostRecord
	for rows.Next() {
		var r models.CostRecord
		var recordedAt string
		if err := rows.Scan(&r.ID, &r.SessionID, &r.AgentID, &r.Provider, &r.Model,
			&r.InputTokens, &r.OutputTokens, &r.InputCost, &r.OutputCost, &r.TotalCost, &recordedAt); err != nil {
			return nil, fmt.Errorf("scan cost record: %w", err)
		}
		r.RecordedAt, _ = parseTime(recordedAt)
		records = append(records, r)
	}
	return records, nil
}

// CountCostRecords returns the number of records matching the filter.
func (db *DB) CountCostRecords(filter CostRecordFilter) (int, error) {
	records, err := db.ListCostRecords(filter)
	if err != nil {
		return 0, err
	}
	return len(records), nil
}
