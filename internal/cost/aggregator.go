// Package cost computes read-side spend and session aggregates.
// The aggregator owns no mutable state; every summary is derived on demand
// from the storage collaborator.
package cost

import (
	"fmt"
	"sort"
	"time"

	"github.com/corralhq/corral/internal/state"
	"github.com/corralhq/corral/pkg/faults"
	"github.com/corralhq/corral/pkg/models"
)

// GroupBy selects the breakdown dimension of a summary.
type GroupBy string

const (
	// GroupByAgent breaks totals down per agent id.
	GroupByAgent GroupBy = "agent"
	// GroupByModel breaks totals down per model.
	GroupByModel GroupBy = "model"
	// GroupByDay breaks totals down per UTC calendar day.
	GroupByDay GroupBy = "day"
	// GroupByProvider breaks totals down per model provider.
	GroupByProvider GroupBy = "provider"
)

// Valid returns true if the group-by dimension is a known value.
func (g GroupBy) Valid() bool {
	switch g {
	case GroupByAgent, GroupByModel, GroupByDay, GroupByProvider:
		return true
	default:
		return false
	}
}

// Filter narrows which cost records a summary covers. Zero values match all.
type Filter struct {
	AgentID   string
	AgentType models.AgentType
	Model     string
	Since     time.Time
	Until     time.Time
	GroupBy   GroupBy
}

// Summary holds exact totals over the matching cost records plus an
// optional breakdown along the filter's GroupBy dimension.
type Summary struct {
	TotalCost       float64 `json:"total_cost"`
	TotalInputCost  float64 `json:"total_input_cost"`
	TotalOutputCost float64 `json:"total_output_cost"`
	InputTokens     int64   `json:"input_tokens"`
	OutputTokens    int64   `json:"output_tokens"`
	RecordCount     int     `json:"record_count"`
	// AverageCostPerRequest is TotalCost / RecordCount, exactly 0 when
	// RecordCount is 0.
	AverageCostPerRequest float64 `json:"average_cost_per_request"`
	// Breakdown maps group keys to their total cost. Nil unless the
	// filter names a GroupBy dimension.
	Breakdown map[string]float64 `json:"breakdown,omitempty"`
}

// DailySummary is one calendar day's totals.
type DailySummary struct {
	// Date is the UTC day in YYYY-MM-DD form.
	Date        string  `json:"date"`
	TotalCost   float64 `json:"total_cost"`
	RecordCount int     `json:"record_count"`
}

// SessionStats are aggregates derived from session lifecycle fields.
type SessionStats struct {
	TotalSessions  int `json:"total_sessions"`
	ActiveSessions int `json:"active_sessions"`
	// AverageDuration covers ended sessions only; active sessions
	// contribute no duration.
	AverageDuration time.Duration `json:"average_duration"`
}

// Store is the slice of the storage collaborator the aggregator reads.
type Store interface {
	ListCostRecords(filter state.CostRecordFilter) ([]models.CostRecord, error)
	ListSessions(agentID string, status *models.SessionStatus) ([]models.Session, error)
}

// Aggregator derives cost and session summaries from a Store.
type Aggregator struct {
	store Store
}

// NewAggregator creates an Aggregator reading from the given store.
func NewAggregator(store Store) *Aggregator {
	return &Aggregator{store: store}
}

// Summarize computes exact totals over the records matching the filter.
// Totals are the precise sum of the matching records' cost and token
// fields; nothing is double counted or silently dropped.
func (a *Aggregator) Summarize(filter Filter) (*Summary, error) {
	if filter.GroupBy != "" && !filter.GroupBy.Valid() {
		return nil, faults.New(faults.Validation, "unknown group_by %q", filter.GroupBy)
	}

	records, err := a.store.ListCostRecords(state.CostRecordFilter{
		AgentID:   filter.AgentID,
		AgentType: filter.AgentType,
		Model:     filter.Model,
		Since:     filter.Since,
		Until:     filter.Until,
	})
	if err != nil {
		return nil, fmt.Errorf("list cost records: %w", err)
	}

	summary := &Summary{}
	if filter.GroupBy != "" {
		summary.Breakdown = make(map[string]float64)
	}

	for _, r := range records {
		summary.TotalCost += r.TotalCost
		summary.TotalInputCost += r.InputCost
		summary.TotalOutputCost += r.OutputCost
		summary.InputTokens += r.InputTokens
		summary.OutputTokens += r.OutputTokens
		summary.RecordCount++

		if summary.Breakdown != nil {
			summary.Breakdown[groupKey(filter.GroupBy, &r)] += r.TotalCost
		}
	}

	if summary.RecordCount > 0 {
		summary.AverageCostPerRequest = summary.TotalCost / float64(summary.RecordCount)
	}

	return summary, nil
}

// DailyBreakdown returns per-day totals for the matching records, in
// chronological order.
func (a *Aggregator) DailyBreakdown(filter Filter) ([]DailySummary, error) {
	records, err := a.store.ListCostRecords(state.CostRecordFilter{
		AgentID:   filter.AgentID,
		AgentType: filter.AgentType,
		Model:     filter.Model,
		Since:     filter.Since,
		Until:     filter.Until,
	})
	if err != nil {
		return nil, fmt.Errorf("list cost records: %w", err)
	}

	byDay := make(map[string]*DailySummary)
	for _, r := range records {
		day := r.RecordedAt.UTC().Format("2006-01-02")
		entry, ok := byDay[day]
		if !ok {
			entry = &DailySummary{Date: day}
			byDay[day] = entry
		}
		entry.TotalCost += r.TotalCost
		entry.RecordCount++
	}

	days := make([]DailySummary, 0, len(byDay))
	for _, entry := range byDay {
		days = append(days, *entry)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Date < days[j].Date })
	return days, nil
}

// Sessions computes session-derived aggregates. A session without ended_at
// counts as active and contributes nothing to the average duration.
func (a *Aggregator) Sessions(agentID string) (*SessionStats, error) {
	sessions, err := a.store.ListSessions(agentID, nil)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	stats := &SessionStats{TotalSessions: len(sessions)}

	var endedCount int
	var totalDuration time.Duration
	for _, s := range sessions {
		if s.EndedAt == nil {
			stats.ActiveSessions++
			continue
		}
		endedCount++
		totalDuration += s.Duration()
	}

	if endedCount > 0 {
		stats.AverageDuration = totalDuration / time.Duration(endedCount)
	}
	return stats, nil
}

// groupKey maps one record onto its breakdown key.
func groupKey(groupBy GroupBy, r *models.CostRecord) string {
	switch groupBy {
	case GroupByAgent:
		return r.AgentID
	case GroupByModel:
		return r.Model
	case GroupByDay:
		return r.RecordedAt.UTC().Format("2006-01-02")
	case GroupByProvider:
		return r.Provider
	default:
		return ""
	}
}
