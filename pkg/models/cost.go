package models

import "time"

// CostRecord captures the spend of a single request within a session.
// Records are produced by per-agent adapters and persisted by the store;
// the aggregator only ever reads them.
type CostRecord struct {
	// ID is the unique identifier for this record.
	ID string `json:"id"`
	// SessionID references the session this cost belongs to.
	SessionID string `json:"session_id"`
	// AgentID references the agent that incurred the cost.
	AgentID string `json:"agent_id"`
	// Provider is the model provider (e.g. "anthropic").
	Provider string `json:"provider"`
	// Model is the model identifier the request used.
	Model string `json:"model"`
	// InputTokens is the number of prompt tokens consumed.
	InputTokens int64 `json:"input_tokens"`
	// OutputTokens is the number of completion tokens produced.
	OutputTokens int64 `json:"output_tokens"`
	// InputCost is the prompt cost in dollars.
	InputCost float64 `json:"input_cost"`
	// OutputCost is the completion cost in dollars.
	OutputCost float64 `json:"output_cost"`
	// TotalCost is the total request cost in dollars.
	TotalCost float64 `json:"total_cost"`
	// RecordedAt is when the cost was observed.
	RecordedAt time.Time `json:"recorded_at"`
}
