package models

import "time"

// ModelInfo describes one model's pricing and capabilities as reported by a
// sync provider. The catalog is keyed by (Provider, ModelID).
type ModelInfo struct {
	// Provider is the model provider name (e.g. "anthropic").
	Provider string `json:"provider"`
	// ModelID is the provider-scoped model identifier.
	ModelID string `json:"model_id"`
	// DisplayName is an optional human-readable model name.
	DisplayName string `json:"display_name,omitempty"`
	// InputPrice is the price per million input tokens in dollars.
	InputPrice float64 `json:"input_price"`
	// OutputPrice is the price per million output tokens in dollars.
	OutputPrice float64 `json:"output_price"`
	// ContextWindow is the maximum context size in tokens.
	ContextWindow int `json:"context_window"`
	// Capabilities lists model capability tags (e.g. "vision", "tools").
	Capabilities []string `json:"capabilities,omitempty"`
	// Official is true if the record came from the provider's own source.
	Official bool `json:"official"`
	// SourcePriority is the rank of the source that reported this record.
	// Lower values win ties during catalog merges.
	SourcePriority int `json:"source_priority"`
	// LastSynced is when the record was last fetched.
	LastSynced time.Time `json:"last_synced"`
}

// Key returns the catalog key for this record.
func (m *ModelInfo) Key() string {
	return m.Provider + "/" + m.ModelID
}

// ProviderResult records the outcome of one provider's fetch within a sync run.
type ProviderResult struct {
	// Provider is the provider name.
	Provider string `json:"provider"`
	// ModelCount is the number of records the provider contributed.
	ModelCount int `json:"model_count"`
	// Duration is how long the fetch took.
	Duration time.Duration `json:"duration"`
	// Error holds the fetch failure, empty on success.
	Error string `json:"error,omitempty"`
}

// SyncHistoryEntry is the append-only audit record of one scheduler run.
type SyncHistoryEntry struct {
	// RunID is the unique identifier for the run.
	RunID string `json:"run_id"`
	// StartedAt is when the run began.
	StartedAt time.Time `json:"started_at"`
	// FinishedAt is when the run completed.
	FinishedAt time.Time `json:"finished_at"`
	// ProviderResults holds the per-provider outcomes.
	ProviderResults []ProviderResult `json:"provider_results"`
	// ConflictsResolved counts catalog overrides applied by the merge policy.
	ConflictsResolved int `json:"conflicts_resolved"`
	// Error holds a run-level failure (e.g. storage write), empty on success.
	Error string `json:"error,omitempty"`
}
