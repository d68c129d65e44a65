// Package hooks provides the in-memory event/hook dispatch bus for the
// control plane. Components emit domain events through the bus; plugins and
// built-ins register prioritized handlers against event types.
package hooks

import "time"

// EventType identifies one kind of domain event.
type EventType string

const (
	// EventAgentConnected fires when an agent adapter attaches.
	EventAgentConnected EventType = "agent.connected"
	// EventAgentDisconnected fires when an agent adapter detaches.
	EventAgentDisconnected EventType = "agent.disconnected"
	// EventSessionStarted fires when a new agent session is observed.
	EventSessionStarted EventType = "session.started"
	// EventSessionEnded fires when a session reaches a terminal state.
	EventSessionEnded EventType = "session.ended"
	// EventCostRecorded fires when a cost record is persisted.
	EventCostRecorded EventType = "cost.recorded"
	// EventModelSynced fires per provider after a sync run completes.
	EventModelSynced EventType = "model.synced"
	// EventMetricsCollected fires when resource metrics are sampled.
	EventMetricsCollected EventType = "metrics.collected"
	// EventPluginInstalled fires when a plugin install succeeds.
	EventPluginInstalled EventType = "plugin.installed"
	// EventPluginUninstalled fires when a plugin is removed.
	EventPluginUninstalled EventType = "plugin.uninstalled"
	// EventThresholdExceeded fires when a configured threshold is breached.
	EventThresholdExceeded EventType = "threshold.exceeded"
	// EventHealthCheckFailed fires when an agent health check fails.
	EventHealthCheckFailed EventType = "health.check_failed"
)

// Event is one domain occurrence. The set of implementations is closed;
// dispatch routes exclusively on Type().
type Event interface {
	Type() EventType
	// OccurredAt is when the event was observed.
	OccurredAt() time.Time
}

// base carries the timestamp shared by every event variant.
type base struct {
	At time.Time `json:"at"`
}

// OccurredAt implements Event.
func (b base) OccurredAt() time.Time { return b.At }

// now returns a base stamped with the current time.
func now() base { return base{At: time.Now().UTC()} }

// AgentConnected reports an adapter attaching.
type AgentConnected struct {
	base
	AgentID   string `json:"agent_id"`
	AgentType string `json:"agent_type"`
}

// NewAgentConnected constructs an AgentConnected event.
func NewAgentConnected(agentID, agentType string) AgentConnected {
	return AgentConnected{base: now(), AgentID: agentID, AgentType: agentType}
}

// Type implements Event.
func (AgentConnected) Type() EventType { return EventAgentConnected }

// AgentDisconnected reports an adapter detaching.
type AgentDisconnected struct {
	base
	AgentID string `json:"agent_id"`
	Reason  string `json:"reason,omitempty"`
}

// NewAgentDisconnected constructs an AgentDisconnected event.
func NewAgentDisconnected(agentID, reason string) AgentDisconnected {
	return AgentDisconnected{base: now(), AgentID: agentID, Reason: reason}
}

// Type implements Event.
func (AgentDisconnected) Type() EventType { return EventAgentDisconnected }

// SessionStarted reports a new session.
type SessionStarted struct {
	base
	SessionID string `json:"session_id"`
	AgentID   string `json:"agent_id"`
}

// NewSessionStarted constructs a SessionStarted event.
func NewSessionStarted(sessionID, agentID string) SessionStarted {
	return SessionStarted{base: now(), SessionID: sessionID, AgentID: agentID}
}

// Type implements Event.
func (SessionStarted) Type() EventType { return EventSessionStarted }

// SessionEnded reports a session reaching a terminal state.
type SessionEnded struct {
	base
	SessionID string        `json:"session_id"`
	AgentID   string        `json:"agent_id"`
	Status    string        `json:"status"`
	Duration  time.Duration `json:"duration"`
}

// NewSessionEnded constructs a SessionEnded event.
func NewSessionEnded(sessionID, agentID, status string, duration time.Duration) SessionEnded {
	return SessionEnded{base: now(), SessionID: sessionID, AgentID: agentID, Status: status, Duration: duration}
}

// Type implements Event.
func (SessionEnded) Type() EventType { return EventSessionEnded }

// CostRecorded reports a persisted cost record.
type CostRecorded struct {
	base
	SessionID string  `json:"session_id"`
	AgentID   string  `json:"agent_id"`
	Model     string  `json:"model"`
	TotalCost float64 `json:"total_cost"`
}

// NewCostRecorded constructs a CostRecorded event.
func NewCostRecorded(sessionID, agentID, model string, totalCost float64) CostRecorded {
	return CostRecorded{base: now(), SessionID: sessionID, AgentID: agentID, Model: model, TotalCost: totalCost}
}

// Type implements Event.
func (CostRecorded) Type() EventType { return EventCostRecorded }

// ModelSynced reports one provider's contribution to a completed sync run.
type ModelSynced struct {
	base
	Provider   string `json:"provider"`
	ModelCount int    `json:"model_count"`
	RunID      string `json:"run_id"`
}

// NewModelSynced constructs a ModelSynced event.
func NewModelSynced(provider string, modelCount int, runID string) ModelSynced {
	return ModelSynced{base: now(), Provider: provider, ModelCount: modelCount, RunID: runID}
}

// Type implements Event.
func (ModelSynced) Type() EventType { return EventModelSynced }

// MetricsCollected reports a resource-usage sample for a plugin or agent.
type MetricsCollected struct {
	base
	SubjectID  string  `json:"subject_id"`
	MemoryMB   int     `json:"memory_mb"`
	CPUPercent float64 `json:"cpu_percent"`
}

// NewMetricsCollected constructs a MetricsCollected event.
func NewMetricsCollected(subjectID string, memoryMB int, cpuPercent float64) MetricsCollected {
	return MetricsCollected{base: now(), SubjectID: subjectID, MemoryMB: memoryMB, CPUPercent: cpuPercent}
}

// Type implements Event.
func (MetricsCollected) Type() EventType { return EventMetricsCollected }

// PluginInstalled reports a successful plugin install.
type PluginInstalled struct {
	base
	PluginID string `json:"plugin_id"`
	Version  string `json:"version"`
}

// NewPluginInstalled constructs a PluginInstalled event.
func NewPluginInstalled(pluginID, version string) PluginInstalled {
	return PluginInstalled{base: now(), PluginID: pluginID, Version: version}
}

// Type implements Event.
func (PluginInstalled) Type() EventType { return EventPluginInstalled }

// PluginUninstalled reports a plugin removal.
type PluginUninstalled struct {
	base
	PluginID string `json:"plugin_id"`
}

// NewPluginUninstalled constructs a PluginUninstalled event.
func NewPluginUninstalled(pluginID string) PluginUninstalled {
	return PluginUninstalled{base: now(), PluginID: pluginID}
}

// Type implements Event.
func (PluginUninstalled) Type() EventType { return EventPluginUninstalled }

// ThresholdExceeded reports a configured threshold breach.
type ThresholdExceeded struct {
	base
	Metric    string  `json:"metric"`
	Value     float64 `json:"value"`
	Threshold float64 `json:"threshold"`
}

// NewThresholdExceeded constructs a ThresholdExceeded event.
func NewThresholdExceeded(metric string, value, threshold float64) ThresholdExceeded {
	return ThresholdExceeded{base: now(), Metric: metric, Value: value, Threshold: threshold}
}

// Type implements Event.
func (ThresholdExceeded) Type() EventType { return EventThresholdExceeded }

// HealthCheckFailed reports an agent failing its health check.
type HealthCheckFailed struct {
	base
	AgentID string `json:"agent_id"`
	Error   string `json:"error"`
}

// NewHealthCheckFailed constructs a HealthCheckFailed event.
func NewHealthCheckFailed(agentID, errMsg string) HealthCheckFailed {
	return HealthCheckFailed{base: now(), AgentID: agentID, Error: errMsg}
}

// Type implements Event.
func (HealthCheckFailed) Type() EventType { return EventHealthCheckFailed }
