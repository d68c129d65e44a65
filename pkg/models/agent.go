package models

import "time"

// AgentType identifies the kind of coding-agent CLI an agent runs.
type AgentType string

const (
	// AgentTypeClaudeCode is the Anthropic Claude Code CLI.
	AgentTypeClaudeCode AgentType = "claude-code"
	// AgentTypeCodex is the OpenAI Codex CLI.
	AgentTypeCodex AgentType = "codex"
	// AgentTypeGemini is the Google Gemini CLI.
	AgentTypeGemini AgentType = "gemini"
	// AgentTypeAider is the Aider CLI.
	AgentTypeAider AgentType = "aider"
)

// Valid returns true if the agent type is a known value.
func (t AgentType) Valid() bool {
	switch t {
	case AgentTypeClaudeCode, AgentTypeCodex, AgentTypeGemini, AgentTypeAider:
		return true
	default:
		return false
	}
}

// AgentStatus represents the connection state of a supervised agent.
type AgentStatus string

const (
	// AgentStatusConnected indicates the adapter is attached and healthy.
	AgentStatusConnected AgentStatus = "connected"
	// AgentStatusDisconnected indicates the adapter is detached.
	AgentStatusDisconnected AgentStatus = "disconnected"
	// AgentStatusUnhealthy indicates the adapter is attached but failing health checks.
	AgentStatusUnhealthy AgentStatus = "unhealthy"
)

// Valid returns true if the status is a known value.
func (s AgentStatus) Valid() bool {
	switch s {
	case AgentStatusConnected, AgentStatusDisconnected, AgentStatusUnhealthy:
		return true
	default:
		return false
	}
}

// Agent represents an external coding-agent process under supervision.
type Agent struct {
	// ID is the unique identifier for this agent.
	ID string `json:"id"`
	// Name is a human-readable label for the agent.
	Name string `json:"name"`
	// Type identifies which CLI tool the agent runs.
	Type AgentType `json:"type"`
	// Status is the current connection state.
	Status AgentStatus `json:"status"`
	// Version is the agent CLI version, if known.
	Version string `json:"version,omitempty"`
	// ConnectedAt is when the adapter last attached.
	ConnectedAt *time.Time `json:"connected_at,omitempty"`
	// LastSeenAt is the last successful health check.
	LastSeenAt *time.Time `json:"last_seen_at,omitempty"`
}
