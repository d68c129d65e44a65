package models

import "time"

// SessionStatus represents the lifecycle state of a session.
type SessionStatus string

const (
	// SessionActive indicates the session is still running.
	SessionActive SessionStatus = "active"
	// SessionCompleted indicates the session ended normally.
	SessionCompleted SessionStatus = "completed"
	// SessionFailed indicates the session ended with an error.
	SessionFailed SessionStatus = "failed"
	// SessionTerminated indicates the session was killed externally.
	SessionTerminated SessionStatus = "terminated"
)

// Valid returns true if the status is a known value.
func (s SessionStatus) Valid() bool {
	switch s {
	case SessionActive, SessionCompleted, SessionFailed, SessionTerminated:
		return true
	default:
		return false
	}
}

// Terminal returns true if the status is an end state. A session only
// transitions forward: active -> {completed, failed, terminated}.
func (s SessionStatus) Terminal() bool {
	switch s {
	case SessionCompleted, SessionFailed, SessionTerminated:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether moving from s to next is a legal
// forward transition.
func (s SessionStatus) CanTransitionTo(next SessionStatus) bool {
	if s == next {
		return false
	}
	return s == SessionActive && next.Terminal()
}

// Session represents one interactive run of an agent.
type Session struct {
	// ID is the unique identifier for this session.
	ID string `json:"id"`
	// AgentID references the agent this session belongs to.
	AgentID string `json:"agent_id"`
	// Title is an optional human-readable summary of the session.
	Title string `json:"title,omitempty"`
	// Model is the primary LLM model used during the session.
	Model string `json:"model,omitempty"`
	// Status is the current lifecycle state.
	Status SessionStatus `json:"status"`
	// StartedAt is when the session began.
	StartedAt time.Time `json:"started_at"`
	// EndedAt is when the session reached a terminal state.
	// Set at most once; nil while the session is active.
	EndedAt *time.Time `json:"ended_at,omitempty"`
}

// Duration returns the session length, or zero if the session has not ended.
func (s *Session) Duration() time.Duration {
	if s.EndedAt == nil {
		return 0
	}
	return s.EndedAt.Sub(s.StartedAt)
}
