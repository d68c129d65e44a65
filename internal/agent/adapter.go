// Package agent supervises external coding-agent CLIs through adapters.
// Adapters expose a uniform capability surface; the supervisor polls them
// for health and sessions and emits hook events on state changes.
package agent

import (
	"context"
	"sort"
	"sync"

	"github.com/corralhq/corral/pkg/faults"
	"github.com/corralhq/corral/pkg/models"
)

// Adapter is the capability surface one supervised agent exposes.
type Adapter interface {
	// Connect attaches to the agent.
	Connect(ctx context.Context) error
	// Disconnect detaches from the agent.
	Disconnect(ctx context.Context) error
	// GetStatus reports the agent's current connection state.
	GetStatus(ctx context.Context) (models.AgentStatus, error)
	// GetInfo describes the agent.
	GetInfo(ctx context.Context) (*models.Agent, error)
	// GetSessions lists the sessions the agent currently knows about.
	GetSessions(ctx context.Context) ([]models.Session, error)
	// HealthCheck verifies the agent is responsive.
	HealthCheck(ctx context.Context) error
}

// Registry holds the attached adapters, keyed by agent id.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register adds an adapter under an agent id. Duplicate ids conflict.
func (r *Registry) Register(agentID string, a Adapter) error {
	if agentID == "" {
		return faults.New(faults.Validation, "agent id must not be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.adapters[agentID]; exists {
		return faults.New(faults.Conflict, "agent %s already has an adapter", agentID)
	}
	r.adapters[agentID] = a
	return nil
}

// Unregister removes an adapter. No-op if the id is unknown.
func (r *Registry) Unregister(agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.adapters, agentID)
}

// Get returns the adapter for an agent id.
func (r *Registry) Get(agentID string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.adapters[agentID]
	if !ok {
		return nil, faults.New(faults.NotFound, "agent %s has no adapter", agentID)
	}
	return a, nil
}

// IDs returns the registered agent ids, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.adapters))
	for id := range r.adapters {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
