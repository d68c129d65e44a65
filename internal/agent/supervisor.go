package agent

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/corralhq/corral/internal/hooks"
	"github.com/corralhq/corral/pkg/models"
)

// DefaultPollInterval is the health/session poll period when none is
// configured.
const DefaultPollInterval = 30 * time.Second

// Store is the slice of the storage layer the supervisor writes through.
type Store interface {
	GetAgent(id string) (*models.Agent, error)
	CreateAgent(a *models.Agent) error
	UpdateAgent(a *models.Agent) error
	GetSession(id string) (*models.Session, error)
	CreateSession(s *models.Session) error
	EndSession(id string, status models.SessionStatus, endedAt time.Time) error
}

// Supervisor polls registered adapters for health and sessions, persists
// what it observes, and emits hook events on every state change.
type Supervisor struct {
	registry *Registry
	store    Store
	bus      *hooks.Bus
	interval time.Duration

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	loop    sync.WaitGroup
}

// NewSupervisor creates a supervisor over the given registry. A
// non-positive interval falls back to DefaultPollInterval.
func NewSupervisor(registry *Registry, store Store, bus *hooks.Bus, interval time.Duration) *Supervisor {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Supervisor{registry: registry, store: store, bus: bus, interval: interval}
}

// Connect attaches an adapter, persists the agent as connected, and emits
// an AgentConnected event.
func (s *Supervisor) Connect(ctx context.Context, agentID string, adapter Adapter) error {
	if err := s.registry.Register(agentID, adapter); err != nil {
		return err
	}

	if err := adapter.Connect(ctx); err != nil {
		s.registry.Unregister(agentID)
		return fmt.Errorf("connect agent %s: %w", agentID, err)
	}

	info, err := adapter.GetInfo(ctx)
	if err != nil {
		s.registry.Unregister(agentID)
		return fmt.Errorf("get agent info %s: %w", agentID, err)
	}

	now := time.Now()
	info.ID = agentID
	info.Status = models.AgentStatusConnected
	info.ConnectedAt = &now
	info.LastSeenAt = &now

	existing, err := s.store.GetAgent(agentID)
	if err != nil {
		return err
	}
	if existing == nil {
		err = s.store.CreateAgent(info)
	} else {
		err = s.store.UpdateAgent(info)
	}
	if err != nil {
		return err
	}

	s.bus.Dispatch(ctx, hooks.NewAgentConnected(agentID, string(info.Type)))
	log.Printf("[agent] connected %s (%s)", agentID, info.Type)
	return nil
}

// Disconnect detaches an adapter, persists the agent as disconnected, and
// emits an AgentDisconnected event.
func (s *Supervisor) Disconnect(ctx context.Context, agentID, reason string) error {
	adapter, err := s.registry.Get(agentID)
	if err != nil {
		return err
	}

	if err := adapter.Disconnect(ctx); err != nil {
		log.Printf("[agent] disconnect %s: %v", agentID, err)
	}
	s.registry.Unregister(agentID)

	existing, err := s.store.GetAgent(agentID)
	if err != nil {
		return err
	}
	if existing != nil {
		existing.Status = models.AgentStatusDisconnected
		if err := s.store.UpdateAgent(existing); err != nil {
			return err
		}
	}

	s.bus.Dispatch(ctx, hooks.NewAgentDisconnected(agentID, reason))
	log.Printf("[agent] disconnected %s: %s", agentID, reason)
	return nil
}

// Start begins the poll loop. Calling Start on a running supervisor is a
// no-op.
func (s *Supervisor) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stop = make(chan struct{})
	stop := s.stop
	s.mu.Unlock()

	s.loop.Add(1)
	go func() {
		defer s.loop.Done()

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Poll(ctx)
			}
		}
	}()
}

// Stop halts the poll loop. Calling Stop on a stopped supervisor is a
// no-op.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stop)
	s.mu.Unlock()

	s.loop.Wait()
}

// Poll runs one health and session sweep over every registered adapter.
func (s *Supervisor) Poll(ctx context.Context) {
	for _, agentID := range s.registry.IDs() {
		adapter, err := s.registry.Get(agentID)
		if err != nil {
			continue
		}
		s.pollAgent(ctx, agentID, adapter)
	}
}

// pollAgent health-checks one adapter and reconciles its sessions.
func (s *Supervisor) pollAgent(ctx context.Context, agentID string, adapter Adapter) {
	record, err := s.store.GetAgent(agentID)
	if err != nil {
		log.Printf("[agent] load %s: %v", agentID, err)
		return
	}

	if err := adapter.HealthCheck(ctx); err != nil {
		s.bus.Dispatch(ctx, hooks.NewHealthCheckFailed(agentID, err.Error()))
		if record != nil && record.Status != models.AgentStatusUnhealthy {
			record.Status = models.AgentStatusUnhealthy
			if err := s.store.UpdateAgent(record); err != nil {
				log.Printf("[agent] mark unhealthy %s: %v", agentID, err)
			}
		}
		return
	}

	if record != nil {
		now := time.Now()
		record.Status = models.AgentStatusConnected
		record.LastSeenAt = &now
		if err := s.store.UpdateAgent(record); err != nil {
			log.Printf("[agent] update %s: %v", agentID, err)
		}
	}

	sessions, err := adapter.GetSessions(ctx)
	if err != nil {
		log.Printf("[agent] sessions %s: %v", agentID, err)
		return
	}
	s.reconcileSessions(ctx, agentID, sessions)
}

// reconcileSessions persists newly observed sessions and closes ones that
// reached a terminal state since the last poll.
func (s *Supervisor) reconcileSessions(ctx context.Context, agentID string, observed []models.Session) {
	for _, sess := range observed {
		sess.AgentID = agentID

		existing, err := s.store.GetSession(sess.ID)
		if err != nil {
			log.Printf("[agent] load session %s: %v", sess.ID, err)
			continue
		}

		if existing == nil {
			if err := s.store.CreateSession(&sess); err != nil {
				log.Printf("[agent] create session %s: %v", sess.ID, err)
				continue
			}
			s.bus.Dispatch(ctx, hooks.NewSessionStarted(sess.ID, agentID))
			if sess.Status.Terminal() && sess.EndedAt != nil {
				s.bus.Dispatch(ctx, hooks.NewSessionEnded(sess.ID, agentID, string(sess.Status), sess.Duration()))
			}
			continue
		}

		if existing.Status == models.SessionActive && sess.Status.Terminal() {
			endedAt := time.Now()
			if sess.EndedAt != nil {
				endedAt = *sess.EndedAt
			}
			if err := s.store.EndSession(sess.ID, sess.Status, endedAt); err != nil {
				log.Printf("[agent] end session %s: %v", sess.ID, err)
				continue
			}
			duration := endedAt.Sub(existing.StartedAt)
			s.bus.Dispatch(ctx, hooks.NewSessionEnded(sess.ID, agentID, string(sess.Status), duration))
		}
	}
}
