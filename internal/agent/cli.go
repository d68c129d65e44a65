package agent

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/corralhq/corral/pkg/models"
)

// cliBinaries maps agent types onto the binary each CLI installs as.
var cliBinaries = map[models.AgentType]string{
	models.AgentTypeClaudeCode: "claude",
	models.AgentTypeCodex:      "codex",
	models.AgentTypeGemini:     "gemini",
	models.AgentTypeAider:      "aider",
}

// CLIAdapter supervises a coding-agent CLI installed on the local machine.
// Health is binary presence plus a responsive --version; the CLIs expose no
// session listing, so GetSessions reports none.
type CLIAdapter struct {
	name      string
	agentType models.AgentType
	binary    string
	connected bool
}

// NewCLIAdapter creates an adapter for a known agent type.
func NewCLIAdapter(name string, agentType models.AgentType) (*CLIAdapter, error) {
	binary, ok := cliBinaries[agentType]
	if !ok {
		return nil, fmt.Errorf("no CLI binary known for agent type %q", agentType)
	}
	return &CLIAdapter{name: name, agentType: agentType, binary: binary}, nil
}

// Connect implements Adapter.
func (a *CLIAdapter) Connect(ctx context.Context) error {
	if _, err := exec.LookPath(a.binary); err != nil {
		return fmt.Errorf("%s binary not found: %w", a.binary, err)
	}
	a.connected = true
	return nil
}

// Disconnect implements Adapter.
func (a *CLIAdapter) Disconnect(ctx context.Context) error {
	a.connected = false
	return nil
}

// GetStatus implements Adapter.
func (a *CLIAdapter) GetStatus(ctx context.Context) (models.AgentStatus, error) {
	if !a.connected {
		return models.AgentStatusDisconnected, nil
	}
	if err := a.HealthCheck(ctx); err != nil {
		return models.AgentStatusUnhealthy, nil
	}
	return models.AgentStatusConnected, nil
}

// GetInfo implements Adapter.
func (a *CLIAdapter) GetInfo(ctx context.Context) (*models.Agent, error) {
	info := &models.Agent{
		Name: a.name,
		Type: a.agentType,
	}

	out, err := exec.CommandContext(ctx, a.binary, "--version").Output()
	if err == nil {
		info.Version = strings.TrimSpace(string(out))
	}
	return info, nil
}

// GetSessions implements Adapter.
func (a *CLIAdapter) GetSessions(ctx context.Context) ([]models.Session, error) {
	return nil, nil
}

// HealthCheck implements Adapter.
func (a *CLIAdapter) HealthCheck(ctx context.Context) error {
	if err := exec.CommandContext(ctx, a.binary, "--version").Run(); err != nil {
		return fmt.Errorf("%s --version: %w", a.binary, err)
	}
	return nil
}
