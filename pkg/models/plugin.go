package models

import "time"

// Permission is a capability a plugin must declare before using it.
type Permission string

const (
	// PermissionNetwork allows outbound network access.
	PermissionNetwork Permission = "network"
	// PermissionFilesystemRead allows reading files outside the plugin dir.
	PermissionFilesystemRead Permission = "fs:read"
	// PermissionFilesystemWrite allows writing files outside the plugin dir.
	PermissionFilesystemWrite Permission = "fs:write"
	// PermissionExec allows spawning subprocesses.
	PermissionExec Permission = "exec"
	// PermissionCostRead allows querying cost and session aggregates.
	PermissionCostRead Permission = "cost:read"
	// PermissionHookEmit allows emitting hook events.
	PermissionHookEmit Permission = "hook:emit"
)

// Valid returns true if the permission is a supported value.
func (p Permission) Valid() bool {
	switch p {
	case PermissionNetwork, PermissionFilesystemRead, PermissionFilesystemWrite,
		PermissionExec, PermissionCostRead, PermissionHookEmit:
		return true
	default:
		return false
	}
}

// PluginStatus represents the lifecycle state of an installed plugin.
type PluginStatus string

const (
	// PluginInstalling indicates install validation/startup is in progress.
	PluginInstalling PluginStatus = "installing"
	// PluginRunning indicates the plugin is started and its hooks registered.
	PluginRunning PluginStatus = "running"
	// PluginStopped indicates the plugin was stopped deliberately.
	PluginStopped PluginStatus = "stopped"
	// PluginError indicates the plugin failed to start or crashed.
	PluginError PluginStatus = "error"
)

// Valid returns true if the status is a known value.
func (s PluginStatus) Valid() bool {
	switch s {
	case PluginInstalling, PluginRunning, PluginStopped, PluginError:
		return true
	default:
		return false
	}
}

// HookRegistration declares a hook handler a plugin wants registered.
type HookRegistration struct {
	// HandlerID is the registration id, unique within the event type.
	HandlerID string `yaml:"handler_id" json:"handler_id"`
	// EventType is the hook event type to subscribe to.
	EventType string `yaml:"event_type" json:"event_type"`
	// Function is the plugin function invoked when the event fires.
	Function string `yaml:"function" json:"function"`
	// Priority orders handlers within an event type; higher runs first.
	Priority int `yaml:"priority" json:"priority"`
}

// FunctionDecl declares a callable function a plugin exposes, together
// with the permissions an invocation of it requires.
type FunctionDecl struct {
	// Name is the function name, unique within the plugin.
	Name string `yaml:"name" json:"name"`
	// Description is an optional human-readable summary.
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	// Requires lists the permissions the function needs at invoke time.
	Requires []Permission `yaml:"requires,omitempty" json:"requires,omitempty"`
}

// ResourceLimits are the ceilings a plugin declares for itself.
// Zero values mean "use the manager default".
type ResourceLimits struct {
	// MaxMemoryMB is the memory ceiling per invocation.
	MaxMemoryMB int `yaml:"max_memory_mb" json:"max_memory_mb"`
	// MaxCPUPercent is the CPU share ceiling per invocation.
	MaxCPUPercent int `yaml:"max_cpu_percent" json:"max_cpu_percent"`
	// MaxWallClock is the wall-clock ceiling per invocation.
	MaxWallClock time.Duration `yaml:"max_wall_clock" json:"max_wall_clock"`
	// MaxInvocationsPerMin caps invocation rate.
	MaxInvocationsPerMin int `yaml:"max_invocations_per_min" json:"max_invocations_per_min"`
}

// ResourceUsage is the observed consumption of a running plugin.
type ResourceUsage struct {
	// MemoryMB is the last observed memory footprint.
	MemoryMB int `json:"memory_mb"`
	// CPUPercent is the last observed CPU share.
	CPUPercent int `json:"cpu_percent"`
	// InvocationsLastMin counts invocations in the trailing minute.
	InvocationsLastMin int `json:"invocations_last_min"`
}

// PluginManifest identifies a plugin and everything it may register or touch.
// Immutable after load.
type PluginManifest struct {
	// ID is the unique plugin identifier.
	ID string `yaml:"id" json:"id"`
	// Name is a human-readable plugin name.
	Name string `yaml:"name" json:"name"`
	// Version is the plugin version string.
	Version string `yaml:"version" json:"version"`
	// Language is the implementation language ("go", "python", "builtin", ...).
	Language string `yaml:"language" json:"language"`
	// EntryPoint is the executable path relative to the plugin dir.
	// Empty for built-in plugins.
	EntryPoint string `yaml:"entry_point,omitempty" json:"entry_point,omitempty"`
	// Functions lists the callable functions the plugin exposes.
	Functions []FunctionDecl `yaml:"functions,omitempty" json:"functions,omitempty"`
	// Hooks lists the hook registrations the plugin wants on install.
	Hooks []HookRegistration `yaml:"hooks,omitempty" json:"hooks,omitempty"`
	// Permissions lists every permission the plugin may use.
	Permissions []Permission `yaml:"permissions,omitempty" json:"permissions,omitempty"`
	// Limits holds the declared resource ceilings.
	Limits ResourceLimits `yaml:"limits,omitempty" json:"limits,omitempty"`
	// Provides lists capabilities this plugin offers to other plugins.
	Provides []string `yaml:"provides,omitempty" json:"provides,omitempty"`
	// Requires lists capabilities this plugin needs from other plugins.
	Requires []string `yaml:"requires,omitempty" json:"requires,omitempty"`
	// LoadPriority breaks ties among equally-eligible capability providers.
	// Lower values win.
	LoadPriority int `yaml:"load_priority,omitempty" json:"load_priority,omitempty"`
}

// HasPermission reports whether the manifest declares the given permission.
func (m *PluginManifest) HasPermission(p Permission) bool {
	for _, declared := range m.Permissions {
		if declared == p {
			return true
		}
	}
	return false
}

// PluginRuntimeState is the mutable per-plugin record owned by the manager.
type PluginRuntimeState struct {
	// PluginID references the installed plugin.
	PluginID string `json:"plugin_id"`
	// Status is the current lifecycle state.
	Status PluginStatus `json:"status"`
	// PID is the plugin process id, zero for built-ins or stopped plugins.
	PID int `json:"pid,omitempty"`
	// StartedAt is when the plugin last entered Running.
	StartedAt *time.Time `json:"started_at,omitempty"`
	// LastError is the most recent failure message.
	LastError string `json:"last_error,omitempty"`
	// RestartCount increments on every Error -> Running transition or
	// crash-triggered restart.
	RestartCount int `json:"restart_count"`
	// Enabled controls whether the plugin's handlers participate in dispatch.
	Enabled bool `json:"enabled"`
	// Usage is the observed resource consumption.
	Usage ResourceUsage `json:"usage"`
}
