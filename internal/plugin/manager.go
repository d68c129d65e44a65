package plugin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/corralhq/corral/internal/hooks"
	"github.com/corralhq/corral/pkg/faults"
	"github.com/corralhq/corral/pkg/models"
)

// DefaultInvokeTimeout bounds a single plugin invocation when the manifest
// declares no wall-clock limit.
const DefaultInvokeTimeout = 60 * time.Second

// Store is the slice of the storage layer the manager persists through.
type Store interface {
	SavePlugin(manifest *models.PluginManifest, enabled bool) error
	GetPlugin(id string) (*models.PluginManifest, bool, error)
	SetPluginEnabled(id string, enabled bool) error
	DeletePlugin(id string) error
	ListPlugins() ([]models.PluginManifest, map[string]bool, error)
	RecordAccessViolation(pluginID, function, violation string) error
}

// installed is one plugin's in-memory record: manifest, runtime state,
// runner, and the trailing-minute invocation timestamps for rate limiting.
type installed struct {
	manifest *models.PluginManifest
	state    models.PluginRuntimeState
	runner   Runner
	dir      string

	invokedAt []time.Time
}

// Manager owns plugin lifecycle: install, enable/disable, invocation with
// sandbox enforcement, crash accounting, restart, and uninstall. Hook
// registrations declared in a manifest are wired into the bus on install
// and removed on uninstall.
type Manager struct {
	mu    sync.RWMutex
	store Store
	bus   *hooks.Bus

	pluginsDir    string
	invokeTimeout time.Duration

	plugins map[string]*installed
}

// NewManager creates a plugin manager. A non-positive invokeTimeout falls
// back to DefaultInvokeTimeout.
func NewManager(store Store, bus *hooks.Bus, pluginsDir string, invokeTimeout time.Duration) *Manager {
	if invokeTimeout <= 0 {
		invokeTimeout = DefaultInvokeTimeout
	}
	return &Manager{
		store:         store,
		bus:           bus,
		pluginsDir:    pluginsDir,
		invokeTimeout: invokeTimeout,
		plugins:       make(map[string]*installed),
	}
}

// Install validates the manifest in dir, persists it, starts the plugin,
// and registers its hooks. A duplicate id is a conflict unless overwrite is
// set, in which case the existing plugin is uninstalled first. A rejected
// manifest causes no state change anywhere.
func (m *Manager) Install(ctx context.Context, dir string, overwrite bool) (*models.PluginManifest, error) {
	manifest, err := LoadManifest(filepath.Join(dir, ManifestFileName))
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	_, exists := m.plugins[manifest.ID]
	if exists && !overwrite {
		m.mu.Unlock()
		return nil, faults.New(faults.Conflict, "plugin %s is already installed", manifest.ID)
	}

	if missing := m.unsatisfiedRequiresLocked(manifest); missing != "" {
		m.mu.Unlock()
		return nil, faults.New(faults.NotFound, "plugin %s requires capability %q which no installed plugin provides", manifest.ID, missing)
	}
	m.mu.Unlock()

	// Persist before the start attempt. A persist failure leaves no trace;
	// a start failure leaves an installed plugin in Error, not a running
	// orphan with no record.
	if err := m.store.SavePlugin(manifest, true); err != nil {
		return nil, fmt.Errorf("persist plugin %s: %w", manifest.ID, err)
	}

	if exists {
		m.mu.Lock()
		if _, ok := m.plugins[manifest.ID]; ok {
			m.uninstallLocked(manifest.ID)
		}
		m.mu.Unlock()
	}

	runner := newProcessRunner(manifest, dir)
	if err := m.install(ctx, manifest, runner, dir); err != nil {
		return nil, err
	}

	m.bus.Dispatch(ctx, hooks.NewPluginInstalled(manifest.ID, manifest.Version))
	log.Printf("[plugin] installed %s v%s from %s", manifest.ID, manifest.Version, dir)
	return manifest, nil
}

// RegisterBuiltin installs an in-process plugin under the same manifest
// contract as external plugins.
func (m *Manager) RegisterBuiltin(ctx context.Context, b Builtin) error {
	manifest := b.Manifest()
	if err := ValidateManifest(manifest); err != nil {
		return err
	}

	m.mu.Lock()
	if _, exists := m.plugins[manifest.ID]; exists {
		m.mu.Unlock()
		return faults.New(faults.Conflict, "plugin %s is already installed", manifest.ID)
	}
	m.mu.Unlock()

	if err := m.install(ctx, manifest, &builtinRunner{impl: b}, ""); err != nil {
		return err
	}
	log.Printf("[plugin] registered builtin %s v%s", manifest.ID, manifest.Version)
	return nil
}

// install starts the runner, records the runtime state, and wires the
// manifest's hook registrations into the bus.
func (m *Manager) install(ctx context.Context, manifest *models.PluginManifest, runner Runner, dir string) error {
	entry := &installed{
		manifest: manifest,
		runner:   runner,
		dir:      dir,
		state: models.PluginRuntimeState{
			PluginID: manifest.ID,
			Status:   models.PluginInstalling,
			Enabled:  true,
		},
	}

	m.mu.Lock()
	m.plugins[manifest.ID] = entry
	m.mu.Unlock()

	if err := runner.Start(ctx); err != nil {
		m.mu.Lock()
		entry.state.Status = models.PluginError
		entry.state.LastError = err.Error()
		m.mu.Unlock()
		return faults.Wrap(faults.Fatal, err, "start plugin %s", manifest.ID)
	}

	startedAt := time.Now()
	m.mu.Lock()
	entry.state.Status = models.PluginRunning
	entry.state.StartedAt = &startedAt
	entry.state.PID = runner.PID()
	m.mu.Unlock()

	m.registerHooks(manifest)
	return nil
}

// registerHooks wires the manifest's hook registrations into the bus. Each
// handler closure invokes the plugin function with the event as payload.
func (m *Manager) registerHooks(manifest *models.PluginManifest) {
	pluginID := manifest.ID
	for _, h := range manifest.Hooks {
		function := h.Function
		fn := func(ctx context.Context, event hooks.Event) (map[string]any, error) {
			return m.Invoke(ctx, pluginID, function, eventPayload(event))
		}
		if err := m.bus.Register(hooks.EventType(h.EventType), h.HandlerID, fn, h.Priority); err != nil {
			log.Printf("[plugin] register hook %s for %s: %v", h.HandlerID, pluginID, err)
		}
	}
}

// Uninstall stops the plugin, removes its hook registrations, and deletes
// the persisted record.
func (m *Manager) Uninstall(ctx context.Context, id string) error {
	m.mu.Lock()
	if _, ok := m.plugins[id]; !ok {
		m.mu.Unlock()
		return faults.New(faults.NotFound, "plugin %s is not installed", id)
	}
	m.uninstallLocked(id)
	m.mu.Unlock()

	if err := m.store.DeletePlugin(id); err != nil {
		return fmt.Errorf("delete plugin %s: %w", id, err)
	}

	m.bus.Dispatch(ctx, hooks.NewPluginUninstalled(id))
	log.Printf("[plugin] uninstalled %s", id)
	return nil
}

// uninstallLocked removes hooks and stops the runner. Caller must hold m.mu.
func (m *Manager) uninstallLocked(id string) {
	entry := m.plugins[id]
	for _, h := range entry.manifest.Hooks {
		m.bus.Unregister(hooks.EventType(h.EventType), h.HandlerID)
	}
	if err := entry.runner.Stop(); err != nil {
		log.Printf("[plugin] stop %s: %v", id, err)
	}
	delete(m.plugins, id)
}

// Enable re-enables a disabled plugin's handlers and invocations.
func (m *Manager) Enable(id string) error {
	return m.setEnabled(id, true)
}

// Disable keeps the plugin installed but excludes its handlers from
// dispatch and rejects invocations.
func (m *Manager) Disable(id string) error {
	return m.setEnabled(id, false)
}

func (m *Manager) setEnabled(id string, enabled bool) error {
	m.mu.Lock()
	entry, ok := m.plugins[id]
	if !ok {
		m.mu.Unlock()
		return faults.New(faults.NotFound, "plugin %s is not installed", id)
	}
	entry.state.Enabled = enabled
	manifest := entry.manifest
	m.mu.Unlock()

	for _, h := range manifest.Hooks {
		m.bus.SetEnabled(hooks.EventType(h.EventType), h.HandlerID, enabled)
	}

	if err := m.store.SetPluginEnabled(id, enabled); err != nil {
		return fmt.Errorf("persist enabled flag for %s: %w", id, err)
	}
	return nil
}

// Invoke calls one plugin function under sandbox enforcement: the plugin
// must be running and enabled, the function declared, the invocation rate
// within the manifest's limit, and the wall clock bounded. A timeout or
// process failure counts as a crash and moves the plugin to Error.
func (m *Manager) Invoke(ctx context.Context, id, function string, payload map[string]any) (map[string]any, error) {
	m.mu.Lock()
	entry, ok := m.plugins[id]
	if !ok {
		m.mu.Unlock()
		return nil, faults.New(faults.NotFound, "plugin %s is not installed", id)
	}
	if !entry.state.Enabled {
		m.mu.Unlock()
		return nil, faults.New(faults.Validation, "plugin %s is disabled", id)
	}
	if entry.state.Status != models.PluginRunning {
		m.mu.Unlock()
		return nil, faults.New(faults.Validation, "plugin %s is %s, not running", id, entry.state.Status)
	}

	var decl *models.FunctionDecl
	for i := range entry.manifest.Functions {
		if entry.manifest.Functions[i].Name == function {
			decl = &entry.manifest.Functions[i]
			break
		}
	}
	if decl == nil {
		m.mu.Unlock()
		return nil, faults.New(faults.NotFound, "plugin %s declares no function %q", id, function)
	}

	// The function's declared requirements are re-checked against the
	// permission grants on every call, not only at manifest validation.
	for _, perm := range decl.Requires {
		if !entry.manifest.HasPermission(perm) {
			err := m.denyLocked(entry, function, fmt.Sprintf("undeclared permission %q", perm))
			m.mu.Unlock()
			return nil, err
		}
	}

	if err := m.admitLocked(entry, function); err != nil {
		m.mu.Unlock()
		return nil, err
	}

	runner := entry.runner
	timeout := entry.manifest.Limits.MaxWallClock
	if timeout <= 0 {
		timeout = m.invokeTimeout
	}
	m.mu.Unlock()

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := runner.Invoke(callCtx, function, payload)
	if err != nil {
		// Timeouts and process failures are crashes; a function returning
		// an error is not.
		var crash *crashError
		if errors.Is(err, errInvokeTimeout) || errors.As(err, &crash) {
			m.recordCrash(id, function, err)
		}
		return nil, faults.Wrap(faults.HandlerFailure, err, "invoke %s.%s", id, function)
	}

	m.mu.Lock()
	entry.state.PID = runner.PID()
	entry.state.Usage.InvocationsLastMin = len(entry.invokedAt)
	usage, sampled := runner.Usage()
	if sampled {
		entry.state.Usage.MemoryMB = usage.MemoryMB
		entry.state.Usage.CPUPercent = usage.CPUPercent
	}
	m.mu.Unlock()

	if sampled {
		m.bus.Dispatch(ctx, hooks.NewMetricsCollected(id, usage.MemoryMB, float64(usage.CPUPercent)))
	}
	return result, nil
}

// admitLocked enforces the sandbox ceilings: the per-minute invocation rate
// and the memory and CPU limits against the last observed usage. A denied
// invocation is audited and returns an AccessViolation. Caller holds m.mu.
func (m *Manager) admitLocked(entry *installed, function string) error {
	limits := entry.manifest.Limits
	usage := entry.state.Usage

	if limits.MaxMemoryMB > 0 && usage.MemoryMB > limits.MaxMemoryMB {
		return m.denyLocked(entry, function, fmt.Sprintf("memory limit exceeded: %dMB > %dMB", usage.MemoryMB, limits.MaxMemoryMB))
	}
	if limits.MaxCPUPercent > 0 && usage.CPUPercent > limits.MaxCPUPercent {
		return m.denyLocked(entry, function, fmt.Sprintf("cpu limit exceeded: %d%% > %d%%", usage.CPUPercent, limits.MaxCPUPercent))
	}

	nowTime := time.Now()
	cutoff := nowTime.Add(-time.Minute)

	recent := entry.invokedAt[:0]
	for _, t := range entry.invokedAt {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}
	entry.invokedAt = recent

	if limits.MaxInvocationsPerMin > 0 && len(entry.invokedAt) >= limits.MaxInvocationsPerMin {
		return m.denyLocked(entry, function, fmt.Sprintf("invocation rate exceeded: %d/min", limits.MaxInvocationsPerMin))
	}

	entry.invokedAt = append(entry.invokedAt, nowTime)
	return nil
}

// denyLocked audits one sandbox denial and returns the AccessViolation.
// Caller holds m.mu.
func (m *Manager) denyLocked(entry *installed, function, violation string) error {
	if err := m.store.RecordAccessViolation(entry.manifest.ID, function, violation); err != nil {
		log.Printf("[plugin] audit write failed for %s: %v", entry.manifest.ID, err)
	}
	return faults.New(faults.AccessViolation, "plugin %s: %s", entry.manifest.ID, violation)
}

// Authorize checks that the plugin holds a permission before a host-side
// facility acts on its behalf. Denials are audited.
func (m *Manager) Authorize(id, function string, perm models.Permission) error {
	m.mu.RLock()
	entry, ok := m.plugins[id]
	m.mu.RUnlock()
	if !ok {
		return faults.New(faults.NotFound, "plugin %s is not installed", id)
	}

	if !entry.manifest.HasPermission(perm) {
		violation := fmt.Sprintf("undeclared permission %q", perm)
		if err := m.store.RecordAccessViolation(id, function, violation); err != nil {
			log.Printf("[plugin] audit write failed for %s: %v", id, err)
		}
		return faults.New(faults.AccessViolation, "plugin %s used %s without declaring %q", id, function, perm)
	}
	return nil
}

// recordCrash moves the plugin to Error with the failure message. The
// plugin stays installed; Restart brings it back.
func (m *Manager) recordCrash(id, function string, cause error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.plugins[id]
	if !ok {
		return
	}
	entry.state.Status = models.PluginError
	entry.state.LastError = cause.Error()
	entry.state.PID = 0
	log.Printf("[plugin] %s crashed in %s: %v", id, function, cause)
}

// Restart restarts a stopped or crashed plugin and increments its
// restart count.
func (m *Manager) Restart(ctx context.Context, id string) error {
	m.mu.Lock()
	entry, ok := m.plugins[id]
	if !ok {
		m.mu.Unlock()
		return faults.New(faults.NotFound, "plugin %s is not installed", id)
	}
	if entry.state.Status == models.PluginRunning {
		m.mu.Unlock()
		return faults.New(faults.Validation, "plugin %s is already running", id)
	}
	runner := entry.runner
	m.mu.Unlock()

	if err := runner.Start(ctx); err != nil {
		m.mu.Lock()
		entry.state.Status = models.PluginError
		entry.state.LastError = err.Error()
		m.mu.Unlock()
		return faults.Wrap(faults.Fatal, err, "restart plugin %s", id)
	}

	startedAt := time.Now()
	m.mu.Lock()
	entry.state.Status = models.PluginRunning
	entry.state.StartedAt = &startedAt
	entry.state.LastError = ""
	entry.state.RestartCount++
	restarts := entry.state.RestartCount
	manifest := entry.manifest
	enabled := entry.state.Enabled
	m.mu.Unlock()

	// Stop disables the plugin's handlers; a restart of an enabled plugin
	// must bring them back.
	if enabled {
		for _, h := range manifest.Hooks {
			m.bus.SetEnabled(hooks.EventType(h.EventType), h.HandlerID, true)
		}
	}

	log.Printf("[plugin] restarted %s (restart count %d)", id, restarts)
	return nil
}

// Stop stops a running plugin deliberately. Its hooks are disabled until
// Restart.
func (m *Manager) Stop(id string) error {
	m.mu.Lock()
	entry, ok := m.plugins[id]
	if !ok {
		m.mu.Unlock()
		return faults.New(faults.NotFound, "plugin %s is not installed", id)
	}
	runner := entry.runner
	manifest := entry.manifest
	entry.state.Status = models.PluginStopped
	entry.state.PID = 0
	m.mu.Unlock()

	for _, h := range manifest.Hooks {
		m.bus.SetEnabled(hooks.EventType(h.EventType), h.HandlerID, false)
	}
	if err := runner.Stop(); err != nil {
		return fmt.Errorf("stop plugin %s: %w", id, err)
	}
	return nil
}

// StopAll stops every plugin. Used at shutdown.
func (m *Manager) StopAll() {
	m.mu.RLock()
	ids := make([]string, 0, len(m.plugins))
	for id := range m.plugins {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	for _, id := range ids {
		if err := m.Stop(id); err != nil {
			log.Printf("[plugin] stop %s: %v", id, err)
		}
	}
}

// Get returns one plugin's manifest and a copy of its runtime state.
func (m *Manager) Get(id string) (*models.PluginManifest, *models.PluginRuntimeState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.plugins[id]
	if !ok {
		return nil, nil, faults.New(faults.NotFound, "plugin %s is not installed", id)
	}
	state := entry.state
	return entry.manifest, &state, nil
}

// List returns a copy of every plugin's runtime state, ordered by id.
func (m *Manager) List() []models.PluginRuntimeState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	states := make([]models.PluginRuntimeState, 0, len(m.plugins))
	for _, entry := range m.plugins {
		states = append(states, entry.state)
	}
	sort.Slice(states, func(i, j int) bool { return states[i].PluginID < states[j].PluginID })
	return states
}

// Restore reinstalls persisted plugins from disk at startup, in
// capability-dependency order. Plugins that fail to start are left in
// Error rather than aborting the rest.
func (m *Manager) Restore(ctx context.Context) error {
	manifests, enabled, err := m.store.ListPlugins()
	if err != nil {
		return fmt.Errorf("list persisted plugins: %w", err)
	}
	if len(manifests) == 0 {
		return nil
	}

	order, err := ResolveDependencies(manifests)
	if err != nil {
		return err
	}

	byID := make(map[string]*models.PluginManifest, len(manifests))
	for i := range manifests {
		byID[manifests[i].ID] = &manifests[i]
	}

	for _, id := range order {
		manifest := byID[id]
		if manifest.Language == "builtin" {
			// Built-ins re-register themselves at startup.
			continue
		}
		dir := filepath.Join(m.pluginsDir, manifest.ID)
		if err := m.install(ctx, manifest, newProcessRunner(manifest, dir), dir); err != nil {
			log.Printf("[plugin] restore %s: %v", manifest.ID, err)
			continue
		}
		if !enabled[manifest.ID] {
			if err := m.Disable(manifest.ID); err != nil {
				log.Printf("[plugin] restore disable %s: %v", manifest.ID, err)
			}
		}
	}
	return nil
}

// unsatisfiedRequiresLocked returns the first required capability no
// installed plugin provides, or "". Caller holds m.mu.
func (m *Manager) unsatisfiedRequiresLocked(manifest *models.PluginManifest) string {
	for _, req := range manifest.Requires {
		satisfied := false
		for _, entry := range m.plugins {
			for _, prov := range entry.manifest.Provides {
				if prov == req {
					satisfied = true
					break
				}
			}
			if satisfied {
				break
			}
		}
		if !satisfied {
			return req
		}
	}
	return ""
}

// eventPayload flattens an event into the structured document handed to a
// plugin function.
func eventPayload(event hooks.Event) map[string]any {
	payload := map[string]any{
		"event_type": string(event.Type()),
	}
	raw, err := json.Marshal(event)
	if err != nil {
		return payload
	}
	fields := make(map[string]any)
	if err := json.Unmarshal(raw, &fields); err != nil {
		return payload
	}
	for k, v := range fields {
		payload[k] = v
	}
	return payload
}
