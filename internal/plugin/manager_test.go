package plugin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/corralhq/corral/internal/hooks"
	"github.com/corralhq/corral/pkg/faults"
	"github.com/corralhq/corral/pkg/models"
)

// memStore is an in-memory Store for manager tests.
type memStore struct {
	manifests  map[string]*models.PluginManifest
	enabled    map[string]bool
	violations []string

	saveErr error
}

func newMemStore() *memStore {
	return &memStore{
		manifests: make(map[string]*models.PluginManifest),
		enabled:   make(map[string]bool),
	}
}

func (s *memStore) SavePlugin(manifest *models.PluginManifest, enabled bool) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	s.manifests[manifest.ID] = manifest
	s.enabled[manifest.ID] = enabled
	return nil
}

func (s *memStore) GetPlugin(id string) (*models.PluginManifest, bool, error) {
	return s.manifests[id], s.enabled[id], nil
}

func (s *memStore) SetPluginEnabled(id string, enabled bool) error {
	s.enabled[id] = enabled
	return nil
}

func (s *memStore) DeletePlugin(id string) error {
	delete(s.manifests, id)
	delete(s.enabled, id)
	return nil
}

func (s *memStore) ListPlugins() ([]models.PluginManifest, map[string]bool, error) {
	var out []models.PluginManifest
	for _, m := range s.manifests {
		out = append(out, *m)
	}
	return out, s.enabled, nil
}

func (s *memStore) RecordAccessViolation(pluginID, function, violation string) error {
	s.violations = append(s.violations, fmt.Sprintf("%s/%s: %s", pluginID, function, violation))
	return nil
}

// fakeBuiltin is a scriptable in-process plugin.
type fakeBuiltin struct {
	manifest *models.PluginManifest
	fn       func(ctx context.Context, function string, payload map[string]any) (map[string]any, error)
}

func (f *fakeBuiltin) Manifest() *models.PluginManifest { return f.manifest }

func (f *fakeBuiltin) Invoke(ctx context.Context, function string, payload map[string]any) (map[string]any, error) {
	return f.fn(ctx, function, payload)
}

func testManifest(id string) *models.PluginManifest {
	return &models.PluginManifest{
		ID:       id,
		Name:     "Test Plugin",
		Version:  "0.1.0",
		Language: "builtin",
		Functions: []models.FunctionDecl{
			{Name: "run"},
		},
	}
}

func setupManager(t *testing.T) (*Manager, *memStore, *hooks.Bus) {
	t.Helper()
	store := newMemStore()
	bus := hooks.NewBus(time.Second)
	return NewManager(store, bus, t.TempDir(), time.Second), store, bus
}

func TestRegisterBuiltin_Invoke(t *testing.T) {
	m, _, _ := setupManager(t)

	b := &fakeBuiltin{
		manifest: testManifest("p1"),
		fn: func(ctx context.Context, function string, payload map[string]any) (map[string]any, error) {
			return map[string]any{"echo": payload["input"]}, nil
		},
	}
	if err := m.RegisterBuiltin(context.Background(), b); err != nil {
		t.Fatalf("RegisterBuiltin failed: %v", err)
	}

	result, err := m.Invoke(context.Background(), "p1", "run", map[string]any{"input": "hello"})
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if result["echo"] != "hello" {
		t.Errorf("result = %v, want echo=hello", result)
	}

	_, state, err := m.Get("p1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if state.Status != models.PluginRunning {
		t.Errorf("Status = %s, want running", state.Status)
	}
}

func TestInvoke_UnknownPluginAndFunction(t *testing.T) {
	m, _, _ := setupManager(t)

	_, err := m.Invoke(context.Background(), "ghost", "run", nil)
	if !faults.IsKind(err, faults.NotFound) {
		t.Errorf("unknown plugin: got %v, want NotFound", err)
	}

	b := &fakeBuiltin{manifest: testManifest("p1"), fn: func(context.Context, string, map[string]any) (map[string]any, error) {
		return nil, nil
	}}
	if err := m.RegisterBuiltin(context.Background(), b); err != nil {
		t.Fatalf("RegisterBuiltin failed: %v", err)
	}

	_, err = m.Invoke(context.Background(), "p1", "missing", nil)
	if !faults.IsKind(err, faults.NotFound) {
		t.Errorf("unknown function: got %v, want NotFound", err)
	}
}

func TestInvoke_DisabledPlugin(t *testing.T) {
	m, _, _ := setupManager(t)

	b := &fakeBuiltin{manifest: testManifest("p1"), fn: func(context.Context, string, map[string]any) (map[string]any, error) {
		return nil, nil
	}}
	if err := m.RegisterBuiltin(context.Background(), b); err != nil {
		t.Fatalf("RegisterBuiltin failed: %v", err)
	}
	if err := m.Disable("p1"); err != nil {
		t.Fatalf("Disable failed: %v", err)
	}

	_, err := m.Invoke(context.Background(), "p1", "run", nil)
	if !faults.IsKind(err, faults.Validation) {
		t.Errorf("got %v, want Validation", err)
	}

	if err := m.Enable("p1"); err != nil {
		t.Fatalf("Enable failed: %v", err)
	}
	if _, err := m.Invoke(context.Background(), "p1", "run", nil); err != nil {
		t.Errorf("Invoke after Enable failed: %v", err)
	}
}

func TestInvoke_RateLimitAudited(t *testing.T) {
	m, store, _ := setupManager(t)

	manifest := testManifest("p1")
	manifest.Limits.MaxInvocationsPerMin = 2
	b := &fakeBuiltin{manifest: manifest, fn: func(context.Context, string, map[string]any) (map[string]any, error) {
		return nil, nil
	}}
	if err := m.RegisterBuiltin(context.Background(), b); err != nil {
		t.Fatalf("RegisterBuiltin failed: %v", err)
	}

	for i := 0; i < 2; i++ {
		if _, err := m.Invoke(context.Background(), "p1", "run", nil); err != nil {
			t.Fatalf("Invoke %d failed: %v", i, err)
		}
	}

	_, err := m.Invoke(context.Background(), "p1", "run", nil)
	if !faults.IsKind(err, faults.AccessViolation) {
		t.Errorf("got %v, want AccessViolation", err)
	}
	if len(store.violations) != 1 {
		t.Errorf("violations = %v, want one audit entry", store.violations)
	}
}

func TestInvoke_FunctionErrorIsNotCrash(t *testing.T) {
	m, _, _ := setupManager(t)

	b := &fakeBuiltin{manifest: testManifest("p1"), fn: func(context.Context, string, map[string]any) (map[string]any, error) {
		return nil, fmt.Errorf("bad input")
	}}
	if err := m.RegisterBuiltin(context.Background(), b); err != nil {
		t.Fatalf("RegisterBuiltin failed: %v", err)
	}

	_, err := m.Invoke(context.Background(), "p1", "run", nil)
	if !faults.IsKind(err, faults.HandlerFailure) {
		t.Errorf("got %v, want HandlerFailure", err)
	}

	_, state, _ := m.Get("p1")
	if state.Status != models.PluginRunning {
		t.Errorf("Status = %s, want running after function error", state.Status)
	}
}

func TestInvoke_TimeoutCrashesAndRestartRecovers(t *testing.T) {
	m, _, _ := setupManager(t)

	manifest := testManifest("p1")
	manifest.Limits.MaxWallClock = 20 * time.Millisecond
	b := &fakeBuiltin{manifest: manifest, fn: func(ctx context.Context, _ string, _ map[string]any) (map[string]any, error) {
		<-ctx.Done()
		time.Sleep(time.Second)
		return nil, ctx.Err()
	}}
	if err := m.RegisterBuiltin(context.Background(), b); err != nil {
		t.Fatalf("RegisterBuiltin failed: %v", err)
	}

	_, err := m.Invoke(context.Background(), "p1", "run", nil)
	if !faults.IsKind(err, faults.HandlerFailure) {
		t.Fatalf("got %v, want HandlerFailure", err)
	}

	_, state, _ := m.Get("p1")
	if state.Status != models.PluginError {
		t.Fatalf("Status = %s, want error after timeout", state.Status)
	}
	if state.LastError == "" {
		t.Error("LastError is empty, want failure message")
	}

	if err := m.Restart(context.Background(), "p1"); err != nil {
		t.Fatalf("Restart failed: %v", err)
	}
	_, state, _ = m.Get("p1")
	if state.Status != models.PluginRunning {
		t.Errorf("Status = %s, want running after restart", state.Status)
	}
	if state.RestartCount != 1 {
		t.Errorf("RestartCount = %d, want 1", state.RestartCount)
	}
}

func TestRestart_RunningPluginRejected(t *testing.T) {
	m, _, _ := setupManager(t)

	b := &fakeBuiltin{manifest: testManifest("p1"), fn: func(context.Context, string, map[string]any) (map[string]any, error) {
		return nil, nil
	}}
	if err := m.RegisterBuiltin(context.Background(), b); err != nil {
		t.Fatalf("RegisterBuiltin failed: %v", err)
	}

	err := m.Restart(context.Background(), "p1")
	if !faults.IsKind(err, faults.Validation) {
		t.Errorf("got %v, want Validation", err)
	}
}

func TestAuthorize_UndeclaredPermissionAudited(t *testing.T) {
	m, store, _ := setupManager(t)

	manifest := testManifest("p1")
	manifest.Permissions = []models.Permission{models.PermissionCostRead}
	b := &fakeBuiltin{manifest: manifest, fn: func(context.Context, string, map[string]any) (map[string]any, error) {
		return nil, nil
	}}
	if err := m.RegisterBuiltin(context.Background(), b); err != nil {
		t.Fatalf("RegisterBuiltin failed: %v", err)
	}

	if err := m.Authorize("p1", "run", models.PermissionCostRead); err != nil {
		t.Errorf("declared permission denied: %v", err)
	}

	err := m.Authorize("p1", "run", models.PermissionNetwork)
	if !faults.IsKind(err, faults.AccessViolation) {
		t.Errorf("got %v, want AccessViolation", err)
	}
	if len(store.violations) != 1 {
		t.Errorf("violations = %v, want one audit entry", store.violations)
	}
}

func TestManifestHooks_WiredIntoBus(t *testing.T) {
	m, _, bus := setupManager(t)

	manifest := testManifest("p1")
	manifest.Hooks = []models.HookRegistration{
		{HandlerID: "p1.on-session", EventType: string(hooks.EventSessionStarted), Function: "run", Priority: 5},
	}

	var gotPayload map[string]any
	b := &fakeBuiltin{manifest: manifest, fn: func(_ context.Context, _ string, payload map[string]any) (map[string]any, error) {
		gotPayload = payload
		return map[string]any{"ok": true}, nil
	}}
	if err := m.RegisterBuiltin(context.Background(), b); err != nil {
		t.Fatalf("RegisterBuiltin failed: %v", err)
	}

	if bus.HandlerCount(hooks.EventSessionStarted) != 1 {
		t.Fatalf("HandlerCount = %d, want 1", bus.HandlerCount(hooks.EventSessionStarted))
	}

	results, failures := bus.Dispatch(context.Background(), hooks.NewSessionStarted("s1", "a1"))
	if len(failures) != 0 {
		t.Fatalf("dispatch failures: %v", failures)
	}
	if len(results) != 1 || results[0].HandlerID != "p1.on-session" {
		t.Fatalf("results = %+v, want one from p1.on-session", results)
	}
	if gotPayload["event_type"] != string(hooks.EventSessionStarted) {
		t.Errorf("payload event_type = %v", gotPayload["event_type"])
	}
	if gotPayload["session_id"] != "s1" {
		t.Errorf("payload session_id = %v", gotPayload["session_id"])
	}
}

func TestUninstall_RemovesHooksAndRecord(t *testing.T) {
	m, store, bus := setupManager(t)

	manifest := testManifest("p1")
	manifest.Hooks = []models.HookRegistration{
		{HandlerID: "p1.h", EventType: string(hooks.EventCostRecorded), Function: "run"},
	}
	b := &fakeBuiltin{manifest: manifest, fn: func(context.Context, string, map[string]any) (map[string]any, error) {
		return nil, nil
	}}
	if err := m.RegisterBuiltin(context.Background(), b); err != nil {
		t.Fatalf("RegisterBuiltin failed: %v", err)
	}

	if err := m.Uninstall(context.Background(), "p1"); err != nil {
		t.Fatalf("Uninstall failed: %v", err)
	}
	if bus.HandlerCount(hooks.EventCostRecorded) != 0 {
		t.Error("hooks still registered after uninstall")
	}
	if _, ok := store.manifests["p1"]; ok {
		t.Error("store record survives uninstall")
	}

	err := m.Uninstall(context.Background(), "p1")
	if !faults.IsKind(err, faults.NotFound) {
		t.Errorf("got %v, want NotFound", err)
	}
}

func TestInstall_FromDirectory(t *testing.T) {
	m, store, bus := setupManager(t)
	dir := writePluginDir(t, "disk-plugin", `{"result":{"answer":42}}`)

	manifest, err := m.Install(context.Background(), dir, false)
	if err != nil {
		t.Fatalf("Install failed: %v", err)
	}
	if manifest.ID != "disk-plugin" {
		t.Errorf("ID = %s, want disk-plugin", manifest.ID)
	}
	if _, ok := store.manifests["disk-plugin"]; !ok {
		t.Error("plugin not persisted")
	}
	if bus.HandlerCount(hooks.EventCostRecorded) != 1 {
		t.Errorf("HandlerCount = %d, want 1", bus.HandlerCount(hooks.EventCostRecorded))
	}

	result, err := m.Invoke(context.Background(), "disk-plugin", "handle", nil)
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if got, ok := result["answer"].(float64); !ok || got != 42 {
		t.Errorf("result = %v, want answer=42", result)
	}

	_, err = m.Install(context.Background(), dir, false)
	if !faults.IsKind(err, faults.Conflict) {
		t.Errorf("duplicate install: got %v, want Conflict", err)
	}

	if _, err := m.Install(context.Background(), dir, true); err != nil {
		t.Errorf("overwrite install failed: %v", err)
	}
}

func TestInstall_RejectedManifestChangesNothing(t *testing.T) {
	m, store, bus := setupManager(t)

	dir := t.TempDir()
	manifestYAML := `
id: bad-plugin
name: Bad Plugin
version: 0.1.0
language: sh
entry_point: run.sh
permissions:
  - teleport
`
	if err := os.WriteFile(filepath.Join(dir, ManifestFileName), []byte(manifestYAML), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}

	_, err := m.Install(context.Background(), dir, false)
	if !faults.IsKind(err, faults.Validation) {
		t.Fatalf("got %v, want Validation", err)
	}
	if len(store.manifests) != 0 {
		t.Error("rejected manifest was persisted")
	}
	if len(bus.ListAll()) != 0 {
		t.Error("rejected manifest registered hooks")
	}
	if len(m.List()) != 0 {
		t.Error("rejected manifest left runtime state")
	}
}

func TestInstall_MissingRequiredCapability(t *testing.T) {
	m, _, _ := setupManager(t)

	dir := t.TempDir()
	manifestYAML := `
id: consumer
name: Consumer
version: 0.1.0
language: sh
entry_point: run.sh
requires:
  - storage
functions:
  - name: handle
`
	if err := os.WriteFile(filepath.Join(dir, ManifestFileName), []byte(manifestYAML), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}

	_, err := m.Install(context.Background(), dir, false)
	if !faults.IsKind(err, faults.NotFound) {
		t.Errorf("got %v, want NotFound", err)
	}
}

func TestStop_DisablesDispatch(t *testing.T) {
	m, _, bus := setupManager(t)

	manifest := testManifest("p1")
	manifest.Hooks = []models.HookRegistration{
		{HandlerID: "p1.h", EventType: string(hooks.EventCostRecorded), Function: "run"},
	}
	calls := 0
	b := &fakeBuiltin{manifest: manifest, fn: func(context.Context, string, map[string]any) (map[string]any, error) {
		calls++
		return nil, nil
	}}
	if err := m.RegisterBuiltin(context.Background(), b); err != nil {
		t.Fatalf("RegisterBuiltin failed: %v", err)
	}

	if err := m.Stop("p1"); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	bus.Dispatch(context.Background(), hooks.NewCostRecorded("s1", "a1", "m", 0.1))
	if calls != 0 {
		t.Errorf("handler ran %d times while stopped, want 0", calls)
	}

	_, state, _ := m.Get("p1")
	if state.Status != models.PluginStopped {
		t.Errorf("Status = %s, want stopped", state.Status)
	}
}

func TestRestart_ReenablesDispatch(t *testing.T) {
	m, _, bus := setupManager(t)

	manifest := testManifest("p1")
	manifest.Hooks = []models.HookRegistration{
		{HandlerID: "p1.h", EventType: string(hooks.EventCostRecorded), Function: "run"},
	}
	calls := 0
	b := &fakeBuiltin{manifest: manifest, fn: func(context.Context, string, map[string]any) (map[string]any, error) {
		calls++
		return nil, nil
	}}
	if err := m.RegisterBuiltin(context.Background(), b); err != nil {
		t.Fatalf("RegisterBuiltin failed: %v", err)
	}

	if err := m.Stop("p1"); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	bus.Dispatch(context.Background(), hooks.NewCostRecorded("s1", "a1", "m", 0.1))
	if calls != 0 {
		t.Fatalf("handler ran %d times while stopped, want 0", calls)
	}

	if err := m.Restart(context.Background(), "p1"); err != nil {
		t.Fatalf("Restart failed: %v", err)
	}

	results, failures := bus.Dispatch(context.Background(), hooks.NewCostRecorded("s1", "a1", "m", 0.1))
	if len(failures) != 0 {
		t.Fatalf("dispatch failures after restart: %v", failures)
	}
	if calls != 1 || len(results) != 1 {
		t.Errorf("calls = %d, results = %d, want 1 and 1 after restart", calls, len(results))
	}
}

func TestRestart_DisabledPluginStaysQuiet(t *testing.T) {
	m, _, bus := setupManager(t)

	manifest := testManifest("p1")
	manifest.Hooks = []models.HookRegistration{
		{HandlerID: "p1.h", EventType: string(hooks.EventCostRecorded), Function: "run"},
	}
	calls := 0
	b := &fakeBuiltin{manifest: manifest, fn: func(context.Context, string, map[string]any) (map[string]any, error) {
		calls++
		return nil, nil
	}}
	if err := m.RegisterBuiltin(context.Background(), b); err != nil {
		t.Fatalf("RegisterBuiltin failed: %v", err)
	}

	if err := m.Disable("p1"); err != nil {
		t.Fatalf("Disable failed: %v", err)
	}
	if err := m.Stop("p1"); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if err := m.Restart(context.Background(), "p1"); err != nil {
		t.Fatalf("Restart failed: %v", err)
	}

	bus.Dispatch(context.Background(), hooks.NewCostRecorded("s1", "a1", "m", 0.1))
	if calls != 0 {
		t.Errorf("handler ran %d times for a disabled plugin, want 0", calls)
	}
}

func TestInvoke_FunctionRequirementChecked(t *testing.T) {
	m, store, _ := setupManager(t)

	b := &fakeBuiltin{manifest: testManifest("p1"), fn: func(context.Context, string, map[string]any) (map[string]any, error) {
		return nil, nil
	}}
	if err := m.RegisterBuiltin(context.Background(), b); err != nil {
		t.Fatalf("RegisterBuiltin failed: %v", err)
	}

	// Give the declaration a requirement the manifest never granted,
	// bypassing load-time validation.
	m.mu.Lock()
	m.plugins["p1"].manifest.Functions[0].Requires = []models.Permission{models.PermissionNetwork}
	m.mu.Unlock()

	_, err := m.Invoke(context.Background(), "p1", "run", nil)
	if !faults.IsKind(err, faults.AccessViolation) {
		t.Errorf("got %v, want AccessViolation", err)
	}
	if len(store.violations) != 1 {
		t.Errorf("violations = %v, want one audit entry", store.violations)
	}

	_, state, _ := m.Get("p1")
	if state.Status != models.PluginRunning {
		t.Errorf("Status = %s, want running after denial", state.Status)
	}
}

func TestInvoke_MemoryLimitAudited(t *testing.T) {
	m, store, _ := setupManager(t)

	manifest := testManifest("p1")
	manifest.Limits.MaxMemoryMB = 64
	b := &fakeBuiltin{manifest: manifest, fn: func(context.Context, string, map[string]any) (map[string]any, error) {
		return nil, nil
	}}
	if err := m.RegisterBuiltin(context.Background(), b); err != nil {
		t.Fatalf("RegisterBuiltin failed: %v", err)
	}

	m.mu.Lock()
	m.plugins["p1"].state.Usage.MemoryMB = 128
	m.mu.Unlock()

	_, err := m.Invoke(context.Background(), "p1", "run", nil)
	if !faults.IsKind(err, faults.AccessViolation) {
		t.Errorf("got %v, want AccessViolation", err)
	}
	if len(store.violations) != 1 {
		t.Errorf("violations = %v, want one audit entry", store.violations)
	}
}

func TestInvoke_CPULimitAudited(t *testing.T) {
	m, store, _ := setupManager(t)

	manifest := testManifest("p1")
	manifest.Limits.MaxCPUPercent = 50
	b := &fakeBuiltin{manifest: manifest, fn: func(context.Context, string, map[string]any) (map[string]any, error) {
		return nil, nil
	}}
	if err := m.RegisterBuiltin(context.Background(), b); err != nil {
		t.Fatalf("RegisterBuiltin failed: %v", err)
	}

	m.mu.Lock()
	m.plugins["p1"].state.Usage.CPUPercent = 90
	m.mu.Unlock()

	_, err := m.Invoke(context.Background(), "p1", "run", nil)
	if !faults.IsKind(err, faults.AccessViolation) {
		t.Errorf("got %v, want AccessViolation", err)
	}
	if len(store.violations) != 1 {
		t.Errorf("violations = %v, want one audit entry", store.violations)
	}
}

func TestInvoke_ProcessPluginEmitsMetrics(t *testing.T) {
	m, _, bus := setupManager(t)
	dir := writePluginDir(t, "metered", `{"result":{}}`)

	metrics := 0
	err := bus.Register(hooks.EventMetricsCollected, "test.metrics", func(context.Context, hooks.Event) (map[string]any, error) {
		metrics++
		return nil, nil
	}, 0)
	if err != nil {
		t.Fatalf("register collector: %v", err)
	}

	if _, err := m.Install(context.Background(), dir, false); err != nil {
		t.Fatalf("Install failed: %v", err)
	}
	if _, err := m.Invoke(context.Background(), "metered", "handle", nil); err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}

	if metrics != 1 {
		t.Errorf("got %d metrics events, want 1", metrics)
	}
	_, state, _ := m.Get("metered")
	if state.Usage.MemoryMB < 0 || state.Usage.CPUPercent < 0 {
		t.Errorf("usage = %+v, want non-negative samples", state.Usage)
	}
}

func TestInstall_PersistFailureLeavesNoState(t *testing.T) {
	m, store, bus := setupManager(t)
	dir := writePluginDir(t, "doomed", `{"result":{}}`)

	store.saveErr = fmt.Errorf("disk full")
	if _, err := m.Install(context.Background(), dir, false); err == nil {
		t.Fatal("Install succeeded despite persist failure")
	}

	if len(m.List()) != 0 {
		t.Error("persist failure left runtime state")
	}
	if len(bus.ListAll()) != 0 {
		t.Error("persist failure registered hooks")
	}
	if len(store.manifests) != 0 {
		t.Error("persist failure stored a manifest")
	}
}

func TestInstall_StartFailureKeepsPersistedRecord(t *testing.T) {
	m, store, _ := setupManager(t)

	dir := t.TempDir()
	manifestYAML := `
id: broken
name: Broken
version: 0.1.0
language: sh
entry_point: run.sh
functions:
  - name: handle
`
	if err := os.WriteFile(filepath.Join(dir, ManifestFileName), []byte(manifestYAML), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}

	// No run.sh: the start attempt fails after the manifest is persisted.
	if _, err := m.Install(context.Background(), dir, false); err == nil {
		t.Fatal("Install succeeded without an entry point")
	}

	if _, ok := store.manifests["broken"]; !ok {
		t.Error("manifest not persisted before the start attempt")
	}
	_, state, err := m.Get("broken")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if state.Status != models.PluginError {
		t.Errorf("Status = %s, want error", state.Status)
	}
	if state.LastError == "" {
		t.Error("LastError is empty, want failure message")
	}
}

func TestList_SortedByID(t *testing.T) {
	m, _, _ := setupManager(t)

	for _, id := range []string{"zeta", "alpha", "mid"} {
		b := &fakeBuiltin{manifest: testManifest(id), fn: func(context.Context, string, map[string]any) (map[string]any, error) {
			return nil, nil
		}}
		if err := m.RegisterBuiltin(context.Background(), b); err != nil {
			t.Fatalf("RegisterBuiltin %s failed: %v", id, err)
		}
	}

	states := m.List()
	if len(states) != 3 {
		t.Fatalf("got %d plugins, want 3", len(states))
	}
	want := []string{"alpha", "mid", "zeta"}
	for i, id := range want {
		if states[i].PluginID != id {
			t.Errorf("states[%d] = %s, want %s", i, states[i].PluginID, id)
		}
	}
}

// writePluginDir creates an installable plugin directory whose entry point
// is a shell script emitting the given JSON response.
func writePluginDir(t *testing.T, id, response string) string {
	t.Helper()
	dir := t.TempDir()

	manifestYAML := fmt.Sprintf(`
id: %s
name: Disk Plugin
version: 0.1.0
language: sh
entry_point: run.sh
functions:
  - name: handle
hooks:
  - handler_id: %s.on-cost
    event_type: cost.recorded
    function: handle
`, id, id)
	if err := os.WriteFile(filepath.Join(dir, ManifestFileName), []byte(manifestYAML), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}

	script := fmt.Sprintf("#!/bin/sh\ncat > /dev/null\necho '%s'\n", response)
	if err := os.WriteFile(filepath.Join(dir, "run.sh"), []byte(script), 0o755); err != nil {
		t.Fatalf("write entry point: %v", err)
	}
	return dir
}
