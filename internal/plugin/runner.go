package plugin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/corralhq/corral/pkg/models"
)

// Runner executes a plugin's functions. Process plugins and built-ins
// implement the same interface so the manager treats them uniformly.
type Runner interface {
	// Start prepares the runner for invocations.
	Start(ctx context.Context) error
	// Invoke calls one named function with a structured payload.
	Invoke(ctx context.Context, function string, payload map[string]any) (map[string]any, error)
	// Stop releases any resources held by the runner.
	Stop() error
	// PID returns the runner's process id, or zero if it has none.
	PID() int
	// Usage reports the last invocation's observed resource consumption.
	// The bool is false when the runner has nothing to report.
	Usage() (models.ResourceUsage, bool)
}

// invokeRequest is the wire document written to a process plugin's stdin.
type invokeRequest struct {
	Function string         `json:"function"`
	Payload  map[string]any `json:"payload"`
}

// invokeResponse is the wire document read from a process plugin's stdout.
type invokeResponse struct {
	Result map[string]any `json:"result,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// errInvokeTimeout distinguishes a wall-clock breach from other failures so
// the manager can account it as a crash.
var errInvokeTimeout = errors.New("invocation timed out")

// crashError marks a process-level failure. The manager moves the plugin to
// Error on a crash but not on an ordinary function error.
type crashError struct {
	err error
}

func (e *crashError) Error() string { return e.err.Error() }

func (e *crashError) Unwrap() error { return e.err }

// processRunner runs an external plugin binary, one process per invocation,
// speaking JSON over stdin/stdout.
type processRunner struct {
	binaryPath string
	lastPID    int
	lastUsage  models.ResourceUsage
	sampled    bool
}

// newProcessRunner creates a runner for the manifest's entry point,
// resolved relative to the plugin's install directory.
func newProcessRunner(manifest *models.PluginManifest, pluginDir string) *processRunner {
	return &processRunner{
		binaryPath: filepath.Join(pluginDir, manifest.EntryPoint),
	}
}

// Start verifies the entry point exists and is executable.
func (r *processRunner) Start(ctx context.Context) error {
	if _, err := exec.LookPath(r.binaryPath); err != nil {
		return fmt.Errorf("plugin entry point: %w", err)
	}
	return nil
}

// Invoke spawns the plugin binary with a JSON request on stdin and parses
// a JSON response from stdout. The caller bounds the wall clock via ctx.
func (r *processRunner) Invoke(ctx context.Context, function string, payload map[string]any) (map[string]any, error) {
	inputJSON, err := json.Marshal(invokeRequest{Function: function, Payload: payload})
	if err != nil {
		return nil, fmt.Errorf("marshal invoke request: %w", err)
	}

	cmd := exec.CommandContext(ctx, r.binaryPath)
	cmd.Stdin = bytes.NewReader(inputJSON)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err = cmd.Run()
	if cmd.Process != nil {
		r.lastPID = cmd.Process.Pid
	}
	if state := cmd.ProcessState; state != nil {
		r.lastUsage = sampleUsage(state, time.Since(start))
		r.sampled = true
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil, errInvokeTimeout
	}
	if err != nil {
		return nil, &crashError{err: fmt.Errorf("plugin process failed: %w (stderr: %s)", err, stderr.String())}
	}

	var resp invokeResponse
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return nil, fmt.Errorf("parse invoke response: %w", err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("plugin error: %s", resp.Error)
	}
	return resp.Result, nil
}

// Stop is a no-op; process plugins hold no resources between invocations.
func (r *processRunner) Stop() error {
	return nil
}

// PID returns the pid of the most recent invocation's process.
func (r *processRunner) PID() int {
	return r.lastPID
}

// Usage returns the resource consumption of the most recent invocation's
// process.
func (r *processRunner) Usage() (models.ResourceUsage, bool) {
	return r.lastUsage, r.sampled
}

// sampleUsage reads peak memory and CPU time from a finished process. Maxrss
// is reported in kilobytes on Linux and bytes on Darwin.
func sampleUsage(state *os.ProcessState, wall time.Duration) models.ResourceUsage {
	var usage models.ResourceUsage
	if ru, ok := state.SysUsage().(*syscall.Rusage); ok && ru != nil {
		maxrss := int64(ru.Maxrss)
		if runtime.GOOS == "darwin" {
			maxrss /= 1024
		}
		usage.MemoryMB = int(maxrss / 1024)
	}
	if wall > 0 {
		cpu := state.UserTime() + state.SystemTime()
		usage.CPUPercent = int(cpu * 100 / wall)
	}
	return usage
}

// Builtin is an in-process plugin. Built-ins follow the same manifest and
// permission contract as external plugins; they only skip the binary load.
type Builtin interface {
	// Manifest returns the builtin's manifest.
	Manifest() *models.PluginManifest
	// Invoke calls one of the builtin's declared functions.
	Invoke(ctx context.Context, function string, payload map[string]any) (map[string]any, error)
}

// builtinRunner adapts a Builtin to the Runner interface.
type builtinRunner struct {
	impl Builtin
}

func (r *builtinRunner) Start(ctx context.Context) error { return nil }

func (r *builtinRunner) Invoke(ctx context.Context, function string, payload map[string]any) (map[string]any, error) {
	done := make(chan struct{})
	var result map[string]any
	var err error

	go func() {
		defer close(done)
		result, err = r.impl.Invoke(ctx, function, payload)
	}()

	select {
	case <-done:
		return result, err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, errInvokeTimeout
		}
		return nil, ctx.Err()
	}
}

func (r *builtinRunner) Stop() error { return nil }

func (r *builtinRunner) PID() int { return 0 }

// Usage reports nothing; built-ins run in-process and share the host's
// accounting.
func (r *builtinRunner) Usage() (models.ResourceUsage, bool) {
	return models.ResourceUsage{}, false
}
