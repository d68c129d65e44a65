package hooks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/corralhq/corral/pkg/faults"
)

// okHandler returns a handler that records its id into calls when invoked.
func okHandler(id string, calls *[]string, mu *sync.Mutex) HandlerFunc {
	return func(ctx context.Context, event Event) (map[string]any, error) {
		mu.Lock()
		defer mu.Unlock()
		*calls = append(*calls, id)
		return map[string]any{"handler": id}, nil
	}
}

func TestBus_Register_OrdersByPriorityThenRegistration(t *testing.T) {
	bus := NewBus(0)
	var calls []string
	var mu sync.Mutex

	// Registered out of priority order, with a tie between b1 and b2.
	if err := bus.Register(EventCostRecorded, "low", okHandler("low", &calls, &mu), 1); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := bus.Register(EventCostRecorded, "b1", okHandler("b1", &calls, &mu), 5); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := bus.Register(EventCostRecorded, "high", okHandler("high", &calls, &mu), 10); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := bus.Register(EventCostRecorded, "b2", okHandler("b2", &calls, &mu), 5); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	results, failures := bus.Dispatch(context.Background(), NewCostRecorded("s1", "a1", "m", 0.01))
	if len(failures) != 0 {
		t.Fatalf("unexpected failures: %v", failures)
	}

	want := []string{"high", "b1", "b2", "low"}
	if len(results) != len(want) {
		t.Fatalf("got %d results, want %d", len(results), len(want))
	}
	for i, id := range want {
		if results[i].HandlerID != id {
			t.Errorf("results[%d] = %s, want %s", i, results[i].HandlerID, id)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	for i, id := range want {
		if calls[i] != id {
			t.Errorf("calls[%d] = %s, want %s", i, calls[i], id)
		}
	}
}

func TestBus_Register_UpsertReplacesAndResorts(t *testing.T) {
	bus := NewBus(0)
	var calls []string
	var mu sync.Mutex

	bus.Register(EventSessionEnded, "a", okHandler("a", &calls, &mu), 1)
	bus.Register(EventSessionEnded, "b", okHandler("b", &calls, &mu), 5)

	// Re-register "a" with a higher priority; it should now run first and
	// the handler count should not grow.
	bus.Register(EventSessionEnded, "a", okHandler("a", &calls, &mu), 10)

	if n := bus.HandlerCount(EventSessionEnded); n != 2 {
		t.Fatalf("HandlerCount = %d, want 2", n)
	}

	results, _ := bus.Dispatch(context.Background(), NewSessionEnded("s", "a", "completed", time.Minute))
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].HandlerID != "a" || results[1].HandlerID != "b" {
		t.Errorf("order = [%s %s], want [a b]", results[0].HandlerID, results[1].HandlerID)
	}
}

func TestBus_Register_Validation(t *testing.T) {
	bus := NewBus(0)

	if err := bus.Register(EventCostRecorded, "", func(ctx context.Context, e Event) (map[string]any, error) {
		return nil, nil
	}, 0); !faults.IsKind(err, faults.Validation) {
		t.Errorf("empty id: got %v, want Validation", err)
	}

	if err := bus.Register(EventCostRecorded, "h", nil, 0); !faults.IsKind(err, faults.Validation) {
		t.Errorf("nil fn: got %v, want Validation", err)
	}
}

func TestBus_Dispatch_NoHandlers(t *testing.T) {
	bus := NewBus(0)

	results, failures := bus.Dispatch(context.Background(), NewAgentConnected("a1", "claude-code"))
	if len(results) != 0 {
		t.Errorf("got %d results, want 0", len(results))
	}
	if len(failures) != 0 {
		t.Errorf("got %d failures, want 0", len(failures))
	}
}

func TestBus_Dispatch_FailureIsolation(t *testing.T) {
	bus := NewBus(0)
	var calls []string
	var mu sync.Mutex

	bus.Register(EventThresholdExceeded, "gate", func(ctx context.Context, e Event) (map[string]any, error) {
		return nil, errors.New("veto")
	}, 10)
	bus.Register(EventThresholdExceeded, "notify", okHandler("notify", &calls, &mu), 5)

	results, failures := bus.Dispatch(context.Background(), NewThresholdExceeded("daily_cost", 12.5, 10))

	if len(results) != 1 || results[0].HandlerID != "notify" {
		t.Fatalf("expected only notify to succeed, got %+v", results)
	}
	if len(failures) != 1 || failures[0].HandlerID != "gate" {
		t.Fatalf("expected gate failure, got %+v", failures)
	}
	if !faults.IsKind(failures[0].Err, faults.HandlerFailure) {
		t.Errorf("failure kind = %v, want HandlerFailure", faults.KindOf(failures[0].Err))
	}
}

func TestBus_Dispatch_RecoversPanic(t *testing.T) {
	bus := NewBus(0)

	bus.Register(EventPluginInstalled, "bad", func(ctx context.Context, e Event) (map[string]any, error) {
		panic("boom")
	}, 0)

	results, failures := bus.Dispatch(context.Background(), NewPluginInstalled("p1", "1.0.0"))
	if len(results) != 0 {
		t.Errorf("got %d results, want 0", len(results))
	}
	if len(failures) != 1 {
		t.Fatalf("got %d failures, want 1", len(failures))
	}
}

func TestBus_Dispatch_HandlerTimeout(t *testing.T) {
	bus := NewBus(20 * time.Millisecond)

	bus.Register(EventModelSynced, "slow", func(ctx context.Context, e Event) (map[string]any, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Second):
			return map[string]any{}, nil
		}
	}, 10)

	var ran bool
	bus.Register(EventModelSynced, "fast", func(ctx context.Context, e Event) (map[string]any, error) {
		ran = true
		return nil, nil
	}, 1)

	start := time.Now()
	results, failures := bus.Dispatch(context.Background(), NewModelSynced("anthropic", 4, "run1"))
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("dispatch took %v, timeout not enforced", elapsed)
	}

	if len(failures) != 1 || failures[0].HandlerID != "slow" {
		t.Fatalf("expected slow handler to time out, got %+v", failures)
	}
	if !ran || len(results) != 1 {
		t.Error("lower-priority handler should still run after a timeout")
	}
}

func TestBus_Unregister(t *testing.T) {
	bus := NewBus(0)
	var calls []string
	var mu sync.Mutex

	bus.Register(EventSessionStarted, "h1", okHandler("h1", &calls, &mu), 0)

	// Unknown handler and unknown event type are both no-ops.
	bus.Unregister(EventSessionStarted, "missing")
	bus.Unregister(EventAgentConnected, "h1")

	if n := bus.HandlerCount(EventSessionStarted); n != 1 {
		t.Fatalf("HandlerCount = %d, want 1", n)
	}

	bus.Unregister(EventSessionStarted, "h1")
	if n := bus.HandlerCount(EventSessionStarted); n != 0 {
		t.Errorf("HandlerCount after unregister = %d, want 0", n)
	}

	all := bus.ListAll()
	if _, ok := all[EventSessionStarted]; ok {
		t.Error("ListAll should not contain an event type with no handlers")
	}
}

func TestBus_SetEnabled_SkipsDisabledHandlers(t *testing.T) {
	bus := NewBus(0)
	var calls []string
	var mu sync.Mutex

	bus.Register(EventCostRecorded, "exporter", okHandler("exporter", &calls, &mu), 0)

	if ok := bus.SetEnabled(EventCostRecorded, "exporter", false); !ok {
		t.Fatal("SetEnabled returned false for a known handler")
	}

	results, _ := bus.Dispatch(context.Background(), NewCostRecorded("s", "a", "m", 1))
	if len(results) != 0 {
		t.Fatalf("disabled handler ran: %+v", results)
	}

	// Registration survives the disable.
	if n := bus.HandlerCount(EventCostRecorded); n != 1 {
		t.Errorf("HandlerCount = %d, want 1", n)
	}

	bus.SetEnabled(EventCostRecorded, "exporter", true)
	results, _ = bus.Dispatch(context.Background(), NewCostRecorded("s", "a", "m", 1))
	if len(results) != 1 {
		t.Error("re-enabled handler did not run")
	}

	if ok := bus.SetEnabled(EventCostRecorded, "missing", false); ok {
		t.Error("SetEnabled returned true for an unknown handler")
	}
}

func TestBus_ConcurrentRegisterAndDispatch(t *testing.T) {
	bus := NewBus(0)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				id := fmt.Sprintf("h-%d-%d", n, j)
				bus.Register(EventMetricsCollected, id, func(ctx context.Context, e Event) (map[string]any, error) {
					return nil, nil
				}, j%5)
				bus.Dispatch(context.Background(), NewMetricsCollected("p", 10, 1.5))
				bus.Unregister(EventMetricsCollected, id)
			}
		}(i)
	}
	wg.Wait()

	if n := bus.HandlerCount(EventMetricsCollected); n != 0 {
		t.Errorf("HandlerCount = %d, want 0 after all unregisters", n)
	}
}
