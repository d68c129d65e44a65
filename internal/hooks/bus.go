package hooks

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/corralhq/corral/pkg/faults"
)

// HandlerFunc is the function invocation substrate for hook delivery.
// Payload in, structured key/value document out.
type HandlerFunc func(ctx context.Context, event Event) (map[string]any, error)

// HandlerResult is the outcome of one successful handler invocation.
type HandlerResult struct {
	// HandlerID identifies the registration that produced the result.
	HandlerID string
	// Output is the handler's structured result, may be nil.
	Output map[string]any
	// Duration is how long the handler ran.
	Duration time.Duration
}

// HandlerFailure reports one handler that errored or timed out during a
// dispatch. Failures never abort dispatch of subsequent handlers.
type HandlerFailure struct {
	// HandlerID identifies the failing registration.
	HandlerID string
	// Err is the classified failure.
	Err error
}

// registration is one handler entry in the bus registry.
type registration struct {
	id       string
	fn       HandlerFunc
	priority int
	seq      uint64
	enabled  bool
}

// Bus maps event types to ordered handler lists and dispatches events to
// them sequentially in priority order. Safe for concurrent registration
// and dispatch; each dispatch operates on a snapshot of the handler list
// taken when it starts.
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventType][]*registration
	nextSeq  uint64

	// handlerTimeout bounds each handler invocation so a misbehaving
	// handler cannot stall strictly-lower-priority handlers forever.
	handlerTimeout time.Duration
}

// DefaultHandlerTimeout bounds a single handler invocation.
const DefaultHandlerTimeout = 30 * time.Second

// NewBus creates an empty Bus. A non-positive handlerTimeout falls back to
// DefaultHandlerTimeout.
func NewBus(handlerTimeout time.Duration) *Bus {
	if handlerTimeout <= 0 {
		handlerTimeout = DefaultHandlerTimeout
	}
	return &Bus{
		handlers:       make(map[EventType][]*registration),
		handlerTimeout: handlerTimeout,
	}
}

// Register upserts a handler for the given event type. Re-registering the
// same handlerID replaces the previous registration and re-sorts the list.
// Ordering is by descending priority, ties broken by registration order.
func (b *Bus) Register(eventType EventType, handlerID string, fn HandlerFunc, priority int) error {
	if handlerID == "" {
		return faults.New(faults.Validation, "handler id must not be empty")
	}
	if fn == nil {
		return faults.New(faults.Validation, "handler %q has no function", handlerID)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	list := b.handlers[eventType]
	for i, reg := range list {
		if reg.id == handlerID {
			// Replace in place; the new registration gets a fresh
			// sequence number so it sorts as the newest among equals.
			b.nextSeq++
			list[i] = &registration{id: handlerID, fn: fn, priority: priority, seq: b.nextSeq, enabled: reg.enabled}
			b.sortLocked(eventType)
			return nil
		}
	}

	b.nextSeq++
	b.handlers[eventType] = append(list, &registration{
		id:       handlerID,
		fn:       fn,
		priority: priority,
		seq:      b.nextSeq,
		enabled:  true,
	})
	b.sortLocked(eventType)
	return nil
}

// Unregister removes a handler. No-op if the handler is absent.
func (b *Bus) Unregister(eventType EventType, handlerID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	list := b.handlers[eventType]
	for i, reg := range list {
		if reg.id == handlerID {
			b.handlers[eventType] = append(list[:i], list[i+1:]...)
			if len(b.handlers[eventType]) == 0 {
				delete(b.handlers, eventType)
			}
			return
		}
	}
}

// SetEnabled toggles whether a handler participates in dispatch without
// removing its registration. Returns false if the handler is unknown.
func (b *Bus) SetEnabled(eventType EventType, handlerID string, enabled bool) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, reg := range b.handlers[eventType] {
		if reg.id == handlerID {
			reg.enabled = enabled
			return true
		}
	}
	return false
}

// Dispatch resolves the event's type, snapshots the current ordered handler
// list, and invokes each enabled handler sequentially in priority order.
// A handler failure is contained: it is logged, returned in the failure
// list, and never aborts dispatch of subsequent handlers. Zero registered
// handlers yield empty results and no error.
func (b *Bus) Dispatch(ctx context.Context, event Event) ([]HandlerResult, []HandlerFailure) {
	snapshot := b.snapshot(event.Type())

	var results []HandlerResult
	var failures []HandlerFailure

	for _, reg := range snapshot {
		if !reg.enabled {
			continue
		}

		output, duration, err := b.invoke(ctx, reg, event)
		if err != nil {
			log.Printf("[hooks] handler %s failed on %s: %v", reg.id, event.Type(), err)
			failures = append(failures, HandlerFailure{
				HandlerID: reg.id,
				Err:       faults.Wrap(faults.HandlerFailure, err, "handler %s", reg.id),
			})
			continue
		}

		results = append(results, HandlerResult{
			HandlerID: reg.id,
			Output:    output,
			Duration:  duration,
		})
	}

	return results, failures
}

// invoke runs one handler under the per-handler timeout, converting panics
// into errors so one bad handler cannot take down the dispatcher.
func (b *Bus) invoke(ctx context.Context, reg registration, event Event) (map[string]any, time.Duration, error) {
	callCtx, cancel := context.WithTimeout(ctx, b.handlerTimeout)
	defer cancel()

	type outcome struct {
		output map[string]any
		err    error
	}

	done := make(chan outcome, 1)
	start := time.Now()

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("handler panic: %v", r)}
			}
		}()
		output, err := reg.fn(callCtx, event)
		done <- outcome{output: output, err: err}
	}()

	select {
	case out := <-done:
		return out.output, time.Since(start), out.err
	case <-callCtx.Done():
		return nil, time.Since(start), fmt.Errorf("handler timed out after %v", b.handlerTimeout)
	}
}

// ListAll returns the registered handler ids per event type, in dispatch
// order. Intended for diagnostics and management UIs.
func (b *Bus) ListAll() map[EventType][]string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	all := make(map[EventType][]string, len(b.handlers))
	for eventType, list := range b.handlers {
		ids := make([]string, 0, len(list))
		for _, reg := range list {
			ids = append(ids, reg.id)
		}
		all[eventType] = ids
	}
	return all
}

// HandlerCount returns the number of handlers registered for an event type.
func (b *Bus) HandlerCount(eventType EventType) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[eventType])
}

// snapshot copies the handler list for an event type so an in-flight
// dispatch is unaffected by concurrent registrations, removals, or
// enable/disable toggles. Values are copied, not pointers.
func (b *Bus) snapshot(eventType EventType) []registration {
	b.mu.RLock()
	defer b.mu.RUnlock()

	list := b.handlers[eventType]
	if len(list) == 0 {
		return nil
	}
	snapshot := make([]registration, len(list))
	for i, reg := range list {
		snapshot[i] = *reg
	}
	return snapshot
}

// sortLocked re-sorts one event type's handler list. Caller must hold b.mu.
func (b *Bus) sortLocked(eventType EventType) {
	list := b.handlers[eventType]
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].priority != list[j].priority {
			return list[i].priority > list[j].priority
		}
		return list[i].seq < list[j].seq
	})
}
