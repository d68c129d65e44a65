package modelsync

import (
	"context"
	"fmt"
	"log"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/corralhq/corral/internal/hooks"
	"github.com/corralhq/corral/pkg/faults"
	"github.com/corralhq/corral/pkg/models"
)

// DefaultSyncInterval is the catalog refresh period when none is configured.
const DefaultSyncInterval = 6 * time.Hour

// DefaultProviderTimeout bounds one provider's fetch within a run.
const DefaultProviderTimeout = 30 * time.Second

// Store is the slice of the storage layer the scheduler lands results in.
type Store interface {
	UpsertModels(records []models.ModelInfo) error
	AppendSyncHistory(entry *models.SyncHistoryEntry) error
	ListModels() ([]models.ModelInfo, error)
}

// Options tune the scheduler.
type Options struct {
	// Interval is the period between automatic sync runs.
	Interval time.Duration
	// ProviderTimeout bounds each provider fetch.
	ProviderTimeout time.Duration
	// PriceDriftThreshold is the relative price change (0.2 = 20%) beyond
	// which a threshold event fires. Zero disables drift detection.
	PriceDriftThreshold float64
}

// Scheduler periodically fans out to every registered provider, merges the
// fetched records, and applies them to the catalog in one atomic batch.
// One provider failing never blocks the others; its failure is recorded in
// the run's history entry.
type Scheduler struct {
	mu        sync.Mutex
	providers []Provider

	store Store
	bus   *hooks.Bus
	opts  Options

	running bool
	stop    chan struct{}
	loop    sync.WaitGroup

	// runMu serializes runs so a manual trigger cannot interleave with a
	// scheduled one.
	runMu sync.Mutex
}

// NewScheduler creates a scheduler. Zero option fields fall back to the
// package defaults.
func NewScheduler(store Store, bus *hooks.Bus, opts Options) *Scheduler {
	if opts.Interval <= 0 {
		opts.Interval = DefaultSyncInterval
	}
	if opts.ProviderTimeout <= 0 {
		opts.ProviderTimeout = DefaultProviderTimeout
	}
	return &Scheduler{store: store, bus: bus, opts: opts}
}

// RegisterProvider adds a provider. Provider names are unique.
func (s *Scheduler) RegisterProvider(p Provider) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.providers {
		if existing.Name() == p.Name() {
			return faults.New(faults.Conflict, "provider %q is already registered", p.Name())
		}
	}
	s.providers = append(s.providers, p)
	return nil
}

// Providers returns the registered provider names, sorted.
func (s *Scheduler) Providers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.providers))
	for _, p := range s.providers {
		names = append(names, p.Name())
	}
	sort.Strings(names)
	return names
}

// Start begins the periodic sync loop. Calling Start on a running
// scheduler is a no-op. The first run fires immediately.
func (s *Scheduler) Start(ctx context.Context) {
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

		if _, err := s.TriggerSync(ctx); err != nil {
			log.Printf("[modelsync] initial sync: %v", err)
		}

		ticker := time.NewTicker(s.opts.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.TriggerSync(ctx); err != nil {
					log.Printf("[modelsync] scheduled sync: %v", err)
				}
			}
		}
	}()
}

// Stop halts the loop and waits for any in-flight run to finish. Calling
// Stop on a stopped scheduler is a no-op.
func (s *Scheduler) Stop() {
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

// IsRunning reports whether the periodic loop is active.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// TriggerSync runs one sync across every registered provider and returns
// the run's history entry.
func (s *Scheduler) TriggerSync(ctx context.Context) (*models.SyncHistoryEntry, error) {
	s.mu.Lock()
	providers := make([]Provider, len(s.providers))
	copy(providers, s.providers)
	s.mu.Unlock()

	if len(providers) == 0 {
		return nil, faults.New(faults.Validation, "no providers registered")
	}
	return s.run(ctx, providers)
}

// TriggerProviderSync runs one sync against a single named provider.
func (s *Scheduler) TriggerProviderSync(ctx context.Context, name string) (*models.SyncHistoryEntry, error) {
	s.mu.Lock()
	var target Provider
	for _, p := range s.providers {
		if p.Name() == name {
			target = p
			break
		}
	}
	s.mu.Unlock()

	if target == nil {
		return nil, faults.New(faults.NotFound, "provider %q is not registered", name)
	}
	return s.run(ctx, []Provider{target})
}

// fetchOutcome is one provider's contribution to a run.
type fetchOutcome struct {
	result models.ProviderResult
	batch  []models.ModelInfo
}

// run fans out to the given providers concurrently, merges the batches,
// detects price drift against the current catalog, and lands the result.
func (s *Scheduler) run(ctx context.Context, providers []Provider) (*models.SyncHistoryEntry, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	entry := &models.SyncHistoryEntry{
		RunID:     uuid.New().String(),
		StartedAt: time.Now().UTC(),
	}

	outcomes := make([]fetchOutcome, len(providers))
	var wg sync.WaitGroup
	for i, p := range providers {
		wg.Add(1)
		go func(i int, p Provider) {
			defer wg.Done()
			outcomes[i] = s.fetch(ctx, p)
		}(i, p)
	}
	wg.Wait()

	// Per-provider outcomes are reported in name order so history entries
	// are stable across runs.
	sort.Slice(outcomes, func(i, j int) bool {
		return outcomes[i].result.Provider < outcomes[j].result.Provider
	})

	var batches [][]models.ModelInfo
	for _, out := range outcomes {
		entry.ProviderResults = append(entry.ProviderResults, out.result)
		if out.result.Error == "" {
			batches = append(batches, out.batch)
		}
	}

	merged, conflicts := Merge(batches)

	if len(merged) > 0 {
		// Rank incoming records against what the catalog already holds, so
		// a partial run cannot displace records from a stronger source.
		current := s.loadCatalog()
		kept, storedConflicts := reconcile(current, merged)
		conflicts += storedConflicts
		merged = kept

		s.detectDrift(ctx, current, merged)
		if len(merged) > 0 {
			if err := s.store.UpsertModels(merged); err != nil {
				entry.Error = err.Error()
			}
		}
	}
	entry.ConflictsResolved = conflicts

	entry.FinishedAt = time.Now().UTC()
	if err := s.store.AppendSyncHistory(entry); err != nil {
		return entry, fmt.Errorf("append sync history: %w", err)
	}

	for _, out := range outcomes {
		if out.result.Error == "" {
			s.bus.Dispatch(ctx, hooks.NewModelSynced(out.result.Provider, out.result.ModelCount, entry.RunID))
		}
	}

	log.Printf("[modelsync] run %s: %d providers, %d models, %d conflicts resolved",
		entry.RunID, len(providers), len(merged), conflicts)
	return entry, nil
}

// fetch runs one provider under the per-provider timeout.
func (s *Scheduler) fetch(ctx context.Context, p Provider) fetchOutcome {
	fetchCtx, cancel := context.WithTimeout(ctx, s.opts.ProviderTimeout)
	defer cancel()

	start := time.Now()
	batch, err := p.FetchModels(fetchCtx)
	result := models.ProviderResult{
		Provider:   p.Name(),
		Duration:   time.Since(start),
		ModelCount: len(batch),
	}
	if err != nil {
		result.Error = faults.Wrap(faults.ProviderFailure, err, "fetch %s", p.Name()).Error()
		result.ModelCount = 0
		log.Printf("[modelsync] provider %s failed: %v", p.Name(), err)
		return fetchOutcome{result: result}
	}

	// Stamp provenance so the merge policy can rank the records.
	now := time.Now().UTC()
	for i := range batch {
		batch[i].Official = p.IsOfficialSource()
		batch[i].SourcePriority = p.Priority()
		if batch[i].LastSynced.IsZero() {
			batch[i].LastSynced = now
		}
	}
	return fetchOutcome{result: result, batch: batch}
}

// loadCatalog reads the stored catalog keyed by models.ModelInfo.Key. A
// read failure degrades to an empty catalog; the run proceeds unreconciled.
func (s *Scheduler) loadCatalog() map[string]models.ModelInfo {
	existing, err := s.store.ListModels()
	if err != nil {
		log.Printf("[modelsync] catalog read failed, run proceeds unreconciled: %v", err)
		return nil
	}
	current := make(map[string]models.ModelInfo, len(existing))
	for _, m := range existing {
		current[m.Key()] = m
	}
	return current
}

// detectDrift compares incoming prices against the stored catalog and
// emits a threshold event for every model whose price moved more than the
// configured fraction.
func (s *Scheduler) detectDrift(ctx context.Context, current map[string]models.ModelInfo, incoming []models.ModelInfo) {
	if s.opts.PriceDriftThreshold <= 0 {
		return
	}

	for _, m := range incoming {
		old, ok := current[m.Key()]
		if !ok {
			continue
		}
		if drift := relativeDrift(old.InputPrice, m.InputPrice); drift > s.opts.PriceDriftThreshold {
			s.bus.Dispatch(ctx, hooks.NewThresholdExceeded("price_drift:"+m.Key()+":input", drift, s.opts.PriceDriftThreshold))
		}
		if drift := relativeDrift(old.OutputPrice, m.OutputPrice); drift > s.opts.PriceDriftThreshold {
			s.bus.Dispatch(ctx, hooks.NewThresholdExceeded("price_drift:"+m.Key()+":output", drift, s.opts.PriceDriftThreshold))
		}
	}
}

// relativeDrift returns |new-old|/old, or 0 when there is no old price to
// compare against.
func relativeDrift(oldPrice, newPrice float64) float64 {
	if oldPrice == 0 {
		return 0
	}
	return math.Abs(newPrice-oldPrice) / oldPrice
}
