// Package scheduler provides the network and lifecycle trigger for the sync
// engine: connectivity transitions and an interval timer drive sync cycles,
// reference-cache refreshes and retention cleanup.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/Null-0-00/lpg-distribution-saas-sub002/internal/db"
	"github.com/Null-0-00/lpg-distribution-saas-sub002/internal/errors"
	"github.com/Null-0-00/lpg-distribution-saas-sub002/internal/logging"
	"github.com/Null-0-00/lpg-distribution-saas-sub002/internal/models"
	syncpkg "github.com/Null-0-00/lpg-distribution-saas-sub002/internal/sync"
)

// Event is one connectivity observation. Transitions are consumed by a single
// goroutine, so ordering is preserved without callback re-entrancy.
type Event struct {
	Online bool
	At     time.Time
}

// SyncEngine is the slice of the orchestrator the trigger drives.
type SyncEngine interface {
	PerformSync(ctx context.Context) (*models.SyncResult, error)
	SetOnline(online bool)
}

// ReferenceSpec names one reference dataset refreshed when connectivity
// returns.
type ReferenceSpec struct {
	Key  string
	Path string
	Type models.MutationType
	TTL  time.Duration
}

// Config holds trigger configuration.
type Config struct {
	SyncInterval    time.Duration // timer-driven sync while online
	CleanupInterval time.Duration // retention pass frequency
	Retention       time.Duration // synced mutations older than this are removed
	References      []ReferenceSpec
}

// DefaultConfig returns the trigger defaults: the reference set mirrors the
// dashboards' hot data, each with a TTL matched to how fast it goes stale.
func DefaultConfig() *Config {
	return &Config{
		SyncInterval:    5 * time.Minute,
		CleanupInterval: time.Hour,
		Retention:       7 * 24 * time.Hour,
		References: []ReferenceSpec{
			{Key: "drivers:active", Path: "/drivers?active=true", Type: models.MutationDriver, TTL: 30 * time.Minute},
			{Key: "products:priced", Path: "/products?priced=true", Type: models.MutationProduct, TTL: time.Hour},
			{Key: "company:info", Path: "/company", Type: models.MutationReport, TTL: 24 * time.Hour},
			{Key: "reports:summary", Path: "/reports/summary", Type: models.MutationReport, TTL: 15 * time.Minute},
		},
	}
}

// Scheduler consumes connectivity events and timer ticks and invokes the
// engine. No action is taken while offline except suppressing timer syncs.
type Scheduler struct {
	engine  SyncEngine
	store   *db.Store
	fetcher syncpkg.ReferenceFetcher
	config  *Config

	events chan Event
	stopCh chan struct{}
	wg     sync.WaitGroup

	mu           sync.RWMutex
	isRunning    bool
	isOnline     bool
	onStart      func()
	onResult     func(*models.SyncResult)
	onTransition func(online bool)
}

// NewScheduler creates a Scheduler. A nil config gets DefaultConfig.
func NewScheduler(engine SyncEngine, store *db.Store, fetcher syncpkg.ReferenceFetcher, config *Config) *Scheduler {
	if config == nil {
		config = DefaultConfig()
	}
	return &Scheduler{
		engine:  engine,
		store:   store,
		fetcher: fetcher,
		config:  config,
		events:  make(chan Event, 8),
	}
}

// Events returns the channel connectivity observers push transitions into.
func (s *Scheduler) Events() chan<- Event {
	return s.events
}

// Notify pushes a connectivity observation without blocking; if the trigger
// is backed up the freshest observation still lands on the next consume.
func (s *Scheduler) Notify(online bool) {
	select {
	case s.events <- Event{Online: online, At: time.Now()}:
	default:
	}
}

// SetStartHandler installs a hook invoked when a cycle begins.
func (s *Scheduler) SetStartHandler(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onStart = fn
}

// SetResultHandler installs a hook invoked after each completed cycle.
func (s *Scheduler) SetResultHandler(fn func(*models.SyncResult)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onResult = fn
}

// SetTransitionHandler installs a hook invoked on connectivity transitions.
func (s *Scheduler) SetTransitionHandler(fn func(online bool)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onTransition = fn
}

// Start launches the single consumer goroutine. A stopped trigger can be
// started again; each Start gets a fresh stop channel.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.stopCh = make(chan struct{})
	stopCh := s.stopCh
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run(ctx, stopCh)

	logging.Info("Sync trigger started", nil)
}

// Stop stops the trigger and waits for the consumer to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	stopCh := s.stopCh
	s.mu.Unlock()

	close(stopCh)
	s.wg.Wait()

	logging.Info("Sync trigger stopped", nil)
}

// run is the dedicated consumer: connectivity events, sync ticks and cleanup
// ticks all interleave here in order.
func (s *Scheduler) run(ctx context.Context, stopCh <-chan struct{}) {
	defer s.wg.Done()

	syncTicker := time.NewTicker(s.config.SyncInterval)
	defer syncTicker.Stop()

	cleanupTicker := time.NewTicker(s.config.CleanupInterval)
	defer cleanupTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return

		case ev := <-s.events:
			s.handleTransition(ctx, ev)

		case <-syncTicker.C:
			if s.IsOnline() {
				s.runSync(ctx)
			}

		case <-cleanupTicker.C:
			s.runCleanup()
		}
	}
}

// handleTransition reacts to a connectivity observation. Only the
// offline-to-online edge triggers work; repeated observations of the same
// state are ignored.
func (s *Scheduler) handleTransition(ctx context.Context, ev Event) {
	s.mu.Lock()
	wasOnline := s.isOnline
	s.isOnline = ev.Online
	onTransition := s.onTransition
	s.mu.Unlock()

	s.engine.SetOnline(ev.Online)

	if wasOnline == ev.Online {
		return
	}

	logging.Info("Connectivity changed",
		map[string]interface{}{"was_online": wasOnline, "is_online": ev.Online})

	if onTransition != nil {
		onTransition(ev.Online)
	}

	if ev.Online {
		s.runSync(ctx)
		s.refreshReferenceCaches(ctx)
	}
}

// runSync executes one engine cycle. An overlapping cycle is not an error
// here; the engine's single-flight guard already rejected it.
func (s *Scheduler) runSync(ctx context.Context) {
	s.mu.RLock()
	onStart := s.onStart
	s.mu.RUnlock()
	if onStart != nil {
		onStart()
	}

	result, err := s.engine.PerformSync(ctx)
	if err != nil {
		if errors.Is(err, errors.ErrAlreadySyncing) {
			logging.Debug("Sync already in progress, skipping", nil)
			return
		}
		logging.ErrorWithCode("Triggered sync failed", string(errors.Code(err)), err)
		return
	}

	s.mu.RLock()
	onResult := s.onResult
	s.mu.RUnlock()
	if onResult != nil {
		onResult(result)
	}
}

// refreshReferenceCaches fetches the configured reference datasets and stores
// them with their type-specific TTLs. Independent of the mutation path: a
// failed refresh never affects pending mutations.
func (s *Scheduler) refreshReferenceCaches(ctx context.Context) {
	if s.fetcher == nil {
		return
	}

	for _, ref := range s.config.References {
		raw, err := s.fetcher.FetchReference(ctx, ref.Path)
		if err != nil {
			logging.Warn("Reference refresh failed",
				map[string]interface{}{"key": ref.Key, "error": err.Error()})
			continue
		}
		if err := s.store.CacheData(ref.Key, raw, ref.Type, ref.TTL); err != nil {
			logging.Error("Failed to cache reference data", err,
				map[string]interface{}{"key": ref.Key})
		}
	}

	logging.Debug("Reference caches refreshed",
		map[string]interface{}{"count": len(s.config.References)})
}

// runCleanup removes synced mutations past the retention window.
func (s *Scheduler) runCleanup() {
	cutoff := time.Now().Add(-s.config.Retention).UnixMilli()
	removed, err := s.store.Cleanup(cutoff)
	if err != nil {
		logging.Error("Retention cleanup failed", err)
		return
	}
	if removed > 0 {
		logging.Info("Retention cleanup completed",
			map[string]interface{}{"removed": removed})
	}
}

// TriggerSync runs an immediate cycle inline on the caller. The engine's
// single-flight guard arbitrates against a concurrent consumer cycle.
// Returns false when the trigger is not running or offline.
func (s *Scheduler) TriggerSync(ctx context.Context) bool {
	s.mu.RLock()
	running := s.isRunning
	online := s.isOnline
	s.mu.RUnlock()

	if !running || !online {
		return false
	}

	s.runSync(ctx)
	return true
}

// IsOnline reports the last observed connectivity state.
func (s *Scheduler) IsOnline() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isOnline
}

// IsRunning reports whether the trigger is active.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}
