package sync

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/Null-0-00/lpg-distribution-saas-sub002/internal/db"
	"github.com/Null-0-00/lpg-distribution-saas-sub002/internal/errors"
	"github.com/Null-0-00/lpg-distribution-saas-sub002/internal/logging"
	"github.com/Null-0-00/lpg-distribution-saas-sub002/internal/models"
	"github.com/Null-0-00/lpg-distribution-saas-sub002/internal/sync/conflict"
)

// DefaultMaxRetries is the retry ceiling: mutations that have failed this
// many deliveries are excluded from automatic cycles. A hard cutoff, not a
// backoff schedule.
const DefaultMaxRetries = 3

// manualConflictError is recorded as a mutation's last error when resolution
// requires manual intervention. GetPendingConflicts keys off the embedded
// CONFLICT_MANUAL_RESOLUTION code.
var manualConflictError = errors.New(errors.ErrConflictManual, "conflict requires manual resolution").Error()

// Engine owns the synchronization cycle. Construct one per process at the
// composition root and pass it by reference; there is no package-level
// instance.
//
// Delivery is at-least-once: a crash between a successful delivery and
// MarkSynced leaves the mutation unsynced locally, and the next cycle
// re-delivers it. The X-Mutation-ID idempotency header lets the server
// deduplicate; the engine makes no exactly-once claim.
type Engine struct {
	store      *db.Store
	transport  Transport
	resolvers  *conflict.Registry
	maxRetries int

	// syncing is the single-flight guard. CompareAndSwap makes the
	// check-then-set one indivisible step.
	syncing atomic.Bool
	online  atomic.Bool
}

// NewEngine creates an Engine over an opened store and a transport. A nil
// registry gets a fresh one; maxRetries <= 0 selects DefaultMaxRetries. The
// engine starts offline until the connectivity trigger reports otherwise.
func NewEngine(store *db.Store, transport Transport, resolvers *conflict.Registry, maxRetries int) *Engine {
	if resolvers == nil {
		resolvers = conflict.NewRegistry()
	}
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &Engine{
		store:      store,
		transport:  transport,
		resolvers:  resolvers,
		maxRetries: maxRetries,
	}
}

// IsSyncing reports whether a cycle is currently active.
func (e *Engine) IsSyncing() bool {
	return e.syncing.Load()
}

// SetOnline records the trigger's connectivity observation.
func (e *Engine) SetOnline(online bool) {
	e.online.Store(online)
}

// IsOnline reports the last observed connectivity state.
func (e *Engine) IsOnline() bool {
	return e.online.Load()
}

// RegisterConflictResolver installs or overrides the resolver for a type.
func (e *Engine) RegisterConflictResolver(mtype models.MutationType, fn conflict.ResolverFunc) {
	e.resolvers.Register(mtype, fn)
}

// PerformSync runs the conflict-aware cycle over every eligible pending
// mutation, oldest first. Fails fast with OFFLINE when the network is
// unreachable and ALREADY_SYNCING when a cycle is active. Per-item failures
// never abort the cycle; the result aggregates outcomes.
func (e *Engine) PerformSync(ctx context.Context) (*models.SyncResult, error) {
	if !e.online.Load() {
		return nil, errors.New(errors.ErrOffline, "network is unreachable")
	}
	if !e.syncing.CompareAndSwap(false, true) {
		return nil, errors.New(errors.ErrAlreadySyncing, "sync cycle already in progress")
	}
	defer e.syncing.Store(false)

	pending, err := e.store.GetPendingData()
	if err != nil {
		return nil, err
	}

	result := &models.SyncResult{}

	for _, m := range pending {
		if ctx.Err() != nil {
			break
		}
		if !m.Eligible(e.maxRetries) {
			// At or past the retry ceiling: not attempted, not failed
			// again. Still inspectable via the store and status surface.
			continue
		}
		e.syncOne(ctx, m, result)
	}

	result.Success = result.Failed == 0
	e.recordLastSync()

	logging.Info("Sync cycle completed",
		map[string]interface{}{
			"synced":    result.Synced,
			"failed":    result.Failed,
			"conflicts": len(result.Conflicts),
		})

	return result, nil
}

// syncOne runs the lookup / detect / resolve / deliver pipeline for a single
// mutation and folds the outcome into result.
func (e *Engine) syncOne(ctx context.Context, m *models.PendingMutation, result *models.SyncResult) {
	client, err := m.PayloadMap()
	if err != nil {
		e.failItem(m, result, fmt.Sprintf("malformed payload: %v", err))
		return
	}

	var server map[string]interface{}
	if m.Type == models.MutationSale || m.Type == models.MutationInventory {
		server, err = e.transport.LookupServerRecord(ctx, m)
		if err != nil {
			e.failItem(m, result, fmt.Sprintf("server lookup failed: %v", err))
			return
		}
	}

	// No server baseline, or no material difference: direct sync.
	if server == nil || !(conflict.ServerNewer(server, m.CreatedAt) || conflict.HasConflict(client, server)) {
		e.deliver(ctx, m, client, DeliveryOptions{}, result)
		return
	}

	conflicts := conflict.Detect(m, client, server)
	if len(conflicts) == 0 {
		// updatedAt moved but no payload field differs; the client copy is
		// still the intended change.
		e.deliver(ctx, m, client, DeliveryOptions{}, result)
		return
	}

	resolution := e.resolvers.Resolve(&conflicts[0])

	if resolution.Strategy == models.StrategyManual {
		result.Conflicts = append(result.Conflicts, conflicts...)
		if err := e.store.UpdateRetryCount(m.ID, manualConflictError); err != nil {
			logging.Error("Failed to record manual conflict", err,
				map[string]interface{}{"mutation_id": m.ID})
		}
		logging.Warn("Conflict requires manual resolution",
			map[string]interface{}{"mutation_id": m.ID, "type": string(m.Type), "fields": len(conflicts)})
		return
	}

	payload := resolution.DeliveryPayload()
	if payload == nil {
		e.failItem(m, result, "resolver returned no deliverable payload")
		return
	}

	result.Conflicts = append(result.Conflicts, conflicts...)
	e.deliver(ctx, m, payload, DeliveryOptions{ConflictResolved: true, ClientTimestamp: m.CreatedAt}, result)
}

// deliver sends one payload and updates store bookkeeping for the outcome.
func (e *Engine) deliver(ctx context.Context, m *models.PendingMutation, payload map[string]interface{}, opts DeliveryOptions, result *models.SyncResult) {
	if err := e.transport.Deliver(ctx, m, payload, opts); err != nil {
		e.failItem(m, result, err.Error())
		return
	}

	if err := e.store.MarkSynced(m.ID); err != nil {
		// Delivered but not recorded; the next cycle re-delivers and the
		// idempotency header covers the duplicate.
		e.failItem(m, result, fmt.Sprintf("delivered but not marked synced: %v", err))
		return
	}

	result.Synced++
}

// failItem records a per-item delivery failure without aborting the cycle.
// A failure that lands the mutation on the retry ceiling is recorded under
// MAX_RETRIES_EXCEEDED so the status surface names the terminal state.
func (e *Engine) failItem(m *models.PendingMutation, result *models.SyncResult, msg string) {
	code := errors.ErrDeliveryFailed
	if m.RetryCount+1 >= e.maxRetries {
		code = errors.ErrMaxRetriesExceeded
		msg = errors.New(code, msg).Error()
	}

	result.Failed++
	result.Errors = append(result.Errors, models.SyncError{ID: m.ID, Error: msg})

	if err := e.store.UpdateRetryCount(m.ID, msg); err != nil {
		logging.Error("Failed to update retry bookkeeping", err,
			map[string]interface{}{"mutation_id": m.ID})
	}

	logging.ErrorWithCode("Mutation delivery failed", string(code), nil,
		map[string]interface{}{"mutation_id": m.ID, "type": string(m.Type), "error": msg})
}

// ForceSyncAll delivers every eligible mutation's client payload directly,
// bypassing server lookup, conflict detection and resolution. An explicit
// escape hatch, not the default path.
func (e *Engine) ForceSyncAll(ctx context.Context) (*models.SyncResult, error) {
	if !e.online.Load() {
		return nil, errors.New(errors.ErrOffline, "network is unreachable")
	}
	if !e.syncing.CompareAndSwap(false, true) {
		return nil, errors.New(errors.ErrAlreadySyncing, "sync cycle already in progress")
	}
	defer e.syncing.Store(false)

	pending, err := e.store.GetPendingData()
	if err != nil {
		return nil, err
	}

	result := &models.SyncResult{}

	for _, m := range pending {
		if ctx.Err() != nil {
			break
		}
		if !m.Eligible(e.maxRetries) {
			continue
		}

		client, err := m.PayloadMap()
		if err != nil {
			e.failItem(m, result, fmt.Sprintf("malformed payload: %v", err))
			continue
		}
		e.deliver(ctx, m, client, DeliveryOptions{}, result)
	}

	result.Success = result.Failed == 0
	e.recordLastSync()

	return result, nil
}

// GetPendingConflicts re-derives conflicts for mutations whose last error
// indicates a prior conflict, by re-querying the server and re-running
// detection. Does not mutate state.
func (e *Engine) GetPendingConflicts(ctx context.Context) ([]models.SyncConflict, error) {
	pending, err := e.store.GetPendingData()
	if err != nil {
		return nil, err
	}

	var conflicts []models.SyncConflict
	for _, m := range pending {
		if m.RetryCount == 0 || !strings.Contains(m.LastError, string(errors.ErrConflictManual)) {
			continue
		}

		client, err := m.PayloadMap()
		if err != nil {
			continue
		}

		server, err := e.transport.LookupServerRecord(ctx, m)
		if err != nil || server == nil {
			continue
		}

		conflicts = append(conflicts, conflict.Detect(m, client, server)...)
	}

	return conflicts, nil
}

// ManuallyResolveConflict applies an externally supplied resolution to one
// mutation, delivers the selected payload and marks the mutation synced on
// success.
func (e *Engine) ManuallyResolveConflict(ctx context.Context, mutationID string, resolution *models.ConflictResolution) error {
	if resolution == nil {
		return errors.New(errors.ErrValidation, "resolution is required")
	}

	payload := resolution.DeliveryPayload()
	if payload == nil {
		return errors.New(errors.ErrValidation,
			fmt.Sprintf("strategy %q yields no deliverable payload", resolution.Strategy))
	}

	m, err := e.store.GetMutation(mutationID)
	if err != nil {
		return err
	}
	if m.Synced {
		return nil
	}

	opts := DeliveryOptions{ConflictResolved: true, ClientTimestamp: m.CreatedAt}
	if err := e.transport.Deliver(ctx, m, payload, opts); err != nil {
		if uerr := e.store.UpdateRetryCount(m.ID, err.Error()); uerr != nil {
			logging.Error("Failed to update retry bookkeeping", uerr,
				map[string]interface{}{"mutation_id": m.ID})
		}
		return errors.Wrap(errors.ErrDeliveryFailed, "manual resolution delivery failed", err)
	}

	if err := e.store.MarkSynced(m.ID); err != nil {
		return err
	}

	logging.Info("Conflict manually resolved",
		map[string]interface{}{"mutation_id": m.ID, "strategy": string(resolution.Strategy)})

	return nil
}

// Status derives the observable status surface from the store and the
// trigger's connectivity observation.
func (e *Engine) Status() (*models.SyncStatus, error) {
	pendingCount, err := e.store.PendingCount()
	if err != nil {
		return nil, err
	}

	status := &models.SyncStatus{
		IsOnline:     e.online.Load(),
		Syncing:      e.syncing.Load(),
		PendingItems: pendingCount,
	}

	if raw, err := e.store.GetSetting(models.SettingLastSync); err == nil && raw != "" {
		if ms, perr := strconv.ParseInt(raw, 10, 64); perr == nil {
			status.LastSync = ms
		}
	}

	failed, err := e.store.FailedMutations(e.maxRetries)
	if err != nil {
		return nil, err
	}
	for _, m := range failed {
		status.Errors = append(status.Errors, models.SyncError{
			ID:        m.ID,
			Error:     m.LastError,
			Timestamp: m.CreatedAt,
		})
	}

	return status, nil
}

// MaxRetries returns the configured retry ceiling.
func (e *Engine) MaxRetries() int {
	return e.maxRetries
}

func (e *Engine) recordLastSync() {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	if err := e.store.SetSetting(models.SettingLastSync, now); err != nil {
		logging.Error("Failed to record last sync time", err)
	}
}
