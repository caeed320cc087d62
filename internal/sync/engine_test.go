package sync

import (
	"context"
	"encoding/json"
	"strings"
	stdsync "sync"
	"testing"
	"time"

	"github.com/Null-0-00/lpg-distribution-saas-sub002/internal/db"
	"github.com/Null-0-00/lpg-distribution-saas-sub002/internal/errors"
	"github.com/Null-0-00/lpg-distribution-saas-sub002/internal/models"
)

// recordedDelivery captures one Deliver call on the fake transport.
type recordedDelivery struct {
	MutationID string
	Payload    map[string]interface{}
	Opts       DeliveryOptions
}

// fakeTransport is a scriptable Transport for engine tests.
type fakeTransport struct {
	mu         stdsync.Mutex
	lookup     func(m *models.PendingMutation) (map[string]interface{}, error)
	deliverErr error
	blockOn    chan struct{} // when set, Deliver waits for a receive

	lookups    int
	deliveries []recordedDelivery
}

func (f *fakeTransport) LookupServerRecord(ctx context.Context, m *models.PendingMutation) (map[string]interface{}, error) {
	f.mu.Lock()
	f.lookups++
	fn := f.lookup
	f.mu.Unlock()

	if fn == nil {
		return nil, nil
	}
	return fn(m)
}

func (f *fakeTransport) Deliver(ctx context.Context, m *models.PendingMutation, payload map[string]interface{}, opts DeliveryOptions) error {
	f.mu.Lock()
	block := f.blockOn
	f.mu.Unlock()
	if block != nil {
		<-block
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.deliveries = append(f.deliveries, recordedDelivery{MutationID: m.ID, Payload: payload, Opts: opts})
	return f.deliverErr
}

func (f *fakeTransport) deliveryCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.deliveries)
}

func (f *fakeTransport) lastDelivery(t *testing.T) recordedDelivery {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.deliveries) == 0 {
		t.Fatal("no deliveries recorded")
	}
	return f.deliveries[len(f.deliveries)-1]
}

func newTestEngine(t *testing.T) (*Engine, *db.Store, *fakeTransport) {
	t.Helper()

	database, err := db.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := database.Migrate(); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}

	store := db.NewStore(database)
	transport := &fakeTransport{}
	engine := NewEngine(store, transport, nil, 3)
	engine.SetOnline(true)
	return engine, store, transport
}

// TestDirectSyncSuccess tests the happy path: a sale enqueued offline with no
// matching server record is delivered directly.
func TestDirectSyncSuccess(t *testing.T) {
	engine, store, transport := newTestEngine(t)

	id, err := store.StoreOffline(models.MutationSale, json.RawMessage(`{"quantity":5,"driverId":"d1"}`))
	if err != nil {
		t.Fatalf("StoreOffline failed: %v", err)
	}

	result, err := engine.PerformSync(context.Background())
	if err != nil {
		t.Fatalf("PerformSync failed: %v", err)
	}

	if !result.Success || result.Synced != 1 || result.Failed != 0 {
		t.Errorf("result = %+v, want synced=1 failed=0", result)
	}

	m, err := store.GetMutation(id)
	if err != nil {
		t.Fatalf("GetMutation failed: %v", err)
	}
	if !m.Synced {
		t.Error("mutation should be synced after direct delivery")
	}

	d := transport.lastDelivery(t)
	if d.Opts.ConflictResolved {
		t.Error("direct sync should not carry the conflict-resolved marker")
	}
	if d.Payload["quantity"] != float64(5) {
		t.Errorf("delivered payload = %v", d.Payload)
	}
}

// TestOfflineFailsFast tests the offline precondition.
func TestOfflineFailsFast(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	engine.SetOnline(false)

	if _, err := engine.PerformSync(context.Background()); !errors.Is(err, errors.ErrOffline) {
		t.Errorf("expected OFFLINE, got %v", err)
	}
	if _, err := engine.ForceSyncAll(context.Background()); !errors.Is(err, errors.ErrOffline) {
		t.Errorf("expected OFFLINE from ForceSyncAll, got %v", err)
	}
}

// TestAlreadySyncing tests single-flight: an overlapping call fails
// immediately without altering mutation state.
func TestAlreadySyncing(t *testing.T) {
	engine, store, transport := newTestEngine(t)

	id, err := store.StoreOffline(models.MutationAction, json.RawMessage(`{"endpoint":"/reports/refresh"}`))
	if err != nil {
		t.Fatalf("StoreOffline failed: %v", err)
	}

	block := make(chan struct{})
	transport.blockOn = block

	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := engine.PerformSync(context.Background()); err != nil {
			t.Errorf("first PerformSync failed: %v", err)
		}
	}()

	// Wait for the first cycle to take the flag.
	deadline := time.After(2 * time.Second)
	for !engine.IsSyncing() {
		select {
		case <-deadline:
			t.Fatal("first cycle never started")
		case <-time.After(time.Millisecond):
		}
	}

	_, err = engine.PerformSync(context.Background())
	if !errors.Is(err, errors.ErrAlreadySyncing) {
		t.Errorf("expected ALREADY_SYNCING, got %v", err)
	}

	// The rejected call must not have touched the pending mutation.
	m, err := store.GetMutation(id)
	if err != nil {
		t.Fatalf("GetMutation failed: %v", err)
	}
	if m.RetryCount != 0 || m.Synced {
		t.Errorf("overlapping call altered state: %+v", m)
	}

	close(block)
	<-done

	if engine.IsSyncing() {
		t.Error("syncing flag should clear after the cycle")
	}
}

// TestRetryCeiling tests that a mutation failing maxRetries times is excluded
// from later cycles yet remains pending and visible in the status errors.
func TestRetryCeiling(t *testing.T) {
	engine, store, transport := newTestEngine(t)

	id, err := store.StoreOffline(models.MutationSale, json.RawMessage(`{"quantity":1}`))
	if err != nil {
		t.Fatalf("StoreOffline failed: %v", err)
	}

	transport.deliverErr = errors.New(errors.ErrDeliveryFailed, "server unavailable")

	for i := 0; i < 3; i++ {
		result, err := engine.PerformSync(context.Background())
		if err != nil {
			t.Fatalf("cycle %d failed: %v", i, err)
		}
		if result.Failed != 1 || result.Success {
			t.Errorf("cycle %d result = %+v", i, result)
		}
	}

	// Fourth cycle: the mutation is at the ceiling and is not attempted.
	attempts := transport.deliveryCount()
	result, err := engine.PerformSync(context.Background())
	if err != nil {
		t.Fatalf("fourth cycle failed: %v", err)
	}
	if result.Synced != 0 || result.Failed != 0 {
		t.Errorf("fourth cycle result = %+v, want no attempts", result)
	}
	if transport.deliveryCount() != attempts {
		t.Error("fourth cycle should not deliver")
	}

	// Still pending and inspectable.
	pending, err := store.GetPendingData()
	if err != nil {
		t.Fatalf("GetPendingData failed: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != id {
		t.Errorf("pending = %v", pending)
	}

	status, err := engine.Status()
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if len(status.Errors) != 1 || status.Errors[0].ID != id {
		t.Fatalf("status errors = %v", status.Errors)
	}
	if !strings.Contains(status.Errors[0].Error, string(errors.ErrMaxRetriesExceeded)) {
		t.Errorf("terminal failure should name the retry ceiling, got %q", status.Errors[0].Error)
	}
}

// TestConflictMergeDelivery tests detection plus merge resolution: the
// delivered payload carries the conservative quantity.
func TestConflictMergeDelivery(t *testing.T) {
	engine, store, transport := newTestEngine(t)

	id, err := store.StoreOffline(models.MutationInventory,
		json.RawMessage(`{"productId":"p1","quantity":10}`))
	if err != nil {
		t.Fatalf("StoreOffline failed: %v", err)
	}

	transport.lookup = func(m *models.PendingMutation) (map[string]interface{}, error) {
		return map[string]interface{}{
			"productId": "p1",
			"quantity":  float64(8),
			"updatedAt": float64(time.Now().UnixMilli() + 60000),
		}, nil
	}

	result, err := engine.PerformSync(context.Background())
	if err != nil {
		t.Fatalf("PerformSync failed: %v", err)
	}

	if result.Synced != 1 || result.Failed != 0 {
		t.Errorf("result = %+v", result)
	}
	if len(result.Conflicts) == 0 {
		t.Error("expected surfaced conflicts")
	}

	d := transport.lastDelivery(t)
	if !d.Opts.ConflictResolved {
		t.Error("resolved delivery should carry the conflict-resolved marker")
	}
	if d.Opts.ClientTimestamp == 0 {
		t.Error("resolved delivery should carry the client timestamp")
	}
	if d.Payload["quantity"] != float64(8) {
		t.Errorf("merged quantity = %v, want 8", d.Payload["quantity"])
	}

	m, _ := store.GetMutation(id)
	if !m.Synced || !m.ConflictResolved {
		t.Errorf("mutation state = %+v", m)
	}
}

// TestConflictMergeWithLeadingNonQuantityField tests that the conservative
// quantity merge holds when the records also differ on an attribute that
// enumerates before quantity.
func TestConflictMergeWithLeadingNonQuantityField(t *testing.T) {
	engine, store, transport := newTestEngine(t)

	if _, err := store.StoreOffline(models.MutationInventory,
		json.RawMessage(`{"productId":"p1","batchNo":"B2","quantity":5}`)); err != nil {
		t.Fatalf("StoreOffline failed: %v", err)
	}

	transport.lookup = func(m *models.PendingMutation) (map[string]interface{}, error) {
		return map[string]interface{}{
			"productId": "p1",
			"batchNo":   "B1",
			"quantity":  float64(8),
			"updatedAt": float64(time.Now().UnixMilli() + 60000),
		}, nil
	}

	result, err := engine.PerformSync(context.Background())
	if err != nil {
		t.Fatalf("PerformSync failed: %v", err)
	}
	if result.Synced != 1 || result.Failed != 0 {
		t.Fatalf("result = %+v", result)
	}

	d := transport.lastDelivery(t)
	if d.Payload["quantity"] != float64(5) {
		t.Errorf("delivered quantity = %v, want conservative 5", d.Payload["quantity"])
	}
	if d.Payload["batchNo"] != "B1" {
		t.Errorf("delivered batchNo = %v, want server value B1", d.Payload["batchNo"])
	}
}

// TestManualConflictLeftUnsynced tests that a manual strategy surfaces the
// conflict without attempting delivery.
func TestManualConflictLeftUnsynced(t *testing.T) {
	engine, store, transport := newTestEngine(t)

	id, err := store.StoreOffline(models.MutationSale, json.RawMessage(`{"quantity":5}`))
	if err != nil {
		t.Fatalf("StoreOffline failed: %v", err)
	}

	transport.lookup = func(m *models.PendingMutation) (map[string]interface{}, error) {
		return map[string]interface{}{"quantity": float64(7)}, nil
	}
	engine.RegisterConflictResolver(models.MutationSale, func(c *models.SyncConflict) *models.ConflictResolution {
		return &models.ConflictResolution{
			Strategy:   models.StrategyManual,
			ClientData: c.ClientData,
			ServerData: c.ServerData,
		}
	})

	result, err := engine.PerformSync(context.Background())
	if err != nil {
		t.Fatalf("PerformSync failed: %v", err)
	}

	if transport.deliveryCount() != 0 {
		t.Error("manual resolution must not deliver")
	}
	if len(result.Conflicts) == 0 {
		t.Error("expected surfaced conflicts")
	}
	if result.Failed != 0 || !result.Success {
		t.Errorf("manual conflict should not count as failure: %+v", result)
	}

	m, _ := store.GetMutation(id)
	if m.Synced {
		t.Error("mutation must stay unsynced")
	}
	if m.RetryCount != 1 || !strings.Contains(m.LastError, string(errors.ErrConflictManual)) {
		t.Errorf("expected conflict bookkeeping, got %+v", m)
	}
}

// TestGetPendingConflicts tests re-derivation without state mutation.
func TestGetPendingConflicts(t *testing.T) {
	engine, store, transport := newTestEngine(t)

	id, err := store.StoreOffline(models.MutationSale, json.RawMessage(`{"quantity":5}`))
	if err != nil {
		t.Fatalf("StoreOffline failed: %v", err)
	}

	transport.lookup = func(m *models.PendingMutation) (map[string]interface{}, error) {
		return map[string]interface{}{"quantity": float64(7)}, nil
	}
	engine.RegisterConflictResolver(models.MutationSale, func(c *models.SyncConflict) *models.ConflictResolution {
		return &models.ConflictResolution{Strategy: models.StrategyManual}
	})

	if _, err := engine.PerformSync(context.Background()); err != nil {
		t.Fatalf("PerformSync failed: %v", err)
	}

	conflicts, err := engine.GetPendingConflicts(context.Background())
	if err != nil {
		t.Fatalf("GetPendingConflicts failed: %v", err)
	}
	if len(conflicts) != 1 || conflicts[0].MutationID != id || conflicts[0].Field != "quantity" {
		t.Fatalf("conflicts = %+v", conflicts)
	}

	before, _ := store.GetMutation(id)
	if _, err := engine.GetPendingConflicts(context.Background()); err != nil {
		t.Fatalf("second GetPendingConflicts failed: %v", err)
	}
	after, _ := store.GetMutation(id)
	if before.RetryCount != after.RetryCount || before.Synced != after.Synced {
		t.Error("GetPendingConflicts must not mutate state")
	}
}

// TestManuallyResolveConflict tests externally supplied resolution delivery.
func TestManuallyResolveConflict(t *testing.T) {
	engine, store, transport := newTestEngine(t)

	id, err := store.StoreOffline(models.MutationSale, json.RawMessage(`{"quantity":5}`))
	if err != nil {
		t.Fatalf("StoreOffline failed: %v", err)
	}

	resolution := &models.ConflictResolution{
		Strategy:   models.StrategyClientWins,
		ClientData: map[string]interface{}{"quantity": float64(5)},
		ServerData: map[string]interface{}{"quantity": float64(7)},
	}

	if err := engine.ManuallyResolveConflict(context.Background(), id, resolution); err != nil {
		t.Fatalf("ManuallyResolveConflict failed: %v", err)
	}

	m, _ := store.GetMutation(id)
	if !m.Synced {
		t.Error("mutation should be synced after manual resolution")
	}

	d := transport.lastDelivery(t)
	if !d.Opts.ConflictResolved || d.Payload["quantity"] != float64(5) {
		t.Errorf("delivery = %+v", d)
	}

	// A manual-strategy resolution has nothing to deliver.
	err = engine.ManuallyResolveConflict(context.Background(), id,
		&models.ConflictResolution{Strategy: models.StrategyManual})
	if !errors.Is(err, errors.ErrValidation) {
		t.Errorf("expected VALIDATION_ERROR, got %v", err)
	}
}

// TestForceSyncAllBypassesDetection tests the escape hatch: client payloads
// are delivered as-is with no server lookup.
func TestForceSyncAllBypassesDetection(t *testing.T) {
	engine, store, transport := newTestEngine(t)

	if _, err := store.StoreOffline(models.MutationSale, json.RawMessage(`{"quantity":5}`)); err != nil {
		t.Fatalf("StoreOffline failed: %v", err)
	}
	if _, err := store.StoreOffline(models.MutationInventory, json.RawMessage(`{"productId":"p1","quantity":10}`)); err != nil {
		t.Fatalf("StoreOffline failed: %v", err)
	}

	transport.lookup = func(m *models.PendingMutation) (map[string]interface{}, error) {
		return map[string]interface{}{"quantity": float64(999)}, nil
	}

	result, err := engine.ForceSyncAll(context.Background())
	if err != nil {
		t.Fatalf("ForceSyncAll failed: %v", err)
	}

	if result.Synced != 2 || result.Failed != 0 {
		t.Errorf("result = %+v", result)
	}
	if transport.lookups != 0 {
		t.Error("ForceSyncAll must not query the server")
	}
	for _, d := range transport.deliveries {
		if d.Opts.ConflictResolved {
			t.Error("forced delivery should not carry the conflict-resolved marker")
		}
		if d.Payload["quantity"] == float64(999) {
			t.Error("forced delivery must use the client payload")
		}
	}
}

// TestStatus tests the derived status surface.
func TestStatus(t *testing.T) {
	engine, store, _ := newTestEngine(t)

	if _, err := store.StoreOffline(models.MutationSale, nil); err != nil {
		t.Fatalf("StoreOffline failed: %v", err)
	}

	status, err := engine.Status()
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if !status.IsOnline || status.Syncing || status.PendingItems != 1 {
		t.Errorf("status = %+v", status)
	}
	if status.LastSync != 0 {
		t.Errorf("LastSync = %d before any cycle", status.LastSync)
	}

	if _, err := engine.PerformSync(context.Background()); err != nil {
		t.Fatalf("PerformSync failed: %v", err)
	}

	status, err = engine.Status()
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if status.PendingItems != 0 || status.LastSync == 0 {
		t.Errorf("status after sync = %+v", status)
	}
}
