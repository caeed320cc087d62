package conflict

import (
	"sync"
	"time"

	"github.com/Null-0-00/lpg-distribution-saas-sub002/internal/logging"
	"github.com/Null-0-00/lpg-distribution-saas-sub002/internal/models"
)

// ResolverFunc decides how a detected conflict is reconciled.
type ResolverFunc func(*models.SyncConflict) *models.ConflictResolution

// Registry maps mutation types to resolution functions. A registered resolver
// fully overrides the built-in heuristic for its type.
type Registry struct {
	mu        sync.RWMutex
	resolvers map[models.MutationType]ResolverFunc
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		resolvers: make(map[models.MutationType]ResolverFunc),
	}
}

// Register installs or overrides the resolver for a type.
func (r *Registry) Register(mtype models.MutationType, fn ResolverFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resolvers[mtype] = fn
}

// Lookup returns the registered resolver for a type, if any.
func (r *Registry) Lookup(mtype models.MutationType) (ResolverFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.resolvers[mtype]
	return fn, ok
}

// Resolve reconciles a conflict using the registered resolver for its type,
// falling back to the default heuristic.
func (r *Registry) Resolve(c *models.SyncConflict) *models.ConflictResolution {
	if fn, ok := r.Lookup(c.Type); ok {
		return fn(c)
	}
	return DefaultResolve(c)
}

// DefaultResolve applies the built-in heuristic for the conflict's type.
// Dispatch is a switch over the closed enumeration; the default arm trusts
// the offline-originated record (client wins) until proven conflicting.
func DefaultResolve(c *models.SyncConflict) *models.ConflictResolution {
	var resolution *models.ConflictResolution

	switch c.Type {
	case models.MutationSale:
		resolution = resolveSaleLastWriterWins(c)
	case models.MutationInventory:
		resolution = resolveInventoryConservative(c)
	case models.MutationDriver, models.MutationProduct, models.MutationAction, models.MutationReport:
		resolution = clientWins(c)
	default:
		resolution = clientWins(c)
	}

	logging.Info("Conflict resolved",
		map[string]interface{}{
			"mutation_id": c.MutationID,
			"type":        string(c.Type),
			"field":       c.Field,
			"strategy":    string(resolution.Strategy),
		})

	return resolution
}

// resolveSaleLastWriterWins compares the mutation's local timestamp against
// the server record's update time; whichever is newer wins.
func resolveSaleLastWriterWins(c *models.SyncConflict) *models.ConflictResolution {
	clientTime := TimestampOf(c.ClientData, "createdAt", "timestamp")
	if clientTime == 0 {
		clientTime = c.Timestamp
	}
	serverTime := TimestampOf(c.ServerData, "updatedAt", "createdAt")

	strategy := models.StrategyClientWins
	if serverTime > clientTime {
		strategy = models.StrategyServerWins
	}

	return &models.ConflictResolution{
		Strategy:   strategy,
		ClientData: c.ClientData,
		ServerData: c.ServerData,
		Timestamp:  time.Now().UnixMilli(),
	}
}

// resolveInventoryConservative never overstates stock. The decision is made
// over the full client and server records, not the single field the conflict
// was reported on: whenever any quantity-like field diverges, the merge takes
// the minimum of each, with the server staying authoritative for every other
// attribute. Without a quantity divergence the server record wins outright.
func resolveInventoryConservative(c *models.SyncConflict) *models.ConflictResolution {
	merged := make(map[string]interface{}, len(c.ClientData)+len(c.ServerData))
	for k, v := range c.ClientData {
		merged[k] = v
	}
	for k, v := range c.ServerData {
		merged[k] = v
	}

	mergedAny := false
	for _, field := range []string{"quantity", "fullCylinders"} {
		cv, cok := asNumber(c.ClientData[field])
		sv, sok := asNumber(c.ServerData[field])
		if !cok || !sok {
			continue
		}
		low := cv
		if sv < cv {
			low = sv
		}
		merged[field] = low
		if cv != sv {
			mergedAny = true
		}
	}

	if mergedAny {
		return &models.ConflictResolution{
			Strategy:   models.StrategyMerge,
			ClientData: c.ClientData,
			ServerData: c.ServerData,
			MergedData: merged,
			Timestamp:  time.Now().UnixMilli(),
		}
	}

	return &models.ConflictResolution{
		Strategy:   models.StrategyServerWins,
		ClientData: c.ClientData,
		ServerData: c.ServerData,
		Timestamp:  time.Now().UnixMilli(),
	}
}

func clientWins(c *models.SyncConflict) *models.ConflictResolution {
	return &models.ConflictResolution{
		Strategy:   models.StrategyClientWins,
		ClientData: c.ClientData,
		ServerData: c.ServerData,
		Timestamp:  time.Now().UnixMilli(),
	}
}
