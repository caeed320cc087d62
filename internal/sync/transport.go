// Package sync provides the offline-first synchronization orchestrator: it
// replays pending mutations against the server of record, detecting and
// resolving per-field conflicts along the way.
package sync

import (
	"context"
	"encoding/json"

	"github.com/Null-0-00/lpg-distribution-saas-sub002/internal/models"
)

// DeliveryOptions carry provenance for a delivery attempt. Every delivery is
// tagged with the mutation id so the server can deduplicate re-deliveries;
// resolved deliveries additionally carry the conflict marker and the original
// client timestamp.
type DeliveryOptions struct {
	ConflictResolved bool
	ClientTimestamp  int64 // epoch milliseconds
}

// Transport is the HTTP-like request/response boundary to the per-type server
// endpoints. Implementations decide concrete endpoints and methods; the
// orchestrator treats them as opaque targets.
type Transport interface {
	// LookupServerRecord fetches the server's current version of the record
	// underlying the mutation, using the type-specific lookup key. A nil map
	// with a nil error means no server version exists.
	LookupServerRecord(ctx context.Context, m *models.PendingMutation) (map[string]interface{}, error)

	// Deliver sends a payload to the mutation's endpoint.
	Deliver(ctx context.Context, m *models.PendingMutation, payload map[string]interface{}, opts DeliveryOptions) error
}

// ReferenceFetcher retrieves reference data for the cache-refresh path,
// independent of mutation delivery.
type ReferenceFetcher interface {
	FetchReference(ctx context.Context, path string) (json.RawMessage, error)
}
