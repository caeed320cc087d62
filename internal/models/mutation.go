// Package models provides data model definitions for the offline sync engine.
package models

import "encoding/json"

// MutationType identifies which transport target and which conflict resolver
// apply to a pending mutation. The enumeration is closed: resolver dispatch
// switches over it with a mandatory default arm, so a new type is a
// compile-visible decision rather than a silent fallback.
type MutationType string

const (
	MutationSale      MutationType = "sale"
	MutationInventory MutationType = "inventory"
	MutationDriver    MutationType = "driver"
	MutationProduct   MutationType = "product"
	MutationAction    MutationType = "action"
	MutationReport    MutationType = "report"
)

// AllMutationTypes lists every member of the closed enumeration.
func AllMutationTypes() []MutationType {
	return []MutationType{
		MutationSale,
		MutationInventory,
		MutationDriver,
		MutationProduct,
		MutationAction,
		MutationReport,
	}
}

// Valid reports whether t is a member of the closed enumeration.
func (t MutationType) Valid() bool {
	switch t {
	case MutationSale, MutationInventory, MutationDriver,
		MutationProduct, MutationAction, MutationReport:
		return true
	}
	return false
}

// Deliverable reports whether mutations of this type have a transport target.
// driver, product and report records are cache-only reference data.
func (t MutationType) Deliverable() bool {
	switch t {
	case MutationSale, MutationInventory, MutationAction:
		return true
	}
	return false
}

// PendingMutation is a locally queued, not-yet-confirmed change destined for
// the server. A mutation with Synced=true is never mutated again except by
// retention cleanup. RetryCount is monotonic.
type PendingMutation struct {
	ID               string          `db:"id" json:"id"`
	Type             MutationType    `db:"type" json:"type"`
	Payload          json.RawMessage `db:"payload" json:"payload"`
	CreatedAt        int64           `db:"created_at" json:"created_at"` // epoch milliseconds
	Synced           bool            `db:"synced" json:"synced"`
	ConflictResolved bool            `db:"conflict_resolved" json:"conflict_resolved"`
	RetryCount       int             `db:"retry_count" json:"retry_count"`
	LastError        string          `db:"last_error" json:"last_error,omitempty"`
}

// TableName returns the table name for PendingMutation.
func (PendingMutation) TableName() string {
	return "offline_mutations"
}

// Eligible reports whether the mutation may be attempted by an automatic sync
// cycle: not yet synced and under the retry ceiling.
func (m *PendingMutation) Eligible(maxRetries int) bool {
	return !m.Synced && m.RetryCount < maxRetries
}

// PayloadMap decodes the payload into a generic field map for conflict
// comparison. A nil payload decodes to an empty map.
func (m *PendingMutation) PayloadMap() (map[string]interface{}, error) {
	fields := make(map[string]interface{})
	if len(m.Payload) == 0 {
		return fields, nil
	}
	if err := json.Unmarshal(m.Payload, &fields); err != nil {
		return nil, err
	}
	return fields, nil
}
