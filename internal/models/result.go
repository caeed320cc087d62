package models

// SyncError pairs a mutation id with its failure description.
type SyncError struct {
	ID        string `json:"id"`
	Error     string `json:"error"`
	Timestamp int64  `json:"timestamp,omitempty"` // epoch milliseconds
}

// SyncResult aggregates per-item outcomes of one sync cycle. Success is true
// iff no item failed; surfaced conflicts do not count as failures.
type SyncResult struct {
	Success   bool           `json:"success"`
	Conflicts []SyncConflict `json:"conflicts"`
	Synced    int            `json:"synced"`
	Failed    int            `json:"failed"`
	Errors    []SyncError    `json:"errors"`
}

// SyncStatus is the observable status surface, derived from the record store
// and the trigger's online/offline observation.
type SyncStatus struct {
	IsOnline     bool        `json:"is_online"`
	LastSync     int64       `json:"last_sync"` // epoch milliseconds, 0 when never synced
	PendingItems int         `json:"pending_items"`
	Syncing      bool        `json:"syncing"`
	Errors       []SyncError `json:"errors"`
}
