package models

import "encoding/json"

// CacheEntry is a cached piece of reference data with an absolute expiry.
// Expiration is lazy: a read past Expiry treats the entry as absent even if
// the row is still physically stored.
type CacheEntry struct {
	Key       string          `db:"key" json:"key"`
	Payload   json.RawMessage `db:"payload" json:"payload"`
	Type      MutationType    `db:"type" json:"type"`
	Timestamp int64           `db:"timestamp" json:"timestamp"` // epoch milliseconds
	Expiry    int64           `db:"expiry" json:"expiry"`       // epoch milliseconds
}

// TableName returns the table name for CacheEntry.
func (CacheEntry) TableName() string {
	return "offline_cache"
}

// Expired reports whether the entry is stale at the given epoch-ms instant.
func (e *CacheEntry) Expired(nowMillis int64) bool {
	return nowMillis > e.Expiry
}

// Setting is a scalar key/value pair, used at minimum for the last-sync
// timestamp.
type Setting struct {
	Key   string `db:"key" json:"key"`
	Value string `db:"value" json:"value"`
}

// TableName returns the table name for Setting.
func (Setting) TableName() string {
	return "offline_settings"
}

// SettingLastSync is the settings key recording the last successful sync,
// stored as epoch milliseconds.
const SettingLastSync = "lastSyncTimestamp"
