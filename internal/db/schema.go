package db

// Schema statements are idempotent so Migrate can run at every startup.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS offline_mutations (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL CHECK(type IN ('sale','inventory','driver','product','action','report')),
		payload TEXT NOT NULL,
		created_at INTEGER NOT NULL CHECK(created_at > 0),
		synced INTEGER NOT NULL DEFAULT 0,
		conflict_resolved INTEGER NOT NULL DEFAULT 0,
		retry_count INTEGER NOT NULL DEFAULT 0 CHECK(retry_count >= 0),
		last_error TEXT NOT NULL DEFAULT ''
	);`,

	// Replay order is created_at ascending; the index covers the pending scan.
	`CREATE INDEX IF NOT EXISTS idx_offline_mutations_pending
		ON offline_mutations(synced, created_at);`,

	`CREATE TABLE IF NOT EXISTS offline_cache (
		key TEXT PRIMARY KEY,
		payload TEXT NOT NULL,
		type TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		expiry INTEGER NOT NULL
	);`,

	`CREATE INDEX IF NOT EXISTS idx_offline_cache_expiry
		ON offline_cache(expiry);`,

	`CREATE TABLE IF NOT EXISTS offline_settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);`,
}

// Migrate creates the engine's tables and indexes if they do not exist.
func (db *DB) Migrate() error {
	for _, stmt := range schemaStatements {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}
