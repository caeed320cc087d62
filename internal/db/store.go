package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Null-0-00/lpg-distribution-saas-sub002/internal/errors"
	"github.com/Null-0-00/lpg-distribution-saas-sub002/internal/ident"
	"github.com/Null-0-00/lpg-distribution-saas-sub002/internal/models"
)

// Store provides durable operations for the three record families: pending
// mutations, TTL-keyed reference cache and scalar settings. All operations
// fail with STORE_NOT_INITIALIZED if the store was not opened successfully;
// callers must not proceed without one.
type Store struct {
	db *sql.DB

	// Prepared statement cache for frequently used queries.
	// Statements are prepared on first use and cached for reuse.
	stmtCache sync.Map // map[string]*sql.Stmt
}

// NewStore creates a Store over an opened database.
func NewStore(db *DB) *Store {
	if db == nil {
		return &Store{}
	}
	return &Store{db: db.DB}
}

// ready guards every operation against an unopened store.
func (s *Store) ready() error {
	if s == nil || s.db == nil {
		return errors.New(errors.ErrStoreNotInitialized, "record store is not initialized")
	}
	return nil
}

// prepareStmt gets or creates a prepared statement from cache.
func (s *Store) prepareStmt(query string) (*sql.Stmt, error) {
	if stmt, ok := s.stmtCache.Load(query); ok {
		return stmt.(*sql.Stmt), nil
	}

	stmt, err := s.db.Prepare(query)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare statement: %w", err)
	}

	actual, loaded := s.stmtCache.LoadOrStore(query, stmt)
	if loaded {
		// Another goroutine already prepared this, close our duplicate
		stmt.Close()
		return actual.(*sql.Stmt), nil
	}

	return stmt, nil
}

// Close closes all cached prepared statements.
func (s *Store) Close() error {
	var firstErr error
	s.stmtCache.Range(func(key, value interface{}) bool {
		stmt := value.(*sql.Stmt)
		if err := stmt.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		return true
	})
	return firstErr
}

// =====================================================
// Pending mutation operations
// =====================================================

// StoreOffline persists a new pending mutation and returns its id. The
// mutation starts unsynced with a zero retry count and is durable across
// process restart.
func (s *Store) StoreOffline(mtype models.MutationType, payload json.RawMessage) (string, error) {
	if err := s.ready(); err != nil {
		return "", err
	}
	if !mtype.Valid() {
		return "", errors.New(errors.ErrValidation, fmt.Sprintf("unknown mutation type %q", mtype))
	}
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}

	now := time.Now()
	id := ident.NewAt(now)

	query := `
	INSERT INTO offline_mutations (id, type, payload, created_at, synced, conflict_resolved, retry_count, last_error)
	VALUES (?, ?, ?, ?, 0, 0, 0, '')
	`
	if _, err := s.db.Exec(query, id, string(mtype), string(payload), now.UnixMilli()); err != nil {
		return "", errors.Wrap(errors.ErrDatabase, "failed to store offline mutation", err)
	}

	return id, nil
}

// GetPendingData returns all unsynced mutations ordered oldest first,
// optionally filtered by type. The ascending created_at order defines replay
// order: dependent mutations on the same entity must not be reordered.
func (s *Store) GetPendingData(types ...models.MutationType) ([]*models.PendingMutation, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	baseQuery := `
	SELECT id, type, payload, created_at, synced, conflict_resolved, retry_count, last_error
	FROM offline_mutations WHERE synced = 0
	`
	order := " ORDER BY created_at ASC, id ASC"

	var query string
	var args []interface{}

	if len(types) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(types)), ", ")
		query = baseQuery + " AND type IN (" + placeholders + ")" + order
		args = make([]interface{}, 0, len(types))
		for _, mtype := range types {
			args = append(args, string(mtype))
		}
	} else {
		query = baseQuery + order
	}

	stmt, err := s.prepareStmt(query)
	if err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "failed to prepare pending query", err)
	}

	rows, err := stmt.Query(args...)
	if err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "failed to query pending mutations", err)
	}
	defer rows.Close()

	var mutations []*models.PendingMutation
	for rows.Next() {
		m, err := scanMutation(rows)
		if err != nil {
			return nil, errors.Wrap(errors.ErrDatabase, "failed to scan mutation", err)
		}
		mutations = append(mutations, m)
	}

	return mutations, rows.Err()
}

// GetMutation retrieves a single mutation by id.
func (s *Store) GetMutation(id string) (*models.PendingMutation, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	query := `
	SELECT id, type, payload, created_at, synced, conflict_resolved, retry_count, last_error
	FROM offline_mutations WHERE id = ?
	`
	stmt, err := s.prepareStmt(query)
	if err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "failed to prepare mutation query", err)
	}

	m, err := scanMutation(stmt.QueryRow(id))
	if err == sql.ErrNoRows {
		return nil, errors.New(errors.ErrNotFound, fmt.Sprintf("mutation %s not found", id))
	}
	if err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "failed to get mutation", err)
	}
	return m, nil
}

// MarkSynced marks a mutation as delivered and its conflicts resolved.
// Idempotent: marking an already-synced or absent id is not an error.
func (s *Store) MarkSynced(id string) error {
	if err := s.ready(); err != nil {
		return err
	}

	query := `UPDATE offline_mutations SET synced = 1, conflict_resolved = 1 WHERE id = ?`
	if _, err := s.db.Exec(query, id); err != nil {
		return errors.Wrap(errors.ErrDatabase, "failed to mark mutation synced", err)
	}
	return nil
}

// UpdateRetryCount increments a mutation's retry count and records the last
// failure description when provided. RetryCount only ever grows. The
// read-modify-write is a single UPDATE, so it cannot interleave with another
// bump. No-op if the id is absent.
func (s *Store) UpdateRetryCount(id, lastError string) error {
	if err := s.ready(); err != nil {
		return err
	}

	query := `
	UPDATE offline_mutations
	SET retry_count = retry_count + 1,
	    last_error = CASE WHEN ? != '' THEN ? ELSE last_error END
	WHERE id = ?
	`
	if _, err := s.db.Exec(query, lastError, lastError, id); err != nil {
		return errors.Wrap(errors.ErrDatabase, "failed to update retry count", err)
	}
	return nil
}

// PendingCount returns the number of unsynced mutations.
func (s *Store) PendingCount() (int, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}

	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM offline_mutations WHERE synced = 0`).Scan(&count)
	if err != nil {
		return 0, errors.Wrap(errors.ErrDatabase, "failed to count pending mutations", err)
	}
	return count, nil
}

// FailedMutations returns unsynced mutations at or past the retry ceiling.
// These are skipped by automatic cycles and remain for manual intervention.
func (s *Store) FailedMutations(maxRetries int) ([]*models.PendingMutation, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	query := `
	SELECT id, type, payload, created_at, synced, conflict_resolved, retry_count, last_error
	FROM offline_mutations WHERE synced = 0 AND retry_count >= ?
	ORDER BY created_at ASC, id ASC
	`
	rows, err := s.db.Query(query, maxRetries)
	if err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "failed to query failed mutations", err)
	}
	defer rows.Close()

	var mutations []*models.PendingMutation
	for rows.Next() {
		m, err := scanMutation(rows)
		if err != nil {
			return nil, errors.Wrap(errors.ErrDatabase, "failed to scan mutation", err)
		}
		mutations = append(mutations, m)
	}

	return mutations, rows.Err()
}

// Cleanup deletes synced mutations created before the cutoff (epoch millis)
// and purges lazily-expired cache rows. Unsynced mutations are never removed
// regardless of age. Returns the number of mutations deleted.
func (s *Store) Cleanup(cutoff int64) (int64, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}

	res, err := s.db.Exec(`DELETE FROM offline_mutations WHERE synced = 1 AND created_at < ?`, cutoff)
	if err != nil {
		return 0, errors.Wrap(errors.ErrDatabase, "failed to clean up synced mutations", err)
	}
	removed, _ := res.RowsAffected()

	// Expired-but-unread cache entries are stale even though physically
	// present; sweep them here rather than trusting presence.
	now := time.Now().UnixMilli()
	if _, err := s.db.Exec(`DELETE FROM offline_cache WHERE expiry < ?`, now); err != nil {
		return removed, errors.Wrap(errors.ErrDatabase, "failed to purge expired cache entries", err)
	}

	return removed, nil
}

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMutation(row rowScanner) (*models.PendingMutation, error) {
	var m models.PendingMutation
	var mtype, payload string
	var synced, resolved int

	err := row.Scan(&m.ID, &mtype, &payload, &m.CreatedAt, &synced, &resolved, &m.RetryCount, &m.LastError)
	if err != nil {
		return nil, err
	}

	m.Type = models.MutationType(mtype)
	m.Payload = json.RawMessage(payload)
	m.Synced = synced != 0
	m.ConflictResolved = resolved != 0
	return &m, nil
}

// =====================================================
// Reference cache operations
// =====================================================

// CacheData stores reference data under a key with a TTL.
func (s *Store) CacheData(key string, payload json.RawMessage, mtype models.MutationType, ttl time.Duration) error {
	if err := s.ready(); err != nil {
		return err
	}

	now := time.Now().UnixMilli()
	query := `
	INSERT INTO offline_cache (key, payload, type, timestamp, expiry)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET payload = excluded.payload, type = excluded.type,
		timestamp = excluded.timestamp, expiry = excluded.expiry
	`
	_, err := s.db.Exec(query, key, string(payload), string(mtype), now, now+ttl.Milliseconds())
	if err != nil {
		return errors.Wrap(errors.ErrDatabase, "failed to cache data", err)
	}
	return nil
}

// GetCachedData returns the cached payload for key, or nil once the entry has
// expired or was never stored. Expiration is checked at read time; no
// background sweep is required.
func (s *Store) GetCachedData(key string) (json.RawMessage, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	stmt, err := s.prepareStmt(`SELECT payload, expiry FROM offline_cache WHERE key = ?`)
	if err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "failed to prepare cache query", err)
	}

	var payload string
	var expiry int64
	err = stmt.QueryRow(key).Scan(&payload, &expiry)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "failed to read cache entry", err)
	}

	if time.Now().UnixMilli() > expiry {
		return nil, nil
	}

	return json.RawMessage(payload), nil
}

// =====================================================
// Settings operations
// =====================================================

// SetSetting stores a scalar setting value.
func (s *Store) SetSetting(key, value string) error {
	if err := s.ready(); err != nil {
		return err
	}

	query := `
	INSERT INTO offline_settings (key, value) VALUES (?, ?)
	ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`
	if _, err := s.db.Exec(query, key, value); err != nil {
		return errors.Wrap(errors.ErrDatabase, "failed to set setting", err)
	}
	return nil
}

// GetSetting returns a setting value, or the empty string when unset.
func (s *Store) GetSetting(key string) (string, error) {
	if err := s.ready(); err != nil {
		return "", err
	}

	var value string
	err := s.db.QueryRow(`SELECT value FROM offline_settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", errors.Wrap(errors.ErrDatabase, "failed to get setting", err)
	}
	return value, nil
}
