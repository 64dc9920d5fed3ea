package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"
)

const lockTimeout = 5 * time.Second

// Store is a sqlite-backed cache of read-query results keyed by query name and
// variables. Entries can be invalidated by predicate after a mutation.
type Store struct {
	db   *sql.DB
	mu   sync.Mutex
	lock *flock.Flock
}

type Result struct {
	Hit         bool
	Value       []byte
	Age         time.Duration
	Stale       bool
	TooStale    bool
	Invalidated bool
}

// Usable reports whether the entry can be served without refetching.
func (r Result) Usable() bool {
	return r.Hit && !r.Stale && !r.Invalidated
}

// Fallback reports whether the entry can be served when a refetch failed.
// Invalidated entries never qualify.
func (r Result) Fallback() bool {
	return r.Hit && !r.TooStale && !r.Invalidated
}

func Open(path, lockPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite cache: %w", err)
	}

	queries := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		`CREATE TABLE IF NOT EXISTS query_entries (
			key TEXT PRIMARY KEY,
			query TEXT NOT NULL,
			variables BLOB NOT NULL,
			value BLOB NOT NULL,
			created_at INTEGER NOT NULL,
			ttl_seconds INTEGER NOT NULL,
			invalidated INTEGER NOT NULL DEFAULT 0
		);`,
		"CREATE INDEX IF NOT EXISTS idx_query_entries_query ON query_entries(query);",
	}
	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init cache schema: %w", err)
		}
	}

	return &Store{db: db, lock: flock.New(lockPath)}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Prune deletes entries that are past their TTL by more than retain, the
// window in which they can still serve as a stale fallback. A negative retain
// keeps everything.
func (s *Store) Prune(retain time.Duration) error {
	if s == nil || s.db == nil || retain < 0 {
		return nil
	}
	cutoff := time.Now().UTC().Add(-retain).Unix()
	_, err := s.db.Exec("DELETE FROM query_entries WHERE created_at + ttl_seconds < ?", cutoff)
	if err != nil {
		return fmt.Errorf("prune cache: %w", err)
	}
	return nil
}

func (s *Store) Get(query Query, vars Variables, maxStale time.Duration) (Result, error) {
	key, err := Key(query, vars)
	if err != nil {
		return Result{}, err
	}
	var (
		value       []byte
		createdUnix int64
		ttlSeconds  int64
		invalidated int
	)
	err = s.db.QueryRow("SELECT value, created_at, ttl_seconds, invalidated FROM query_entries WHERE key = ?", key).
		Scan(&value, &createdUnix, &ttlSeconds, &invalidated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Result{Hit: false}, nil
		}
		return Result{}, fmt.Errorf("cache read: %w", err)
	}

	created := time.Unix(createdUnix, 0).UTC()
	age := time.Since(created)
	if age < 0 {
		age = 0
	}
	ttl := time.Duration(ttlSeconds) * time.Second
	stale := age > ttl
	tooStale := stale && maxStale >= 0 && age > ttl+maxStale

	return Result{
		Hit:         true,
		Value:       value,
		Age:         age,
		Stale:       stale,
		TooStale:    tooStale,
		Invalidated: invalidated != 0,
	}, nil
}

func (s *Store) Set(query Query, vars Variables, value []byte, ttl time.Duration) error {
	key, err := Key(query, vars)
	if err != nil {
		return err
	}
	encodedVars, err := canonicalVariables(vars)
	if err != nil {
		return err
	}
	unlock, err := s.acquire(context.Background())
	if err != nil {
		return err
	}
	defer unlock()

	createdUnix := time.Now().UTC().Unix()
	ttlSeconds := int64(ttl.Seconds())
	if ttlSeconds <= 0 {
		ttlSeconds = 1
	}
	_, err = s.db.Exec(`
		INSERT INTO query_entries (key, query, variables, value, created_at, ttl_seconds, invalidated)
		VALUES (?, ?, ?, ?, ?, ?, 0)
		ON CONFLICT(key) DO UPDATE SET
			value=excluded.value,
			created_at=excluded.created_at,
			ttl_seconds=excluded.ttl_seconds,
			invalidated=0
	`, key, string(query), encodedVars, value, createdUnix, ttlSeconds)
	if err != nil {
		return fmt.Errorf("cache write: %w", err)
	}
	return nil
}

// RefreshQueryWhere marks every cached entry of query whose (variables, data)
// satisfies match as invalidated, so the next read refetches it.
func (s *Store) RefreshQueryWhere(ctx context.Context, query Query, match Predicate) error {
	_, err := s.InvalidateWhere(ctx, query, match)
	return err
}

// InvalidateWhere is RefreshQueryWhere that also reports how many entries matched.
func (s *Store) InvalidateWhere(ctx context.Context, query Query, match Predicate) (int, error) {
	if match == nil {
		return 0, fmt.Errorf("invalidate %s: nil predicate", query)
	}
	unlock, err := s.acquire(ctx)
	if err != nil {
		return 0, err
	}
	defer unlock()

	rows, err := s.db.QueryContext(ctx, "SELECT key, variables, value FROM query_entries WHERE query = ? AND invalidated = 0", string(query))
	if err != nil {
		return 0, fmt.Errorf("scan %s entries: %w", query, err)
	}
	var keys []string
	for rows.Next() {
		var (
			key     string
			rawVars []byte
			value   []byte
		)
		if err := rows.Scan(&key, &rawVars, &value); err != nil {
			_ = rows.Close()
			return 0, fmt.Errorf("scan %s entry: %w", query, err)
		}
		vars := Variables{}
		if err := json.Unmarshal(rawVars, &vars); err != nil {
			continue
		}
		if match(vars, json.RawMessage(value)) {
			keys = append(keys, key)
		}
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return 0, fmt.Errorf("iterate %s entries: %w", query, err)
	}
	_ = rows.Close()

	for _, key := range keys {
		if _, err := s.db.ExecContext(ctx, "UPDATE query_entries SET invalidated = 1 WHERE key = ?", key); err != nil {
			return 0, fmt.Errorf("invalidate %s entry: %w", query, err)
		}
	}
	return len(keys), nil
}

func (s *Store) acquire(ctx context.Context) (func(), error) {
	s.mu.Lock()
	lockCtx, cancel := context.WithTimeout(ctx, lockTimeout)
	defer cancel()
	locked, err := s.lock.TryLockContext(lockCtx, 25*time.Millisecond)
	if err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("lock cache: %w", err)
	}
	if !locked {
		s.mu.Unlock()
		return nil, fmt.Errorf("lock cache: timeout acquiring lock")
	}
	return func() {
		_ = s.lock.Unlock()
		s.mu.Unlock()
	}, nil
}
