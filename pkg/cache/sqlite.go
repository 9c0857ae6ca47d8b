package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS caches (
	name       TEXT PRIMARY KEY,
	created_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS entries (
	cache     TEXT NOT NULL REFERENCES caches(name) ON DELETE CASCADE,
	key       TEXT NOT NULL,
	entry     BLOB NOT NULL,
	cached_at INTEGER NOT NULL,
	PRIMARY KEY (cache, key)
);`

// SQLiteStorage persists stores in a single SQLite database file.
type SQLiteStorage struct {
	db *sql.DB
}

// OpenSQLiteStorage opens (or creates) the database at path and applies the schema.
func OpenSQLiteStorage(path string) (*SQLiteStorage, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	db, err := sql.Open("sqlite", filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// a single connection serializes writers and keeps :memory: databases shared
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLiteStorage{db: db}, nil
}

// Open returns the named store, creating it if absent.
func (s *SQLiteStorage) Open(ctx context.Context, name string) (Store, error) {
	if name == "" {
		return nil, fmt.Errorf("store name cannot be empty")
	}
	if err := ensureStore(ctx, s.db, name); err != nil {
		CacheErrors.WithLabelValues("open").Inc()
		return nil, err
	}
	return &sqliteStore{db: s.db, name: name}, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func ensureStore(ctx context.Context, db execer, name string) error {
	_, err := db.ExecContext(ctx,
		"INSERT OR IGNORE INTO caches (name, created_at) VALUES (?, ?)",
		name, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("create store %q: %w", name, err)
	}
	return nil
}

type rowQueryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func storeExists(ctx context.Context, db rowQueryer, name string) (bool, error) {
	var one int
	err := db.QueryRowContext(ctx, "SELECT 1 FROM caches WHERE name = ?", name).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query store %q: %w", name, err)
	}
	return true, nil
}

// Has reports whether the named store exists.
func (s *SQLiteStorage) Has(ctx context.Context, name string) (bool, error) {
	ok, err := storeExists(ctx, s.db, name)
	if err != nil {
		CacheErrors.WithLabelValues("names").Inc()
	}
	return ok, err
}

// Delete removes the store and its entries in one transaction.
func (s *SQLiteStorage) Delete(ctx context.Context, name string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		CacheErrors.WithLabelValues("delete").Inc()
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM entries WHERE cache = ?", name); err != nil {
		CacheErrors.WithLabelValues("delete").Inc()
		return false, fmt.Errorf("delete entries of %q: %w", name, err)
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM caches WHERE name = ?", name)
	if err != nil {
		CacheErrors.WithLabelValues("delete").Inc()
		return false, fmt.Errorf("delete store %q: %w", name, err)
	}
	if err := tx.Commit(); err != nil {
		CacheErrors.WithLabelValues("delete").Inc()
		return false, fmt.Errorf("commit: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// Names lists store names.
func (s *SQLiteStorage) Names(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT name FROM caches ORDER BY name")
	if err != nil {
		CacheErrors.WithLabelValues("names").Inc()
		return nil, fmt.Errorf("query store names: %w", err)
	}
	defer rows.Close()

	names := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan store name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// Close closes the database handle.
func (s *SQLiteStorage) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type sqliteStore struct {
	db   *sql.DB
	name string
}

func (s *sqliteStore) Name() string {
	return s.name
}

func (s *sqliteStore) Match(ctx context.Context, key RequestKey) (*Entry, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT entry FROM entries WHERE cache = ? AND key = ?",
		s.name, key.String()).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		CacheMisses.WithLabelValues(s.name).Inc()
		return nil, ErrCacheMiss
	}
	if err != nil {
		CacheErrors.WithLabelValues("match").Inc()
		return nil, fmt.Errorf("query entry: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		CacheErrors.WithLabelValues("match").Inc()
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}
	CacheHits.WithLabelValues(s.name, "sqlite").Inc()
	return &entry, nil
}

func (s *sqliteStore) Put(ctx context.Context, key RequestKey, entry *Entry) error {
	return s.PutAll(ctx, []Item{{Key: key, Entry: entry}})
}

func (s *sqliteStore) PutAll(ctx context.Context, items []Item) error {
	if err := validateItems(items); err != nil {
		CacheErrors.WithLabelValues("put").Inc()
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		CacheErrors.WithLabelValues("put").Inc()
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	// the store may have been deleted since it was opened
	exists, err := storeExists(ctx, tx, s.name)
	if err != nil {
		CacheErrors.WithLabelValues("put").Inc()
		return err
	}
	if !exists {
		return nil
	}

	written := 0
	for _, item := range items {
		data, err := json.Marshal(item.Entry)
		if err != nil {
			CacheErrors.WithLabelValues("put").Inc()
			return fmt.Errorf("marshal cache entry: %w", err)
		}
		_, err = tx.ExecContext(ctx,
			"INSERT OR REPLACE INTO entries (cache, key, entry, cached_at) VALUES (?, ?, ?, ?)",
			s.name, item.Key.String(), data, item.Entry.CachedAt.UnixMilli())
		if err != nil {
			CacheErrors.WithLabelValues("put").Inc()
			return fmt.Errorf("insert entry: %w", err)
		}
		written += len(data)
	}

	if err := tx.Commit(); err != nil {
		CacheErrors.WithLabelValues("put").Inc()
		return fmt.Errorf("commit: %w", err)
	}
	StoredBytes.WithLabelValues("sqlite").Add(float64(written))
	return nil
}

func (s *sqliteStore) Delete(ctx context.Context, key RequestKey) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM entries WHERE cache = ? AND key = ?", s.name, key.String())
	if err != nil {
		CacheErrors.WithLabelValues("delete").Inc()
		return false, fmt.Errorf("delete entry: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *sqliteStore) Keys(ctx context.Context) ([]RequestKey, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT key FROM entries WHERE cache = ? ORDER BY key", s.name)
	if err != nil {
		CacheErrors.WithLabelValues("keys").Inc()
		return nil, fmt.Errorf("query keys: %w", err)
	}
	defer rows.Close()

	keys := make([]RequestKey, 0)
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		key, err := ParseKey(raw)
		if err != nil {
			continue
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}
