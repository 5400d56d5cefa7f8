package cache

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/gob"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
)

const sqliteFileName = "lofiproxy.sqlite3"

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS Generations (
	Name    TEXT PRIMARY KEY,
	Created INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS Entries (
	Generation TEXT NOT NULL,
	Key        TEXT NOT NULL,
	Seq        INTEGER NOT NULL,
	Status     INTEGER NOT NULL,
	StatusText TEXT NOT NULL,
	Header     BLOB,
	Body       BLOB,
	Stored     INTEGER NOT NULL,
	PRIMARY KEY (Generation, Key)
);
CREATE INDEX IF NOT EXISTS EntriesBySeq ON Entries (Generation, Seq);
`

// SQLiteStorage keeps every generation in one SQLite database. Each row
// carries an insertion sequence used for key enumeration.
type SQLiteStorage struct {
	db *sql.DB

	mu   sync.Mutex
	open map[string]*SQLiteStore
}

// NewSQLiteStorage opens (or creates) the database below dir.
func NewSQLiteStorage(dir string) (*SQLiteStorage, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	dsn := filepath.Join(dir, sqliteFileName) + "?_busy_timeout=5000&_journal_mode=WAL"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite cache: %w", err)
	}
	// A single connection serializes writers and avoids SQLITE_BUSY
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create sqlite schema: %w", err)
	}

	return &SQLiteStorage{
		db:   db,
		open: make(map[string]*SQLiteStore),
	}, nil
}

// Open returns the named generation, registering it if needed.
func (s *SQLiteStorage) Open(ctx context.Context, name string) (Store, error) {
	if err := ValidGeneration(name); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if st, ok := s.open[name]; ok {
		return st, nil
	}

	_, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO Generations (Name, Created) VALUES (?, ?)",
		name, time.Now().UnixNano())
	if err != nil {
		return nil, fmt.Errorf("failed to register generation %q: %w", name, err)
	}

	st := &SQLiteStore{
		name:  name,
		db:    s.db,
		stats: CacheStats{Generation: name},
	}
	s.open[name] = st
	return st, nil
}

// Names returns generation names in creation order.
func (s *SQLiteStorage) Names(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT Name FROM Generations ORDER BY Created, Name")
	if err != nil {
		return nil, fmt.Errorf("failed to list generations: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// Remove deletes the named generation and its entries in one transaction.
func (s *SQLiteStorage) Remove(ctx context.Context, name string) (bool, error) {
	s.mu.Lock()
	if st, ok := s.open[name]; ok {
		st.markRemoved()
		delete(s.open, name)
	}
	s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, "DELETE FROM Entries WHERE Generation = ?", name); err != nil {
		return false, fmt.Errorf("failed to remove generation %q: %w", name, err)
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM Generations WHERE Name = ?", name)
	if err != nil {
		return false, fmt.Errorf("failed to remove generation %q: %w", name, err)
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}

	n, _ := res.RowsAffected()
	return n > 0, nil
}

// Stats returns statistics for the named generation.
func (s *SQLiteStorage) Stats(ctx context.Context, name string) (CacheStats, error) {
	s.mu.Lock()
	st, open := s.open[name]
	s.mu.Unlock()

	var exists int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM Generations WHERE Name = ?", name).Scan(&exists)
	if err != nil {
		return CacheStats{}, err
	}
	if exists == 0 {
		return CacheStats{}, ErrCacheMiss
	}

	stats := CacheStats{Generation: name}
	if open {
		st.mu.Lock()
		stats = st.stats
		st.mu.Unlock()
	}

	err = s.db.QueryRowContext(ctx,
		"SELECT COUNT(*), COALESCE(SUM(LENGTH(Body)), 0) FROM Entries WHERE Generation = ?",
		name).Scan(&stats.ItemCount, &stats.Size)
	if err != nil {
		return CacheStats{}, err
	}
	stats.calculateHitRate()
	return stats, nil
}

// Close closes the database.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// SQLiteStore is a single generation inside a SQLiteStorage. Once its
// generation is removed every operation fails with ErrClosed.
type SQLiteStore struct {
	name string
	db   *sql.DB

	mu      sync.Mutex
	stats   CacheStats
	removed bool
}

// Name returns the generation name.
func (st *SQLiteStore) Name() string {
	return st.name
}

// Match reads the entry stored under key.
func (st *SQLiteStore) Match(ctx context.Context, key string) (*Entry, error) {
	if st.isRemoved() {
		return nil, ErrClosed
	}
	row := st.db.QueryRowContext(ctx,
		"SELECT Status, StatusText, Header, Body, Stored FROM Entries WHERE Generation = ? AND Key = ?",
		st.name, key)

	var (
		entry  Entry
		header []byte
		stored int64
	)
	err := row.Scan(&entry.Status, &entry.StatusText, &header, &entry.Body, &stored)
	if errors.Is(err, sql.ErrNoRows) {
		st.count(false)
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, err
	}

	entry.Header, err = decodeHeader(header)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCacheCorrupted, err)
	}
	entry.Stored = time.Unix(0, stored)

	st.count(true)
	return &entry, nil
}

// Put writes entry under key. Replacing a row assigns it a new sequence.
// Rows are only written while the generation is registered, so a write
// racing Remove cannot leave orphaned entries behind.
func (st *SQLiteStore) Put(ctx context.Context, key string, entry *Entry) error {
	if st.isRemoved() {
		return ErrClosed
	}

	header, err := encodeHeader(entry.Header)
	if err != nil {
		return fmt.Errorf("failed to encode header: %w", err)
	}

	stored := entry.Stored
	if stored.IsZero() {
		stored = time.Now()
	}

	body := entry.Body
	if body == nil {
		body = []byte{}
	}

	res, err := st.db.ExecContext(ctx, `
INSERT OR REPLACE INTO Entries (Generation, Key, Seq, Status, StatusText, Header, Body, Stored)
SELECT ?, ?, (SELECT COALESCE(MAX(Seq), 0) + 1 FROM Entries WHERE Generation = ?), ?, ?, ?, ?, ?
WHERE EXISTS (SELECT 1 FROM Generations WHERE Name = ?)`,
		st.name, key, st.name, entry.Status, entry.StatusText, header, body, stored.UnixNano(), st.name)
	if err != nil {
		return fmt.Errorf("failed to store entry: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		st.markRemoved()
		return ErrClosed
	}
	return nil
}

// Delete removes key, reporting whether it was present.
func (st *SQLiteStore) Delete(ctx context.Context, key string) (bool, error) {
	if st.isRemoved() {
		return false, ErrClosed
	}
	res, err := st.db.ExecContext(ctx,
		"DELETE FROM Entries WHERE Generation = ? AND Key = ?", st.name, key)
	if err != nil {
		return false, fmt.Errorf("failed to delete entry: %w", err)
	}

	n, _ := res.RowsAffected()
	if n > 0 {
		st.mu.Lock()
		st.stats.Evictions++
		st.mu.Unlock()
	}
	return n > 0, nil
}

// Keys returns all keys ordered by insertion sequence.
func (st *SQLiteStore) Keys(ctx context.Context) ([]string, error) {
	if st.isRemoved() {
		return nil, ErrClosed
	}
	rows, err := st.db.QueryContext(ctx,
		"SELECT Key FROM Entries WHERE Generation = ? ORDER BY Seq", st.name)
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

func (st *SQLiteStore) isRemoved() bool {
	st.mu.Lock()
	defer st.mu.Unlock()

	return st.removed
}

func (st *SQLiteStore) markRemoved() {
	st.mu.Lock()
	st.removed = true
	st.mu.Unlock()
}

func (st *SQLiteStore) count(hit bool) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if hit {
		st.stats.Hits++
		st.stats.LastAccess = time.Now()
	} else {
		st.stats.Misses++
	}
}

func encodeHeader(h http.Header) ([]byte, error) {
	if h == nil {
		return nil, nil
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(map[string][]string(h)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeHeader(data []byte) (http.Header, error) {
	h := make(map[string][]string)
	if len(data) == 0 {
		return http.Header(h), nil
	}
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&h); err != nil {
		return nil, err
	}
	return http.Header(h), nil
}
