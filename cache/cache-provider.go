package cache

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"sync"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

// ErrNoNamespace is returned when an operation targets a namespace that does not exist.
var ErrNoNamespace = errors.New("cache: namespace does not exist")

// CacheProvider is an interface for a cache provider.
// It stores []byte values, which represent HTTP responses, grouped into named namespaces.
// A namespace is created implicitly by Open or by the first Put into it,
// and lives until Delete removes it together with all of its entries.
//
// Implementations must be thread-safe!
type CacheProvider interface {
	// Namespaces returns the names of all existing namespaces, in creation order.
	Namespaces(ctx context.Context) ([]string, error)
	// Open creates the namespace if it does not exist yet.
	Open(ctx context.Context, namespace string) error
	// Has reports whether the namespace exists.
	Has(ctx context.Context, namespace string) (bool, error)
	// Delete removes the namespace and every entry in it.
	// It returns false if there was no such namespace.
	Delete(ctx context.Context, namespace string) (bool, error)
	// Get returns the cached bytes for the given key in the namespace, if it exists.
	// A miss is not an error.
	Get(ctx context.Context, namespace, key string) (CacheEntry, bool, error)
	// Put stores the entry in the namespace, replacing any entry with the same key.
	Put(ctx context.Context, namespace string, ce CacheEntry) error
	// Keys calls the given callback for each key in the namespace.
	Keys(ctx context.Context, namespace string, cb func(string)) error
	// Close releases the underlying storage.
	Close() error
}

type CacheEntry struct {
	Key      string
	StoredAt time.Time
	Bytes    []byte
}

type memNamespace struct {
	createdAt int64
	entries   map[string]CacheEntry
}

type MemCache struct {
	mutex *sync.RWMutex
	seq   *int64
	db    map[string]*memNamespace
}

func NewMemCache() MemCache {
	var seq int64
	return MemCache{
		mutex: &sync.RWMutex{},
		seq:   &seq,
		db:    make(map[string]*memNamespace),
	}
}

func (m MemCache) Namespaces(ctx context.Context) ([]string, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	names := make([]string, 0, len(m.db))
	for name := range m.db {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		return m.db[names[i]].createdAt < m.db[names[j]].createdAt
	})
	return names, nil
}

func (m MemCache) Open(ctx context.Context, namespace string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.openLocked(namespace)
	return nil
}

func (m MemCache) openLocked(namespace string) *memNamespace {
	ns, ok := m.db[namespace]
	if !ok {
		*m.seq++
		ns = &memNamespace{createdAt: *m.seq, entries: make(map[string]CacheEntry)}
		m.db[namespace] = ns
	}
	return ns
}

func (m MemCache) Has(ctx context.Context, namespace string) (bool, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	_, ok := m.db[namespace]
	return ok, nil
}

func (m MemCache) Delete(ctx context.Context, namespace string) (bool, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	_, ok := m.db[namespace]
	delete(m.db, namespace)
	return ok, nil
}

func (m MemCache) Get(ctx context.Context, namespace, key string) (CacheEntry, bool, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	ns, ok := m.db[namespace]
	if !ok {
		return CacheEntry{}, false, nil
	}
	entry, ok := ns.entries[key]
	return entry, ok, nil
}

func (m MemCache) Put(ctx context.Context, namespace string, ce CacheEntry) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.openLocked(namespace).entries[ce.Key] = ce
	return nil
}

func (m MemCache) Keys(ctx context.Context, namespace string, cb func(string)) error {
	m.mutex.RLock()
	ns, ok := m.db[namespace]
	if !ok {
		m.mutex.RUnlock()
		return ErrNoNamespace
	}
	keys := make([]string, 0, len(ns.entries))
	for key := range ns.entries {
		keys = append(keys, key)
	}
	m.mutex.RUnlock()
	for _, key := range keys {
		cb(key)
	}
	return nil
}

func (m MemCache) Close() error {
	return nil
}

type SQLiteCache struct {
	db         *sql.DB
	writeMutex *sync.Mutex
}

// NewSQLiteCache creates a new cache with the given filename as the db.
// If file name is empty, a new in-memory db is opened.
func NewSQLiteCache(filename string) (SQLiteCache, error) {
	if filename == "" {
		filename = "file::memory:?cache=shared"
	}
	db, err := sql.Open("sqlite", filename)
	if err != nil {
		return SQLiteCache{}, err
	}
	statements := []string{
		`CREATE TABLE IF NOT EXISTS namespaces (
			name TEXT PRIMARY KEY,
			created_at INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS entries (
			namespace TEXT,
			key TEXT,
			stored_at INTEGER,
			bytes BLOB,
			PRIMARY KEY (namespace, key)
		)`,
		"PRAGMA journal_mode=WAL",
	}
	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return SQLiteCache{}, err
		}
	}
	return SQLiteCache{
		db:         db,
		writeMutex: &sync.Mutex{},
	}, nil
}

func (s SQLiteCache) Namespaces(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT name FROM namespaces ORDER BY created_at ASC, rowid ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	names := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return names, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s SQLiteCache) Open(ctx context.Context, namespace string) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO namespaces (name, created_at) VALUES (?, ?)",
		namespace, time.Now().UnixNano())
	return err
}

func (s SQLiteCache) Has(ctx context.Context, namespace string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM namespaces WHERE name = ?", namespace).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func (s SQLiteCache) Delete(ctx context.Context, namespace string) (bool, error) {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, "DELETE FROM entries WHERE namespace = ?", namespace); err != nil {
		return false, err
	}
	result, err := tx.ExecContext(ctx, "DELETE FROM namespaces WHERE name = ?", namespace)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, tx.Commit()
}

func (s SQLiteCache) Get(ctx context.Context, namespace, key string) (CacheEntry, bool, error) {
	var storedAt int64
	entry := CacheEntry{Key: key}
	err := s.db.QueryRowContext(ctx,
		"SELECT stored_at, bytes FROM entries WHERE namespace = ? AND key = ?",
		namespace, key,
	).Scan(&storedAt, &entry.Bytes)
	if errors.Is(err, sql.ErrNoRows) {
		return CacheEntry{}, false, nil
	}
	if err != nil {
		return CacheEntry{}, false, err
	}
	entry.StoredAt = time.Unix(0, storedAt)
	return entry, true, nil
}

func (s SQLiteCache) Put(ctx context.Context, namespace string, ce CacheEntry) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx,
		"INSERT OR IGNORE INTO namespaces (name, created_at) VALUES (?, ?)",
		namespace, time.Now().UnixNano()); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO entries
		(namespace, key, stored_at, bytes) VALUES (?, ?, ?, ?)`,
		namespace, ce.Key, ce.StoredAt.UnixNano(), ce.Bytes); err != nil {
		return err
	}
	return tx.Commit()
}

func (s SQLiteCache) Keys(ctx context.Context, namespace string, cb func(string)) error {
	if ok, err := s.Has(ctx, namespace); err != nil {
		return err
	} else if !ok {
		return ErrNoNamespace
	}
	rows, err := s.db.QueryContext(ctx, "SELECT key FROM entries WHERE namespace = ?", namespace)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return err
		}
		cb(key)
	}
	return rows.Err()
}

func (s SQLiteCache) Close() error {
	return s.db.Close()
}
