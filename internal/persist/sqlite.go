package persist

import (
	"database/sql"
	"fmt"
	"sort"

	_ "modernc.org/sqlite"
)

// SqliteBackend is an alternate persistence backend over a single SQLite
// table. Useful where the host application already ships SQLite.
type SqliteBackend struct {
	db *sql.DB
}

var _ Backend = (*SqliteBackend)(nil)

// OpenSqlite opens or creates a SQLite database at the given path.
func OpenSqlite(dbPath string) (*SqliteBackend, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS blobs (
		key TEXT PRIMARY KEY,
		value BLOB NOT NULL
	);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &SqliteBackend{db: db}, nil
}

// Save stores value under key.
func (s *SqliteBackend) Save(key string, value []byte) error {
	_, err := s.db.Exec(
		"INSERT INTO blobs (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = ?",
		key, value, value,
	)
	return err
}

// Load returns the value for key, or nil when absent.
func (s *SqliteBackend) Load(key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRow("SELECT value FROM blobs WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return value, err
}

// LoadAll returns every stored key and value.
func (s *SqliteBackend) LoadAll() (map[string][]byte, error) {
	rows, err := s.db.Query("SELECT key, value FROM blobs")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string][]byte)
	for rows.Next() {
		var key string
		var value []byte
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		out[key] = value
	}
	return out, rows.Err()
}

// Delete removes key.
func (s *SqliteBackend) Delete(key string) error {
	_, err := s.db.Exec("DELETE FROM blobs WHERE key = ?", key)
	return err
}

// Keys lists all stored keys in lexical order.
func (s *SqliteBackend) Keys() ([]string, error) {
	rows, err := s.db.Query("SELECT key FROM blobs")
	if err != nil {
		return nil, err
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
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}

// Close closes the database connection.
func (s *SqliteBackend) Close() error {
	return s.db.Close()
}
