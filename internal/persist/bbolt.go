package persist

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketStores = []byte("stores")

// BboltBackend is the default persistence backend: a single embedded bbolt
// database file with one bucket of JSON blobs.
type BboltBackend struct {
	db *bolt.DB
}

var _ Backend = (*BboltBackend)(nil)

// OpenBbolt opens or creates a bbolt database at the given path.
func OpenBbolt(dbPath string) (*BboltBackend, error) {
	dir := filepath.Dir(dbPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketStores)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create bucket: %w", err)
	}

	return &BboltBackend{db: db}, nil
}

// Save stores value under key.
func (b *BboltBackend) Save(key string, value []byte) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketStores).Put([]byte(key), value)
	})
}

// Load returns the value for key, or nil when absent.
func (b *BboltBackend) Load(key string) ([]byte, error) {
	var out []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketStores).Get([]byte(key))
		if v != nil {
			out = make([]byte, len(v))
			copy(out, v)
		}
		return nil
	})
	return out, err
}

// LoadAll returns every stored key and value.
func (b *BboltBackend) LoadAll() (map[string][]byte, error) {
	out := make(map[string][]byte)
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketStores).ForEach(func(k, v []byte) error {
			val := make([]byte, len(v))
			copy(val, v)
			out[string(k)] = val
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Delete removes key.
func (b *BboltBackend) Delete(key string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketStores).Delete([]byte(key))
	})
}

// Keys lists all stored keys in lexical order.
func (b *BboltBackend) Keys() ([]string, error) {
	var keys []string
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketStores).ForEach(func(k, _ []byte) error {
			keys = append(keys, string(k))
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}

// Close closes the database.
func (b *BboltBackend) Close() error {
	if b.db == nil {
		return nil
	}
	return b.db.Close()
}
