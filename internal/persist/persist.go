// Package persist provides the durable key-value backends used to carry
// store state across process restarts. Values are opaque JSON blobs; keys
// encode the owning store's identity.
package persist

// Backend is the narrow save/load surface the sync core depends on.
// Implementations must tolerate overlapping writes to the same key
// (last-writer-wins by completion order).
type Backend interface {
	// Save stores value under key, overwriting any previous value.
	Save(key string, value []byte) error
	// Load returns the value for key, or nil when absent.
	Load(key string) ([]byte, error)
	// LoadAll returns every stored key and value.
	LoadAll() (map[string][]byte, error)
	// Delete removes key. Deleting an absent key is not an error.
	Delete(key string) error
	// Keys lists all stored keys in lexical order.
	Keys() ([]string, error)
	// Close releases the backend.
	Close() error
}
