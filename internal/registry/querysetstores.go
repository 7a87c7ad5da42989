package registry

import (
	"context"
	"errors"
	"sync"

	"github.com/ormbridge/ormbridge-go/internal/ast"
	"github.com/ormbridge/ormbridge-go/internal/cache"
	"github.com/ormbridge/ormbridge-go/internal/models"
)

// QuerysetStores maps (configKey, modelName, astHash) to the membership
// store for that query.
type QuerysetStores struct {
	mu     sync.Mutex
	stores map[string]*cache.QuerysetStore
}

// NewQuerysetStores returns an empty registry.
func NewQuerysetStores() *QuerysetStores {
	return &QuerysetStores{stores: make(map[string]*cache.QuerysetStore)}
}

func querysetKey(class models.ModelClass, astHash string) string {
	return class.Key() + "::" + astHash
}

// GetStore returns the store for the query, constructing it with cfg on
// first reference. cfg is ignored for existing stores.
func (r *QuerysetStores) GetStore(query ast.Node, class models.ModelClass, cfg cache.QuerysetStoreConfig) *cache.QuerysetStore {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := querysetKey(class, query.Hash())
	if s, ok := r.stores[key]; ok {
		return s
	}
	s := cache.NewQuerysetStore(class, query, cfg)
	r.stores[key] = s
	return s
}

// Lookup returns the store for the query hash, or nil when absent.
func (r *QuerysetStores) Lookup(class models.ModelClass, astHash string) *cache.QuerysetStore {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stores[querysetKey(class, astHash)]
}

// Sync syncs the store for the query, if it exists.
func (r *QuerysetStores) Sync(ctx context.Context, query ast.Node, class models.ModelClass) error {
	if s := r.Lookup(class, query.Hash()); s != nil {
		return s.Sync(ctx)
	}
	return nil
}

// SyncAll syncs every registered store, joining any errors.
func (r *QuerysetStores) SyncAll(ctx context.Context) error {
	r.mu.Lock()
	stores := make([]*cache.QuerysetStore, 0, len(r.stores))
	for _, s := range r.stores {
		stores = append(stores, s)
	}
	r.mu.Unlock()

	var errs []error
	for _, s := range stores {
		if err := s.Sync(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Clear destroys every store and drops all references.
func (r *QuerysetStores) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.stores {
		s.Destroy()
	}
	r.stores = make(map[string]*cache.QuerysetStore)
}
