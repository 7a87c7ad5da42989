package registry

import (
	"context"
	"errors"
	"sync"

	"github.com/ormbridge/ormbridge-go/internal/cache"
	"github.com/ormbridge/ormbridge-go/internal/models"
)

// ModelStores maps (configKey, modelName) to the model store holding that
// model's entity cache.
type ModelStores struct {
	mu     sync.Mutex
	stores map[string]*cache.ModelStore
}

// NewModelStores returns an empty registry.
func NewModelStores() *ModelStores {
	return &ModelStores{stores: make(map[string]*cache.ModelStore)}
}

// GetStore returns the store for the class, constructing it with cfg on
// first reference. cfg is ignored for existing stores.
func (r *ModelStores) GetStore(class models.ModelClass, cfg cache.ModelStoreConfig) *cache.ModelStore {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := class.Key()
	if s, ok := r.stores[key]; ok {
		return s
	}
	s := cache.NewModelStore(class, cfg)
	r.stores[key] = s
	return s
}

// Lookup returns the store for the class, or nil when it was never built.
func (r *ModelStores) Lookup(class models.ModelClass) *cache.ModelStore {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stores[class.Key()]
}

// Resolver adapts the registry into a use-time model store resolver for
// queryset stores.
func (r *ModelStores) Resolver() cache.ModelStoreResolver {
	return r.Lookup
}

// GetEntity reads one entity through the store's optimistic render.
func (r *ModelStores) GetEntity(class models.ModelClass, pk string) (models.Entity, bool) {
	s := r.Lookup(class)
	if s == nil {
		return nil, false
	}
	rendered := s.Render([]string{pk})
	if len(rendered) == 0 {
		return nil, false
	}
	return rendered[0], true
}

// SetEntity writes entities into the store's ground truth.
func (r *ModelStores) SetEntity(class models.ModelClass, entities ...models.Entity) {
	if s := r.Lookup(class); s != nil {
		s.AddToGroundTruth(entities)
	}
}

// Sync syncs the store for the class, if it exists.
func (r *ModelStores) Sync(ctx context.Context, class models.ModelClass) error {
	if s := r.Lookup(class); s != nil {
		return s.Sync(ctx)
	}
	return nil
}

// SyncAll syncs every registered store, joining any errors.
func (r *ModelStores) SyncAll(ctx context.Context) error {
	r.mu.Lock()
	stores := make([]*cache.ModelStore, 0, len(r.stores))
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
func (r *ModelStores) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.stores {
		s.Destroy()
	}
	r.stores = make(map[string]*cache.ModelStore)
}
