package registry

import (
	"context"
	"errors"
	"sync"

	"github.com/ormbridge/ormbridge-go/internal/cache"
	"github.com/ormbridge/ormbridge-go/internal/models"
)

// MetricStores maps (configKey, modelName, astHash, metricType, field) to
// the metric store for that aggregate, and keeps a reverse index from query
// hash to metric keys for bulk operations.
type MetricStores struct {
	mu      sync.Mutex
	stores  map[string]*cache.MetricStore
	byQuery map[string][]string
}

// NewMetricStores returns an empty registry.
func NewMetricStores() *MetricStores {
	return &MetricStores{
		stores:  make(map[string]*cache.MetricStore),
		byQuery: make(map[string][]string),
	}
}

func metricKey(class models.ModelClass, astHash string, metric cache.MetricType, field string) string {
	return class.Key() + "::" + astHash + "::" + string(metric) + "::" + field
}

// GetStore returns the store for the aggregate, constructing it with cfg on
// first reference. cfg is ignored for existing stores.
func (r *MetricStores) GetStore(class models.ModelClass, astHash string, metric cache.MetricType, field string, cfg cache.MetricStoreConfig) *cache.MetricStore {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := metricKey(class, astHash, metric, field)
	if s, ok := r.stores[key]; ok {
		return s
	}
	s := cache.NewMetricStore(class, astHash, metric, field, cfg)
	r.stores[key] = s
	r.byQuery[astHash] = append(r.byQuery[astHash], key)
	return s
}

// StoresForQuery returns every metric store bound to the query hash.
func (r *MetricStores) StoresForQuery(astHash string) []*cache.MetricStore {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := r.byQuery[astHash]
	out := make([]*cache.MetricStore, 0, len(keys))
	for _, key := range keys {
		if s, ok := r.stores[key]; ok {
			out = append(out, s)
		}
	}
	return out
}

// SyncQuery syncs every metric store bound to the query hash.
func (r *MetricStores) SyncQuery(ctx context.Context, astHash string) error {
	var errs []error
	for _, s := range r.StoresForQuery(astHash) {
		if err := s.Sync(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SyncAll syncs every registered store, joining any errors.
func (r *MetricStores) SyncAll(ctx context.Context) error {
	r.mu.Lock()
	stores := make([]*cache.MetricStore, 0, len(r.stores))
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
func (r *MetricStores) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.stores {
		s.Destroy()
	}
	r.stores = make(map[string]*cache.MetricStore)
	r.byQuery = make(map[string][]string)
}
