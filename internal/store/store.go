// Package store provides the per-backend façade over the sync core: it owns
// the model and queryset stores for one backend, hydrates them from
// persistence, and ingests API responses into ground truth.
package store

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ormbridge/ormbridge-go/internal/ast"
	"github.com/ormbridge/ormbridge-go/internal/cache"
	"github.com/ormbridge/ormbridge-go/internal/models"
	"github.com/ormbridge/ormbridge-go/internal/persist"
)

// Callbacks are the injected fetchers a Store hands to the stores it builds.
type Callbacks struct {
	Models   cache.FetchModelsFunc
	Queryset cache.FetchQuerysetFunc
}

// Store is the façade for one backend: a model store per model name and a
// queryset store per query hash, built lazily and seeded from persistence.
type Store struct {
	mu             sync.Mutex
	configKey      string
	classes        map[string]models.ModelClass
	callbacks      Callbacks
	backend        persist.Backend
	log            zerolog.Logger
	now            func() time.Time
	modelStores    map[string]*cache.ModelStore
	querysetStores map[string]*cache.QuerysetStore
	preloaded      map[string][]byte
	ready          chan struct{}
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the base logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Store) { s.log = logger }
}

// WithClock injects the time source used by the stores this façade builds.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New builds a façade for one backend. classes maps model name to its
// descriptor; backend may be nil for a purely in-memory store. Hydration of
// persisted blobs starts immediately; WhenReady blocks until it completes.
func New(configKey string, classes map[string]models.ModelClass, cb Callbacks, backend persist.Backend, opts ...Option) *Store {
	s := &Store{
		configKey:      configKey,
		classes:        classes,
		callbacks:      cb,
		backend:        backend,
		log:            log.Logger,
		now:            time.Now,
		modelStores:    make(map[string]*cache.ModelStore),
		querysetStores: make(map[string]*cache.QuerysetStore),
		ready:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With().Str("component", "store").Str("config_key", configKey).Logger()
	go s.hydrate()
	return s
}

// hydrate loads every persisted blob into the preload cache. Failures are
// logged; the store then starts empty.
func (s *Store) hydrate() {
	defer close(s.ready)
	if s.backend == nil {
		return
	}
	blobs, err := s.backend.LoadAll()
	if err != nil {
		s.log.Warn().Err(err).Msg("hydration failed, starting empty")
		return
	}
	s.mu.Lock()
	s.preloaded = blobs
	s.mu.Unlock()
}

// WhenReady blocks until initial hydration completes or ctx is done.
func (s *Store) WhenReady(ctx context.Context) error {
	select {
	case <-s.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// GetModelStore returns the entity store for the class, building it on first
// reference with preloaded ground truth and operations.
func (s *Store) GetModelStore(class models.ModelClass) *cache.ModelStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getModelStoreLocked(class)
}

func (s *Store) getModelStoreLocked(class models.ModelClass) *cache.ModelStore {
	if ms, ok := s.modelStores[class.ModelName]; ok {
		return ms
	}
	ms := cache.NewModelStore(class, cache.ModelStoreConfig{
		Fetch:       s.callbacks.Models,
		Backend:     s.backend,
		Logger:      &s.log,
		Now:         s.now,
		GroundTruth: s.preloadedEntitiesLocked(persist.ModelGroundTruthKey(class.ModelName, class.ConfigKey)),
		Operations:  s.preloadedOperationsLocked(persist.ModelOperationsKey(class.ModelName, class.ConfigKey)),
	})
	s.modelStores[class.ModelName] = ms
	return ms
}

// GetQuerysetStore returns the membership store for the query, building it
// on first reference. The store resolves its model store through this façade
// at use time.
func (s *Store) GetQuerysetStore(query ast.Node, class models.ModelClass) *cache.QuerysetStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getQuerysetStoreLocked(query, class)
}

func (s *Store) getQuerysetStoreLocked(query ast.Node, class models.ModelClass) *cache.QuerysetStore {
	hash := query.Hash()
	if qs, ok := s.querysetStores[hash]; ok {
		return qs
	}
	qs := cache.NewQuerysetStore(class, query, cache.QuerysetStoreConfig{
		Fetch:          s.callbacks.Queryset,
		Resolver:       s.GetModelStore,
		Backend:        s.backend,
		Logger:         &s.log,
		Now:            s.now,
		GroundTruthPKs: s.preloadedPKsLocked(persist.QuerysetGroundTruthKey(class.ModelName, class.ConfigKey, hash)),
		Operations:     s.preloadedOperationsLocked(persist.QuerysetOperationsKey(class.ModelName, class.ConfigKey, hash)),
	})
	s.querysetStores[hash] = qs
	return qs
}

// ModelClass resolves a model name against the façade's model registry.
func (s *Store) ModelClass(modelName string) (models.ModelClass, bool) {
	class, ok := s.classes[modelName]
	return class, ok
}

func (s *Store) preloadedEntitiesLocked(key string) []models.Entity {
	data := s.preloaded[key]
	if data == nil {
		return nil
	}
	var out []models.Entity
	if err := json.Unmarshal(data, &out); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("discarding undecodable blob")
		return nil
	}
	return out
}

func (s *Store) preloadedOperationsLocked(key string) []*models.Operation {
	data := s.preloaded[key]
	if data == nil {
		return nil
	}
	var out []*models.Operation
	if err := json.Unmarshal(data, &out); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("discarding undecodable blob")
		return nil
	}
	return out
}

func (s *Store) preloadedPKsLocked(key string) []string {
	data := s.preloaded[key]
	if data == nil {
		return nil
	}
	var out []string
	if err := json.Unmarshal(data, &out); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("discarding undecodable blob")
		return nil
	}
	return out
}

// Destroy tears down every store this façade built. The backend is owned by
// the caller and stays open.
func (s *Store) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ms := range s.modelStores {
		ms.Destroy()
	}
	for _, qs := range s.querysetStores {
		qs.Destroy()
	}
	s.modelStores = make(map[string]*cache.ModelStore)
	s.querysetStores = make(map[string]*cache.QuerysetStore)
}
