package cache

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ormbridge/ormbridge-go/internal/models"
	"github.com/ormbridge/ormbridge-go/internal/telemetry"
)

// MetricStore holds one scalar aggregate for a query: the server value plus
// the entity slices its strategy uses to compute the optimistic value.
type MetricStore struct {
	mu      sync.Mutex
	class   models.ModelClass
	astHash string
	metric  MetricType
	field   string

	groundTruthValue *float64
	groundTruthSlice []models.Entity
	optimisticSlice  []models.Entity

	strategy Strategy
	fetch    FetchMetricFunc
	log      zerolog.Logger

	syncing bool
	subs    subscribers[*float64]
}

// MetricStoreConfig supplies a metric store's collaborators. A nil Strategy
// falls back to the built-in default for the metric type.
type MetricStoreConfig struct {
	Strategy Strategy
	Fetch    FetchMetricFunc
	Logger   *zerolog.Logger
}

// NewMetricStore builds a store for one (query, metric, field) aggregate.
func NewMetricStore(class models.ModelClass, astHash string, metric MetricType, field string, cfg MetricStoreConfig) *MetricStore {
	logger := log.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	strategy := cfg.Strategy
	if strategy == nil {
		strategy = defaultStrategy(metric)
	}
	return &MetricStore{
		class:    class,
		astHash:  astHash,
		metric:   metric,
		field:    field,
		strategy: strategy,
		fetch:    cfg.Fetch,
		log: logger.With().Str("component", "metricstore").
			Str("model", class.ModelName).Str("metric", string(metric)).Logger(),
	}
}

// Class returns the store's model descriptor.
func (s *MetricStore) Class() models.ModelClass { return s.class }

// Metric returns the aggregate type.
func (s *MetricStore) Metric() MetricType { return s.metric }

// Field returns the aggregate target field, if any.
func (s *MetricStore) Field() string { return s.field }

// Hash returns the query identity the metric is bound to.
func (s *MetricStore) Hash() string { return s.astHash }

// SetGroundTruthValue records the server-computed scalar.
func (s *MetricStore) SetGroundTruthValue(v float64) {
	s.mu.Lock()
	s.groundTruthValue = &v
	rendered := s.renderLocked()
	s.mu.Unlock()
	s.subs.notify(EventGroundTruth, rendered)
}

// SetSlices records the entity slices the strategy compares: the slice the
// server value was computed from and the current optimistic slice.
func (s *MetricStore) SetSlices(ground, optimistic []models.Entity) {
	s.mu.Lock()
	s.groundTruthSlice = ground
	s.optimisticSlice = optimistic
	rendered := s.renderLocked()
	s.mu.Unlock()
	s.subs.notify(EventGroundTruth, rendered)
}

// SetOptimisticSlice updates only the optimistic slice.
func (s *MetricStore) SetOptimisticSlice(optimistic []models.Entity) {
	s.mu.Lock()
	s.optimisticSlice = optimistic
	rendered := s.renderLocked()
	s.mu.Unlock()
	s.subs.notify(EventGroundTruth, rendered)
}

// Render returns the optimistic aggregate value, or nil when no value can be
// computed.
func (s *MetricStore) Render() *float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.renderLocked()
}

func (s *MetricStore) renderLocked() *float64 {
	telemetry.RendersTotal.WithLabelValues("metric", s.class.ModelName).Inc()
	if s.strategy == nil {
		s.log.Warn().Msg("no strategy for metric type")
		return s.groundTruthValue
	}
	return s.strategy.Calculate(s.groundTruthValue, s.groundTruthSlice, s.optimisticSlice, s.field)
}

// Sync refreshes the server value through the injected fetch. Failures leave
// state untouched; a concurrent sync makes this call a warned no-op.
func (s *MetricStore) Sync(ctx context.Context) error {
	s.mu.Lock()
	if s.syncing {
		s.mu.Unlock()
		s.log.Warn().Msg("sync already in progress")
		return nil
	}
	if s.fetch == nil {
		s.mu.Unlock()
		s.log.Warn().Msg("no fetch configured, skipping sync")
		return nil
	}
	s.syncing = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.syncing = false
		s.mu.Unlock()
	}()

	value, err := s.fetch(ctx)
	if err != nil {
		telemetry.SyncErrorsTotal.WithLabelValues("metric", s.class.ModelName).Inc()
		s.log.Warn().Err(err).Msg("sync fetch failed")
		return err
	}

	s.mu.Lock()
	s.groundTruthValue = &value
	rendered := s.renderLocked()
	s.mu.Unlock()

	telemetry.SyncsTotal.WithLabelValues("metric", s.class.ModelName).Inc()
	s.subs.notify(EventSynced, rendered)
	return nil
}

// Subscribe registers a callback invoked with each event and the fresh
// value. The returned function unsubscribes.
func (s *MetricStore) Subscribe(fn func(EventKind, *float64)) func() {
	return s.subs.add(fn)
}

// Destroy drops subscribers. The store must not be used afterwards.
func (s *MetricStore) Destroy() {
	s.subs.clear()
}
