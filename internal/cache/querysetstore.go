package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ormbridge/ormbridge-go/internal/ast"
	"github.com/ormbridge/ormbridge-go/internal/models"
	"github.com/ormbridge/ormbridge-go/internal/persist"
	"github.com/ormbridge/ormbridge-go/internal/telemetry"
)

// QuerysetStore is the per-query membership cache: the primary keys the
// server last returned for one query tree, overlaid with pending operations
// that change membership.
type QuerysetStore struct {
	mu             sync.Mutex
	class          models.ModelClass
	query          ast.Node
	hash           string
	groundTruthPKs []string
	operations     []*models.Operation

	fetch    FetchQuerysetFunc
	resolver ModelStoreResolver
	backend  persist.Backend
	log      zerolog.Logger
	now      func() time.Time

	syncing bool
	subs    subscribers[[]string]
}

// QuerysetStoreConfig supplies a queryset store's collaborators.
type QuerysetStoreConfig struct {
	Fetch          FetchQuerysetFunc
	Resolver       ModelStoreResolver
	Backend        persist.Backend
	Logger         *zerolog.Logger
	Now            func() time.Time
	GroundTruthPKs []string
	Operations     []*models.Operation
}

// NewQuerysetStore builds a membership store for one query tree.
func NewQuerysetStore(class models.ModelClass, query ast.Node, cfg QuerysetStoreConfig) *QuerysetStore {
	logger := log.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	hash := query.Hash()
	s := &QuerysetStore{
		class:    class,
		query:    query,
		hash:     hash,
		fetch:    cfg.Fetch,
		resolver: cfg.Resolver,
		backend:  cfg.Backend,
		log: logger.With().Str("component", "querysetstore").
			Str("model", class.ModelName).Str("query", hash[:8]).Logger(),
		now: now,
	}
	s.setGroundTruthPKsLocked(cfg.GroundTruthPKs)
	s.operations = append(s.operations, cfg.Operations...)
	return s
}

// Class returns the store's model descriptor.
func (s *QuerysetStore) Class() models.ModelClass { return s.class }

// Query returns the query tree this store caches membership for.
func (s *QuerysetStore) Query() ast.Node { return s.query }

// Hash returns the store's query identity.
func (s *QuerysetStore) Hash() string { return s.hash }

// AddOperation appends a membership-shaping operation to the log.
func (s *QuerysetStore) AddOperation(op *models.Operation) {
	if op == nil {
		s.log.Warn().Msg("ignoring nil operation")
		return
	}
	s.mu.Lock()
	s.operations = append(s.operations, op)
	s.persistOperationsLocked()
	rendered := s.renderLocked()
	s.mu.Unlock()

	telemetry.OperationsTotal.WithLabelValues(s.class.ModelName, string(op.Type)).Inc()
	s.subs.notify(EventOperationAdded, rendered)
}

// ConfirmOperation marks the operation confirmed. Unknown ids are logged and
// ignored.
func (s *QuerysetStore) ConfirmOperation(operationID string, instances []models.Entity) {
	s.transition(operationID, EventOperationConfirmed, func(op *models.Operation) {
		op.Confirm(instances, s.now())
	})
}

// RejectOperation marks the operation rejected.
func (s *QuerysetStore) RejectOperation(operationID string) {
	s.transition(operationID, EventOperationRejected, func(op *models.Operation) {
		op.Reject(s.now())
	})
}

func (s *QuerysetStore) transition(operationID string, kind EventKind, apply func(*models.Operation)) {
	s.mu.Lock()
	var target *models.Operation
	for _, op := range s.operations {
		if op.ID == operationID {
			target = op
			break
		}
	}
	if target == nil {
		s.mu.Unlock()
		s.log.Warn().Str("operation_id", operationID).Msg("operation not found")
		return
	}
	apply(target)
	s.persistOperationsLocked()
	rendered := s.renderLocked()
	s.mu.Unlock()
	s.subs.notify(kind, rendered)
}

// SetGroundTruthPKs replaces the ground-truth membership, deduplicated and
// in order.
func (s *QuerysetStore) SetGroundTruthPKs(pks []string) {
	s.mu.Lock()
	s.setGroundTruthPKsLocked(pks)
	s.persistGroundTruthLocked()
	rendered := s.renderLocked()
	s.mu.Unlock()
	s.subs.notify(EventGroundTruth, rendered)
}

func (s *QuerysetStore) setGroundTruthPKsLocked(pks []string) {
	seen := make(map[string]bool, len(pks))
	out := make([]string, 0, len(pks))
	for _, pk := range pks {
		if pk == "" || seen[pk] {
			continue
		}
		seen[pk] = true
		out = append(out, pk)
	}
	s.groundTruthPKs = out
}

// GroundTruthPKs returns a copy of the ground-truth membership.
func (s *QuerysetStore) GroundTruthPKs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.groundTruthPKs))
	copy(out, s.groundTruthPKs)
	return out
}

// Operations returns a snapshot of the operation log.
func (s *QuerysetStore) Operations() []*models.Operation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.Operation, len(s.operations))
	copy(out, s.operations)
	return out
}

// Render returns the optimistic membership as an ordered primary key list:
// ground-truth order first, then keys inserted by operations in log order.
func (s *QuerysetStore) Render() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.renderLocked()
}

// membership tracks pk presence while preserving first-seen order.
type membership struct {
	order   []string
	inOrder map[string]bool
	present map[string]bool
}

func (m *membership) add(pk string) {
	if !m.inOrder[pk] {
		m.inOrder[pk] = true
		m.order = append(m.order, pk)
	}
	m.present[pk] = true
}

func (m *membership) remove(pk string) {
	m.present[pk] = false
}

func (m *membership) pks() []string {
	out := make([]string, 0, len(m.order))
	for _, pk := range m.order {
		if m.present[pk] {
			out = append(out, pk)
		}
	}
	return out
}

func (s *QuerysetStore) renderLocked() []string {
	telemetry.RendersTotal.WithLabelValues("queryset", s.class.ModelName).Inc()

	m := &membership{
		inOrder: make(map[string]bool),
		present: make(map[string]bool),
	}
	for _, pk := range s.groundTruthPKs {
		m.add(pk)
	}

	now := s.now()
	for _, op := range s.operations {
		if !relevant(op, now) {
			continue
		}
		s.applyLocked(op, m)
	}
	return m.pks()
}

func (s *QuerysetStore) applyLocked(op *models.Operation, m *membership) {
	pkField := s.class.PrimaryKeyField
	instances := op.ValidInstances(pkField)
	if len(instances) == 0 {
		s.log.Warn().Str("operation_id", op.ID).Msg("operation has no valid instances")
		return
	}

	for _, inst := range instances {
		pk, _ := inst.PK(pkField)

		switch op.Type {
		case models.OpCreate:
			m.add(pk)

		case models.OpGetOrCreate, models.OpUpdateOrCreate:
			if lookup := op.Lookup(); lookup != nil {
				if matched, ok := s.matchLookupLocked(lookup, m.pks()); ok {
					m.add(matched)
					continue
				}
			}
			m.add(pk)

		case models.OpUpdate, models.OpUpdateInstance:
			if m.present[pk] {
				continue
			}
			if !s.deleteGuardedLocked(pk) {
				m.add(pk)
			}

		case models.OpDelete, models.OpDeleteInstance:
			m.remove(pk)

		default:
			s.log.Warn().Str("operation_id", op.ID).Str("type", string(op.Type)).Msg("unknown operation type")
		}
	}
}

// matchLookupLocked consults the model store for the entities currently in
// membership and returns the primary key of the first lookup match.
func (s *QuerysetStore) matchLookupLocked(lookup map[string]any, currentPKs []string) (string, bool) {
	if s.resolver == nil {
		return "", false
	}
	ms := s.resolver(s.class)
	if ms == nil {
		return "", false
	}
	for _, e := range ms.Render(currentPKs) {
		if e.MatchesLookup(lookup) {
			if pk, ok := e.PK(s.class.PrimaryKeyField); ok {
				return pk, true
			}
		}
	}
	return "", false
}

// deleteGuardedLocked reports whether a non-rejected delete in the log
// targets the primary key.
func (s *QuerysetStore) deleteGuardedLocked(pk string) bool {
	for _, op := range s.operations {
		if !op.IsDelete() || op.Status == models.StatusRejected {
			continue
		}
		for _, inst := range op.Instances {
			if ipk, ok := inst.PK(s.class.PrimaryKeyField); ok && ipk == pk {
				return true
			}
		}
	}
	return false
}

// Sync re-materializes the query through the injected fetch, derives the
// fresh primary key list, and trims stale operations. Failures leave state
// untouched; a concurrent sync makes this call a warned no-op.
func (s *QuerysetStore) Sync(ctx context.Context) error {
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
	req := FetchQuerysetRequest{Query: s.query, ModelClass: s.class}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.syncing = false
		s.mu.Unlock()
	}()

	entities, err := s.fetch(ctx, req)
	if err != nil {
		telemetry.SyncErrorsTotal.WithLabelValues("queryset", s.class.ModelName).Inc()
		s.log.Warn().Err(err).Msg("sync fetch failed")
		return err
	}

	pks := make([]string, 0, len(entities))
	for _, e := range entities {
		pk, ok := e.PK(s.class.PrimaryKeyField)
		if !ok {
			s.log.Warn().Msg("fetched entity missing primary key")
			continue
		}
		pks = append(pks, pk)
	}

	s.mu.Lock()
	s.setGroundTruthPKsLocked(pks)
	kept, dropped := trimOperations(s.operations, s.now())
	s.operations = kept
	s.persistGroundTruthLocked()
	s.persistOperationsLocked()
	rendered := s.renderLocked()
	s.mu.Unlock()

	if dropped > 0 {
		telemetry.OperationsTrimmedTotal.WithLabelValues("queryset", s.class.ModelName).Add(float64(dropped))
	}
	telemetry.SyncsTotal.WithLabelValues("queryset", s.class.ModelName).Inc()
	s.subs.notify(EventSynced, rendered)
	return nil
}

// Subscribe registers a callback invoked with each event and the fresh
// primary key render. The returned function unsubscribes.
func (s *QuerysetStore) Subscribe(fn func(EventKind, []string)) func() {
	return s.subs.add(fn)
}

// Destroy drops subscribers. The store must not be used afterwards.
func (s *QuerysetStore) Destroy() {
	s.subs.clear()
}

func (s *QuerysetStore) persistOperationsLocked() {
	if s.backend == nil {
		return
	}
	data, err := json.Marshal(s.operations)
	if err != nil {
		s.log.Warn().Err(err).Msg("marshal operations")
		return
	}
	key := persist.QuerysetOperationsKey(s.class.ModelName, s.class.ConfigKey, s.hash)
	if err := s.backend.Save(key, data); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("persist operations")
	}
}

func (s *QuerysetStore) persistGroundTruthLocked() {
	if s.backend == nil {
		return
	}
	data, err := json.Marshal(s.groundTruthPKs)
	if err != nil {
		s.log.Warn().Err(err).Msg("marshal ground truth")
		return
	}
	key := persist.QuerysetGroundTruthKey(s.class.ModelName, s.class.ConfigKey, s.hash)
	if err := s.backend.Save(key, data); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("persist ground truth")
	}
}
