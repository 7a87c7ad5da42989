package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ormbridge/ormbridge-go/internal/models"
	"github.com/ormbridge/ormbridge-go/internal/persist"
	"github.com/ormbridge/ormbridge-go/internal/telemetry"
)

// ModelStore is the per-model entity cache: server ground truth plus an
// operation log, rendered together into an optimistic entity list.
type ModelStore struct {
	mu          sync.Mutex
	class       models.ModelClass
	groundTruth []models.Entity
	operations  []*models.Operation

	fetch   FetchModelsFunc
	backend persist.Backend
	log     zerolog.Logger
	now     func() time.Time

	syncing bool
	subs    subscribers[[]models.Entity]
}

// ModelStoreConfig supplies a model store's collaborators. Zero-value fields
// fall back to sensible defaults; Fetch and Backend may stay nil for stores
// that never sync or persist.
type ModelStoreConfig struct {
	Fetch       FetchModelsFunc
	Backend     persist.Backend
	Logger      *zerolog.Logger
	Now         func() time.Time
	GroundTruth []models.Entity
	Operations  []*models.Operation
}

// NewModelStore builds a store for the given model class.
func NewModelStore(class models.ModelClass, cfg ModelStoreConfig) *ModelStore {
	logger := log.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	s := &ModelStore{
		class:   class,
		fetch:   cfg.Fetch,
		backend: cfg.Backend,
		log:     logger.With().Str("component", "modelstore").Str("model", class.ModelName).Logger(),
		now:     now,
	}
	s.setGroundTruthLocked(cfg.GroundTruth)
	s.operations = append(s.operations, cfg.Operations...)
	return s
}

// Class returns the store's model descriptor.
func (s *ModelStore) Class() models.ModelClass { return s.class }

// AddOperation appends an operation to the log.
func (s *ModelStore) AddOperation(op *models.Operation) {
	if op == nil {
		s.log.Warn().Msg("ignoring nil operation")
		return
	}
	s.mu.Lock()
	s.operations = append(s.operations, op)
	s.persistOperationsLocked()
	rendered := s.renderLocked(nil)
	s.mu.Unlock()

	telemetry.OperationsTotal.WithLabelValues(s.class.ModelName, string(op.Type)).Inc()
	s.subs.notify(EventOperationAdded, rendered)
}

// ConfirmOperation marks the operation confirmed and replaces its instances
// with the server-returned payloads. Unknown ids are logged and ignored.
func (s *ModelStore) ConfirmOperation(operationID string, instances []models.Entity) {
	s.transition(operationID, EventOperationConfirmed, func(op *models.Operation) {
		op.Confirm(instances, s.now())
	})
}

// RejectOperation marks the operation rejected. Rendering ignores it from
// that point on; the record stays until trimmed.
func (s *ModelStore) RejectOperation(operationID string) {
	s.transition(operationID, EventOperationRejected, func(op *models.Operation) {
		op.Reject(s.now())
	})
}

func (s *ModelStore) transition(operationID string, kind EventKind, apply func(*models.Operation)) {
	s.mu.Lock()
	op := s.findLocked(operationID)
	if op == nil {
		s.mu.Unlock()
		s.log.Warn().Str("operation_id", operationID).Msg("operation not found")
		return
	}
	apply(op)
	s.persistOperationsLocked()
	rendered := s.renderLocked(nil)
	s.mu.Unlock()
	s.subs.notify(kind, rendered)
}

func (s *ModelStore) findLocked(operationID string) *models.Operation {
	for _, op := range s.operations {
		if op.ID == operationID {
			return op
		}
	}
	return nil
}

// SetGroundTruth replaces the ground truth with the given entities,
// deduplicated by primary key. Entities missing the key are skipped.
func (s *ModelStore) SetGroundTruth(entities []models.Entity) {
	s.mu.Lock()
	s.setGroundTruthLocked(entities)
	s.persistGroundTruthLocked()
	rendered := s.renderLocked(nil)
	s.mu.Unlock()
	s.subs.notify(EventGroundTruth, rendered)
}

// AddToGroundTruth merges entities into the ground truth: known primary keys
// are overridden field-wise in place, unknown keys are appended.
func (s *ModelStore) AddToGroundTruth(entities []models.Entity) {
	s.mu.Lock()
	s.addToGroundTruthLocked(entities)
	s.persistGroundTruthLocked()
	rendered := s.renderLocked(nil)
	s.mu.Unlock()
	s.subs.notify(EventGroundTruth, rendered)
}

func (s *ModelStore) setGroundTruthLocked(entities []models.Entity) {
	s.groundTruth = s.groundTruth[:0]
	s.addToGroundTruthLocked(entities)
}

func (s *ModelStore) addToGroundTruthLocked(entities []models.Entity) {
	index := make(map[string]int, len(s.groundTruth))
	for i, e := range s.groundTruth {
		if pk, ok := e.PK(s.class.PrimaryKeyField); ok {
			index[pk] = i
		}
	}
	for _, e := range entities {
		pk, ok := e.PK(s.class.PrimaryKeyField)
		if !ok {
			s.log.Warn().Str("pk_field", s.class.PrimaryKeyField).Msg("skipping entity without primary key")
			continue
		}
		if i, seen := index[pk]; seen {
			s.groundTruth[i] = s.groundTruth[i].Merge(e)
		} else {
			index[pk] = len(s.groundTruth)
			s.groundTruth = append(s.groundTruth, e.Clone())
		}
	}
}

// GroundTruthPKs returns the primary keys currently in ground truth, in order.
func (s *ModelStore) GroundTruthPKs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.groundTruthPKsLocked()
}

func (s *ModelStore) groundTruthPKsLocked() []string {
	pks := make([]string, 0, len(s.groundTruth))
	for _, e := range s.groundTruth {
		if pk, ok := e.PK(s.class.PrimaryKeyField); ok {
			pks = append(pks, pk)
		}
	}
	return pks
}

// Operations returns a snapshot of the operation log.
func (s *ModelStore) Operations() []*models.Operation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.Operation, len(s.operations))
	copy(out, s.operations)
	return out
}

// Render returns the optimistic entity list: ground truth with the operation
// overlay applied, optionally restricted to the given primary keys. Passing
// nil renders everything.
func (s *ModelStore) Render(pks []string) []models.Entity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.renderLocked(pks)
}

// renderState is the mutable entity map built during a render. order is
// append-only so ground-truth positions are preserved; presence in byPK
// decides whether a key appears in the output.
type renderState struct {
	order   []string
	inOrder map[string]bool
	byPK    map[string]models.Entity
}

func (rs *renderState) put(pk string, e models.Entity) {
	if !rs.inOrder[pk] {
		rs.inOrder[pk] = true
		rs.order = append(rs.order, pk)
	}
	rs.byPK[pk] = e
}

func (rs *renderState) remove(pk string) {
	delete(rs.byPK, pk)
}

// find returns the first present entity matching the lookup, in order.
func (rs *renderState) find(lookup map[string]any) (models.Entity, bool) {
	for _, pk := range rs.order {
		if e, ok := rs.byPK[pk]; ok && e.MatchesLookup(lookup) {
			return e, true
		}
	}
	return nil, false
}

func (s *ModelStore) renderLocked(pks []string) []models.Entity {
	telemetry.RendersTotal.WithLabelValues("model", s.class.ModelName).Inc()

	var filter map[string]bool
	if pks != nil {
		filter = make(map[string]bool, len(pks))
		for _, pk := range pks {
			filter[pk] = true
		}
	}

	rs := &renderState{
		inOrder: make(map[string]bool),
		byPK:    make(map[string]models.Entity),
	}
	for _, e := range s.groundTruth {
		pk, ok := e.PK(s.class.PrimaryKeyField)
		if !ok {
			continue
		}
		if filter != nil && !filter[pk] {
			continue
		}
		rs.put(pk, e)
	}

	now := s.now()
	for _, op := range s.operations {
		if !relevant(op, now) {
			continue
		}
		s.applyLocked(op, filter, rs)
	}

	out := make([]models.Entity, 0, len(rs.order))
	for _, pk := range rs.order {
		if e, ok := rs.byPK[pk]; ok {
			out = append(out, e.Clone())
		}
	}
	return out
}

// applyLocked folds one operation into the render state.
func (s *ModelStore) applyLocked(op *models.Operation, filter map[string]bool, rs *renderState) {
	pkField := s.class.PrimaryKeyField
	instances := op.ValidInstances(pkField)
	if len(instances) == 0 {
		s.log.Warn().Str("operation_id", op.ID).Msg("operation has no valid instances")
		return
	}

	for _, inst := range instances {
		pk, _ := inst.PK(pkField)
		// Lookup-based upserts target the matched entity, not the instance
		// pk, so the filter check only applies to plain operations.
		if filter != nil && !filter[pk] && op.Lookup() == nil {
			continue
		}

		switch op.Type {
		case models.OpCreate:
			if _, present := rs.byPK[pk]; !present {
				rs.put(pk, inst.Clone())
			}

		case models.OpUpdate, models.OpUpdateInstance:
			if existing, present := rs.byPK[pk]; present {
				rs.byPK[pk] = existing.Merge(inst)
			} else if !s.deleteGuardedLocked(pk) {
				rs.put(pk, inst.Clone())
			}

		case models.OpDelete, models.OpDeleteInstance:
			rs.remove(pk)

		case models.OpGetOrCreate:
			if lookup := op.Lookup(); lookup != nil {
				if _, found := rs.find(lookup); !found {
					rs.put(pk, upsertEntity(lookup, op.Defaults(), pkField, inst[pkField]))
				}
			} else if _, present := rs.byPK[pk]; !present {
				rs.put(pk, inst.Clone())
			}

		case models.OpUpdateOrCreate:
			if lookup := op.Lookup(); lookup != nil {
				if matched, found := rs.find(lookup); found {
					mpk, _ := matched.PK(pkField)
					rs.byPK[mpk] = matched.Merge(models.Entity(op.Defaults()))
				} else {
					rs.put(pk, upsertEntity(lookup, op.Defaults(), pkField, inst[pkField]))
				}
			} else if existing, present := rs.byPK[pk]; present {
				rs.byPK[pk] = existing.Merge(inst)
			} else {
				rs.put(pk, inst.Clone())
			}

		default:
			s.log.Warn().Str("operation_id", op.ID).Str("type", string(op.Type)).Msg("unknown operation type")
		}
	}
}

// deleteGuardedLocked reports whether a non-rejected delete in the log
// targets the primary key. A bare update on an absent key must not resurrect
// an entity the user deleted.
func (s *ModelStore) deleteGuardedLocked(pk string) bool {
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

// upsertEntity composes the inserted entity for a lookup upsert:
// lookup fields, then defaults, then the instance's primary key.
func upsertEntity(lookup, defaults map[string]any, pkField string, pkValue any) models.Entity {
	e := make(models.Entity, len(lookup)+len(defaults)+1)
	for k, v := range lookup {
		e[k] = v
	}
	for k, v := range defaults {
		e[k] = v
	}
	e[pkField] = pkValue
	return e
}

// Sync refreshes ground truth from the backend for the currently-known
// primary keys, then trims stale operations. Fetch failures leave state
// untouched. A sync that is already running makes this call a warned no-op.
func (s *ModelStore) Sync(ctx context.Context) error {
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
	req := FetchModelsRequest{PKs: s.groundTruthPKsLocked(), ModelClass: s.class}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.syncing = false
		s.mu.Unlock()
	}()

	entities, err := s.fetch(ctx, req)
	if err != nil {
		telemetry.SyncErrorsTotal.WithLabelValues("model", s.class.ModelName).Inc()
		s.log.Warn().Err(err).Msg("sync fetch failed")
		return err
	}

	s.mu.Lock()
	s.setGroundTruthLocked(entities)
	s.trimLocked()
	s.persistGroundTruthLocked()
	s.persistOperationsLocked()
	rendered := s.renderLocked(nil)
	s.mu.Unlock()

	telemetry.SyncsTotal.WithLabelValues("model", s.class.ModelName).Inc()
	s.subs.notify(EventSynced, rendered)
	return nil
}

func (s *ModelStore) trimLocked() {
	kept, dropped := trimOperations(s.operations, s.now())
	s.operations = kept
	if dropped > 0 {
		telemetry.OperationsTrimmedTotal.WithLabelValues("model", s.class.ModelName).Add(float64(dropped))
	}
}

// Subscribe registers a callback invoked with each event and the fresh
// render. The returned function unsubscribes.
func (s *ModelStore) Subscribe(fn func(EventKind, []models.Entity)) func() {
	return s.subs.add(fn)
}

// Destroy drops subscribers. The store must not be used afterwards.
func (s *ModelStore) Destroy() {
	s.subs.clear()
}

func (s *ModelStore) persistOperationsLocked() {
	if s.backend == nil {
		return
	}
	data, err := json.Marshal(s.operations)
	if err != nil {
		s.log.Warn().Err(err).Msg("marshal operations")
		return
	}
	key := persist.ModelOperationsKey(s.class.ModelName, s.class.ConfigKey)
	if err := s.backend.Save(key, data); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("persist operations")
	}
}

func (s *ModelStore) persistGroundTruthLocked() {
	if s.backend == nil {
		return
	}
	data, err := json.Marshal(s.groundTruth)
	if err != nil {
		s.log.Warn().Err(err).Msg("marshal ground truth")
		return
	}
	key := persist.ModelGroundTruthKey(s.class.ModelName, s.class.ConfigKey)
	if err := s.backend.Save(key, data); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("persist ground truth")
	}
}
