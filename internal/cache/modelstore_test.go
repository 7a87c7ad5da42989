package cache

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ormbridge/ormbridge-go/internal/models"
	"github.com/ormbridge/ormbridge-go/internal/persist"
)

func testClass() models.ModelClass {
	return models.ModelClass{ModelName: "article", ConfigKey: "default", PrimaryKeyField: "id"}
}

func pksOf(t *testing.T, entities []models.Entity) []string {
	t.Helper()
	out := make([]string, 0, len(entities))
	for _, e := range entities {
		pk, ok := e.PK("id")
		require.True(t, ok)
		out = append(out, pk)
	}
	return out
}

func TestModelStore_RenderGroundTruthOnly(t *testing.T) {
	s := NewModelStore(testClass(), ModelStoreConfig{})
	s.SetGroundTruth([]models.Entity{
		{"id": 1, "v": 100},
		{"id": 2, "v": 200},
	})

	rendered := s.Render(nil)
	require.Len(t, rendered, 2)
	assert.Equal(t, []string{"1", "2"}, pksOf(t, rendered), "ground truth order is preserved")
}

func TestModelStore_RenderIsRepeatable(t *testing.T) {
	s := NewModelStore(testClass(), ModelStoreConfig{})
	s.SetGroundTruth([]models.Entity{{"id": 1, "v": 100}})
	s.AddOperation(models.NewOperation(models.OpCreate, models.Entity{"id": 2, "v": 200}))

	first := s.Render(nil)
	second := s.Render(nil)
	assert.Equal(t, first, second)
}

func TestModelStore_SetGroundTruthDeduplicates(t *testing.T) {
	s := NewModelStore(testClass(), ModelStoreConfig{})
	s.SetGroundTruth([]models.Entity{
		{"id": 1, "v": 100},
		{"id": 1, "v": 150, "extra": true},
		{"id": 2, "v": 200},
	})

	rendered := s.Render(nil)
	require.Len(t, rendered, 2)
	assert.Equal(t, 150, rendered[0]["v"], "later duplicates override field-wise")
	assert.Equal(t, true, rendered[0]["extra"])
}

func TestModelStore_SetGroundTruthSkipsInvalid(t *testing.T) {
	s := NewModelStore(testClass(), ModelStoreConfig{})
	s.SetGroundTruth([]models.Entity{
		{"id": 1},
		{"name": "missing pk"},
	})
	assert.Len(t, s.Render(nil), 1)
}

func TestModelStore_AddToGroundTruthMerges(t *testing.T) {
	s := NewModelStore(testClass(), ModelStoreConfig{})
	s.SetGroundTruth([]models.Entity{{"id": 1, "v": 100, "name": "a"}})
	s.AddToGroundTruth([]models.Entity{
		{"id": 1, "v": 101},
		{"id": 3, "v": 300},
	})

	rendered := s.Render(nil)
	require.Len(t, rendered, 2)
	assert.Equal(t, 101, rendered[0]["v"])
	assert.Equal(t, "a", rendered[0]["name"], "merge keeps untouched fields")
	assert.Equal(t, []string{"1", "3"}, pksOf(t, rendered))
}

func TestModelStore_OptimisticCreateThenConfirm(t *testing.T) {
	s := NewModelStore(testClass(), ModelStoreConfig{})
	s.SetGroundTruth([]models.Entity{
		{"id": 1, "v": 100},
		{"id": 2, "v": 200},
	})

	op := models.NewOperation(models.OpCreate, models.Entity{"id": 4, "v": 400})
	s.AddOperation(op)

	rendered := s.Render(nil)
	require.Len(t, rendered, 3)
	assert.Equal(t, 400, rendered[2]["v"])

	s.ConfirmOperation(op.ID, []models.Entity{{"id": 4, "v": 401}})
	rendered = s.Render(nil)
	require.Len(t, rendered, 3)
	assert.Equal(t, 401, rendered[2]["v"], "confirm swaps in the server payload")
}

func TestModelStore_CreateExistingPKIsNoop(t *testing.T) {
	s := NewModelStore(testClass(), ModelStoreConfig{})
	s.SetGroundTruth([]models.Entity{{"id": 1, "v": 100}})
	s.AddOperation(models.NewOperation(models.OpCreate, models.Entity{"id": 1, "v": 999}))

	rendered := s.Render(nil)
	require.Len(t, rendered, 1)
	assert.Equal(t, 100, rendered[0]["v"])
}

func TestModelStore_UpdateMergesFields(t *testing.T) {
	s := NewModelStore(testClass(), ModelStoreConfig{})
	s.SetGroundTruth([]models.Entity{{"id": 1, "v": 100, "name": "a"}})
	s.AddOperation(models.NewOperation(models.OpUpdate, models.Entity{"id": 1, "v": 111}))

	rendered := s.Render(nil)
	require.Len(t, rendered, 1)
	assert.Equal(t, 111, rendered[0]["v"])
	assert.Equal(t, "a", rendered[0]["name"])
}

func TestModelStore_DeleteGuardBlocksUpdateInsert(t *testing.T) {
	s := NewModelStore(testClass(), ModelStoreConfig{})
	s.SetGroundTruth([]models.Entity{{"id": 1}})

	s.AddOperation(models.NewOperation(models.OpDelete, models.Entity{"id": 2}))
	s.AddOperation(models.NewOperation(models.OpUpdate, models.Entity{"id": 2, "name": "X"}))

	rendered := s.Render(nil)
	require.Len(t, rendered, 1)
	assert.Equal(t, []string{"1"}, pksOf(t, rendered))
}

func TestModelStore_RejectedDeleteDoesNotGuard(t *testing.T) {
	s := NewModelStore(testClass(), ModelStoreConfig{})
	del := models.NewOperation(models.OpDelete, models.Entity{"id": 2})
	s.AddOperation(del)
	s.RejectOperation(del.ID)
	s.AddOperation(models.NewOperation(models.OpUpdate, models.Entity{"id": 2, "name": "X"}))

	rendered := s.Render(nil)
	require.Len(t, rendered, 1)
	assert.Equal(t, "X", rendered[0]["name"])
}

func TestModelStore_CreateThenDelete(t *testing.T) {
	s := NewModelStore(testClass(), ModelStoreConfig{})
	s.AddOperation(models.NewOperation(models.OpCreate, models.Entity{"id": 7}))
	s.AddOperation(models.NewOperation(models.OpDelete, models.Entity{"id": 7}))

	assert.Empty(t, s.Render(nil))
}

func TestModelStore_UpdateOrCreateResurrection(t *testing.T) {
	s := NewModelStore(testClass(), ModelStoreConfig{})
	s.SetGroundTruth([]models.Entity{{"id": 2, "name": "A"}})

	s.AddOperation(models.NewOperation(models.OpDelete, models.Entity{"id": 2}))

	upsert := models.NewOperation(models.OpUpdateOrCreate, models.Entity{"id": 2})
	upsert.Args = &models.OperationArgs{
		Lookup:   map[string]any{"name": "B"},
		Defaults: map[string]any{"v": 222},
	}
	s.AddOperation(upsert)

	rendered := s.Render(nil)
	require.Len(t, rendered, 1)
	assert.Equal(t, "B", rendered[0]["name"])
	assert.Equal(t, 222, rendered[0]["v"])
}

func TestModelStore_GetOrCreateLookupMatchIsNoop(t *testing.T) {
	s := NewModelStore(testClass(), ModelStoreConfig{})
	s.SetGroundTruth([]models.Entity{{"id": 1, "name": "A", "v": 1}})

	op := models.NewOperation(models.OpGetOrCreate, models.Entity{"id": 99})
	op.Args = &models.OperationArgs{
		Lookup:   map[string]any{"name": "A"},
		Defaults: map[string]any{"v": 999},
	}
	s.AddOperation(op)

	rendered := s.Render(nil)
	require.Len(t, rendered, 1)
	assert.Equal(t, 1, rendered[0]["v"], "a lookup match leaves the entity untouched")
}

func TestModelStore_GetOrCreateLookupMissInserts(t *testing.T) {
	s := NewModelStore(testClass(), ModelStoreConfig{})
	s.SetGroundTruth([]models.Entity{{"id": 1, "name": "A"}})

	op := models.NewOperation(models.OpGetOrCreate, models.Entity{"id": 99})
	op.Args = &models.OperationArgs{
		Lookup:   map[string]any{"name": "Z"},
		Defaults: map[string]any{"v": 9},
	}
	s.AddOperation(op)

	rendered := s.Render(nil)
	require.Len(t, rendered, 2)
	inserted := rendered[1]
	assert.Equal(t, "Z", inserted["name"])
	assert.Equal(t, 9, inserted["v"])
	pk, _ := inserted.PK("id")
	assert.Equal(t, "99", pk, "inserted entity carries the instance primary key")
}

func TestModelStore_UpdateOrCreateLookupMatchMergesDefaults(t *testing.T) {
	s := NewModelStore(testClass(), ModelStoreConfig{})
	s.SetGroundTruth([]models.Entity{{"id": 1, "name": "A", "v": 1}})

	op := models.NewOperation(models.OpUpdateOrCreate, models.Entity{"id": 99})
	op.Args = &models.OperationArgs{
		Lookup:   map[string]any{"name": "A"},
		Defaults: map[string]any{"v": 42},
	}
	s.AddOperation(op)

	rendered := s.Render(nil)
	require.Len(t, rendered, 1)
	assert.Equal(t, 42, rendered[0]["v"])
	assert.Equal(t, "A", rendered[0]["name"])
}

func TestModelStore_RejectedOperationInvisible(t *testing.T) {
	s := NewModelStore(testClass(), ModelStoreConfig{})
	s.SetGroundTruth([]models.Entity{{"id": 1}})
	baseline := s.Render(nil)

	op := models.NewOperation(models.OpCreate, models.Entity{"id": 5})
	s.AddOperation(op)
	s.RejectOperation(op.ID)

	assert.Equal(t, baseline, s.Render(nil), "rejecting restores the pre-operation render")
}

func TestModelStore_ExpiredOperationInvisible(t *testing.T) {
	s := NewModelStore(testClass(), ModelStoreConfig{})
	op := models.NewOperation(models.OpCreate, models.Entity{"id": 5})
	op.Timestamp = time.Now().Add(-3 * time.Minute).UnixMilli()
	s.AddOperation(op)

	assert.Empty(t, s.Render(nil))
}

func TestModelStore_RenderWithPKFilter(t *testing.T) {
	s := NewModelStore(testClass(), ModelStoreConfig{})
	s.SetGroundTruth([]models.Entity{{"id": 1}, {"id": 2}, {"id": 3}})
	s.AddOperation(models.NewOperation(models.OpCreate, models.Entity{"id": 4}))

	rendered := s.Render([]string{"1", "3"})
	assert.Equal(t, []string{"1", "3"}, pksOf(t, rendered))

	rendered = s.Render([]string{"2", "4"})
	assert.Equal(t, []string{"2", "4"}, pksOf(t, rendered), "filter admits optimistic inserts")
}

func TestModelStore_SkipsInvalidOperations(t *testing.T) {
	s := NewModelStore(testClass(), ModelStoreConfig{})
	s.SetGroundTruth([]models.Entity{{"id": 1}})

	s.AddOperation(models.NewOperation(models.OpCreate)) // no instances
	s.AddOperation(models.NewOperation(models.OpCreate, models.Entity{"name": "no pk"}))
	unknown := models.NewOperation(models.OperationType("exotic"), models.Entity{"id": 2})
	s.AddOperation(unknown)

	assert.Len(t, s.Render(nil), 1)
}

func TestModelStore_ConfirmUnknownIDIsNoop(t *testing.T) {
	s := NewModelStore(testClass(), ModelStoreConfig{})
	s.SetGroundTruth([]models.Entity{{"id": 1}})
	s.ConfirmOperation("nope", nil)
	s.RejectOperation("nope")
	assert.Len(t, s.Render(nil), 1)
}

func TestModelStore_SyncReplacesGroundTruthAndTrims(t *testing.T) {
	now := time.Now()
	fetched := []models.Entity{{"id": 1, "v": 111}}
	s := NewModelStore(testClass(), ModelStoreConfig{
		Fetch: func(ctx context.Context, req FetchModelsRequest) ([]models.Entity, error) {
			assert.Equal(t, []string{"1"}, req.PKs)
			return fetched, nil
		},
		Now: func() time.Time { return now },
	})
	s.SetGroundTruth([]models.Entity{{"id": 1, "v": 100}})

	recent := models.NewOperation(models.OpUpdate, models.Entity{"id": 1, "v": 112})
	recent.Timestamp = now.Add(-60 * time.Second).UnixMilli()
	old := models.NewOperation(models.OpCreate, models.Entity{"id": 9})
	old.Timestamp = now.Add(-180 * time.Second).UnixMilli()
	s.AddOperation(recent)
	s.AddOperation(old)

	require.NoError(t, s.Sync(context.Background()))

	ops := s.Operations()
	require.Len(t, ops, 1, "operations beyond the staleness window are trimmed")
	assert.Equal(t, recent.ID, ops[0].ID)

	rendered := s.Render(nil)
	require.Len(t, rendered, 1)
	assert.Equal(t, 112, rendered[0]["v"], "recent overlay still applies to fresh ground truth")
}

func TestModelStore_SyncFetchErrorLeavesState(t *testing.T) {
	s := NewModelStore(testClass(), ModelStoreConfig{
		Fetch: func(ctx context.Context, req FetchModelsRequest) ([]models.Entity, error) {
			return nil, errors.New("network down")
		},
	})
	s.SetGroundTruth([]models.Entity{{"id": 1, "v": 100}})
	s.AddOperation(models.NewOperation(models.OpCreate, models.Entity{"id": 2}))

	err := s.Sync(context.Background())
	assert.Error(t, err)
	assert.Len(t, s.Render(nil), 2, "failed sync leaves ground truth and operations intact")
	assert.Len(t, s.Operations(), 1)
}

func TestModelStore_ConcurrentSyncIsNoop(t *testing.T) {
	var calls atomic.Int32
	gate := make(chan struct{})
	s := NewModelStore(testClass(), ModelStoreConfig{
		Fetch: func(ctx context.Context, req FetchModelsRequest) ([]models.Entity, error) {
			calls.Add(1)
			<-gate
			return nil, nil
		},
	})

	done := make(chan error, 1)
	go func() { done <- s.Sync(context.Background()) }()

	// Wait until the first sync is inside the fetch.
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)

	require.NoError(t, s.Sync(context.Background()), "second sync returns immediately")
	assert.Equal(t, int32(1), calls.Load())

	close(gate)
	require.NoError(t, <-done)

	// The guard is released; a later sync runs again.
	require.NoError(t, s.Sync(context.Background()))
	assert.Equal(t, int32(2), calls.Load())
}

func TestModelStore_SyncWithoutFetchIsNoop(t *testing.T) {
	s := NewModelStore(testClass(), ModelStoreConfig{})
	s.SetGroundTruth([]models.Entity{{"id": 1}})
	require.NoError(t, s.Sync(context.Background()))
	assert.Len(t, s.Render(nil), 1)
}

func TestModelStore_PersistsStateThrough(t *testing.T) {
	backend := persist.NewMemory()
	s := NewModelStore(testClass(), ModelStoreConfig{Backend: backend})

	s.SetGroundTruth([]models.Entity{{"id": 1}})
	s.AddOperation(models.NewOperation(models.OpCreate, models.Entity{"id": 2}))

	gt, err := backend.Load(persist.ModelGroundTruthKey("article", "default"))
	require.NoError(t, err)
	assert.NotNil(t, gt)

	ops, err := backend.Load(persist.ModelOperationsKey("article", "default"))
	require.NoError(t, err)
	assert.NotNil(t, ops)
}

func TestModelStore_PreloadedState(t *testing.T) {
	op := models.NewOperation(models.OpCreate, models.Entity{"id": "2"})
	s := NewModelStore(testClass(), ModelStoreConfig{
		GroundTruth: []models.Entity{{"id": "1", "v": 100}},
		Operations:  []*models.Operation{op},
	})

	rendered := s.Render(nil)
	assert.Equal(t, []string{"1", "2"}, pksOf(t, rendered))
}

func TestModelStore_SubscribeAndDestroy(t *testing.T) {
	s := NewModelStore(testClass(), ModelStoreConfig{})

	var events []EventKind
	unsubscribe := s.Subscribe(func(kind EventKind, entities []models.Entity) {
		events = append(events, kind)
	})

	s.SetGroundTruth([]models.Entity{{"id": 1}})
	op := models.NewOperation(models.OpCreate, models.Entity{"id": 2})
	s.AddOperation(op)
	s.ConfirmOperation(op.ID, nil)

	assert.Equal(t, []EventKind{EventGroundTruth, EventOperationAdded, EventOperationConfirmed}, events)

	unsubscribe()
	s.SetGroundTruth(nil)
	assert.Len(t, events, 3, "unsubscribed callbacks stop firing")

	s.Destroy()
}
