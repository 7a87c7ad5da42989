package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ormbridge/ormbridge-go/internal/ast"
	"github.com/ormbridge/ormbridge-go/internal/models"
	"github.com/ormbridge/ormbridge-go/internal/persist"
)

func testClasses() map[string]models.ModelClass {
	return map[string]models.ModelClass{
		"article": {ModelName: "article", ConfigKey: "default", PrimaryKeyField: "id"},
		"comment": {ModelName: "comment", ConfigKey: "default", PrimaryKeyField: "id"},
	}
}

func newTestStore(t *testing.T, backend persist.Backend) *Store {
	t.Helper()
	s := New("default", testClasses(), Callbacks{}, backend)
	require.NoError(t, s.WhenReady(context.Background()))
	t.Cleanup(s.Destroy)
	return s
}

func TestStore_GetModelStoreIsStable(t *testing.T) {
	s := newTestStore(t, nil)
	class := testClasses()["article"]

	a := s.GetModelStore(class)
	b := s.GetModelStore(class)
	assert.Same(t, a, b)
}

func TestStore_GetQuerysetStoreKeyedByHash(t *testing.T) {
	s := newTestStore(t, nil)
	class := testClasses()["article"]
	open := ast.Node{"materialized": true, "filter": map[string]any{"status": "open"}}
	closed := ast.Node{"materialized": true, "filter": map[string]any{"status": "closed"}}

	a := s.GetQuerysetStore(open, class)
	b := s.GetQuerysetStore(open, class)
	c := s.GetQuerysetStore(closed, class)
	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
}

func TestStore_ModelClass(t *testing.T) {
	s := newTestStore(t, nil)

	class, ok := s.ModelClass("article")
	require.True(t, ok)
	assert.Equal(t, "article", class.ModelName)

	_, ok = s.ModelClass("unknown")
	assert.False(t, ok)
}

func TestStore_WhenReadyRespectsContext(t *testing.T) {
	s := newTestStore(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// Hydration already finished, so the ready channel wins the select.
	assert.NoError(t, s.WhenReady(ctx))
}

func TestStore_HydratesFromPersistence(t *testing.T) {
	backend := persist.NewMemory()

	gt, err := json.Marshal([]models.Entity{{"id": "1", "name": "persisted"}})
	require.NoError(t, err)
	require.NoError(t, backend.Save(persist.ModelGroundTruthKey("article", "default"), gt))

	op := models.NewOperation(models.OpCreate, models.Entity{"id": "2"})
	ops, err := json.Marshal([]*models.Operation{op})
	require.NoError(t, err)
	require.NoError(t, backend.Save(persist.ModelOperationsKey("article", "default"), ops))

	s := newTestStore(t, backend)
	ms := s.GetModelStore(testClasses()["article"])

	rendered := ms.Render(nil)
	require.Len(t, rendered, 2, "ground truth and the pending operation both survive restart")
	assert.Equal(t, "persisted", rendered[0]["name"])
}

func TestStore_HydratesQuerysetMembership(t *testing.T) {
	backend := persist.NewMemory()
	class := testClasses()["article"]
	query := ast.Node{"materialized": true, "filter": map[string]any{"status": "open"}}

	pks, err := json.Marshal([]string{"1", "2"})
	require.NoError(t, err)
	require.NoError(t, backend.Save(
		persist.QuerysetGroundTruthKey("article", "default", query.Hash()), pks))

	s := newTestStore(t, backend)
	qs := s.GetQuerysetStore(query, class)
	assert.Equal(t, []string{"1", "2"}, qs.Render())
}

func TestStore_HydrationDiscardsCorruptBlobs(t *testing.T) {
	backend := persist.NewMemory()
	require.NoError(t, backend.Save(persist.ModelGroundTruthKey("article", "default"), []byte("not json")))

	s := newTestStore(t, backend)
	ms := s.GetModelStore(testClasses()["article"])
	assert.Empty(t, ms.Render(nil))
}

func TestStore_WithClock(t *testing.T) {
	fixed := time.Now().Add(time.Hour)
	s := New("default", testClasses(), Callbacks{}, nil, WithClock(func() time.Time { return fixed }))
	require.NoError(t, s.WhenReady(context.Background()))
	defer s.Destroy()

	ms := s.GetModelStore(testClasses()["article"])
	op := models.NewOperation(models.OpCreate, models.Entity{"id": 1})
	ms.AddOperation(op)
	// The injected clock sits an hour past the operation's wall-clock
	// timestamp, so the staleness window filters it out of the render.
	assert.Empty(t, ms.Render(nil))
}

func TestIngest_IncludedEntitiesMergeIntoModelStores(t *testing.T) {
	s := newTestStore(t, nil)
	class := testClasses()["article"]
	s.GetModelStore(class).SetGroundTruth([]models.Entity{{"id": "1", "name": "old", "v": 1}})

	resp := &models.Response{
		Included: map[string]map[string]models.Entity{
			"article": {
				"1": {"id": "1", "name": "new"},
				"2": {"id": "2", "name": "fresh"},
			},
		},
	}
	s.Ingest(resp, ast.Node{"materialized": true})

	rendered := s.GetModelStore(class).Render(nil)
	require.Len(t, rendered, 2)
	byPK := map[string]models.Entity{}
	for _, e := range rendered {
		pk, _ := e.PK("id")
		byPK[pk] = e
	}
	assert.Equal(t, "new", byPK["1"]["name"])
	assert.Equal(t, 1, byPK["1"]["v"], "ingest merges field-wise instead of replacing")
	assert.Equal(t, "fresh", byPK["2"]["name"])
}

func TestIngest_ListDataSetsQuerysetMembership(t *testing.T) {
	s := newTestStore(t, nil)
	query := ast.Node{"materialized": true, "filter": map[string]any{"status": "open"}}

	resp := &models.Response{
		Data: []any{
			map[string]any{"type": "article", "id": "3"},
			map[string]any{"type": "article", "id": "1"},
		},
	}
	s.Ingest(resp, query)

	qs := s.GetQuerysetStore(query, testClasses()["article"])
	assert.Equal(t, []string{"3", "1"}, qs.Render(), "server order becomes membership order")
}

func TestIngest_EmptyListClearsKnownQuery(t *testing.T) {
	s := newTestStore(t, nil)
	class := testClasses()["article"]
	query := ast.Node{"materialized": true, "filter": map[string]any{"status": "open"}}

	qs := s.GetQuerysetStore(query, class)
	qs.SetGroundTruthPKs([]string{"1", "2"})

	s.Ingest(&models.Response{Data: []any{}}, query)
	assert.Empty(t, qs.Render())
}

func TestIngest_EmptyListOnUnknownQueryIsNoop(t *testing.T) {
	s := newTestStore(t, nil)
	query := ast.Node{"materialized": true, "filter": map[string]any{"status": "open"}}

	// Nothing registered for this query; an empty page cannot name a model,
	// so no store is created.
	s.Ingest(&models.Response{Data: []any{}}, query)
	assert.Nil(t, s.lookupQueryset(query.Hash()))
}

func TestIngest_SkipsUnmaterializedAndAggregates(t *testing.T) {
	s := newTestStore(t, nil)
	resp := &models.Response{
		Data: []any{map[string]any{"type": "article", "id": "1"}},
	}

	s.Ingest(resp, ast.Node{"materialized": false})
	s.Ingest(resp, ast.Node{"materialized": true, "type": "count"})
	s.Ingest(nil, ast.Node{"materialized": true})

	assert.Nil(t, s.lookupQueryset(ast.Node{"materialized": false}.Hash()))
	assert.Empty(t, s.GetModelStore(testClasses()["article"]).Render(nil))
}

func TestIngest_UnregisteredModelIsSkipped(t *testing.T) {
	s := newTestStore(t, nil)
	resp := &models.Response{
		Included: map[string]map[string]models.Entity{
			"widget": {"1": {"id": "1"}},
		},
		Data: []any{map[string]any{"type": "widget", "id": "1"}},
	}

	s.Ingest(resp, ast.Node{"materialized": true})
	assert.Nil(t, s.lookupQueryset(ast.Node{"materialized": true}.Hash()))
}

func TestIngest_SingleEntityDataIsNotMembership(t *testing.T) {
	s := newTestStore(t, nil)
	query := ast.Node{"materialized": true, "filter": map[string]any{"id": 1}}

	resp := &models.Response{
		Data: map[string]any{"type": "article", "id": "1"},
		Included: map[string]map[string]models.Entity{
			"article": {"1": {"id": "1", "name": "solo"}},
		},
	}
	s.Ingest(resp, query)

	assert.Nil(t, s.lookupQueryset(query.Hash()), "detail responses do not create queryset stores")
	rendered := s.GetModelStore(testClasses()["article"]).Render([]string{"1"})
	require.Len(t, rendered, 1)
	assert.Equal(t, "solo", rendered[0]["name"])
}
