package store

import (
	"github.com/ormbridge/ormbridge-go/internal/ast"
	"github.com/ormbridge/ormbridge-go/internal/cache"
	"github.com/ormbridge/ormbridge-go/internal/models"
)

// Ingest folds a materialized API response into ground truth: included
// entities merge into their model stores, and list-shaped primary data
// becomes the queryset store's ground truth for the query. Unmaterialized
// and aggregate responses are ignored.
func (s *Store) Ingest(resp *models.Response, query ast.Node) {
	if resp == nil {
		return
	}
	if !query.Materialized() || query.IsAggregate() {
		return
	}

	for modelName, byPK := range resp.Included {
		class, ok := s.classes[modelName]
		if !ok {
			s.log.Warn().Str("model", modelName).Msg("included entities for unregistered model")
			continue
		}
		entities := make([]models.Entity, 0, len(byPK))
		for _, e := range byPK {
			entities = append(entities, e)
		}
		s.GetModelStore(class).AddToGroundTruth(entities)
	}

	if !resp.DataIsList() {
		return
	}
	entities := resp.DataEntities()
	if len(entities) == 0 {
		// An empty page still names no model, so the queryset store can
		// only be updated when the query was seen before.
		if qs := s.lookupQueryset(query.Hash()); qs != nil {
			qs.SetGroundTruthPKs(nil)
		}
		return
	}

	modelName, _ := entities[0][models.TypeField].(string)
	class, ok := s.classes[modelName]
	if !ok {
		s.log.Warn().Str("model", modelName).Msg("queryset data for unregistered model")
		return
	}

	pks := make([]string, 0, len(entities))
	for _, e := range entities {
		pk, ok := e.PK(class.PrimaryKeyField)
		if !ok {
			s.log.Warn().Str("model", modelName).Msg("skipping entity without primary key")
			continue
		}
		pks = append(pks, pk)
	}
	s.GetQuerysetStore(query, class).SetGroundTruthPKs(pks)
}

func (s *Store) lookupQueryset(hash string) *cache.QuerysetStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.querysetStores[hash]
}
