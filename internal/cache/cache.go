// Package cache implements the optimistic sync core: per-model entity
// stores, per-query membership stores, and metric stores. Each store holds
// server-authoritative ground truth plus a log of pending operations, and
// renders an optimistic view by folding the log over the ground truth.
package cache

import (
	"context"
	"time"

	"github.com/ormbridge/ormbridge-go/internal/ast"
	"github.com/ormbridge/ormbridge-go/internal/models"
)

// staleWindow bounds how long an operation stays relevant after its last
// status change. Older operations are trimmed at the next successful sync.
const staleWindow = 2 * time.Minute

// FetchModelsRequest asks the backend for fresh payloads of known entities.
type FetchModelsRequest struct {
	PKs        []string
	ModelClass models.ModelClass
}

// FetchModelsFunc returns up-to-date entity payloads for the given primary
// keys. Injected by the HTTP executor; the core never builds requests itself.
type FetchModelsFunc func(ctx context.Context, req FetchModelsRequest) ([]models.Entity, error)

// FetchQuerysetRequest asks the backend to materialize a query tree.
type FetchQuerysetRequest struct {
	Query      ast.Node
	ModelClass models.ModelClass
}

// FetchQuerysetFunc returns the full entity list for a query; the queryset
// store derives its primary keys from the result.
type FetchQuerysetFunc func(ctx context.Context, req FetchQuerysetRequest) ([]models.Entity, error)

// FetchMetricFunc returns the current server-side value of one aggregate.
// The closure is bound to a specific metric and query by its creator.
type FetchMetricFunc func(ctx context.Context) (float64, error)

// ModelStoreResolver returns the model store for a class at use time. The
// queryset store needs entity data for upsert lookup matching; resolving
// through a function avoids construction-order cycles between the stores.
type ModelStoreResolver func(models.ModelClass) *ModelStore

// relevant reports whether an operation participates in rendering: not
// rejected and inside the staleness window.
func relevant(op *models.Operation, now time.Time) bool {
	if op.Status == models.StatusRejected {
		return false
	}
	return op.Timestamp > now.Add(-staleWindow).UnixMilli()
}

// trimOperations keeps operations whose last status change is inside the
// staleness window. Returns the kept slice and the number dropped.
func trimOperations(ops []*models.Operation, now time.Time) ([]*models.Operation, int) {
	cutoff := now.Add(-staleWindow).UnixMilli()
	kept := make([]*models.Operation, 0, len(ops))
	for _, op := range ops {
		if op.Timestamp > cutoff {
			kept = append(kept, op)
		}
	}
	return kept, len(ops) - len(kept)
}
