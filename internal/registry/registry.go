// Package registry provides process-wide store lookup by identity: model
// class for entity stores, query hash for membership and metric stores.
// Registries construct stores lazily and are the single source of identity,
// which lets the queryset store reach its model store at use time without a
// construction-order cycle.
package registry

import "github.com/ormbridge/ormbridge-go/internal/cache"

// Process-wide defaults. Tests and embedders that need isolation construct
// their own registries instead.
var (
	Models     = NewModelStores()
	Querysets  = NewQuerysetStores()
	Metrics    = NewMetricStores()
	Strategies = cache.NewStrategyFactory()
)

// ResetAll destroys every store in the default registries and drops the
// references. Intended for tests.
func ResetAll() {
	Models.Clear()
	Querysets.Clear()
	Metrics.Clear()
}
