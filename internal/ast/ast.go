// Package ast consumes the query trees produced by the external query
// builder. The core never constructs trees; it inspects a handful of
// top-level fields and derives stable hash identities from them.
package ast

// Node is a JSON-serializable query tree. Recognized top-level fields are
// type, filter, search, aggregations, selectRelated, prefetchRelated,
// orderBy, serializerOptions, data, lookup, defaults, field, materialized.
type Node map[string]any

// Type returns the query type tag ("read", "create", "count", ...).
func (n Node) Type() string {
	s, _ := n["type"].(string)
	return s
}

// Materialized reports whether the caller awaited an actual result set.
// Only materialized responses are ingested.
func (n Node) Materialized() bool {
	b, _ := n["materialized"].(bool)
	return b
}

// Field returns the aggregate target field, if any.
func (n Node) Field() string {
	s, _ := n["field"].(string)
	return s
}

// aggregateTypes are query types whose primary data is a scalar.
var aggregateTypes = map[string]bool{
	"sum":   true,
	"min":   true,
	"max":   true,
	"avg":   true,
	"count": true,
}

// IsAggregate reports whether the query's result is a scalar aggregate.
func (n Node) IsAggregate() bool {
	return aggregateTypes[n.Type()]
}
