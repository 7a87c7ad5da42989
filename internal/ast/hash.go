package ast

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// identityFields is the structural subset of a query tree that determines
// result identity. Serializer options and display-level pagination are
// deliberately excluded so that presentational variants share one store.
var identityFields = []string{"filter", "search", "aggregations"}

// Hash returns the stable identity of the query tree: a sha256 over the
// canonical JSON encoding of the identity fields. encoding/json sorts map
// keys, so structurally equal trees hash equally regardless of field order.
func (n Node) Hash() string {
	subset := make(map[string]any, len(identityFields))
	for _, f := range identityFields {
		if v, ok := n[f]; ok && v != nil {
			subset[f] = v
		}
	}
	data, err := json.Marshal(subset)
	if err != nil {
		// Query trees are produced by the builder from JSON-safe values;
		// an unencodable tree still needs a deterministic identity.
		data = []byte("{}")
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
