package models

import (
	"encoding/json"
	"reflect"
	"strconv"

	"github.com/google/uuid"
)

// Entity is a single record payload: field name -> value. Values are whatever
// JSON decoding produced and are opaque to the core except for the primary key.
type Entity map[string]any

// PK returns the normalized string form of the entity's primary key.
// The second return is false when the field is absent or not usable as a key.
func (e Entity) PK(field string) (string, bool) {
	v, ok := e[field]
	if !ok {
		return "", false
	}
	return PKString(v)
}

// Clone returns a shallow copy of the entity.
func (e Entity) Clone() Entity {
	out := make(Entity, len(e))
	for k, v := range e {
		out[k] = v
	}
	return out
}

// Merge returns a new entity with other's fields overriding e's.
func (e Entity) Merge(other Entity) Entity {
	out := e.Clone()
	for k, v := range other {
		out[k] = v
	}
	return out
}

// MatchesLookup reports whether every lookup key is present on the entity with
// a loosely-equal value (numerics compared as numbers regardless of JSON type).
func (e Entity) MatchesLookup(lookup map[string]any) bool {
	for k, want := range lookup {
		got, ok := e[k]
		if !ok {
			return false
		}
		if !looseEqual(got, want) {
			return false
		}
	}
	return true
}

// PKString normalizes a primary key value to its string form. Primary keys
// arrive as strings or integers; JSON decoding turns the latter into float64.
func PKString(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, x != ""
	case int:
		return strconv.Itoa(x), true
	case int32:
		return strconv.FormatInt(int64(x), 10), true
	case int64:
		return strconv.FormatInt(x, 10), true
	case uint64:
		return strconv.FormatUint(x, 10), true
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), true
	case json.Number:
		return x.String(), true
	default:
		return "", false
	}
}

// Numeric coerces a field value to float64. String numerics are parsed;
// anything else is discarded.
func Numeric(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint64:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(x, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func looseEqual(a, b any) bool {
	if na, ok := Numeric(a); ok {
		if nb, ok := Numeric(b); ok {
			return na == nb
		}
	}
	return reflect.DeepEqual(a, b)
}

// SyntheticPK generates a placeholder primary key for an unconfirmed create.
// The server-assigned key replaces it at confirm time.
func SyntheticPK() string {
	return "local-" + uuid.NewString()
}
