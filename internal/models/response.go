package models

// Response is the ingestion payload handed to the store façade after the HTTP
// layer materializes a query. Data may be a single entity, a list, or a scalar
// (for aggregates). Included maps model name -> primary key -> entity.
type Response struct {
	Data     any                          `json:"data"`
	Included map[string]map[string]Entity `json:"included,omitempty"`
	Metadata *ResponseMetadata            `json:"metadata,omitempty"`
}

// ResponseMetadata carries mutation outcome hints from the server.
type ResponseMetadata struct {
	Created      *bool `json:"created,omitempty"`
	RowsUpdated  *int  `json:"rows_updated,omitempty"`
	DeletedCount *int  `json:"deleted_count,omitempty"`
}

// DataEntities coerces the primary data into a list of entities. Scalars and
// malformed elements yield an empty result.
func (r *Response) DataEntities() []Entity {
	switch d := r.Data.(type) {
	case nil:
		return nil
	case Entity:
		return []Entity{d}
	case map[string]any:
		return []Entity{Entity(d)}
	case []Entity:
		return d
	case []any:
		out := make([]Entity, 0, len(d))
		for _, item := range d {
			switch e := item.(type) {
			case Entity:
				out = append(out, e)
			case map[string]any:
				out = append(out, Entity(e))
			}
		}
		return out
	default:
		return nil
	}
}

// DataIsList reports whether the primary data is a list of entities, which is
// what qualifies a response as queryset ground truth.
func (r *Response) DataIsList() bool {
	switch r.Data.(type) {
	case []Entity, []any:
		return true
	default:
		return false
	}
}
