package airtable

import "encoding/json"

// Record is a single row from an Airtable table. Fields is schemaless: the
// field set is administrator-defined and varies per record and over time.
type Record struct {
	ID          string         `json:"id"`
	CreatedTime string         `json:"createdTime,omitempty"`
	Fields      map[string]any `json:"fields"`
}

// Clone returns a copy of the record with a freshly allocated Fields map.
// Nested values are shared; callers that replace field values (e.g. link
// expansion) must assign new values rather than mutate in place.
func (r Record) Clone() Record {
	fields := make(map[string]any, len(r.Fields))
	for k, v := range r.Fields {
		fields[k] = v
	}
	return Record{ID: r.ID, CreatedTime: r.CreatedTime, Fields: fields}
}

// LinkedIDs extracts record IDs from a linked-record field value. Airtable
// serializes linked fields as an array of IDs, but a value can also arrive
// as a single ID string or be absent entirely.
func LinkedIDs(v any) []string {
	switch val := v.(type) {
	case nil:
		return nil
	case string:
		if val == "" {
			return nil
		}
		return []string{val}
	case []string:
		return val
	case []any:
		ids := make([]string, 0, len(val))
		for _, item := range val {
			if s, ok := item.(string); ok && s != "" {
				ids = append(ids, s)
			}
		}
		return ids
	default:
		return nil
	}
}

// listResponse is one page of a list/filter call.
type listResponse struct {
	Records []Record `json:"records"`
	Offset  string   `json:"offset,omitempty"`
}

// updateRequest is the body of a PATCH on a single record. Typecast lets the
// store coerce string input into its own field types (selects, numbers, dates).
type updateRequest struct {
	Fields   map[string]any `json:"fields"`
	Typecast bool           `json:"typecast"`
}

// errorResponse is Airtable's error envelope. The "error" member is usually
// an object but can be a bare string on some endpoints.
type errorResponse struct {
	Error json.RawMessage `json:"error"`
}

type errorDetail struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
