package models

import (
	"encoding/json"
	"strconv"

	"github.com/pkg/errors"
)

// Row is a snapshot of a single table row. Values holds the persisted field
// values keyed by FieldName, Scratch holds UI-local annotations that are never
// sent to or received from the server.
type Row struct {
	ID      int64
	Values  map[string]any
	Scratch map[string]any
}

// FieldName returns the key under which a field's value is stored in a row.
func FieldName(fieldID int64) string {
	return "field_" + strconv.FormatInt(fieldID, 10)
}

// NewRow returns a row with initialised value and scratch maps.
func NewRow(id int64, values map[string]any) Row {
	row := Row{ID: id, Values: cloneMap(values), Scratch: map[string]any{}}
	if row.Values == nil {
		row.Values = map[string]any{}
	}
	return row
}

// Value returns the value stored for the given field.
func (r Row) Value(fieldID int64) any {
	if r.Values == nil {
		return nil
	}
	return r.Values[FieldName(fieldID)]
}

// Clone returns a deep copy so that rows held by different buckets never alias.
func (r Row) Clone() Row {
	out := Row{ID: r.ID, Values: cloneMap(r.Values), Scratch: cloneMap(r.Scratch)}
	if out.Values == nil {
		out.Values = map[string]any{}
	}
	if out.Scratch == nil {
		out.Scratch = map[string]any{}
	}
	return out
}

// Merge returns a clone of the row with the given values applied on top.
func (r Row) Merge(values map[string]any) Row {
	out := r.Clone()
	for k, v := range values {
		out.Values[k] = cloneValue(v)
	}
	return out
}

// MarshalJSON writes the flat server representation: id plus field values.
func (r Row) MarshalJSON() ([]byte, error) {
	flat := make(map[string]any, len(r.Values)+1)
	for k, v := range r.Values {
		flat[k] = v
	}
	flat["id"] = r.ID
	return json.Marshal(flat)
}

// UnmarshalJSON reads the flat server representation.
func (r *Row) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return errors.Wrap(err, "decode row")
	}
	idRaw, ok := raw["id"]
	if !ok {
		return errors.New("decode row: missing id")
	}
	var id json.Number
	if err := json.Unmarshal(idRaw, &id); err != nil {
		return errors.Wrap(err, "decode row id")
	}
	parsed, err := id.Int64()
	if err != nil {
		return errors.Wrapf(err, "decode row id %q", id.String())
	}
	values := make(map[string]any, len(raw))
	for k, v := range raw {
		if k == "id" {
			continue
		}
		var value any
		if err := json.Unmarshal(v, &value); err != nil {
			return errors.Wrapf(err, "decode row %d value %s", parsed, k)
		}
		values[k] = value
	}
	r.ID = parsed
	r.Values = values
	r.Scratch = map[string]any{}
	return nil
}

// CloneRows deep-copies a row slice.
func CloneRows(rows []Row) []Row {
	if rows == nil {
		return nil
	}
	out := make([]Row, len(rows))
	for i := range rows {
		out[i] = rows[i].Clone()
	}
	return out
}

func cloneMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch typed := v.(type) {
	case map[string]any:
		return cloneMap(typed)
	case []any:
		out := make([]any, len(typed))
		for i := range typed {
			out[i] = cloneValue(typed[i])
		}
		return out
	default:
		return v
	}
}
