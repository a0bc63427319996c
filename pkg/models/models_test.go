package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRowCloneDoesNotAlias(t *testing.T) {
	row := NewRow(1, map[string]any{
		"field_1": "a",
		"field_2": map[string]any{"nested": []any{1, 2}},
	})
	row.Scratch["hovered"] = true

	clone := row.Clone()
	clone.Values["field_1"] = "b"
	clone.Values["field_2"].(map[string]any)["nested"].([]any)[0] = 99
	clone.Scratch["hovered"] = false

	assert.Equal(t, "a", row.Values["field_1"])
	assert.Equal(t, 1, row.Values["field_2"].(map[string]any)["nested"].([]any)[0])
	assert.Equal(t, true, row.Scratch["hovered"])
}

func TestRowMerge(t *testing.T) {
	row := NewRow(7, map[string]any{"field_1": "a", "field_2": 1})
	merged := row.Merge(map[string]any{"field_2": 2, "field_3": "c"})

	assert.Equal(t, map[string]any{"field_1": "a", "field_2": 2, "field_3": "c"}, merged.Values)
	assert.Equal(t, map[string]any{"field_1": "a", "field_2": 1}, row.Values)
	assert.Equal(t, "c", merged.Value(3))
	assert.Nil(t, Row{}.Value(1))
}

func TestRowJSON(t *testing.T) {
	var row Row
	require.NoError(t, json.Unmarshal([]byte(`{"id": 42, "field_1": "2024-03-10", "field_2": null}`), &row))
	assert.Equal(t, int64(42), row.ID)
	assert.Equal(t, "2024-03-10", row.Value(1))
	assert.Contains(t, row.Values, "field_2")
	assert.NotNil(t, row.Scratch)

	out, err := json.Marshal(row)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id": 42, "field_1": "2024-03-10", "field_2": null}`, string(out))

	require.Error(t, json.Unmarshal([]byte(`{"field_1": "x"}`), &row))
	require.Error(t, json.Unmarshal([]byte(`{"id": 1.5}`), &row))
}

func TestBucket(t *testing.T) {
	b := Bucket{Results: []Row{NewRow(1, nil), NewRow(2, nil)}, Count: 3}
	assert.False(t, b.FullyLoaded())
	assert.Equal(t, 1, b.IndexOf(2))
	assert.Equal(t, -1, b.IndexOf(5))

	clone := b.Clone()
	clone.Results[0].Values["field_1"] = "x"
	assert.Nil(t, b.Results[0].Value(1))
}

func TestMergeFieldOptions(t *testing.T) {
	base := FieldOptions{Hidden: BoolPtr(false), Order: IntPtr(1), Style: map[string]string{"color": "red"}}
	merged := MergeFieldOptions(base, FieldOptions{Hidden: BoolPtr(true), Style: map[string]string{"icon": "star"}})

	assert.True(t, *merged.Hidden)
	assert.Equal(t, 1, *merged.Order)
	assert.Equal(t, map[string]string{"color": "red", "icon": "star"}, merged.Style)
	assert.False(t, *base.Hidden)
	assert.Equal(t, map[string]string{"color": "red"}, base.Style)

	f, ok := FindField([]Field{{ID: 1}, {ID: 2, Name: "Due"}}, 2)
	require.True(t, ok)
	assert.Equal(t, "Due", f.Name)
}
