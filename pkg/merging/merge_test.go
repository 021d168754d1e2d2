package merging

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMerge(t *testing.T) {
	tests := []struct {
		name        string
		old         map[string]any
		new         map[string]any
		wantMerged  map[string]any
		wantChanged []string
	}{
		{
			name:        "empty new values never overwrite",
			old:         map[string]any{"a": 1, "b": []any{1, 2}},
			new:         map[string]any{"a": nil, "b": []any{}},
			wantMerged:  map[string]any{"a": 1, "b": []any{1, 2}},
			wantChanged: []string{},
		},
		{
			name:        "scalar replaced",
			old:         map[string]any{"a": 1},
			new:         map[string]any{"a": 2},
			wantMerged:  map[string]any{"a": 2},
			wantChanged: []string{"a"},
		},
		{
			name:        "missing key added",
			old:         map[string]any{"a": 1},
			new:         map[string]any{"b": "x"},
			wantMerged:  map[string]any{"a": 1, "b": "x"},
			wantChanged: []string{"b"},
		},
		{
			name:        "equal scalar is a no-op",
			old:         map[string]any{"a": 1},
			new:         map[string]any{"a": float64(1)},
			wantMerged:  map[string]any{"a": 1},
			wantChanged: []string{},
		},
		{
			name: "maps recurse with dotted paths",
			old: map[string]any{"development": map[string]any{
				"name": "Акварель", "address": "ул. Ленина, 1",
			}},
			new: map[string]any{"development": map[string]any{
				"name": "Акварель", "address": "", "price_range": "от 5 млн",
			}},
			wantMerged: map[string]any{"development": map[string]any{
				"name": "Акварель", "address": "ул. Ленина, 1", "price_range": "от 5 млн",
			}},
			wantChanged: []string{"development.price_range"},
		},
		{
			name:        "lists replaced wholesale when different",
			old:         map[string]any{"photos": []any{"a", "b"}},
			new:         map[string]any{"photos": []any{"b", "c"}},
			wantMerged:  map[string]any{"photos": []any{"b", "c"}},
			wantChanged: []string{"photos"},
		},
		{
			name:        "equal lists are a no-op",
			old:         map[string]any{"photos": []any{"a", "b"}},
			new:         map[string]any{"photos": []any{"a", "b"}},
			wantMerged:  map[string]any{"photos": []any{"a", "b"}},
			wantChanged: []string{},
		},
		{
			name:        "nil old",
			old:         nil,
			new:         map[string]any{"a": 1},
			wantMerged:  map[string]any{"a": 1},
			wantChanged: []string{"a"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			merged, changed := Merge(tt.old, tt.new)
			assert.Equal(t, tt.wantMerged, merged)
			assert.Equal(t, tt.wantChanged, changed)
		})
	}
}

func TestMerge_Idempotent(t *testing.T) {
	old := map[string]any{
		"a":           1,
		"development": map[string]any{"name": "Акварель", "photos": []any{"x"}},
	}
	new := map[string]any{
		"a":           2,
		"b":           "",
		"development": map[string]any{"photos": []any{"y", "z"}, "korpuses": []any{}},
	}

	once, changed := Merge(old, new)
	assert.NotEmpty(t, changed)

	twice, changedAgain := Merge(once, new)
	assert.Equal(t, once, twice)
	assert.Empty(t, changedAgain)
}

func TestMerge_DoesNotMutateInputs(t *testing.T) {
	old := map[string]any{"development": map[string]any{"name": "a"}}
	new := map[string]any{"development": map[string]any{"name": "b"}, "list": []any{map[string]any{"k": 1}}}

	merged, _ := Merge(old, new)
	merged["development"].(map[string]any)["name"] = "mutated"
	merged["list"].([]any)[0].(map[string]any)["k"] = 2

	assert.Equal(t, "a", old["development"].(map[string]any)["name"])
	assert.Equal(t, 1, new["list"].([]any)[0].(map[string]any)["k"])
}

func TestMergeExcept(t *testing.T) {
	old := map[string]any{"_id": "keep", "apartment_types": map[string]any{"1": 1}, "rating": 4}
	new := map[string]any{"_id": "drop", "apartment_types": map[string]any{"1": 2}, "rating": 5}

	merged, changed := MergeExcept(old, new, "_id", "apartment_types")
	assert.Equal(t, "keep", merged["_id"])
	assert.Equal(t, map[string]any{"1": 1}, merged["apartment_types"])
	assert.Equal(t, 5, merged["rating"])
	assert.Equal(t, []string{"rating"}, changed)
}

func TestIsEmpty(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  bool
	}{
		{"nil", nil, true},
		{"empty string", "", true},
		{"empty list", []any{}, true},
		{"empty map", map[string]any{}, true},
		{"zero number", 0, false},
		{"false", false, false},
		{"text", "x", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsEmpty(tt.value))
		})
	}
}
