package models

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/store"
)

func TestSourceRecordFromDocument(t *testing.T) {
	spec, ok := LookupSource(SourceDomClick)
	require.True(t, ok)

	doc := store.Document{
		"_id":         "dc1",
		"development": map[string]any{"complex_name": "ЖК «Акварель»"},
		"latitude":    "55,75",
		"longitude":   37.61,
		"updated_at":  "2025-01-02T03:04:05Z",
	}

	record := SourceRecordFromDocument(spec, doc)
	assert.Equal(t, "dc1", record.ID)
	assert.Equal(t, "ЖК «Акварель»", record.DisplayName)
	assert.Equal(t, "акварель akvarel", record.NormalizedKey)
	require.NotNil(t, record.Coordinates)
	assert.InDelta(t, 55.75, record.Coordinates.Lat, 1e-9)
	require.NotNil(t, record.UpdatedAt)
	assert.Equal(t, time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC), *record.UpdatedAt)
	assert.Equal(t, RecordRef{Source: SourceDomClick, ID: "dc1"}, record.Ref())
}

func TestUnifiedFromDocument(t *testing.T) {
	doc := store.Document{
		"_id":            "u1",
		"development":    map[string]any{"name": "Акварель"},
		"_source_ids":    map[string]any{"domrf": "r1", "avito": "a1"},
		"last_merged_at": "2025-03-01T00:00:00Z",
	}

	entity := UnifiedFromDocument(doc)
	assert.Equal(t, "u1", entity.ID)
	assert.Equal(t, "акварель akvarel", entity.NormalizedKey)
	assert.True(t, entity.Linked(SourceAvito))
	assert.False(t, entity.Linked(SourceDomClick))
	assert.Equal(t, []RecordRef{{Source: SourceDomRF, ID: "r1"}, {Source: SourceAvito, ID: "a1"}}, entity.Refs())
	require.NotNil(t, entity.LastMergedAt)
	assert.Nil(t, entity.Coordinates)
}

func TestApartmentRoundTrip(t *testing.T) {
	raw := map[string]any{
		"title":          "2-к. квартира, 58,9 м², 14/27 эт.",
		"url":            "https://example.com/a/1",
		"price":          "12 000 000 ₽",
		"photos":         []any{"p1.jpg", "p2.jpg"},
		"totalArea":      58.9,
		"decoration":     map[string]any{"description": "чистовая"},
		"completionDate": "",
	}

	apt := ApartmentFromMap(raw)
	assert.Equal(t, []string{"p1.jpg", "p2.jpg"}, apt.Photos)
	assert.Equal(t, "https://example.com/a/1", apt.URL)
	require.NotNil(t, apt.TotalArea)
	assert.Contains(t, apt.Extra, "decoration")

	rendered := apt.ToMap()
	assert.Equal(t, []any{"p1.jpg", "p2.jpg"}, rendered["image"])
	assert.NotContains(t, rendered, "photos")
	assert.NotContains(t, rendered, "completionDate")

	again := ApartmentFromMap(rendered)
	assert.True(t, store.ValuesEqual(rendered, again.ToMap()))
}

func TestApartmentTypes(t *testing.T) {
	raw := map[string]any{
		"1": map[string]any{"apartments": []any{map[string]any{"title": "a"}, map[string]any{"title": "b"}}},
		"2": map[string]any{"apartments": []any{}},
	}
	types := ApartmentTypesFromDocument(raw)
	assert.Equal(t, 2, types.Count("1"))
	assert.Equal(t, 2, types.Total())
	assert.Equal(t, []string{"1", "2"}, types.Names())

	doc := types.ToDocument()
	assert.Len(t, doc["1"].(map[string]any)["apartments"], 2)
}

func TestApartmentCompletionValue(t *testing.T) {
	apt := ApartmentFromMap(map[string]any{"completion_date_range": "2026"})
	assert.Equal(t, "2026", apt.CompletionValue())
}

func TestRecordError(t *testing.T) {
	cause := errors.New("connection reset")
	err := NewRecordError(ErrPersistenceFailure, RecordRef{Source: SourceAvito, ID: "a1"}, "upsert", cause)
	assert.ErrorIs(t, err, ErrPersistenceFailure)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "avito/a1")

	warning := IntegrityWarning{Ref: RecordRef{Source: SourceCian, ID: "c1"}, Kind: "duplicate_url"}
	assert.ErrorIs(t, warning, ErrDataIntegrity)
}

func TestParseTime(t *testing.T) {
	tests := []struct {
		name  string
		input any
		ok    bool
	}{
		{"rfc3339", "2025-01-02T03:04:05Z", true},
		{"naive", "2025-01-02T03:04:05.123456", true},
		{"date", "2025-01-02", true},
		{"unix", float64(1700000000), true},
		{"empty", "", false},
		{"garbage", "yesterday", false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := ParseTime(tt.input)
			assert.Equal(t, tt.ok, ok)
		})
	}
}

func TestParseSourceName(t *testing.T) {
	name, err := ParseSourceName(" DomClick ")
	require.NoError(t, err)
	assert.Equal(t, SourceDomClick, name)

	_, err = ParseSourceName("yandex")
	assert.Error(t, err)
}
