package apartments

import (
	"context"
	"fmt"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/normalizers"
	"github.com/Ramsey-B/fern/pkg/store"
)

var testRef = models.RecordRef{Source: "unified", ID: "u1"}

func testReconciler() *Reconciler {
	return NewReconciler(ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {}))
}

func units(prefix string, n int) []models.Apartment {
	out := make([]models.Apartment, n)
	for i := range out {
		out[i] = models.Apartment{
			Title: fmt.Sprintf("%s %d", prefix, i),
			URL:   fmt.Sprintf("https://example.com/%s/%d", prefix, i),
		}
	}
	return out
}

func TestDecide(t *testing.T) {
	tests := []struct {
		existing, candidate, threshold int
		want                           Action
	}{
		{0, 5, 15, ActionMerge},
		{20, 5, 15, ActionSkip},
		{10, 12, 15, ActionMerge},
		{5, 0, 15, ActionSkip},
		{0, 0, 15, ActionSkip},
		{20, 25, 15, ActionMerge},
		{16, 16, 15, ActionSkip},
		{15, 15, 15, ActionMerge},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d_%d_%d", tt.existing, tt.candidate, tt.threshold), func(t *testing.T) {
			assert.Equal(t, tt.want, Decide(tt.existing, tt.candidate, tt.threshold))
		})
	}
}

func TestPolicyResolver(t *testing.T) {
	key := normalizers.NormalizeBuildingName
	r := NewPolicyResolver(15, []string{"жк акварель", "ЖК Холмогоры"}, []string{"жк холмогоры"})

	assert.Equal(t, ForceReplace(), r.Resolve(key("ЖК «Акварель»")))
	assert.Equal(t, CopyOnly(), r.Resolve(key("Холмогоры")))
	assert.Equal(t, Default(15), r.Resolve(key("Космос")))
	assert.Equal(t, Default(15), r.Resolve(""))

	wider := r.WithNames([]string{"ЖК Космос"}, nil).WithThreshold(3)
	assert.Equal(t, ForceReplace(), wider.Resolve(key("Космос")))
	assert.Equal(t, Default(3), wider.Resolve(key("Сосновый бор")))
	assert.Equal(t, Default(15), r.Resolve(key("Космос")))
}

func TestReconcile_Default(t *testing.T) {
	ctx := context.Background()
	r := testReconciler()

	t.Run("adopts into empty bucket", func(t *testing.T) {
		result := r.Reconcile(ctx, testRef, models.ApartmentTypes{}, models.ApartmentTypes{"1": units("c", 5)}, Default(15))
		assert.Equal(t, 5, result.Types.Count("1"))
		assert.Equal(t, 5, result.Added)
		assert.Equal(t, ActionMerge, result.Actions["1"])
	})

	t.Run("skips when existing is larger", func(t *testing.T) {
		existing := models.ApartmentTypes{"1": units("e", 20)}
		result := r.Reconcile(ctx, testRef, existing, models.ApartmentTypes{"1": units("c", 5)}, Default(15))
		assert.Equal(t, 20, result.Types.Count("1"))
		assert.Zero(t, result.Added)
		assert.Equal(t, ActionSkip, result.Actions["1"])
	})

	t.Run("keeps types without candidates", func(t *testing.T) {
		existing := models.ApartmentTypes{"Студия": units("s", 2)}
		result := r.Reconcile(ctx, testRef, existing, models.ApartmentTypes{"2": units("c", 1)}, Default(15))
		assert.Equal(t, 2, result.Types.Count("Студия"))
		assert.Equal(t, 1, result.Types.Count("2"))
	})

	t.Run("dedupes by url and is idempotent", func(t *testing.T) {
		existing := models.ApartmentTypes{"1": units("x", 3)}
		candidates := models.ApartmentTypes{"1": append(units("x", 2), units("y", 2)...)}

		once := r.Reconcile(ctx, testRef, existing, candidates, Default(15))
		require.Equal(t, 5, once.Types.Count("1"))
		assert.Equal(t, 2, once.Added)

		twice := r.Reconcile(ctx, testRef, once.Types, candidates, Default(15))
		assert.Equal(t, 5, twice.Types.Count("1"))
		assert.Zero(t, twice.Added)
		assert.True(t, store.ValuesEqual(once.Types.ToDocument(), twice.Types.ToDocument()))
	})

	t.Run("units without url are always appended", func(t *testing.T) {
		existing := models.ApartmentTypes{"1": {{Title: "1-комн. квартира", Price: 9500000}}}
		candidates := models.ApartmentTypes{"1": {{Title: "1-комн. квартира", Price: 9500000}}}
		result := r.Reconcile(ctx, testRef, existing, candidates, Default(15))
		assert.Equal(t, 2, result.Types.Count("1"))
		assert.Equal(t, 1, result.Added)
		assert.Equal(t, ActionMerge, result.Actions["1"])
	})

	t.Run("duplicate url in batch is a warning", func(t *testing.T) {
		dup := units("d", 1)
		candidates := models.ApartmentTypes{"1": dup, "2": dup}
		result := r.Reconcile(ctx, testRef, models.ApartmentTypes{}, candidates, Default(15))
		assert.Equal(t, 1, result.Types.Total())
		require.Len(t, result.Warnings, 1)
		assert.Equal(t, "duplicate_url", result.Warnings[0].Kind)
		assert.ErrorIs(t, result.Warnings[0], models.ErrDataIntegrity)
	})

	t.Run("backfills completion date from existing type", func(t *testing.T) {
		existing := models.ApartmentTypes{"1": {{Title: "e", URL: "e", CompletionDate: "IV кв. 2026"}}}
		candidates := models.ApartmentTypes{"1": {{Title: "c", URL: "c"}, {Title: "d", URL: "d", CompletionDate: "2027"}}}
		result := r.Reconcile(ctx, testRef, existing, candidates, Default(15))
		require.Equal(t, 3, result.Types.Count("1"))
		assert.Equal(t, "IV кв. 2026", result.Types["1"][1].CompletionDate)
		assert.Equal(t, "2027", result.Types["1"][2].CompletionDate)
	})

	t.Run("does not modify inputs", func(t *testing.T) {
		existing := models.ApartmentTypes{"1": units("e", 1)}
		r.Reconcile(ctx, testRef, existing, models.ApartmentTypes{"1": units("c", 1)}, Default(15))
		assert.Equal(t, 1, existing.Count("1"))
	})
}

func TestReconcile_ForceReplace(t *testing.T) {
	ctx := context.Background()
	r := testReconciler()

	existing := models.ApartmentTypes{
		"1":      {{Title: "old", URL: "old", CompletionDate: "2026"}},
		"Студия": units("s", 4),
	}

	t.Run("replaces every type", func(t *testing.T) {
		result := r.Reconcile(ctx, testRef, existing, models.ApartmentTypes{"1": units("n", 2)}, ForceReplace())
		assert.True(t, result.Replaced)
		assert.Equal(t, []string{"1"}, result.Types.Names())
		assert.Equal(t, "2026", result.Types["1"][0].CompletionDate)
		assert.Equal(t, ActionReplace, result.Actions["1"])
	})

	t.Run("empty candidates keep existing", func(t *testing.T) {
		result := r.Reconcile(ctx, testRef, existing, models.ApartmentTypes{}, ForceReplace())
		assert.False(t, result.Replaced)
		assert.Equal(t, 5, result.Types.Total())
		require.Len(t, result.Warnings, 1)
		assert.Equal(t, "empty_replacement", result.Warnings[0].Kind)
	})
}

func TestReconcile_CopyOnly(t *testing.T) {
	existing := models.ApartmentTypes{"1": units("e", 1)}
	result := testReconciler().Reconcile(context.Background(), testRef, existing, models.ApartmentTypes{"1": units("c", 3)}, CopyOnly())
	assert.Equal(t, 1, result.Types.Total())
	assert.Zero(t, result.Added)
}

func TestParseRooms(t *testing.T) {
	tests := []struct {
		title string
		rooms int
		ok    bool
	}{
		{"Студия, 24 м²", 0, true},
		{"2-комн. квартира", 2, true},
		{"3-к. квартира, 58,9 м², 14/27 эт.", 3, true},
		{"1 ком. квартира", 1, true},
		{"Квартира свободной планировки", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.title, func(t *testing.T) {
			rooms, ok := ParseRooms(tt.title)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.rooms, rooms)
		})
	}
}

func TestCanonicalTypeLabel(t *testing.T) {
	tests := map[string]string{
		"Студия":   StudioLabel,
		"1 ком.":   "1",
		"1-комн":   "1",
		"2-комн.":  "2",
		"3":        "3",
		"4-комн.+": "4",
		"4-комн+":  "4",
		"5-комн":   FivePlusLabel,
		"Пентхаус": "Пентхаус",
	}
	for in, want := range tests {
		t.Run(in, func(t *testing.T) {
			assert.Equal(t, want, CanonicalTypeLabel(in))
		})
	}
}

func TestParseArea(t *testing.T) {
	text, value, ok := ParseArea("57,03 м²")
	require.True(t, ok)
	assert.Equal(t, "57.03", text)
	assert.InDelta(t, 57.03, value, 1e-9)

	_, _, ok = ParseArea("большая")
	assert.False(t, ok)
}

func TestParseFloor(t *testing.T) {
	tests := []struct {
		in     string
		lo, hi int
		ok     bool
	}{
		{"12 из 32", 12, 32, true},
		{"14/27", 14, 27, true},
		{"5-10", 5, 10, true},
		{"12", 12, 12, true},
		{"цоколь", 0, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			lo, hi, ok := ParseFloor(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.lo, lo)
			assert.Equal(t, tt.hi, hi)
		})
	}
}

func TestParseTitleAreaFloor(t *testing.T) {
	area, floor := ParseTitleAreaFloor("3-к. квартира, 58,9 м², 14/27 эт.")
	require.NotNil(t, area)
	require.NotNil(t, floor)
	assert.InDelta(t, 58.9, *area, 1e-9)
	assert.Equal(t, 14, *floor)
}

func TestFromDomClick(t *testing.T) {
	doc := store.Document{
		"apartment_types": map[string]any{
			"1-комн": map[string]any{"apartments": []any{
				map[string]any{"title": "1-комн. квартира, 38,5 м²", "photos": []any{"p.jpg"}, "urlPath": "/dc/1"},
				map[string]any{"title": "no photo"},
			}},
			"1 ком.": map[string]any{"apartments": []any{
				map[string]any{"title": "1 ком.", "images": []any{"q.jpg"}, "url": "/dc/2"},
			}},
		},
	}

	types, skipped := FromDomClick(doc, "apartment_types")
	assert.Equal(t, 1, skipped)
	require.Equal(t, 2, types.Count("1"))
	assert.Equal(t, []string{"1"}, types.Names())

	var first models.Apartment
	for _, apt := range types["1"] {
		if apt.URL == "/dc/1" {
			first = apt
		}
	}
	assert.Equal(t, "38.5", first.Area)
	require.NotNil(t, first.TotalArea)
	assert.Equal(t, []string{"p.jpg"}, first.Photos)
}

func TestFromCian(t *testing.T) {
	doc := store.Document{
		"apartments": []any{
			map[string]any{
				"title":      "2-комн. квартира, 61,2 м²",
				"url":        "https://cian.ru/1",
				"price":      "15 000 000 ₽",
				"main_photo": "m.jpg",
				"factoids": []any{
					map[string]any{"label": "Общая площадь", "value": "61,2 м²"},
					map[string]any{"label": "Этаж", "value": "12 из 32"},
					map[string]any{"label": "Год сдачи", "value": "2026"},
					map[string]any{"label": "Площадь кухни", "value": "12,5 м²"},
				},
				"summary_info": []any{map[string]any{"label": "Тип жилья", "value": "Новостройка"}},
			},
			map[string]any{"title": "2-комн. квартира", "url": "https://cian.ru/2"},
			map[string]any{"title": "Апартаменты", "main_photo": "m.jpg"},
		},
	}

	types, skipped := FromCian(doc, "apartments")
	assert.Equal(t, 2, skipped)
	require.Equal(t, 1, types.Count("2"))

	apt := types["2"][0]
	assert.Equal(t, "61.2", apt.Area)
	assert.Equal(t, "2026", apt.CompletionDate)
	require.NotNil(t, apt.FloorMin)
	assert.Equal(t, 12, *apt.FloorMin)
	assert.Equal(t, 32, *apt.FloorMax)
	assert.Equal(t, "12.5", apt.Extra["kitchenArea"])
	assert.Equal(t, "Новостройка", apt.Extra["housingType"])
	assert.Equal(t, []string{"m.jpg"}, apt.Photos)
}

func TestUnion(t *testing.T) {
	base := models.ApartmentTypes{"1": units("a", 2)}
	extra := models.ApartmentTypes{"1": append(units("a", 1), units("b", 1)...), "2": units("c", 1)}

	out := Union(base, extra)
	assert.Equal(t, 3, out.Count("1"))
	assert.Equal(t, 1, out.Count("2"))
	assert.Equal(t, 2, base.Count("1"))
}
