package apartments

import (
	"sort"
	"strings"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/store"
)

// FromSource converts a source document's apartments into candidate buckets
// keyed by the stored type labels. skipped counts units the source could not
// provide in a usable form.
func FromSource(spec models.SourceSpec, doc store.Document) (types models.ApartmentTypes, skipped int) {
	switch spec.Name {
	case models.SourceDomClick:
		return FromDomClick(doc, spec.ApartmentsPath)
	case models.SourceAvito:
		return FromAvito(doc, spec.ApartmentsPath), 0
	case models.SourceCian:
		return FromCian(doc, spec.ApartmentsPath)
	default:
		return models.ApartmentTypes{}, 0
	}
}

// FromDomClick converts DomClick buckets. Units without photos are skipped.
// Buckets whose labels collapse to the same stored label are concatenated.
func FromDomClick(doc store.Document, path string) (models.ApartmentTypes, int) {
	out := make(models.ApartmentTypes)
	skipped := 0
	forEachBucket(doc, path, func(label string, raw map[string]any) {
		photos := stringList(raw["photos"])
		if len(photos) == 0 {
			photos = stringList(raw["images"])
		}
		if len(photos) == 0 {
			skipped++
			return
		}

		title := store.GetString(raw, "title")
		apt := models.Apartment{
			Title:          title,
			URL:            store.GetString(raw, "url"),
			Price:          raw["price"],
			PricePerSquare: raw["pricePerSquare"],
			CompletionDate: store.GetString(raw, "completionDate"),
			Photos:         photos,
			Extra:          map[string]any{},
		}
		if apt.URL == "" {
			apt.URL = store.GetString(raw, "urlPath")
		}
		if area, _ := ParseTitleAreaFloor(title); area != nil {
			apt.Area = formatArea(*area)
			apt.TotalArea = area
		}
		out[label] = append(out[label], apt)
	})
	return out, skipped
}

// FromAvito converts Avito buckets. Units are kept as listed; area is read
// from the title when the listing has none.
func FromAvito(doc store.Document, path string) models.ApartmentTypes {
	out := make(models.ApartmentTypes)
	forEachBucket(doc, path, func(label string, raw map[string]any) {
		apt := models.ApartmentFromMap(raw)
		area, floor := ParseTitleAreaFloor(apt.Title)
		if apt.TotalArea == nil && area != nil {
			apt.TotalArea = area
		}
		if apt.Area == "" && apt.TotalArea != nil {
			apt.Area = formatArea(*apt.TotalArea)
		}
		if apt.FloorMin == nil && floor != nil {
			apt.FloorMin = floor
		}
		out[label] = append(out[label], apt)
	})
	return out
}

// cianFactoids maps CIAN factoid labels to the unified keys they fill.
var cianFactoids = map[string]string{
	"Жилая площадь": "livingArea",
	"Площадь кухни": "kitchenArea",
}

var cianTextFactoids = map[string]string{
	"Отделка": "decorationType",
}

var cianSummary = map[string]string{
	"Тип жилья":       "housingType",
	"Высота потолков": "ceilingHeight",
	"Тип дома":        "houseType",
	"Тип сделки":      "dealType",
}

// FromCian converts CIAN's flat apartment list. Units without a main photo or
// a parsable room count are skipped.
func FromCian(doc store.Document, path string) (models.ApartmentTypes, int) {
	out := make(models.ApartmentTypes)
	skipped := 0
	for _, item := range store.GetSlice(doc, path) {
		raw, ok := item.(map[string]any)
		if !ok {
			skipped++
			continue
		}
		label, apt, ok := convertCian(raw)
		if !ok {
			skipped++
			continue
		}
		out[label] = append(out[label], apt)
	}
	return out, skipped
}

func convertCian(raw map[string]any) (string, models.Apartment, bool) {
	title := store.GetString(raw, "title")
	rooms, ok := ParseRooms(title)
	if !ok {
		return "", models.Apartment{}, false
	}
	photo := store.GetString(raw, "main_photo")
	if photo == "" {
		return "", models.Apartment{}, false
	}

	apt := models.Apartment{
		Title:          title,
		URL:            store.GetString(raw, "url"),
		Price:          raw["price"],
		PricePerSquare: raw["price_per_square"],
		Photos:         []string{photo},
		Extra:          map[string]any{"images_apartment": []any{photo}},
	}

	factoids := labelled(raw["factoids"])
	if text, value, ok := ParseArea(factoids["Общая площадь"]); ok {
		apt.Area = text
		apt.TotalArea = &value
	}
	apt.CompletionDate = factoids["Год сдачи"]
	if floor := factoids["Этаж"]; floor != "" {
		if lo, hi, ok := ParseFloor(floor); ok {
			apt.FloorMin, apt.FloorMax = &lo, &hi
		}
	}
	for label, key := range cianFactoids {
		if v := factoids[label]; v != "" {
			v = strings.ReplaceAll(strings.ReplaceAll(v, " м²", ""), ",", ".")
			apt.Extra[key] = v
		}
	}
	for label, key := range cianTextFactoids {
		if v := factoids[label]; v != "" {
			apt.Extra[key] = v
		}
	}

	summary := labelled(raw["summary_info"])
	for label, key := range cianSummary {
		if v := summary[label]; v != "" {
			apt.Extra[key] = v
		}
	}

	if decoration, ok := raw["decoration"].(map[string]any); ok {
		description := store.GetString(decoration, "description")
		photos := store.GetSlice(decoration, "photos")
		if description != "" || len(photos) > 0 {
			if photos == nil {
				photos = []any{}
			}
			apt.Extra["decoration"] = map[string]any{"description": description, "photos": photos}
		}
	}

	return RoomsLabel(rooms), apt, true
}

// Union appends extra's apartments to base, skipping units whose URL base
// already lists. Duplicates inside extra are left for Reconcile to report.
func Union(base, extra models.ApartmentTypes) models.ApartmentTypes {
	out := base.Clone()
	for _, label := range extra.Names() {
		seen := urlSet(out[label])
		for _, apt := range extra[label] {
			if apt.URL != "" && seen[apt.URL] {
				continue
			}
			out[label] = append(out[label], apt)
		}
	}
	return out
}

// forEachBucket walks {"<label>": {"apartments": [...]}} in label order.
func forEachBucket(doc store.Document, path string, fn func(label string, raw map[string]any)) {
	buckets := store.GetMap(doc, path)
	labels := make([]string, 0, len(buckets))
	for label := range buckets {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	for _, label := range labels {
		bucket, ok := buckets[label].(map[string]any)
		if !ok {
			continue
		}
		canonical := CanonicalTypeLabel(label)
		for _, item := range store.GetSlice(bucket, models.FieldApartments) {
			if raw, ok := item.(map[string]any); ok {
				fn(canonical, raw)
			}
		}
	}
}

func labelled(v any) map[string]string {
	list, _ := v.([]any)
	out := make(map[string]string, len(list))
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		label := store.GetString(m, "label")
		if _, exists := out[label]; label != "" && !exists {
			out[label] = store.Stringify(m["value"])
		}
	}
	return out
}

func stringList(v any) []string {
	switch list := v.(type) {
	case []string:
		return list
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func urlSet(apartments []models.Apartment) map[string]bool {
	out := make(map[string]bool, len(apartments))
	for _, apt := range apartments {
		if apt.URL != "" {
			out[apt.URL] = true
		}
	}
	return out
}
