package models

import (
	"sort"

	"github.com/Ramsey-B/fern/pkg/store"
)

// Apartment is one listed unit. Two apartments with the same non-empty URL are
// the same unit. Extra keeps every key the typed fields do not cover.
type Apartment struct {
	Title          string
	URL            string
	Price          any
	PricePerSquare any
	Area           string
	TotalArea      *float64
	FloorMin       *int
	FloorMax       *int
	CompletionDate string
	Photos         []string
	Extra          map[string]any
}

// photoKeys are the keys sources use for unit photos, in preference order.
var photoKeys = []string{"image", "photos", "images", "images_apartment"}

var knownApartmentKeys = map[string]bool{
	"title": true, "url": true, "urlPath": true, "price": true, "pricePerSquare": true,
	"area": true, "totalArea": true, "floorMin": true, "floorMax": true, "completionDate": true,
}

// ApartmentFromMap reads the typed view of an apartment document.
func ApartmentFromMap(m map[string]any) Apartment {
	apt := Apartment{
		Title:          store.GetString(m, "title"),
		URL:            store.GetString(m, "url"),
		Price:          m["price"],
		PricePerSquare: m["pricePerSquare"],
		Area:           store.GetString(m, "area"),
		CompletionDate: store.GetString(m, "completionDate"),
		Extra:          make(map[string]any),
	}
	if apt.URL == "" {
		apt.URL = store.GetString(m, "urlPath")
	}
	if n, ok := numeric(m["totalArea"]); ok {
		apt.TotalArea = &n
	}
	if n, ok := numeric(m["floorMin"]); ok {
		v := int(n)
		apt.FloorMin = &v
	}
	if n, ok := numeric(m["floorMax"]); ok {
		v := int(n)
		apt.FloorMax = &v
	}

	photoKey := ""
	for _, key := range photoKeys {
		if photos := stringList(m[key]); len(photos) > 0 {
			apt.Photos = photos
			photoKey = key
			break
		}
	}

	for k, v := range m {
		if !knownApartmentKeys[k] && k != photoKey {
			apt.Extra[k] = v
		}
	}

	return apt
}

// ToMap renders the apartment in the unified layout. Empty optional fields
// are omitted and photos are written under "image".
func (a Apartment) ToMap() map[string]any {
	out := make(map[string]any, len(a.Extra)+8)
	for k, v := range a.Extra {
		out[k] = v
	}

	out["title"] = a.Title
	setIfPresent(out, "url", a.URL)
	setIfPresent(out, "price", a.Price)
	setIfPresent(out, "pricePerSquare", a.PricePerSquare)
	setIfPresent(out, "area", a.Area)
	setIfPresent(out, "completionDate", a.CompletionDate)
	if a.TotalArea != nil {
		out["totalArea"] = *a.TotalArea
	}
	if a.FloorMin != nil {
		out["floorMin"] = *a.FloorMin
	}
	if a.FloorMax != nil {
		out["floorMax"] = *a.FloorMax
	}
	if len(a.Photos) > 0 {
		photos := make([]any, len(a.Photos))
		for i, p := range a.Photos {
			photos[i] = p
		}
		out["image"] = photos
	}

	return out
}

// CompletionValue returns the unit's completion date under any of the keys
// sources use for it.
func (a Apartment) CompletionValue() string {
	if a.CompletionDate != "" {
		return a.CompletionDate
	}
	for _, key := range []string{"completion_date", "completion_date_range"} {
		if s := store.Stringify(a.Extra[key]); s != "" {
			return s
		}
	}
	return ""
}

// ApartmentTypes maps a floor-plan type label to its apartments.
type ApartmentTypes map[string][]Apartment

// ApartmentTypesFromDocument reads {"<type>": {"apartments": [...]}}.
func ApartmentTypesFromDocument(raw map[string]any) ApartmentTypes {
	types := make(ApartmentTypes, len(raw))
	for typeName, bucketRaw := range raw {
		bucket, ok := bucketRaw.(map[string]any)
		if !ok {
			continue
		}
		list, _ := bucket[FieldApartments].([]any)
		apartments := make([]Apartment, 0, len(list))
		for _, item := range list {
			if m, ok := item.(map[string]any); ok {
				apartments = append(apartments, ApartmentFromMap(m))
			}
		}
		types[typeName] = apartments
	}
	return types
}

// ToDocument renders the types in the stored layout.
func (t ApartmentTypes) ToDocument() map[string]any {
	out := make(map[string]any, len(t))
	for typeName, apartments := range t {
		list := make([]any, len(apartments))
		for i, apt := range apartments {
			list[i] = apt.ToMap()
		}
		out[typeName] = map[string]any{FieldApartments: list}
	}
	return out
}

// Count returns the number of apartments of one type.
func (t ApartmentTypes) Count(typeName string) int {
	return len(t[typeName])
}

// Total returns the number of apartments across all types.
func (t ApartmentTypes) Total() int {
	total := 0
	for _, apartments := range t {
		total += len(apartments)
	}
	return total
}

// Names returns the type labels in sorted order.
func (t ApartmentTypes) Names() []string {
	names := make([]string, 0, len(t))
	for name := range t {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clone copies the type map and its slices. Apartments are values, but their
// Extra maps and photo slices are shared.
func (t ApartmentTypes) Clone() ApartmentTypes {
	out := make(ApartmentTypes, len(t))
	for name, apartments := range t {
		out[name] = append([]Apartment(nil), apartments...)
	}
	return out
}

func setIfPresent(out map[string]any, key string, value any) {
	switch v := value.(type) {
	case nil:
		return
	case string:
		if v == "" {
			return
		}
	}
	out[key] = value
}

func numeric(v any) (float64, bool) {
	if n, ok := store.ToNumber(v); ok {
		return n, true
	}
	if s, ok := v.(string); ok {
		return ParseFloat(s)
	}
	return 0, false
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
	case string:
		if list != "" {
			return []string{list}
		}
	}
	return nil
}
