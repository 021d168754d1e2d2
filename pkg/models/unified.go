package models

import (
	"time"

	"github.com/Ramsey-B/fern/pkg/normalizers"
	"github.com/Ramsey-B/fern/pkg/store"
)

// UnifiedCollection holds the canonical building catalog.
const UnifiedCollection = "unified_houses"

// Document keys shared by source and unified records.
const (
	FieldID                 = store.IDField
	FieldSourceIDs          = "_source_ids"
	FieldLastMergedAt       = "last_merged_at"
	FieldUpdatedAt          = "updated_at"
	FieldNormalizedName     = "normalized_name"
	FieldDevelopment        = "development"
	FieldApartmentTypes     = "apartment_types"
	FieldApartments         = "apartments"
	FieldLatitude           = "latitude"
	FieldLongitude          = "longitude"
	FieldConstruction       = "construction_progress"
	FieldAddressFull        = "address_full"
	FieldAddressCity        = "address_city"
	FieldAddressDistrict    = "address_district"
	FieldAddressStreet      = "address_street"
	FieldAddressHouse       = "address_house"
	FieldDevelopmentName    = "development.name"
	FieldDevelopmentAddress = "development.address"
	FieldDevelopmentPhotos  = "development.photos"
)

// CoreFields are carried through a rebuild untouched once set. Rebuilds only
// fill them when they are missing.
var CoreFields = []string{
	FieldLatitude, FieldLongitude,
	FieldAddressFull, FieldAddressCity, FieldAddressDistrict, FieldAddressStreet, FieldAddressHouse,
	"rating", "rating_description", "rating_created_at", "rating_updated_at",
	"is_featured", "agent_id", "source", "created_by",
}

// Coordinates locate a building.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// IsValid reports whether both coordinates are set and in range.
func (c *Coordinates) IsValid() bool {
	if c == nil {
		return false
	}
	if c.Lat == 0 || c.Lon == 0 {
		return false
	}
	return c.Lat >= -90 && c.Lat <= 90 && c.Lon >= -180 && c.Lon <= 180
}

// AddressParts is a structured address, typically from reverse geocoding.
type AddressParts struct {
	Full     string `json:"full"`
	City     string `json:"city"`
	District string `json:"district"`
	Street   string `json:"street"`
	House    string `json:"house"`
}

// Fields maps the parts onto unified document keys, skipping empty parts.
func (a AddressParts) Fields() map[string]any {
	out := make(map[string]any)
	for key, value := range map[string]string{
		FieldAddressFull:     a.Full,
		FieldAddressCity:     a.City,
		FieldAddressDistrict: a.District,
		FieldAddressStreet:   a.Street,
		FieldAddressHouse:    a.House,
	} {
		if value != "" {
			out[key] = value
		}
	}
	return out
}

// UnifiedEntity is the canonical record for one physical building.
type UnifiedEntity struct {
	ID            string
	Name          string
	NormalizedKey string
	Coordinates   *Coordinates
	// Provenance maps each source to the source record id it was built from.
	Provenance   map[SourceName]string
	LastMergedAt *time.Time
	// Data is the full stored document.
	Data store.Document
}

// UnifiedFromDocument reads the typed view of a unified document.
func UnifiedFromDocument(doc store.Document) UnifiedEntity {
	name := firstString(doc, FieldDevelopmentName, "name")
	entity := UnifiedEntity{
		ID:            store.DocumentID(doc),
		Name:          name,
		NormalizedKey: normalizers.NormalizeBuildingName(name),
		Coordinates:   ParseCoordinates(doc),
		Provenance:    make(map[SourceName]string),
		Data:          doc,
	}

	for source, raw := range store.GetMap(doc, FieldSourceIDs) {
		if id := store.Stringify(raw); id != "" {
			entity.Provenance[SourceName(source)] = id
		}
	}

	if t, ok := ParseTime(doc[FieldLastMergedAt]); ok {
		entity.LastMergedAt = &t
	}

	return entity
}

// Refs returns the linked source records in source order.
func (u UnifiedEntity) Refs() []RecordRef {
	refs := make([]RecordRef, 0, len(u.Provenance))
	for _, spec := range Sources() {
		if id, ok := u.Provenance[spec.Name]; ok {
			refs = append(refs, RecordRef{Source: spec.Name, ID: id})
		}
	}
	return refs
}

// Linked reports whether the entity already has a record from source.
func (u UnifiedEntity) Linked(source SourceName) bool {
	_, ok := u.Provenance[source]
	return ok
}

// ProvenanceDocument renders provenance for the _source_ids field.
func ProvenanceDocument(provenance map[SourceName]string) map[string]any {
	out := make(map[string]any, len(provenance))
	for source, id := range provenance {
		out[string(source)] = id
	}
	return out
}

// ParseCoordinates reads latitude/longitude from the top level of a document.
// Values stored as strings are accepted.
func ParseCoordinates(doc store.Document) *Coordinates {
	lat, okLat := coordinate(doc[FieldLatitude])
	lon, okLon := coordinate(doc[FieldLongitude])
	if !okLat || !okLon {
		return nil
	}
	c := &Coordinates{Lat: lat, Lon: lon}
	if !c.IsValid() {
		return nil
	}
	return c
}

func coordinate(v any) (float64, bool) {
	if n, ok := store.ToNumber(v); ok {
		return n, true
	}
	if s, ok := v.(string); ok && s != "" {
		if n, ok := ParseFloat(s); ok {
			return n, true
		}
	}
	return 0, false
}

func firstString(doc store.Document, paths ...string) string {
	for _, path := range paths {
		if s := store.GetString(doc, path); s != "" {
			return s
		}
	}
	return ""
}
