package models

import (
	"strconv"
	"strings"
	"time"

	"github.com/Ramsey-B/fern/pkg/normalizers"
	"github.com/Ramsey-B/fern/pkg/store"
)

// SourceRecord is the typed view of one document scraped from a source. Data
// keeps the raw document verbatim.
type SourceRecord struct {
	Source        SourceName
	ID            string
	DisplayName   string
	NormalizedKey string
	Coordinates   *Coordinates
	UpdatedAt     *time.Time
	Data          store.Document
}

// SourceRecordFromDocument reads a source document through its spec. The
// normalized key is always recomputed from the display name.
func SourceRecordFromDocument(spec SourceSpec, doc store.Document) SourceRecord {
	record := SourceRecord{
		Source:      spec.Name,
		ID:          store.DocumentID(doc),
		DisplayName: firstString(doc, spec.NamePaths...),
		Coordinates: ParseCoordinates(doc),
		Data:        doc,
	}
	record.NormalizedKey = normalizers.NormalizeBuildingName(record.DisplayName)

	if t, ok := ParseTime(doc[FieldUpdatedAt]); ok {
		record.UpdatedAt = &t
	}

	return record
}

// Ref returns the record reference.
func (r SourceRecord) Ref() RecordRef {
	return RecordRef{Source: r.Source, ID: r.ID}
}

// ApartmentCount counts apartments in a source document laid out per spec.
func ApartmentCount(spec SourceSpec, doc store.Document) int {
	switch spec.Layout {
	case LayoutFlat:
		return len(store.GetSlice(doc, spec.ApartmentsPath))
	case LayoutByType:
		total := 0
		for _, raw := range store.GetMap(doc, spec.ApartmentsPath) {
			bucket, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			apartments, _ := bucket[FieldApartments].([]any)
			total += len(apartments)
		}
		return total
	default:
		return 0
	}
}

// ParseFloat parses decimals written with either a dot or a comma.
func ParseFloat(s string) (float64, bool) {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", "."))
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}
