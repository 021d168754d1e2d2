package models

import (
	"fmt"
	"strings"
)

// SourceName identifies a listing source.
type SourceName string

const (
	SourceDomRF    SourceName = "domrf"
	SourceAvito    SourceName = "avito"
	SourceDomClick SourceName = "domclick"
	SourceCian     SourceName = "cian"
)

// SourceRole is the part a source plays when a unified record is assembled.
type SourceRole string

const (
	// RoleBase sources hold the authoritative building registry (coordinates, developer).
	RoleBase SourceRole = "base"
	// RoleName sources provide the development block and display name.
	RoleName SourceRole = "name"
	// RolePhotos sources provide development photos and construction progress.
	RolePhotos SourceRole = "photos"
	// RoleApartments sources only supplement apartments.
	RoleApartments SourceRole = "apartments"
)

// ApartmentLayout describes how a source stores its apartments.
type ApartmentLayout string

const (
	// LayoutByType is a map of type label to {"apartments": [...]}.
	LayoutByType ApartmentLayout = "by_type"
	// LayoutFlat is a flat list of apartments.
	LayoutFlat ApartmentLayout = "flat"
	LayoutNone ApartmentLayout = "none"
)

// SourceSpec describes where a source keeps the fields the engine reads.
type SourceSpec struct {
	Name       SourceName
	Collection string
	Role       SourceRole
	// NamePaths are tried in order for the display name.
	NamePaths      []string
	ApartmentsPath string
	Layout         ApartmentLayout
	// SeedsEntity marks sources whose match is required to create a new unified entity.
	SeedsEntity bool
	// URLPath holds the listing URL used for slug grouping, when the source has one.
	URLPath string
}

var sourceSpecs = []SourceSpec{
	{
		Name:       SourceDomRF,
		Collection: "domrf",
		Role:       RoleBase,
		NamePaths:  []string{"objCommercNm"},
		Layout:     LayoutNone,
	},
	{
		Name:           SourceAvito,
		Collection:     "avito",
		Role:           RoleName,
		NamePaths:      []string{"development.name"},
		ApartmentsPath: "apartment_types",
		Layout:         LayoutByType,
		SeedsEntity:    true,
		URLPath:        "url",
	},
	{
		Name:           SourceDomClick,
		Collection:     "domclick",
		Role:           RolePhotos,
		NamePaths:      []string{"development.complex_name", "development.name"},
		ApartmentsPath: "apartment_types",
		Layout:         LayoutByType,
		SeedsEntity:    true,
		URLPath:        "url",
	},
	{
		Name:           SourceCian,
		Collection:     "cian",
		Role:           RoleApartments,
		NamePaths:      []string{"building_title", "development.name"},
		ApartmentsPath: "apartments",
		Layout:         LayoutFlat,
		URLPath:        "url",
	},
}

// Sources returns every known source in link order.
func Sources() []SourceSpec {
	out := make([]SourceSpec, len(sourceSpecs))
	copy(out, sourceSpecs)
	return out
}

// LookupSource finds the registry entry for a source name.
func LookupSource(name SourceName) (SourceSpec, bool) {
	for _, spec := range sourceSpecs {
		if spec.Name == name {
			return spec, true
		}
	}
	return SourceSpec{}, false
}

// ParseSourceName validates a source name.
func ParseSourceName(s string) (SourceName, error) {
	name := SourceName(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := LookupSource(name); !ok {
		return "", fmt.Errorf("unknown source %q", s)
	}
	return name, nil
}

// RecordRef points at one source record.
type RecordRef struct {
	Source SourceName `json:"source"`
	ID     string     `json:"id"`
}

func (r RecordRef) String() string {
	return string(r.Source) + "/" + r.ID
}
