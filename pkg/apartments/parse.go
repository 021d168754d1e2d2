package apartments

import (
	"regexp"
	"strconv"
	"strings"
)

const (
	StudioLabel   = "Студия"
	FivePlusLabel = "5-комн"
)

var (
	roomPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(\d+)[-\s]*комн`),
		regexp.MustCompile(`(\d+)[-\s]*к\.`),
		regexp.MustCompile(`(\d+)[-\s]*ком`),
	}
	areaPattern       = regexp.MustCompile(`(\d+[,.]?\d*)\s*м²`)
	titleFloorPattern = regexp.MustCompile(`(\d+)/(\d+)\s*эт`)
	floorPatterns     = []*regexp.Regexp{
		regexp.MustCompile(`(\d+)\s+из\s+(\d+)`),
		regexp.MustCompile(`(\d+)/(\d+)`),
		regexp.MustCompile(`(\d+)-(\d+)`),
		regexp.MustCompile(`(\d+)`),
	}
)

// typeLabels maps the type labels the sources use to the stored ones.
var typeLabels = map[string]string{
	"студия":   StudioLabel,
	"1 ком.":   "1",
	"1-комн":   "1",
	"1-комн.":  "1",
	"2 ком.":   "2",
	"2-комн":   "2",
	"2-комн.":  "2",
	"3 ком.":   "3",
	"3-комн":   "3",
	"3-комн.":  "3",
	"4 ком.":   "4",
	"4-комн":   "4",
	"4-комн.":  "4",
	"4-комн.+": "4",
	"4-комн+":  "4",
}

// ParseRooms reads the room count from an apartment title. Studios are 0.
func ParseRooms(title string) (int, bool) {
	lower := strings.ToLower(title)
	if lower == "" {
		return 0, false
	}
	if strings.Contains(lower, "студия") || strings.Contains(lower, "studio") {
		return 0, true
	}
	for _, pattern := range roomPatterns {
		m := pattern.FindStringSubmatch(lower)
		if m == nil {
			continue
		}
		if rooms, err := strconv.Atoi(m[1]); err == nil && rooms >= 1 && rooms <= 10 {
			return rooms, true
		}
	}
	return 0, false
}

// RoomsLabel is the type label for a room count.
func RoomsLabel(rooms int) string {
	switch {
	case rooms <= 0:
		return StudioLabel
	case rooms >= 5:
		return FivePlusLabel
	default:
		return strconv.Itoa(rooms)
	}
}

// CanonicalTypeLabel maps a source's type label to the stored label. Unknown
// labels are returned trimmed.
func CanonicalTypeLabel(label string) string {
	trimmed := strings.TrimSpace(label)
	lower := strings.ToLower(trimmed)
	if canonical, ok := typeLabels[lower]; ok {
		return canonical
	}
	if n, err := strconv.Atoi(lower); err == nil {
		return RoomsLabel(n)
	}
	if rooms, ok := ParseRooms(lower); ok {
		return RoomsLabel(rooms)
	}
	return trimmed
}

// ParseArea reads "57,03 м²" into its decimal text and value.
func ParseArea(s string) (string, float64, bool) {
	m := areaPattern.FindStringSubmatch(s)
	if m == nil {
		return "", 0, false
	}
	text := strings.ReplaceAll(m[1], ",", ".")
	value, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return "", 0, false
	}
	return text, value, true
}

// ParseFloor reads "12 из 32", "14/27", "5-10" or "12". A single number is
// both the lower and upper floor.
func ParseFloor(s string) (int, int, bool) {
	for _, pattern := range floorPatterns {
		m := pattern.FindStringSubmatch(s)
		if m == nil {
			continue
		}
		lo, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		if len(m) == 2 {
			return lo, lo, true
		}
		hi, err := strconv.Atoi(m[2])
		if err != nil {
			continue
		}
		return lo, hi, true
	}
	return 0, 0, false
}

// ParseTitleAreaFloor reads area and floor from a listing title like
// "3-к. квартира, 58,9 м², 14/27 эт.". Either result may be nil.
func ParseTitleAreaFloor(title string) (*float64, *int) {
	var area *float64
	var floor *int
	if _, v, ok := ParseArea(title); ok {
		area = &v
	}
	if m := titleFloorPattern.FindStringSubmatch(title); m != nil {
		if f, err := strconv.Atoi(m[1]); err == nil {
			floor = &f
		}
	}
	return area, floor
}

func formatArea(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
