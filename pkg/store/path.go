package store

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

const PathSeparator = "."

// SplitPath splits a dot path into its segments.
func SplitPath(path string) []string {
	if path == "" {
		return nil
	}
	return strings.Split(path, PathSeparator)
}

// GetPath reads the value at a dot path. The second return is false when any
// segment is missing or is not a map.
func GetPath(doc map[string]any, path string) (any, bool) {
	if doc == nil || path == "" {
		return nil, false
	}

	var current any = doc
	for _, part := range SplitPath(path) {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// GetString reads a string at a dot path. Non-string scalars are formatted.
func GetString(doc map[string]any, path string) string {
	v, ok := GetPath(doc, path)
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return Stringify(v)
}

// GetMap reads a nested map at a dot path.
func GetMap(doc map[string]any, path string) map[string]any {
	v, _ := GetPath(doc, path)
	m, _ := v.(map[string]any)
	return m
}

// GetSlice reads a list at a dot path.
func GetSlice(doc map[string]any, path string) []any {
	v, _ := GetPath(doc, path)
	s, _ := v.([]any)
	return s
}

// SetPath assigns value at a dot path, creating intermediate maps. A non-map
// value sitting on an intermediate segment is overwritten.
func SetPath(target map[string]any, path string, value any) map[string]any {
	if path == "" {
		return target
	}
	if target == nil {
		target = make(map[string]any)
	}

	parts := SplitPath(path)
	if len(parts) == 1 {
		target[parts[0]] = value
		return target
	}

	existing, ok := target[parts[0]].(map[string]any)
	if !ok {
		existing = make(map[string]any)
	}

	target[parts[0]] = SetPath(existing, strings.Join(parts[1:], PathSeparator), value)
	return target
}

// DeletePath removes the value at a dot path if present.
func DeletePath(target map[string]any, path string) {
	parts := SplitPath(path)
	if len(parts) == 0 {
		return
	}
	current := target
	for _, part := range parts[:len(parts)-1] {
		next, ok := current[part].(map[string]any)
		if !ok {
			return
		}
		current = next
	}
	delete(current, parts[len(parts)-1])
}

// Clone deep-copies a document through a JSON round trip, so the copy holds
// the same value shapes a persisted document would.
func Clone(doc map[string]any) (map[string]any, error) {
	if doc == nil {
		return nil, nil
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("clone document: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("clone document: %w", err)
	}
	return out, nil
}

// Stringify formats a scalar the way it appears in a JSON document.
func Stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case bool:
		return strconv.FormatBool(val)
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(b)
	}
}

// ToNumber converts JSON numeric shapes to float64.
func ToNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// ValuesEqual compares two JSON-compatible values structurally. Numbers
// compare by value regardless of their Go type.
func ValuesEqual(a, b any) bool {
	if na, ok := ToNumber(a); ok {
		nb, ok := ToNumber(b)
		return ok && na == nb
	}

	switch av := a.(type) {
	case nil:
		return b == nil
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !ValuesEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	case []string:
		bv, ok := b.([]string)
		if !ok {
			if generic, isGeneric := b.([]any); isGeneric {
				return ValuesEqual(toAnySlice(av), generic)
			}
			return false
		}
		if len(av) != len(bv) {
			return false
		}
		for i := range av {
			if av[i] != bv[i] {
				return false
			}
		}
		return true
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			other, exists := bv[k]
			if !exists || !ValuesEqual(v, other) {
				return false
			}
		}
		return true
	default:
		return Stringify(a) == Stringify(b)
	}
}

func toAnySlice(s []string) []any {
	out := make([]any, len(s))
	for i, v := range s {
		out[i] = v
	}
	return out
}

// Eval evaluates q against doc in memory.
func (q Query) Eval(doc map[string]any) (bool, error) {
	if len(q.IDs) > 0 {
		id := DocumentID(doc)
		found := false
		for _, want := range q.IDs {
			if want == id {
				found = true
				break
			}
		}
		if !found {
			return false, nil
		}
	}

	for path, want := range q.Equals {
		got, ok := GetPath(doc, path)
		if !ok || !ValuesEqual(got, want) {
			return false, nil
		}
	}

	for path, pattern := range q.Matches {
		re, err := regexp.Compile("(?i)" + pattern)
		if err != nil {
			return false, fmt.Errorf("invalid pattern for %s: %w", path, err)
		}
		got, ok := GetPath(doc, path)
		if !ok {
			return false, nil
		}
		if !re.MatchString(Stringify(got)) {
			return false, nil
		}
	}

	return true, nil
}
