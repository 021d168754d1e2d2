// Package merging combines two versions of a record without discarding good data
package merging

import (
	"sort"

	"github.com/Ramsey-B/fern/pkg/store"
)

// Merge folds new into old and returns the merged record with the dot paths
// that changed, sorted. Neither input is modified.
//
//   - keys absent from old are added
//   - empty new values (nil, "", empty list, empty map) keep old untouched
//   - maps recurse
//   - lists are replaced wholesale when they differ
//   - scalars are replaced when they differ
//
// Merge is idempotent: merging the result with the same new record again
// reports no changes.
func Merge(old, new map[string]any) (map[string]any, []string) {
	return MergeExcept(old, new)
}

// MergeExcept is Merge that leaves the named top-level keys of old alone.
func MergeExcept(old, new map[string]any, skip ...string) (map[string]any, []string) {
	skipped := make(map[string]bool, len(skip))
	for _, k := range skip {
		skipped[k] = true
	}

	merged := DeepCopyMap(old)
	if merged == nil {
		merged = make(map[string]any)
	}

	changed := make([]string, 0)
	mergeInto(merged, new, "", skipped, &changed)
	sort.Strings(changed)
	return merged, changed
}

func mergeInto(target, incoming map[string]any, prefix string, skip map[string]bool, changed *[]string) {
	for _, key := range sortedKeys(incoming) {
		if prefix == "" && skip[key] {
			continue
		}

		path := key
		if prefix != "" {
			path = prefix + store.PathSeparator + key
		}
		newValue := incoming[key]

		oldValue, exists := target[key]
		if !exists {
			target[key] = DeepCopy(newValue)
			*changed = append(*changed, path)
			continue
		}

		if IsEmpty(newValue) {
			continue
		}

		oldMap, oldIsMap := oldValue.(map[string]any)
		newMap, newIsMap := newValue.(map[string]any)
		if oldIsMap && newIsMap {
			mergeInto(oldMap, newMap, path, nil, changed)
			continue
		}

		if store.ValuesEqual(oldValue, newValue) {
			continue
		}

		target[key] = DeepCopy(newValue)
		*changed = append(*changed, path)
	}
}

// IsEmpty reports whether v carries no information.
func IsEmpty(v any) bool {
	if v == nil {
		return true
	}
	switch val := v.(type) {
	case string:
		return val == ""
	case []any:
		return len(val) == 0
	case []string:
		return len(val) == 0
	case []map[string]any:
		return len(val) == 0
	case map[string]any:
		return len(val) == 0
	default:
		return false
	}
}

// DeepCopy copies maps and lists recursively. Scalars are returned as is.
func DeepCopy(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return DeepCopyMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = DeepCopy(item)
		}
		return out
	case []string:
		return append([]string(nil), val...)
	case []map[string]any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = DeepCopyMap(item)
		}
		return out
	default:
		return val
	}
}

// DeepCopyMap copies a map recursively.
func DeepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = DeepCopy(v)
	}
	return out
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
