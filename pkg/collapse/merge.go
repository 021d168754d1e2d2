package collapse

import (
	"sort"

	"github.com/Ramsey-B/fern/pkg/merging"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/store"
)

// MergeRecords folds a duplicate into the canonical record. Fields merge with
// the usual rules, so the duplicate's non-empty values win. Apartments are
// unioned by URL and updated_at keeps the newer of the two.
func MergeRecords(spec models.SourceSpec, canonical, duplicate store.Document) store.Document {
	skip := []string{store.IDField, models.FieldUpdatedAt, models.FieldNormalizedName}
	if spec.ApartmentsPath != "" {
		skip = append(skip, store.SplitPath(spec.ApartmentsPath)[0])
	}
	merged, _ := merging.MergeExcept(canonical, duplicate, skip...)

	switch spec.Layout {
	case models.LayoutByType:
		buckets := mergeBuckets(store.GetMap(canonical, spec.ApartmentsPath), store.GetMap(duplicate, spec.ApartmentsPath))
		if len(buckets) > 0 {
			store.SetPath(merged, spec.ApartmentsPath, buckets)
		}
	case models.LayoutFlat:
		list := unionApartments(store.GetSlice(canonical, spec.ApartmentsPath), store.GetSlice(duplicate, spec.ApartmentsPath))
		if len(list) > 0 {
			store.SetPath(merged, spec.ApartmentsPath, list)
		}
	}

	ct, cok := models.ParseTime(canonical[models.FieldUpdatedAt])
	dt, dok := models.ParseTime(duplicate[models.FieldUpdatedAt])
	if dok && (!cok || dt.After(ct)) {
		merged[models.FieldUpdatedAt] = merging.DeepCopy(duplicate[models.FieldUpdatedAt])
	}

	return merged
}

func mergeBuckets(canonical, duplicate map[string]any) map[string]any {
	out := merging.DeepCopyMap(canonical)
	if out == nil {
		out = make(map[string]any)
	}

	labels := make([]string, 0, len(duplicate))
	for label := range duplicate {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	for _, label := range labels {
		incoming, ok := duplicate[label].(map[string]any)
		if !ok {
			continue
		}
		bucket, _ := out[label].(map[string]any)
		if bucket == nil {
			out[label] = merging.DeepCopyMap(incoming)
			continue
		}
		bucket[models.FieldApartments] = unionApartments(
			store.GetSlice(bucket, models.FieldApartments),
			store.GetSlice(incoming, models.FieldApartments),
		)
	}
	return out
}

// unionApartments appends the duplicate's units that the canonical list does
// not already hold. Units are the same when their url (or urlPath) matches;
// units without one are always appended.
func unionApartments(canonical, duplicate []any) []any {
	out := make([]any, 0, len(canonical)+len(duplicate))
	seen := make(map[string]bool, len(canonical))
	for _, item := range canonical {
		out = append(out, merging.DeepCopy(item))
		if u := unitURL(item); u != "" {
			seen[u] = true
		}
	}

	for _, item := range duplicate {
		if u := unitURL(item); u != "" {
			if seen[u] {
				continue
			}
			seen[u] = true
		}
		out = append(out, merging.DeepCopy(item))
	}
	return out
}

func unitURL(item any) string {
	m, ok := item.(map[string]any)
	if !ok {
		return ""
	}
	if u := store.GetString(m, "url"); u != "" {
		return u
	}
	return store.GetString(m, "urlPath")
}
