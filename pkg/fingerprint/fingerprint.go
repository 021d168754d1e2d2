// Package fingerprint hashes documents so rebuilds can tell real content
// changes from bookkeeping churn.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
)

// Bookkeeping are the unified-document paths a rebuild stamps on every write.
// They never count as content.
var Bookkeeping = []string{"last_merged_at", "updated_at"}

// Document returns the content fingerprint of a unified document, ignoring
// Bookkeeping paths.
func Document(doc map[string]any) string {
	return GenerateWithExclusions(doc, Bookkeeping...)
}

// Generate is the SHA-256 of the canonical JSON of data.
func Generate(data map[string]any) string {
	return GenerateWithExclusions(data)
}

// GenerateWithExclusions hashes data without the given dot paths. Excluding a
// path also excludes everything below it.
func GenerateWithExclusions(data map[string]any, exclude ...string) string {
	excluded := make(map[string]bool, len(exclude))
	for _, path := range exclude {
		excluded[path] = true
	}

	var b strings.Builder
	canonicalize(&b, data, excluded, "")
	hash := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(hash[:])
}

// Equal reports whether two documents carry the same content.
func Equal(a, b map[string]any) bool {
	return Document(a) == Document(b)
}

func canonicalize(b *strings.Builder, data any, excluded map[string]bool, path string) {
	switch v := data.(type) {
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		b.WriteByte('{')
		first := true
		for _, k := range keys {
			fieldPath := k
			if path != "" {
				fieldPath = path + "." + k
			}
			if isExcluded(fieldPath, excluded) {
				continue
			}
			if !first {
				b.WriteByte(',')
			}
			first = false
			key, _ := json.Marshal(k)
			b.Write(key)
			b.WriteByte(':')
			canonicalize(b, v[k], excluded, fieldPath)
		}
		b.WriteByte('}')
	case []any:
		b.WriteByte('[')
		for i, item := range v {
			if i > 0 {
				b.WriteByte(',')
			}
			canonicalize(b, item, excluded, path)
		}
		b.WriteByte(']')
	case []string:
		items := make([]any, len(v))
		for i, s := range v {
			items[i] = s
		}
		canonicalize(b, items, excluded, path)
	default:
		raw, _ := json.Marshal(v)
		b.Write(raw)
	}
}

func isExcluded(path string, excluded map[string]bool) bool {
	if len(excluded) == 0 {
		return false
	}
	if excluded[path] {
		return true
	}
	for prefix := range excluded {
		if strings.HasPrefix(path, prefix+".") {
			return true
		}
	}
	return false
}
