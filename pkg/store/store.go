// Package store defines the document-store contract the reconciliation core talks to.
package store

import (
	"context"
	"errors"
)

// Document is a JSON-compatible document. Values are nil, bool, float64/int,
// string, []any or map[string]any.
type Document = map[string]any

// IDField is the key holding a document's identifier.
const IDField = "_id"

// ErrNotFound is returned by FindOne when nothing matches the query.
var ErrNotFound = errors.New("document not found")

// Query selects documents. All non-empty conditions must hold.
type Query struct {
	// IDs restricts the result to these identifiers.
	IDs []string
	// Equals maps a dot path to the exact value it must hold.
	Equals map[string]any
	// Matches maps a dot path to a case-insensitive regular expression.
	Matches map[string]string
}

// ByID builds a query for a single identifier.
func ByID(id string) Query {
	return Query{IDs: []string{id}}
}

// IsZero reports whether the query has no conditions.
func (q Query) IsZero() bool {
	return len(q.IDs) == 0 && len(q.Equals) == 0 && len(q.Matches) == 0
}

type WriteKind string

const (
	WriteUpsert WriteKind = "upsert"
	WriteDelete WriteKind = "delete"
)

// WriteOp is one operation inside a BulkWrite.
type WriteOp struct {
	Kind     WriteKind
	ID       string
	Document Document
}

// Store is the persistence contract. Implementations must be safe for
// concurrent use.
type Store interface {
	FindOne(ctx context.Context, collection string, q Query) (Document, error)
	FindMany(ctx context.Context, collection string, q Query) ([]Document, error)
	// Upsert replaces the document matching q, or inserts doc when none matches.
	// The document's _id is authoritative when present.
	Upsert(ctx context.Context, collection string, q Query, doc Document) error
	DeleteOne(ctx context.Context, collection string, id string) error
	BulkWrite(ctx context.Context, collection string, ops []WriteOp) error
}

// UniqueIndexer is implemented by stores that can enforce uniqueness of a path.
type UniqueIndexer interface {
	EnsureUniqueIndex(ctx context.Context, collection string, path string) error
}

// DocumentID returns the _id of a document as a string.
func DocumentID(doc Document) string {
	if doc == nil {
		return ""
	}
	switch v := doc[IDField].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return Stringify(v)
	}
}
