package store

import (
	"context"
	"sync/atomic"
)

// CountingStore decorates a Store and counts write operations, so callers can
// assert that a pass produced no writes regardless of the backend.
type CountingStore struct {
	Store
	upserts atomic.Int64
	deletes atomic.Int64
}

// NewCountingStore wraps inner.
func NewCountingStore(inner Store) *CountingStore {
	return &CountingStore{Store: inner}
}

func (s *CountingStore) Upsert(ctx context.Context, collection string, q Query, doc Document) error {
	s.upserts.Add(1)
	return s.Store.Upsert(ctx, collection, q, doc)
}

func (s *CountingStore) DeleteOne(ctx context.Context, collection string, id string) error {
	s.deletes.Add(1)
	return s.Store.DeleteOne(ctx, collection, id)
}

func (s *CountingStore) BulkWrite(ctx context.Context, collection string, ops []WriteOp) error {
	for _, op := range ops {
		switch op.Kind {
		case WriteDelete:
			s.deletes.Add(1)
		default:
			s.upserts.Add(1)
		}
	}
	return s.Store.BulkWrite(ctx, collection, ops)
}

// EnsureUniqueIndex forwards to the wrapped store when it supports indexes.
func (s *CountingStore) EnsureUniqueIndex(ctx context.Context, collection string, path string) error {
	if indexer, ok := s.Store.(UniqueIndexer); ok {
		return indexer.EnsureUniqueIndex(ctx, collection, path)
	}
	return nil
}

// Writes returns the total number of writes seen.
func (s *CountingStore) Writes() int64 {
	return s.upserts.Load() + s.deletes.Load()
}

func (s *CountingStore) Upserts() int64 { return s.upserts.Load() }

func (s *CountingStore) Deletes() int64 { return s.deletes.Load() }

// Reset zeroes the counters.
func (s *CountingStore) Reset() {
	s.upserts.Store(0)
	s.deletes.Store(0)
}
