// Package memory provides an in-process document store used by tests and dry runs.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/Ramsey-B/fern/pkg/store"
)

type collection struct {
	order   []string
	docs    map[string]store.Document
	uniques []string
}

// Store keeps documents in memory in insertion order. Documents are cloned on
// the way in and out, so callers never share state with the store.
type Store struct {
	mu          sync.RWMutex
	collections map[string]*collection
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{collections: make(map[string]*collection)}
}

func (s *Store) get(name string) *collection {
	c, ok := s.collections[name]
	if !ok {
		c = &collection{docs: make(map[string]store.Document)}
		s.collections[name] = c
	}
	return c
}

// Seed inserts documents without going through Upsert. Intended for tests.
func (s *Store) Seed(name string, docs ...store.Document) error {
	for _, doc := range docs {
		if err := s.Upsert(context.Background(), name, store.Query{}, doc); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) FindOne(ctx context.Context, name string, q store.Query) (store.Document, error) {
	docs, err := s.find(name, q, 1)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, store.ErrNotFound
	}
	return docs[0], nil
}

func (s *Store) FindMany(ctx context.Context, name string, q store.Query) ([]store.Document, error) {
	return s.find(name, q, 0)
}

func (s *Store) find(name string, q store.Query, limit int) ([]store.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.collections[name]
	if !ok {
		return []store.Document{}, nil
	}

	result := make([]store.Document, 0)
	for _, id := range c.order {
		doc := c.docs[id]
		matched, err := q.Eval(doc)
		if err != nil {
			return nil, err
		}
		if !matched {
			continue
		}
		cloned, err := store.Clone(doc)
		if err != nil {
			return nil, err
		}
		result = append(result, cloned)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (s *Store) Upsert(ctx context.Context, name string, q store.Query, doc store.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsertLocked(name, q, doc)
}

func (s *Store) upsertLocked(name string, q store.Query, doc store.Document) error {
	c := s.get(name)

	cloned, err := store.Clone(doc)
	if err != nil {
		return err
	}

	id := store.DocumentID(cloned)
	if id == "" && !q.IsZero() {
		for _, existingID := range c.order {
			matched, err := q.Eval(c.docs[existingID])
			if err != nil {
				return err
			}
			if matched {
				id = existingID
				break
			}
		}
	}
	if id == "" {
		id = uuid.NewString()
	}
	cloned[store.IDField] = id

	for _, path := range c.uniques {
		if err := c.checkUnique(id, path, cloned); err != nil {
			return err
		}
	}

	if _, exists := c.docs[id]; !exists {
		c.order = append(c.order, id)
	}
	c.docs[id] = cloned
	return nil
}

func (s *Store) DeleteOne(ctx context.Context, name string, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteLocked(name, id)
	return nil
}

func (s *Store) deleteLocked(name string, id string) {
	c, ok := s.collections[name]
	if !ok {
		return
	}
	if _, exists := c.docs[id]; !exists {
		return
	}
	delete(c.docs, id)
	for i, existing := range c.order {
		if existing == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

func (s *Store) BulkWrite(ctx context.Context, name string, ops []store.WriteOp) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, op := range ops {
		switch op.Kind {
		case store.WriteDelete:
			s.deleteLocked(name, op.ID)
		case store.WriteUpsert:
			q := store.Query{}
			if op.ID != "" {
				q = store.ByID(op.ID)
				if op.Document != nil && store.DocumentID(op.Document) == "" {
					op.Document[store.IDField] = op.ID
				}
			}
			if err := s.upsertLocked(name, q, op.Document); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unsupported write kind %q", op.Kind)
		}
	}
	return nil
}

// EnsureUniqueIndex enforces uniqueness of path for future writes. It fails
// when the collection already holds duplicates.
func (s *Store) EnsureUniqueIndex(ctx context.Context, name string, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.get(name)
	for _, existing := range c.uniques {
		if existing == path {
			return nil
		}
	}

	seen := make(map[string]string)
	for _, id := range c.order {
		value := store.GetString(c.docs[id], path)
		if value == "" {
			continue
		}
		if other, ok := seen[value]; ok {
			return fmt.Errorf("duplicate %s %q on %s and %s", path, value, other, id)
		}
		seen[value] = id
	}

	c.uniques = append(c.uniques, path)
	return nil
}

func (c *collection) checkUnique(id, path string, doc store.Document) error {
	value := store.GetString(doc, path)
	if value == "" {
		return nil
	}
	for existingID, existing := range c.docs {
		if existingID == id {
			continue
		}
		if store.GetString(existing, path) == value {
			return fmt.Errorf("unique index violation on %s: %q already used by %s", path, value, existingID)
		}
	}
	return nil
}

// Count returns the number of documents in a collection.
func (s *Store) Count(name string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.collections[name]
	if !ok {
		return 0
	}
	return len(c.order)
}
