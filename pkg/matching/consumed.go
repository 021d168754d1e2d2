package matching

import (
	"sort"

	"github.com/Ramsey-B/fern/pkg/models"
)

// ConsumedSet records which source records are already bound to a unified
// entity during a pass. An overlay reads through to its parent and keeps its
// own additions until Commit, so tentative claims never touch the parent.
type ConsumedSet struct {
	refs   map[string]struct{}
	parent *ConsumedSet
}

// NewConsumedSet builds a set from record references.
func NewConsumedSet(refs ...models.RecordRef) *ConsumedSet {
	set := &ConsumedSet{refs: make(map[string]struct{}, len(refs))}
	set.Add(refs...)
	return set
}

// Has reports whether the reference is consumed in this set or any parent.
func (c *ConsumedSet) Has(ref models.RecordRef) bool {
	return c.has(ref.String())
}

func (c *ConsumedSet) has(key string) bool {
	for s := c; s != nil; s = s.parent {
		if _, ok := s.refs[key]; ok {
			return true
		}
	}
	return false
}

// Add marks refs as consumed.
func (c *ConsumedSet) Add(refs ...models.RecordRef) {
	for _, ref := range refs {
		key := ref.String()
		if !c.has(key) {
			c.refs[key] = struct{}{}
		}
	}
}

// Overlay returns an empty layer on top of c.
func (c *ConsumedSet) Overlay() *ConsumedSet {
	return &ConsumedSet{refs: make(map[string]struct{}), parent: c}
}

// Commit moves the layer's additions into its parent and empties the layer.
// It is a no-op on a set without a parent.
func (c *ConsumedSet) Commit() {
	if c.parent == nil {
		return
	}
	for key := range c.refs {
		c.parent.refs[key] = struct{}{}
	}
	c.refs = make(map[string]struct{})
}

// Len returns the number of consumed references across all layers.
func (c *ConsumedSet) Len() int {
	n := 0
	for s := c; s != nil; s = s.parent {
		n += len(s.refs)
	}
	return n
}

// Keys returns the members of every layer in sorted order.
func (c *ConsumedSet) Keys() []string {
	keys := make([]string, 0, c.Len())
	for s := c; s != nil; s = s.parent {
		for k := range s.refs {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}
