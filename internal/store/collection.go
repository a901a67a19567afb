// Package store keeps the dashboard's list-backed records in memory.
package store

import (
	"fmt"
	"net/http"
	"slices"
	"sync"

	apperrors "github.com/pabbly/hookdash/pkg/errors"
)

// Record is anything with an opaque identifier.
type Record interface {
	RecordID() string
}

// Collection is an insertion-ordered set of records, safe for concurrent use.
// Deletion removes a record outright; nothing is soft-deleted.
type Collection[T Record] struct {
	mu    sync.RWMutex
	items []T
	index map[string]int
}

func NewCollection[T Record](seed ...T) *Collection[T] {
	c := &Collection[T]{index: make(map[string]int)}
	for _, item := range seed {
		c.Add(item)
	}
	return c
}

// Add appends item. An id already present is rejected.
func (c *Collection[T]) Add(item T) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := item.RecordID()
	if _, ok := c.index[id]; ok {
		return apperrors.Newf(apperrors.ErrInvalidInput, http.StatusConflict, "record %s already exists", id)
	}
	c.index[id] = len(c.items)
	c.items = append(c.items, item)
	return nil
}

// Prepend inserts item at the front, for feeds that list newest first.
func (c *Collection[T]) Prepend(item T) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := item.RecordID()
	if _, ok := c.index[id]; ok {
		return apperrors.Newf(apperrors.ErrInvalidInput, http.StatusConflict, "record %s already exists", id)
	}
	c.items = slices.Insert(c.items, 0, item)
	c.reindex()
	return nil
}

// Remove deletes the record with id and returns it.
func (c *Collection[T]) Remove(id string) (T, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i, ok := c.index[id]
	if !ok {
		var zero T
		return zero, fmt.Errorf("removing %s: %w", id, apperrors.ErrNotFound)
	}
	item := c.items[i]
	c.items = slices.Delete(c.items, i, i+1)
	c.reindex()
	return item, nil
}

func (c *Collection[T]) Get(id string) (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	i, ok := c.index[id]
	if !ok {
		var zero T
		return zero, false
	}
	return c.items[i], true
}

// List returns a copy of the records in insertion order.
func (c *Collection[T]) List() []T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.items)
}

func (c *Collection[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Truncate keeps only the first n records.
func (c *Collection[T]) Truncate(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n < 0 || n >= len(c.items) {
		return
	}
	c.items = slices.Clip(c.items[:n])
	c.reindex()
}

func (c *Collection[T]) reindex() {
	clear(c.index)
	for i, item := range c.items {
		c.index[item.RecordID()] = i
	}
}
