// Package state provides an observable, result-typed value cell. A Cell is
// in one of three states: unset, holding a value, or holding an error.
package state

import (
	"sync"
)

// Result is a snapshot of a Cell.
type Result[T any] struct {
	Value T
	Err   error
	Set   bool
}

// OK reports whether the result holds a value rather than nothing or an error.
func (r Result[T]) OK() bool {
	return r.Set && r.Err == nil
}

// Cell holds a Result and notifies observers in order on every change.
// Observers run on the goroutine that changed the cell, serialized across
// writers, so they see changes in the order they were made.
type Cell[T any] struct {
	mu        sync.RWMutex
	result    Result[T]
	notifyMu  sync.Mutex
	observers map[uint64]func(Result[T])
	next      uint64
}

// NewCell returns an unset cell.
func NewCell[T any]() *Cell[T] {
	return &Cell[T]{observers: make(map[uint64]func(Result[T]))}
}

// NewCellWith returns a cell already holding v.
func NewCellWith[T any](v T) *Cell[T] {
	c := NewCell[T]()
	c.result = Result[T]{Value: v, Set: true}
	return c
}

// Get returns a consistent snapshot.
func (c *Cell[T]) Get() Result[T] {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.result
}

// Value returns the held value, or the zero value when unset or failed.
func (c *Cell[T]) Value() T {
	r := c.Get()
	if !r.OK() {
		var zero T
		return zero
	}
	return r.Value
}

// Set stores a value.
func (c *Cell[T]) Set(v T) {
	c.store(Result[T]{Value: v, Set: true})
}

// Fail stores an error.
func (c *Cell[T]) Fail(err error) {
	c.store(Result[T]{Err: err, Set: true})
}

// Reset returns the cell to unset.
func (c *Cell[T]) Reset() {
	c.store(Result[T]{})
}

func (c *Cell[T]) store(r Result[T]) {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	c.mu.Lock()
	c.result = r
	observers := make([]func(Result[T]), 0, len(c.observers))
	for i := uint64(0); i < c.next; i++ {
		if fn, ok := c.observers[i]; ok {
			observers = append(observers, fn)
		}
	}
	c.mu.Unlock()

	for _, fn := range observers {
		fn(r)
	}
}

// Observe registers fn for future changes and returns a function that
// removes it. fn must not change the same cell.
func (c *Cell[T]) Observe(fn func(Result[T])) (cancel func()) {
	c.mu.Lock()
	id := c.next
	c.next++
	c.observers[id] = fn
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.observers, id)
			c.mu.Unlock()
		})
	}
}

// Subscribe returns a channel carrying the latest result. Slow readers only
// miss intermediate values, never the most recent one.
func (c *Cell[T]) Subscribe() (<-chan Result[T], func()) {
	ch := make(chan Result[T], 1)
	var mu sync.Mutex
	closed := false
	cancel := c.Observe(func(r Result[T]) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case <-ch:
		default:
		}
		ch <- r
	})
	return ch, func() {
		cancel()
		mu.Lock()
		defer mu.Unlock()
		if !closed {
			closed = true
			close(ch)
		}
	}
}
