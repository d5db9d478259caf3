// Package msync holds synchronization helpers.
package msync

import (
	"sync"

	clone "github.com/huandu/go-clone/generic"
)

// Guarded holds a value behind a read-write mutex. All access goes
// through callbacks that run under the lock.
type Guarded[T any] struct {
	mutex sync.RWMutex
	value T
}

// NewGuarded returns a Guarded that holds val.
func NewGuarded[T any](val T) *Guarded[T] {
	return &Guarded[T]{value: val}
}

// Read runs cb with the value under the read lock. cb must not keep
// references into the value after it returns.
func (g *Guarded[T]) Read(cb func(T)) {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	cb(g.value)
}

// Update replaces the value with cb’s return, under the write lock.
func (g *Guarded[T]) Update(cb func(T) T) {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	g.value = cb(g.value)
}

// Snapshot returns a deep copy of the value, which the caller may keep.
func (g *Guarded[T]) Snapshot() T {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	return clone.Clone(g.value)
}
