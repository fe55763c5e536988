// Package storage implements the descriptor and shared-storage layer
// (spec.md §4.2, component B): the immutable, per-archetype compiled
// program — states, threads, conditions, type-descriptors and literal
// strings — addressed by index into typed arenas and validated against a
// live type registry via checksums.
package storage

import (
	"sync"

	"entityvm/internal/entity/core"
)

// Arena is a typed, append-mostly store addressed by core.StorageIndex.
// Descriptor resources are never individually freed during normal
// operation — "Deallocation is all-or-nothing per descriptor" (§9) — so
// Arena keeps a free list only for the rare authoring-tool path that builds
// a descriptor incrementally and needs to recycle a slot.
type Arena[T any] struct {
	mu    sync.RWMutex
	items []T
	free  []core.StorageIndex
	live  []bool
}

// NewArena creates an empty arena.
func NewArena[T any]() *Arena[T] {
	return &Arena[T]{}
}

// Allocate stores v and returns its index.
func (a *Arena[T]) Allocate(v T) core.StorageIndex {
	a.mu.Lock()
	defer a.mu.Unlock()

	if n := len(a.free); n > 0 {
		idx := a.free[n-1]
		a.free = a.free[:n-1]
		a.items[idx] = v
		a.live[idx] = true
		return idx
	}

	a.items = append(a.items, v)
	a.live = append(a.live, true)
	return core.StorageIndex(len(a.items) - 1)
}

// Get returns the value at i, if i is in range and live.
func (a *Arena[T]) Get(i core.StorageIndex) (T, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var zero T
	if i < 0 || int(i) >= len(a.items) || !a.live[i] {
		return zero, false
	}
	return a.items[i], true
}

// Deallocate frees slot i for reuse, returning whether it was live.
func (a *Arena[T]) Deallocate(i core.StorageIndex) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if i < 0 || int(i) >= len(a.items) || !a.live[i] {
		return false
	}
	var zero T
	a.items[i] = zero
	a.live[i] = false
	a.free = append(a.free, i)
	return true
}

// Len returns the number of slots ever allocated (including freed ones).
func (a *Arena[T]) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.items)
}

// All returns every live item's index, in ascending order. Intended for
// small-N descriptor enumeration (e.g. the typed views in §4.2), not hot
// paths.
func (a *Arena[T]) All() []core.StorageIndex {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]core.StorageIndex, 0, len(a.items))
	for i, ok := range a.live {
		if ok {
			out = append(out, core.StorageIndex(i))
		}
	}
	return out
}

// StringArena is Arena[string] plus interned-dedup lookup, used for literal
// strings shared across a descriptor (§4.2 "get_index_safe (for interned
// dedup)").
type StringArena struct {
	arena  Arena[string]
	mu     sync.Mutex
	byText map[string]core.StorageIndex
}

// NewStringArena creates an empty interning string arena.
func NewStringArena() *StringArena {
	return &StringArena{byText: make(map[string]core.StorageIndex)}
}

// Intern returns the index for s, allocating a new slot only if s has not
// been seen before.
func (s *StringArena) Intern(text string) core.StorageIndex {
	s.mu.Lock()
	defer s.mu.Unlock()
	if idx, ok := s.byText[text]; ok {
		return idx
	}
	idx := s.arena.Allocate(text)
	s.byText[text] = idx
	return idx
}

// Get returns the string at i.
func (s *StringArena) Get(i core.StorageIndex) (string, bool) { return s.arena.Get(i) }

// IndexSafe returns the index already interned for text, without
// allocating.
func (s *StringArena) IndexSafe(text string) (core.StorageIndex, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.byText[text]
	return idx, ok
}
