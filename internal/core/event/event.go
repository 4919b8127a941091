// Package event holds the per-entity handler registries. Bag handlers fire
// on every Call; BagOnce handlers fire at most once and are dropped after.
package event

import (
	"sync"
)

// HandlerID removes its handler from the bag it was added to. The zero
// value is valid and removes nothing.
type HandlerID struct {
	remove func()
}

func (h HandlerID) Remove() {
	if h.remove != nil {
		h.remove()
	}
}

type registry[F any] struct {
	mu       sync.Mutex
	next     uint64
	order    []uint64
	handlers map[uint64]F
}

func (r *registry[F]) add(f F) HandlerID {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.handlers == nil {
		r.handlers = make(map[uint64]F)
	}
	r.next++
	id := r.next
	r.handlers[id] = f
	r.order = append(r.order, id)

	return HandlerID{remove: func() { r.remove(id) }}
}

func (r *registry[F]) remove(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.handlers[id]; !ok {
		return
	}
	delete(r.handlers, id)

	// order keeps stale ids until it is mostly garbage
	if len(r.order) > 2*len(r.handlers)+16 {
		live := r.order[:0]
		for _, id := range r.order {
			if _, ok := r.handlers[id]; ok {
				live = append(live, id)
			}
		}
		r.order = live
	}
}

// snapshot returns the live handlers in insertion order. When take is set
// the registry is emptied in the same critical section.
func (r *registry[F]) snapshot(take bool) []F {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.handlers) == 0 {
		return nil
	}
	out := make([]F, 0, len(r.handlers))
	for _, id := range r.order {
		if f, ok := r.handlers[id]; ok {
			out = append(out, f)
		}
	}
	if take {
		r.handlers = nil
		r.order = nil
	}
	return out
}

func (r *registry[F]) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handlers)
}

// Bag is a multi-fire handler registry. The zero value is ready to use.
type Bag[T any] struct {
	reg registry[func(T)]
}

func (b *Bag[T]) Add(f func(T)) HandlerID {
	return b.reg.add(f)
}

// Call invokes the handlers registered when the call started. Handlers
// run outside the lock and may add or remove handlers.
func (b *Bag[T]) Call(v T) {
	for _, f := range b.reg.snapshot(false) {
		f(v)
	}
}

func (b *Bag[T]) Len() int {
	return b.reg.len()
}

// BagOnce is a single-fire handler registry. The zero value is ready to use.
type BagOnce[T any] struct {
	reg registry[func(T)]
}

func (b *BagOnce[T]) Add(f func(T)) HandlerID {
	return b.reg.add(f)
}

// Call invokes and drops every registered handler. Concurrent calls split
// the handlers between them, never run one twice.
func (b *BagOnce[T]) Call(v T) {
	for _, f := range b.reg.snapshot(true) {
		f(v)
	}
}

func (b *BagOnce[T]) Len() int {
	return b.reg.len()
}
