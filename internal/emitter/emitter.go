// Package emitter keeps typed event listeners keyed by event kind.
package emitter

import "sync"

// Emitter dispatches events of type E to listeners registered for kind K.
// The zero value is ready to use.
type Emitter[K comparable, E any] struct {
	mu        sync.RWMutex
	next      uint64
	listeners map[K]map[uint64]func(E)
	wildcard  map[uint64]func(E)
}

// On registers fn for kind. The returned function removes it.
func (e *Emitter[K, E]) On(kind K, fn func(E)) func() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.listeners == nil {
		e.listeners = make(map[K]map[uint64]func(E))
	}
	set, ok := e.listeners[kind]
	if !ok {
		set = make(map[uint64]func(E))
		e.listeners[kind] = set
	}
	e.next++
	id := e.next
	set[id] = fn

	return func() {
		e.mu.Lock()
		delete(e.listeners[kind], id)
		e.mu.Unlock()
	}
}

// OnAny registers fn for every kind.
func (e *Emitter[K, E]) OnAny(fn func(E)) func() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.wildcard == nil {
		e.wildcard = make(map[uint64]func(E))
	}
	e.next++
	id := e.next
	e.wildcard[id] = fn

	return func() {
		e.mu.Lock()
		delete(e.wildcard, id)
		e.mu.Unlock()
	}
}

// Emit calls every listener of kind, then every OnAny listener. Listeners run
// on the caller's goroutine, outside the emitter lock, so they may register or
// remove listeners themselves.
func (e *Emitter[K, E]) Emit(kind K, ev E) {
	e.mu.RLock()
	fns := make([]func(E), 0, len(e.listeners[kind])+len(e.wildcard))
	for _, fn := range e.listeners[kind] {
		fns = append(fns, fn)
	}
	for _, fn := range e.wildcard {
		fns = append(fns, fn)
	}
	e.mu.RUnlock()

	for _, fn := range fns {
		fn(ev)
	}
}
