// Package subscriptions tracks topic-keyed listener registrations for
// the realtime and bus clients. A registry maps a subscription key to
// an ordered list of listeners; the same topic can appear under several
// keys when subscribed with different options.
package subscriptions

import (
	"sort"
	"strings"
	"sync"
)

// Listener receives every payload dispatched to its subscription key.
// Listeners must be fast and must not block the delivery loop.
type Listener[T any] func(payload T)

type registration[T any] struct {
	id uint64
	fn Listener[T]
}

// Registry is safe for concurrent use. It never holds a key with an
// empty listener list: the entry is deleted when its last listener is
// removed.
type Registry[T any] struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[string][]registration[T]
}

func NewRegistry[T any]() *Registry[T] {
	return &Registry[T]{subs: make(map[string][]registration[T])}
}

// Register appends a listener under key, creating the entry if needed.
// The returned function removes exactly this registration; calling it
// more than once is a no-op.
func (r *Registry[T]) Register(key string, fn Listener[T]) (unsubscribe func()) {
	r.mu.Lock()
	r.nextID++
	id := r.nextID
	r.subs[key] = append(r.subs[key], registration[T]{id: id, fn: fn})
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { r.remove(key, id) })
	}
}

func (r *Registry[T]) remove(key string, id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	regs, ok := r.subs[key]
	if !ok {
		return
	}
	for i, reg := range regs {
		if reg.id == id {
			regs = append(regs[:i], regs[i+1:]...)
			break
		}
	}
	if len(regs) == 0 {
		delete(r.subs, key)
	} else {
		r.subs[key] = regs
	}
}

// RemoveByTopic drops the key exactly equal to topic plus every
// option-variant of it (keys starting with topic + "?").
func (r *Registry[T]) RemoveByTopic(topic string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key := range r.subs {
		if key == topic || strings.HasPrefix(key, topic+"?") {
			delete(r.subs, key)
		}
	}
}

// RemoveByPrefix drops every key literally starting with prefix.
func (r *Registry[T]) RemoveByPrefix(prefix string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key := range r.subs {
		if strings.HasPrefix(key, prefix) {
			delete(r.subs, key)
		}
	}
}

// Clear empties the registry.
func (r *Registry[T]) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs = make(map[string][]registration[T])
}

// IsEmpty reports whether no key holds a listener.
func (r *Registry[T]) IsEmpty() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs) == 0
}

// Has reports whether key currently holds at least one listener.
func (r *Registry[T]) Has(key string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.subs[key]
	return ok
}

// ActiveKeys returns a sorted snapshot of all current keys. It is the
// single source of truth for replaying subscription state to the
// server after a (re)connect.
func (r *Registry[T]) ActiveKeys() []string {
	r.mu.RLock()
	keys := make([]string, 0, len(r.subs))
	for key := range r.subs {
		keys = append(keys, key)
	}
	r.mu.RUnlock()
	sort.Strings(keys)
	return keys
}

// Dispatch invokes every listener registered under key with payload.
// A panicking listener is recovered so it cannot break delivery to its
// siblings or kill the read loop.
func (r *Registry[T]) Dispatch(key string, payload T) {
	r.mu.RLock()
	regs := r.subs[key]
	fns := make([]Listener[T], len(regs))
	for i, reg := range regs {
		fns[i] = reg.fn
	}
	r.mu.RUnlock()

	for _, fn := range fns {
		invoke(fn, payload)
	}
}

func invoke[T any](fn Listener[T], payload T) {
	defer func() { _ = recover() }()
	fn(payload)
}
