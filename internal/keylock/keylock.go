// Package keylock provides a per-key mutual exclusion primitive shared by
// the Lifecycle Controller and the Idle Sweeper, so a Resolve and a sweep
// decision for the same tenant fingerprint never interleave (spec.md §7).
package keylock

import "sync"

// Map is a map of lazily-created per-key mutexes.
type Map struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates an empty Map.
func New() *Map {
	return &Map{locks: make(map[string]*sync.Mutex)}
}

// Lock acquires the mutex for key and returns a function that releases it.
func (m *Map) Lock(key string) func() {
	m.mu.Lock()
	l, ok := m.locks[key]
	if !ok {
		l = &sync.Mutex{}
		m.locks[key] = l
	}
	m.mu.Unlock()

	l.Lock()
	return l.Unlock
}
