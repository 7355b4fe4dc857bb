package scheduler

import (
	"sync"

	"github.com/google/uuid"
)

// keyedLock serializes work per trigger id. Entries are reference-counted
// and removed once the last holder releases, so the map stays bounded by
// the number of in-flight triggers.
type keyedLock struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedLock() *keyedLock {
	return &keyedLock{entries: make(map[uuid.UUID]*lockEntry)}
}

// lock acquires the lock for id and returns its release func.
func (k *keyedLock) lock(id uuid.UUID) func() {
	k.mu.Lock()
	e, ok := k.entries[id]
	if !ok {
		e = &lockEntry{}
		k.entries[id] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()

	return func() {
		e.mu.Unlock()

		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.entries, id)
		}
		k.mu.Unlock()
	}
}
