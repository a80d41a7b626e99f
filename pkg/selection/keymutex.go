package selection

import "sync"

// KeyMutex provides one mutex per group ID so that concurrent
// update-selections calls against the same group serialize their
// precondition checks and writes without blocking unrelated groups.
type KeyMutex struct {
	mu    sync.Mutex
	locks map[string]*groupLock
}

type groupLock struct {
	mu   sync.Mutex
	refs int
}

// NewKeyMutex creates an empty keyed mutex map.
func NewKeyMutex() *KeyMutex {
	return &KeyMutex{locks: make(map[string]*groupLock)}
}

// Lock acquires the mutex for key, blocking until it is available.
// It returns the matching unlock function. Entries are reference counted
// and removed when the last holder unlocks, so the map does not grow with
// the number of groups ever touched.
func (k *KeyMutex) Lock(key string) (unlock func()) {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &groupLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()

	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
