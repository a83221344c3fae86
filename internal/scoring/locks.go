package scoring

import "sync"

// tupleLocks serializes scoring per (merchant, supplier, product) key.
// Entries are reference-counted and removed when the last holder releases,
// so the map does not grow with the catalog.
type tupleLocks struct {
	mu    sync.Mutex
	locks map[string]*tupleLock
}

type tupleLock struct {
	mu   sync.Mutex
	refs int
}

func newTupleLocks() *tupleLocks {
	return &tupleLocks{locks: make(map[string]*tupleLock)}
}

// lock acquires the per-key mutex and returns its release function.
func (t *tupleLocks) lock(key string) func() {
	t.mu.Lock()
	l, ok := t.locks[key]
	if !ok {
		l = &tupleLock{}
		t.locks[key] = l
	}
	l.refs++
	t.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		t.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(t.locks, key)
		}
		t.mu.Unlock()
	}
}
