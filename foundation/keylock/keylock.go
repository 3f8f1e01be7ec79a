// Package keylock provides mutual exclusion scoped to a key so work for
// different keys can proceed concurrently while work for the same key is
// serialized.
package keylock

import "sync"

// entry is the lock for a single key. refs counts the goroutines holding or
// waiting on the lock so the entry can be dropped when nobody needs it.
type entry struct {
	mu   sync.Mutex
	refs int
}

// Locker maintains a lock per key. The zero value is not usable, construct
// with New.
type Locker[K comparable] struct {
	mu    sync.Mutex
	locks map[K]*entry
}

// New constructs a Locker for use.
func New[K comparable]() *Locker[K] {
	return &Locker[K]{
		locks: make(map[K]*entry),
	}
}

// Lock blocks until the lock for the specified key is acquired. The returned
// function must be called to release the lock.
func (l *Locker[K]) Lock(key K) (unlock func()) {
	l.mu.Lock()
	e, exists := l.locks[key]
	if !exists {
		e = &entry{}
		l.locks[key] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Unlock()

			l.mu.Lock()
			defer l.mu.Unlock()

			e.refs--
			if e.refs == 0 {
				delete(l.locks, key)
			}
		})
	}
}

// Len returns the number of keys currently held or waited on.
func (l *Locker[K]) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.locks)
}
