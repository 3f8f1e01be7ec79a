package keylock_test

import (
	"sync"
	"testing"
	"time"

	"github.com/carvexyz/carve/foundation/keylock"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

func TestSameKeySerialized(t *testing.T) {
	t.Log("Given the need to serialize work for the same key.")
	{
		l := keylock.New[string]()

		var mu sync.Mutex
		var active, maxActive int

		var wg sync.WaitGroup
		for range 20 {
			wg.Add(1)
			go func() {
				defer wg.Done()

				unlock := l.Lock("bill")
				defer unlock()

				mu.Lock()
				active++
				if active > maxActive {
					maxActive = active
				}
				mu.Unlock()

				time.Sleep(time.Millisecond)

				mu.Lock()
				active--
				mu.Unlock()
			}()
		}
		wg.Wait()

		if maxActive != 1 {
			t.Fatalf("\t%s\tShould only allow one holder at a time: %d", failed, maxActive)
		}
		t.Logf("\t%s\tShould only allow one holder at a time.", success)

		if l.Len() != 0 {
			t.Fatalf("\t%s\tShould release all keys when done: %d", failed, l.Len())
		}
		t.Logf("\t%s\tShould release all keys when done.", success)
	}
}

func TestDifferentKeysConcurrent(t *testing.T) {
	t.Log("Given the need to not block different keys on each other.")
	{
		l := keylock.New[string]()

		unlock := l.Lock("bill")
		defer unlock()

		done := make(chan struct{})
		go func() {
			u := l.Lock("jill")
			u()
			close(done)
		}()

		select {
		case <-done:
			t.Logf("\t%s\tShould acquire a different key while one is held.", success)
		case <-time.After(time.Second):
			t.Fatalf("\t%s\tShould acquire a different key while one is held.", failed)
		}
	}
}

func TestUnlockIdempotent(t *testing.T) {
	l := keylock.New[int]()

	unlock := l.Lock(1)
	unlock()
	unlock()

	unlock = l.Lock(1)
	unlock()

	if l.Len() != 0 {
		t.Fatalf("\t%s\tShould tolerate a double unlock: %d", failed, l.Len())
	}
}
