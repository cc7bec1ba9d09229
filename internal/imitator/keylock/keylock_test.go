package keylock

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestLock_SerialisesSameKey(t *testing.T) {
	var m Map
	var inside, maxInside int32
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := m.Lock("room")
			defer unlock()
			n := atomic.AddInt32(&inside, 1)
			for {
				cur := atomic.LoadInt32(&maxInside)
				if n <= cur || atomic.CompareAndSwapInt32(&maxInside, cur, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
		}()
	}
	wg.Wait()

	if maxInside != 1 {
		t.Fatalf("expected at most one holder, saw %d", maxInside)
	}
	if m.Len() != 0 {
		t.Errorf("entries leaked: %d", m.Len())
	}
}

func TestLock_DifferentKeysDoNotContend(t *testing.T) {
	var m Map
	unlockA := m.Lock("a")
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlock := m.Lock("b")
		unlock()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on b blocked behind a")
	}
}

func TestUnlock_Idempotent(t *testing.T) {
	var m Map
	unlock := m.Lock("k")
	unlock()
	unlock()
	if m.Len() != 0 {
		t.Errorf("Len = %d", m.Len())
	}
	// Must still be lockable.
	m.Lock("k")()
}
