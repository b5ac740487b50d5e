package keylock

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestLocker_SameKeySerializes(t *testing.T) {
	l := New()

	var active, maxActive int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := l.Lock("T1")
			defer unlock()

			n := atomic.AddInt32(&active, 1)
			for {
				m := atomic.LoadInt32(&maxActive)
				if n <= m || atomic.CompareAndSwapInt32(&maxActive, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&active, -1)
		}()
	}
	wg.Wait()

	if maxActive != 1 {
		t.Errorf("expected at most 1 concurrent holder, got %d", maxActive)
	}
	if l.Len() != 0 {
		t.Errorf("expected no entries after release, got %d", l.Len())
	}
}

func TestLocker_DifferentKeysRunInParallel(t *testing.T) {
	l := New()

	unlockA := l.Lock("A")
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlock := l.Lock("B")
		unlock()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("lock on B blocked behind A")
	}
}

func TestLocker_UnlockIsIdempotent(t *testing.T) {
	var l Locker

	unlock := l.Lock("T1")
	unlock()
	unlock()

	if l.Len() != 0 {
		t.Errorf("expected entry removed, got %d", l.Len())
	}

	// Key must still be lockable after a double unlock.
	unlock = l.Lock("T1")
	unlock()
}
