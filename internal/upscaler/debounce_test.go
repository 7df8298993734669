package upscaler

import (
	"sync"
	"testing"
)

func TestSubmitLocksSingleClaim(t *testing.T) {
	locks := NewSubmitLocks()
	if !locks.TryStart("user-1") {
		t.Fatalf("first claim must succeed")
	}
	if locks.TryStart("user-1") {
		t.Fatalf("second claim must be refused while held")
	}
	if !locks.TryStart("user-2") {
		t.Fatalf("locks must be independent per user")
	}
	locks.Release("user-1")
	if !locks.TryStart("user-1") {
		t.Fatalf("claim after release must succeed")
	}
}

func TestSubmitLocksConcurrentClaims(t *testing.T) {
	locks := NewSubmitLocks()
	const attempts = 64

	var wg sync.WaitGroup
	won := make(chan struct{}, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if locks.TryStart("user-1") {
				won <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(won)

	count := 0
	for range won {
		count++
	}
	if count != 1 {
		t.Fatalf("exactly one concurrent claim must win, got %d", count)
	}
}

func TestSubmitLocksReleaseUnheldIsNoop(t *testing.T) {
	locks := NewSubmitLocks()
	locks.Release("user-1")
	if !locks.TryStart("user-1") {
		t.Fatalf("claim must succeed after spurious release")
	}
}
