package upscaler

import "sync"

// SubmitLocks is the per-user submission debounce guard. TryStart must be the
// very first action of a submit attempt, before any asynchronous work, so a
// second click racing the first one is refused instead of duplicated.
type SubmitLocks struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewSubmitLocks creates an empty lock table.
func NewSubmitLocks() *SubmitLocks {
	return &SubmitLocks{held: make(map[string]struct{})}
}

// TryStart atomically claims the submit lock for a key. It returns false when
// the lock is already claimed.
func (l *SubmitLocks) TryStart(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[key]; ok {
		return false
	}
	l.held[key] = struct{}{}
	return true
}

// Release frees the lock. It must run on every exit path of the submission
// flow; releasing an unheld lock is a no-op.
func (l *SubmitLocks) Release(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, key)
}
