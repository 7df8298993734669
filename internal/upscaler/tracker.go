package upscaler

import (
	"context"
	"sync"

	"upscaler/internal/domain"
)

// UpdateSource is the realtime channel delivering server-pushed job updates.
type UpdateSource interface {
	Subscribe(ctx context.Context, jobID string) (<-chan domain.JobUpdate, func(), error)
}

// Tracker owns the state of the one job a tool instance is following, and
// the single realtime subscription feeding it. Tracking a new job id tears
// down the previous subscription; a terminal update tears it down too, so no
// listener ever leaks across job transitions.
type Tracker struct {
	mu        sync.Mutex
	state     State
	stop      func()
	listeners map[chan State]struct{}
}

// NewTracker starts idle.
func NewTracker() *Tracker {
	return &Tracker{
		state:     State{Phase: PhaseIdle},
		listeners: make(map[chan State]struct{}),
	}
}

// State returns a snapshot of the tracked state.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Track replaces whatever the tracker was following with the given job and
// subscribes to its updates. The subscription lives until a terminal update
// arrives or another Track/Reset displaces it.
func (t *Tracker) Track(ctx context.Context, jobID string, src UpdateSource) error {
	ch, stop, err := src.Subscribe(ctx, jobID)
	if err != nil {
		return err
	}

	t.mu.Lock()
	if t.stop != nil {
		t.stop()
	}
	t.stop = stop
	t.state = State{Phase: PhaseProcessing, JobID: jobID, CurrentStep: "submitted"}
	t.broadcastLocked()
	t.mu.Unlock()

	go t.consume(jobID, ch)
	return nil
}

func (t *Tracker) consume(jobID string, ch <-chan domain.JobUpdate) {
	for u := range ch {
		t.mu.Lock()
		if t.state.JobID != jobID {
			// Displaced by a newer submission; this goroutine's channel
			// is already being torn down.
			t.mu.Unlock()
			return
		}
		next, terminal := Reduce(t.state, u)
		if next != t.state {
			t.state = next
			t.broadcastLocked()
		}
		if terminal {
			if t.stop != nil {
				t.stop()
				t.stop = nil
			}
			t.mu.Unlock()
			return
		}
		t.mu.Unlock()
	}
}

// Reset tears down the subscription and returns to idle. Used after a
// user-initiated cancellation.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stop != nil {
		t.stop()
		t.stop = nil
	}
	t.state = State{Phase: PhaseIdle}
	t.broadcastLocked()
}

// Listen registers a state listener and returns the current state, the
// update channel, and a cancel function. Slow listeners drop intermediate
// states rather than blocking the tracker.
func (t *Tracker) Listen() (State, <-chan State, func()) {
	ch := make(chan State, 8)
	t.mu.Lock()
	t.listeners[ch] = struct{}{}
	cur := t.state
	t.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.listeners, ch)
			t.mu.Unlock()
			close(ch)
		})
	}
	return cur, ch, cancel
}

func (t *Tracker) broadcastLocked() {
	for ch := range t.listeners {
		select {
		case ch <- t.state:
			continue
		default:
		}
		// Full buffer: evict the oldest state so the newest, which may be
		// the terminal one the listener's loop exits on, always lands.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- t.state:
		default:
		}
	}
}
