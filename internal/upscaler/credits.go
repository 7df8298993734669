package upscaler

import (
	"context"
	"sync"
)

// BalanceReader is the read-only credit surface exposed to the client core.
// Debits and refunds happen inside the backend job lifecycle, never here.
type BalanceReader interface {
	Balance(ctx context.Context, userID string) (int, error)
}

// Ledger caches the last-seen authoritative balance per user. The cache is a
// display value only: the pipeline re-fetches after every event that could
// have changed the balance instead of arithmetic on the local copy.
type Ledger struct {
	source BalanceReader

	mu     sync.Mutex
	cached map[string]int
}

// NewLedger builds a ledger over the authoritative balance source.
func NewLedger(source BalanceReader) *Ledger {
	return &Ledger{source: source, cached: make(map[string]int)}
}

// Balance returns the cached balance, fetching once when nothing is cached.
func (l *Ledger) Balance(ctx context.Context, userID string) (int, error) {
	l.mu.Lock()
	v, ok := l.cached[userID]
	l.mu.Unlock()
	if ok {
		return v, nil
	}
	return l.Refresh(ctx, userID)
}

// Refresh invalidates the cache and re-reads the authoritative balance.
func (l *Ledger) Refresh(ctx context.Context, userID string) (int, error) {
	v, err := l.source.Balance(ctx, userID)
	if err != nil {
		return 0, err
	}
	l.mu.Lock()
	l.cached[userID] = v
	l.mu.Unlock()
	return v, nil
}
