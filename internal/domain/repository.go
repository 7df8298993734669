package domain

import (
	"context"
	"time"
)

// JobRepository defines persistence for job entities.
type JobRepository interface {
	// Create inserts the job and fills in the backend-assigned id.
	Create(ctx context.Context, job *Job) error
	GetByID(ctx context.Context, jobID string) (*Job, error)
	GetForUser(ctx context.Context, jobID, userID string) (*Job, error)
	// ActiveForUser returns the user's non-terminal job across all tools, or
	// ErrNotFound when the user has none in flight.
	ActiveForUser(ctx context.Context, userID string) (*Job, error)
	// Cancel flips a non-terminal job to cancelled and returns the row as it
	// was before the flip. ErrJobFinished when the job was already terminal.
	Cancel(ctx context.Context, jobID, userID string) (*Job, error)
}

// JobQueue is the worker-side surface over the job table.
type JobQueue interface {
	// MarkQueued records acceptance into the queue, or repositions an
	// already-queued job. It reports whether the row actually moved; false
	// means a concurrent cancellation won and the caller still owns the
	// debit.
	MarkQueued(ctx context.Context, jobID string, position int) (bool, error)
	// ClaimQueued atomically moves the oldest queued job to running, skipping
	// rows locked by concurrent workers. ErrNotFound when the queue is empty.
	ClaimQueued(ctx context.Context) (*Job, error)
	ListQueued(ctx context.Context) ([]Job, error)
	// Complete and Fail only apply while the job is still running, so a
	// cancellation that raced the processor wins.
	Complete(ctx context.Context, jobID, outputURL string) error
	Fail(ctx context.Context, jobID, message, failedAtStep string) error
	SetStep(ctx context.Context, jobID, step string) error
	// FailStalePending fails pending jobs whose trigger was never accepted.
	FailStalePending(ctx context.Context, olderThan time.Time) ([]Job, error)
	// DeleteAbandoned removes non-terminal jobs whose session went idle
	// before the cutoff.
	DeleteAbandoned(ctx context.Context, idleBefore time.Time) (int64, error)
}

// CreditRepository handles the per-user credit pool and its audit ledger.
// Debit and Refund are backend-only operations.
type CreditRepository interface {
	Balance(ctx context.Context, userID string) (int, error)
	// Debit subtracts amount if and only if the balance covers it,
	// ErrInsufficientCredits otherwise.
	Debit(ctx context.Context, userID, jobID string, amount int) error
	Refund(ctx context.Context, userID, jobID string, amount int) error
}

// SessionRepository tracks per-visit submission sessions used to scope
// cleanup of abandoned jobs. Sessions are never resumed across visits.
type SessionRepository interface {
	Create(ctx context.Context, userID string) (string, error)
	Touch(ctx context.Context, sessionID string) error
}
