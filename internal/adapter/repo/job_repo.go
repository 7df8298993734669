package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"upscaler/internal/domain"
)

const jobColumns = `id, user_id, tool, session_id, status, params, input_url, output_url,
error_message, queue_position, current_step, failed_at_step, credit_cost, created_at, updated_at`

// JobRepositoryPG implements domain.JobRepository and domain.JobQueue.
type JobRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewJobRepository creates a new job repository backed by PostgreSQL.
func NewJobRepository(pool *pgxpool.Pool) *JobRepositoryPG {
	return &JobRepositoryPG{pool: pool}
}

// Create inserts a new job record. The id is assigned by the database so that
// concurrent submissions can never collide on a client-minted identifier.
func (r *JobRepositoryPG) Create(ctx context.Context, job *domain.Job) error {
	params, err := json.Marshal(job.Params)
	if err != nil {
		return fmt.Errorf("encode params: %w", err)
	}
	query := `
INSERT INTO jobs (id, user_id, tool, session_id, status, params, input_url, credit_cost)
VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, $6, $7)
RETURNING id, created_at, updated_at;
`
	row := r.pool.QueryRow(ctx, query,
		job.UserID,
		job.Tool,
		job.SessionID,
		job.Status,
		params,
		job.InputURL,
		job.CreditCost,
	)
	return row.Scan(&job.ID, &job.CreatedAt, &job.UpdatedAt)
}

// GetByID fetches a job by its identifier.
func (r *JobRepositoryPG) GetByID(ctx context.Context, jobID string) (*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1;`
	return r.scanJob(r.pool.QueryRow(ctx, query, jobID))
}

// GetForUser fetches a job only if it belongs to the given user.
func (r *JobRepositoryPG) GetForUser(ctx context.Context, jobID, userID string) (*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1 AND user_id = $2;`
	return r.scanJob(r.pool.QueryRow(ctx, query, jobID, userID))
}

// ActiveForUser returns the user's non-terminal job across every tool in the
// family, or domain.ErrNotFound when nothing is in flight.
func (r *JobRepositoryPG) ActiveForUser(ctx context.Context, userID string) (*domain.Job, error) {
	query := `
SELECT ` + jobColumns + `
FROM jobs
WHERE user_id = $1 AND status IN ('pending', 'queued', 'running')
ORDER BY created_at DESC
LIMIT 1;
`
	return r.scanJob(r.pool.QueryRow(ctx, query, userID))
}

// Cancel flips a non-terminal job owned by the user to cancelled and returns
// the row as it stood before the flip, so the caller can compute the refund
// from the pre-cancellation status.
func (r *JobRepositoryPG) Cancel(ctx context.Context, jobID, userID string) (*domain.Job, error) {
	// RETURNING sees the post-update row, so the prior status has to come
	// from a locked read inside one transaction.
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	prev, err := r.scanJob(tx.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = $1 AND user_id = $2 FOR UPDATE;`,
		jobID, userID))
	if err != nil {
		return nil, err
	}
	if prev.Status.Terminal() {
		return nil, domain.ErrJobFinished
	}
	if _, err := tx.Exec(ctx,
		`UPDATE jobs SET status = 'cancelled', updated_at = NOW() WHERE id = $1;`,
		jobID); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return prev, nil
}

// MarkQueued records acceptance into the processing queue, or moves an
// already-queued job to its new position as the queue drains. The returned
// flag reports whether the row moved; a cancellation that committed first
// leaves it false, and the refund of the acceptance debit then falls to the
// caller because the cancel path saw a pending job and refunded nothing.
func (r *JobRepositoryPG) MarkQueued(ctx context.Context, jobID string, position int) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
UPDATE jobs
SET status = 'queued', queue_position = $2, current_step = 'queued', updated_at = NOW()
WHERE id = $1 AND status IN ('pending', 'queued');
`, jobID, position)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// ClaimQueued atomically moves the oldest queued job to running. Concurrent
// workers skip each other's locked rows.
func (r *JobRepositoryPG) ClaimQueued(ctx context.Context) (*domain.Job, error) {
	query := `
WITH next_job AS (
    SELECT id
    FROM jobs
    WHERE status = 'queued'
    ORDER BY created_at ASC
    FOR UPDATE SKIP LOCKED
    LIMIT 1
),
updated AS (
    UPDATE jobs
    SET status = 'running', queue_position = 0, current_step = 'starting', updated_at = NOW()
    WHERE id IN (SELECT id FROM next_job)
    RETURNING ` + jobColumns + `
)
SELECT * FROM updated;
`
	return r.scanJob(r.pool.QueryRow(ctx, query))
}

// ListQueued returns queued jobs in acceptance order.
func (r *JobRepositoryPG) ListQueued(ctx context.Context) ([]domain.Job, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE status = 'queued' ORDER BY created_at ASC;`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var jobs []domain.Job
	for rows.Next() {
		job, err := scanJobFrom(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// Complete records a successful result. The guard on status means a
// cancellation that raced the processor is preserved.
func (r *JobRepositoryPG) Complete(ctx context.Context, jobID, outputURL string) error {
	tag, err := r.pool.Exec(ctx, `
UPDATE jobs
SET status = 'completed', output_url = $2, current_step = 'done', updated_at = NOW()
WHERE id = $1 AND status = 'running';
`, jobID, outputURL)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrJobFinished
	}
	return nil
}

// Fail records a terminal failure with the step that produced it.
func (r *JobRepositoryPG) Fail(ctx context.Context, jobID, message, failedAtStep string) error {
	tag, err := r.pool.Exec(ctx, `
UPDATE jobs
SET status = 'failed', error_message = $2, failed_at_step = $3, updated_at = NOW()
WHERE id = $1 AND status IN ('pending', 'queued', 'running');
`, jobID, message, failedAtStep)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrJobFinished
	}
	return nil
}

// SetStep updates the diagnostic breadcrumb for a running job.
func (r *JobRepositoryPG) SetStep(ctx context.Context, jobID, step string) error {
	_, err := r.pool.Exec(ctx, `
UPDATE jobs SET current_step = $2, updated_at = NOW() WHERE id = $1 AND status = 'running';
`, jobID, step)
	return err
}

// FailStalePending fails pending jobs whose trigger was never accepted and
// returns them so the caller can publish the terminal updates.
func (r *JobRepositoryPG) FailStalePending(ctx context.Context, olderThan time.Time) ([]domain.Job, error) {
	rows, err := r.pool.Query(ctx, `
UPDATE jobs
SET status = 'failed', error_message = 'processing never started', failed_at_step = 'accept', updated_at = NOW()
WHERE status = 'pending' AND created_at < $1
RETURNING `+jobColumns+`;
`, olderThan)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var jobs []domain.Job
	for rows.Next() {
		job, err := scanJobFrom(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// DeleteAbandoned removes non-terminal jobs whose session went idle before
// the cutoff. Terminal jobs are never deleted here.
func (r *JobRepositoryPG) DeleteAbandoned(ctx context.Context, idleBefore time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
DELETE FROM jobs
WHERE status IN ('pending', 'cancelled')
  AND session_id IN (
    SELECT id::text FROM upscale_sessions WHERE last_seen_at < $1
  );
`, idleBefore)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *JobRepositoryPG) scanJob(row pgx.Row) (*domain.Job, error) {
	job, err := scanJobFrom(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return job, nil
}

func scanJobFrom(row pgx.Row) (*domain.Job, error) {
	var job domain.Job
	var params []byte
	if err := row.Scan(
		&job.ID,
		&job.UserID,
		&job.Tool,
		&job.SessionID,
		&job.Status,
		&params,
		&job.InputURL,
		&job.OutputURL,
		&job.ErrorMessage,
		&job.QueuePosition,
		&job.CurrentStep,
		&job.FailedAtStep,
		&job.CreditCost,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &job.Params); err != nil {
			return nil, fmt.Errorf("decode params: %w", err)
		}
	}
	return &job, nil
}
