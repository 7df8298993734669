package repo

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"upscaler/internal/domain"
)

// CreditRepositoryPG implements domain.CreditRepository. Balance changes and
// their audit entries commit atomically.
type CreditRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewCreditRepository creates a new credit repository backed by PostgreSQL.
func NewCreditRepository(pool *pgxpool.Pool) *CreditRepositoryPG {
	return &CreditRepositoryPG{pool: pool}
}

// Balance returns the user's current credit balance.
func (r *CreditRepositoryPG) Balance(ctx context.Context, userID string) (int, error) {
	var balance int
	err := r.pool.QueryRow(ctx,
		`SELECT credits FROM users WHERE id = $1;`, userID).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, domain.ErrNotFound
		}
		return 0, err
	}
	return balance, nil
}

// Debit subtracts amount only when the balance covers it. The conditional
// update is the authoritative check; client-side balance checks are advisory.
func (r *CreditRepositoryPG) Debit(ctx context.Context, userID, jobID string, amount int) error {
	return r.apply(ctx, userID, jobID, domain.CreditEntryDebit, amount)
}

// Refund returns credits after a cancellation, per the backend refund policy.
func (r *CreditRepositoryPG) Refund(ctx context.Context, userID, jobID string, amount int) error {
	return r.apply(ctx, userID, jobID, domain.CreditEntryRefund, amount)
}

func (r *CreditRepositoryPG) apply(ctx context.Context, userID, jobID string, kind domain.CreditEntryKind, amount int) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var tagQuery string
	if kind == domain.CreditEntryDebit {
		tagQuery = `UPDATE users SET credits = credits - $2, updated_at = NOW() WHERE id = $1 AND credits >= $2;`
	} else {
		tagQuery = `UPDATE users SET credits = credits + $2, updated_at = NOW() WHERE id = $1;`
	}
	tag, err := tx.Exec(ctx, tagQuery, userID, amount)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if kind == domain.CreditEntryDebit {
			return domain.ErrInsufficientCredits
		}
		return domain.ErrNotFound
	}

	if _, err := tx.Exec(ctx, `
INSERT INTO credit_entries (id, user_id, job_id, kind, amount)
VALUES (gen_random_uuid(), $1, $2, $3, $4);
`, userID, jobID, kind, amount); err != nil {
		return err
	}

	return tx.Commit(ctx)
}
