package repo

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SessionRepositoryPG implements domain.SessionRepository. A session is
// minted on every fresh load of the tool; there is no resume across visits,
// so stale sessions only matter as a cleanup scope for abandoned jobs.
type SessionRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewSessionRepository creates a new session repository backed by PostgreSQL.
func NewSessionRepository(pool *pgxpool.Pool) *SessionRepositoryPG {
	return &SessionRepositoryPG{pool: pool}
}

// Create mints a fresh submission session for the user.
func (r *SessionRepositoryPG) Create(ctx context.Context, userID string) (string, error) {
	id := uuid.NewString()
	_, err := r.pool.Exec(ctx, `
INSERT INTO upscale_sessions (id, user_id) VALUES ($1, $2);
`, id, userID)
	if err != nil {
		return "", err
	}
	return id, nil
}

// Touch records session activity so the cleanup sweeper keeps its jobs.
func (r *SessionRepositoryPG) Touch(ctx context.Context, sessionID string) error {
	_, err := r.pool.Exec(ctx, `
UPDATE upscale_sessions SET last_seen_at = NOW() WHERE id = $1;
`, sessionID)
	return err
}
