package upscaler

import (
	"context"
	"errors"

	"upscaler/internal/domain"
)

// ActiveJobSource looks up a user's in-flight job across the tool family.
type ActiveJobSource interface {
	ActiveForUser(ctx context.Context, userID string) (*domain.Job, error)
}

// Guard enforces the single-active-job-per-user rule. The check here is
// advisory; the processing pipeline enforces the same rule authoritatively,
// but checking first keeps users from uploading bytes they cannot submit.
type Guard struct {
	source ActiveJobSource
}

// NewGuard builds a guard over the given job source.
func NewGuard(source ActiveJobSource) *Guard {
	return &Guard{source: source}
}

// Check returns the conflicting job, or nil when the user may submit.
func (g *Guard) Check(ctx context.Context, userID string) (*Conflict, error) {
	job, err := g.source.ActiveForUser(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &Conflict{Tool: job.Tool, JobID: job.ID, Status: job.Status}, nil
}
