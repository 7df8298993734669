package upscaler

import (
	"context"
	"errors"
	"fmt"

	"upscaler/internal/domain"
)

// Cancel aborts a queued or running job. On success the local state resets to
// idle, the submit lock is released, and the balance is re-fetched from the
// authoritative source rather than computed from the refund amount. Calling
// it after a terminal status was observed is a protocol no-op.
func (s *Service) Cancel(ctx context.Context, jobID, userID string) (domain.CancelResult, error) {
	if userID == "" {
		return domain.CancelResult{}, domain.ErrUnauthorized
	}

	prev, err := s.deps.Jobs.Cancel(ctx, jobID, userID)
	if err != nil {
		if errors.Is(err, domain.ErrJobFinished) {
			return domain.CancelResult{Success: false, ErrorMessage: "job already finished"}, nil
		}
		if errors.Is(err, domain.ErrNotFound) {
			return domain.CancelResult{}, domain.ErrNotFound
		}
		return domain.CancelResult{}, fmt.Errorf("cancel job: %w", err)
	}

	refund := s.refundFor(prev)
	if refund > 0 {
		if err := s.deps.Credits.Refund(ctx, userID, jobID, refund); err != nil {
			return domain.CancelResult{}, fmt.Errorf("refund credits: %w", err)
		}
	}

	if err := s.deps.Publisher.PublishUpdate(ctx, domain.JobUpdate{
		JobID:  jobID,
		Tool:   prev.Tool,
		Status: domain.JobStatusCancelled,
	}); err != nil {
		s.deps.Logger.Warn().Err(err).Str("job_id", jobID).Msg("upscaler: publish cancelled update failed")
	}

	s.trackerFor(userID).Reset()
	s.locks.Release(userID)
	if _, err := s.ledger.Refresh(ctx, userID); err != nil {
		s.deps.Logger.Warn().Err(err).Str("user_id", userID).Msg("upscaler: balance refresh failed")
	}

	return domain.CancelResult{Success: true, RefundedAmount: refund}, nil
}

// refundFor applies the backend refund policy to the job's pre-cancellation
// status. Nothing was debited for a pending job; a queued job refunds in
// full; a running job refunds the configured percentage.
func (s *Service) refundFor(prev *domain.Job) int {
	switch prev.Status {
	case domain.JobStatusQueued:
		return prev.CreditCost
	case domain.JobStatusRunning:
		return prev.CreditCost * s.cfg.RunningRefundPercent / 100
	}
	return 0
}
