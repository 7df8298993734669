package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"upscaler/internal/domain"
)

// channelFor returns the per-job update channel name.
func channelFor(jobID string) string {
	return "jobs:updates:" + jobID
}

// Publisher pushes job updates onto the realtime channel. Only the processing
// pipeline and the cancellation endpoint publish; clients subscribe.
type Publisher struct {
	rdb *redis.Client
}

// NewPublisher wraps a redis client for publishing job updates.
func NewPublisher(rdb *redis.Client) *Publisher {
	return &Publisher{rdb: rdb}
}

// PublishUpdate sends one update to every subscriber of the job's channel.
func (p *Publisher) PublishUpdate(ctx context.Context, u domain.JobUpdate) error {
	body, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("realtime: encode update: %w", err)
	}
	if err := p.rdb.Publish(ctx, channelFor(u.JobID), body).Err(); err != nil {
		return fmt.Errorf("realtime: publish: %w", err)
	}
	return nil
}
