package realtime

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"

	"upscaler/internal/domain"
)

// Subscriber delivers server-pushed updates for single jobs. Each Subscribe
// call owns exactly one underlying pub/sub subscription; the returned stop
// function tears it down and closes the channel.
type Subscriber struct {
	rdb *redis.Client
}

// NewSubscriber wraps a redis client for consuming job updates.
func NewSubscriber(rdb *redis.Client) *Subscriber {
	return &Subscriber{rdb: rdb}
}

// Subscribe starts delivery of updates for one job id. Updates arrive in
// publish order; duplicates are possible and left to the consumer's reducer.
func (s *Subscriber) Subscribe(ctx context.Context, jobID string) (<-chan domain.JobUpdate, func(), error) {
	pubsub := s.rdb.Subscribe(ctx, channelFor(jobID))
	// Force the subscription onto the wire before returning, so updates
	// published right after job creation are not lost.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, nil, err
	}

	out := make(chan domain.JobUpdate, 16)
	go func() {
		defer close(out)
		for msg := range pubsub.Channel() {
			var u domain.JobUpdate
			if err := json.Unmarshal([]byte(msg.Payload), &u); err != nil {
				continue
			}
			if u.JobID != jobID {
				continue
			}
			select {
			case out <- u:
			case <-ctx.Done():
				return
			}
		}
	}()

	stop := func() { _ = pubsub.Close() }
	return out, stop, nil
}
