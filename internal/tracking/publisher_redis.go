package tracking

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/open-tracker/internal/pkg/retry"
)

// RedisPublisher appends events to a capped Redis stream so feeders can
// consume them with XREAD / consumer groups.
type RedisPublisher struct {
	client *redis.Client
	stream string
	maxLen int64
}

// NewRedisPublisher returns a publisher writing to stream, trimmed to about
// maxLen entries (0 disables trimming).
func NewRedisPublisher(client *redis.Client, stream string, maxLen int64) *RedisPublisher {
	return &RedisPublisher{client: client, stream: stream, maxLen: maxLen}
}

func (p *RedisPublisher) Name() string { return "redis" }

func (p *RedisPublisher) Publish(ctx context.Context, evt TrackingEvent) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return retry.Permanent(fmt.Errorf("marshal tracking event: %w", err))
	}

	err = p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: p.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"event_type":  string(evt.EventType),
			"tracking_id": evt.TrackingID,
			"payload":     string(payload),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("redis xadd %s: %w", p.stream, err)
	}
	return nil
}
