package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const (
	DefaultStream       = "storefront:events"
	defaultStreamMaxLen = 10000
)

// RedisStream appends events to a Redis stream for out-of-process consumers.
type RedisStream struct {
	client redis.UniversalClient
	stream string
	maxLen int64
}

func NewRedisStream(client redis.UniversalClient, stream string) *RedisStream {
	if stream == "" {
		stream = DefaultStream
	}
	return &RedisStream{client: client, stream: stream, maxLen: defaultStreamMaxLen}
}

func (r *RedisStream) Publish(ctx context.Context, event Event) error {
	if r == nil || r.client == nil {
		return nil
	}
	data, err := json.Marshal(event.Data)
	if err != nil {
		return fmt.Errorf("encode event %s: %w", event.ID, err)
	}
	return r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: r.stream,
		MaxLen: r.maxLen,
		Approx: true,
		Values: map[string]any{
			"id":          event.ID,
			"type":        event.Type,
			"subject":     event.Subject,
			"occurred_at": event.OccurredAt.UnixMilli(),
			"data":        string(data),
		},
	}).Err()
}
