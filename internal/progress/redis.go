package progress

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/syncforge/core/internal/orchestrator"
)

// RedisBus fans progress events out across process boundaries via Redis
// pub/sub — needed once the scheduler and HTTP/SSE surface run in
// separate processes from the orchestrator workers.
type RedisBus struct {
	client *redis.Client
}

// NewRedisBus wraps an already-connected *redis.Client.
func NewRedisBus(client *redis.Client) *RedisBus {
	return &RedisBus{client: client}
}

func channelName(jobID string) string { return "syncforge:progress:" + jobID }

func (b *RedisBus) Publish(ctx context.Context, jobID string, event orchestrator.ProgressEvent) error {
	payload, err := marshalEvent(event)
	if err != nil {
		return fmt.Errorf("marshal progress event: %w", err)
	}
	return b.client.Publish(ctx, channelName(jobID), payload).Err()
}

func (b *RedisBus) Subscribe(ctx context.Context, jobID string) (<-chan orchestrator.ProgressEvent, func(), error) {
	sub := b.client.Subscribe(ctx, channelName(jobID))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, fmt.Errorf("subscribe to %s: %w", channelName(jobID), err)
	}

	out := make(chan orchestrator.ProgressEvent, 32)
	go func() {
		defer close(out)
		ch := sub.Channel()
		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					return
				}
				event, err := unmarshalEvent([]byte(msg.Payload))
				if err != nil {
					continue
				}
				select {
				case out <- event:
				default:
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	unsubscribe := func() { _ = sub.Close() }
	return out, unsubscribe, nil
}
