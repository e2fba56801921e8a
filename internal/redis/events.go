package redisclient

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// EventPublisher fans appointment events out over Redis pub/sub so that
// neighbouring services (notifications, payments) can react to them.
type EventPublisher struct {
	client  *redis.Client
	channel string
}

func NewEventPublisher(client *redis.Client, channel string) *EventPublisher {
	return &EventPublisher{client: client, channel: channel}
}

func (p *EventPublisher) Publish(ctx context.Context, data []byte) error {
	if err := p.client.Publish(ctx, p.channel, data).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", p.channel, err)
	}
	return nil
}

func (p *EventPublisher) Channel() string {
	return p.channel
}
