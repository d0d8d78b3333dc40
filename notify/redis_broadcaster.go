package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/projectpulse/ingest/core"
)

// RedisBroadcaster publishes change notices on redis pub/sub channels
// so dashboard frontends on any node see the same fan-out.
type RedisBroadcaster struct {
	client *redis.Client
}

func NewRedisBroadcaster(client *redis.Client) *RedisBroadcaster {
	return &RedisBroadcaster{client: client}
}

func (b *RedisBroadcaster) Broadcast(ctx context.Context, channel string, notice core.ChangeNotice) error {
	if b == nil || b.client == nil {
		return fmt.Errorf("notify: redis broadcaster requires a client")
	}
	payload, err := json.Marshal(notice)
	if err != nil {
		return fmt.Errorf("notify: encode change notice: %w", err)
	}
	if err := b.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("notify: publish %s: %w", channel, err)
	}
	return nil
}

// Close releases the underlying client connection.
func (b *RedisBroadcaster) Close() error {
	if b == nil || b.client == nil {
		return nil
	}
	return b.client.Close()
}
