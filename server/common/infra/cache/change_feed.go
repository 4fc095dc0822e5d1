package cache

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	commonlog "halo_server/server/common/log"
)

const changeChannelPrefix = "halo:docstore:changes:"

// ChangeFeed fans docstore change signals out over Redis pub/sub so that
// watchers on every instance requery after a write on any of them.
type ChangeFeed struct {
	client *redis.Client
}

func NewChangeFeed(client *redis.Client) *ChangeFeed {
	return &ChangeFeed{client: client}
}

func changeChannel(collection string) string {
	return changeChannelPrefix + collection
}

func (f *ChangeFeed) Notify(ctx context.Context, collection string) error {
	if err := f.client.Publish(ctx, changeChannel(collection), "1").Err(); err != nil {
		return fmt.Errorf("publish change for %s: %w", collection, err)
	}
	return nil
}

// Subscribe waits for Redis to confirm the subscription before returning,
// so no write published after it is missed.
func (f *ChangeFeed) Subscribe(ctx context.Context, collection string) (<-chan struct{}, func(), error) {
	pubsub := f.client.Subscribe(ctx, changeChannel(collection))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, nil, fmt.Errorf("subscribe to %s: %w", collection, err)
	}

	out := make(chan struct{}, 1)
	msgs := pubsub.Channel()
	go func() {
		defer close(out)
		for range msgs {
			select {
			case out <- struct{}{}:
			default:
			}
		}
	}()

	var once sync.Once
	release := func() {
		once.Do(func() {
			if err := pubsub.Close(); err != nil {
				commonlog.Warnf("event=halo_change_feed action=unsubscribe collection=%s status=failed err=%v", collection, err)
			}
		})
	}
	return out, release, nil
}
