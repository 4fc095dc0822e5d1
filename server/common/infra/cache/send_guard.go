package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// SendGuard stores client message id claims in Redis. A claimed key holds
// "" until the send completes and the message id afterwards.
type SendGuard struct {
	client *redis.Client
}

func NewSendGuard(client *redis.Client) *SendGuard {
	return &SendGuard{client: client}
}

func (g *SendGuard) Claim(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	ok, err := g.client.SetNX(ctx, key, "", ttl).Result()
	if err != nil {
		return "", false, err
	}
	if ok {
		return "", true, nil
	}
	existing, err := g.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		// expired between SetNX and Get; try once more
		ok, err = g.client.SetNX(ctx, key, "", ttl).Result()
		return "", ok, err
	}
	if err != nil {
		return "", false, err
	}
	return existing, false, nil
}

func (g *SendGuard) Complete(ctx context.Context, key, messageID string, ttl time.Duration) error {
	return g.client.Set(ctx, key, messageID, ttl).Err()
}

func (g *SendGuard) Release(ctx context.Context, key string) error {
	return g.client.Del(ctx, key).Err()
}
