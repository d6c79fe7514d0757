package delivery

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"estateflow/config"
	"estateflow/notification"
)

// UserChannel is the pub/sub channel a connected session subscribes to.
func UserChannel(userID string) string {
	return "notifications:user:" + userID
}

// NewRedisClient builds a client with the pool limits from config.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     cfg.PoolSize,
	})
}

// RedisPublisher pushes notifications to live sessions over pub/sub. A
// message published while nobody is subscribed is dropped, which is fine:
// the stored notification is still listed on next read.
type RedisPublisher struct {
	client redis.UniversalClient
}

func NewRedisPublisher(client redis.UniversalClient) *RedisPublisher {
	return &RedisPublisher{client: client}
}

func (p *RedisPublisher) Deliver(ctx context.Context, d notification.Delivery) error {
	payload, err := encode(d.Notification)
	if err != nil {
		return fmt.Errorf("redis: encode: %w", err)
	}
	if err := p.client.Publish(ctx, UserChannel(d.Notification.UserID), payload).Err(); err != nil {
		return fmt.Errorf("redis: publish: %w", err)
	}
	return nil
}
