package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// StateCache stores serialized session state under per-session keys. A missing session
// yields redis.Nil.
type StateCache interface {
	PutState(ctx context.Context, sessionID string, payload []byte, ttl time.Duration) error
	GetState(ctx context.Context, sessionID string) ([]byte, error)
}

// RedisStateCache keeps each session's state in one string key.
type RedisStateCache struct {
	client *redis.Client
	prefix string
}

// NewRedisStateCache returns a cache using keys of the form "session:<id>:state".
func NewRedisStateCache(client *redis.Client) *RedisStateCache {
	return &RedisStateCache{client: client, prefix: "session"}
}

func (c *RedisStateCache) key(sessionID string) string {
	return StateKey(c.prefix, sessionID)
}

func (c *RedisStateCache) PutState(ctx context.Context, sessionID string, payload []byte, ttl time.Duration) error {
	return c.client.Set(ctx, c.key(sessionID), payload, ttl).Err()
}

func (c *RedisStateCache) GetState(ctx context.Context, sessionID string) ([]byte, error) {
	return c.client.Get(ctx, c.key(sessionID)).Bytes()
}

// StateKey builds the Redis key holding a session's state.
func StateKey(prefix, sessionID string) string {
	return fmt.Sprintf("%s:%s:state", prefix, sessionID)
}
