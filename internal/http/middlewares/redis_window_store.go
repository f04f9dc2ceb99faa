package middlewares

import (
	"context"
	"time"

	"github.com/ruraledu/backend/internal/redisclient"
)

// RedisWindowStore shares one fixed window across all API replicas.
type RedisWindowStore struct {
	client *redisclient.Client
	prefix string
}

func NewRedisWindowStore(client *redisclient.Client) *RedisWindowStore {
	return &RedisWindowStore{
		client: client,
		prefix: "ratelimit:",
	}
}

func (s *RedisWindowStore) Incr(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	return s.client.IncrWindow(ctx, s.prefix+key, window)
}
