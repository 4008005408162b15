package kvstore

import (
	"context"
	"errors"
	"fmt"

	"mindfulchat/internal/redis"
)

// Redis keeps values in redis without expiry; the snapshot is the durable copy.
type Redis struct {
	client *redis.Client
	prefix string
}

func NewRedis(client *redis.Client, prefix string) *Redis {
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) Get(ctx context.Context, key string) (string, error) {
	v, err := r.client.Get(ctx, r.prefix+key)
	if err != nil {
		if errors.Is(err, redis.ErrCacheMiss) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("get kv %s: %w", key, err)
	}
	return v, nil
}

func (r *Redis) Set(ctx context.Context, key, value string) error {
	if err := r.client.Set(ctx, r.prefix+key, value, 0); err != nil {
		return fmt.Errorf("set kv %s: %w", key, err)
	}
	return nil
}

// Close is a no-op; the redis client is owned by main.
func (r *Redis) Close() error { return nil }
