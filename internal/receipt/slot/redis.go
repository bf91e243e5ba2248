package slot

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"klarogeo/internal/sentinel"
)

// Redis is a slot stored under one Redis key, so receipts survive process
// restarts and can be shared by replicas.
type Redis struct {
	client redis.UniversalClient
	key    string
}

func NewRedis(client redis.UniversalClient, key string) *Redis {
	return &Redis{client: client, key: key}
}

func (r *Redis) Load(ctx context.Context) ([]byte, error) {
	raw, err := r.client.Get(ctx, r.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", r.key, errors.Join(sentinel.ErrUnavailable, err))
	}
	return raw, nil
}

func (r *Redis) Store(ctx context.Context, value []byte) error {
	if err := r.client.Set(ctx, r.key, value, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", r.key, errors.Join(sentinel.ErrUnavailable, err))
	}
	return nil
}
