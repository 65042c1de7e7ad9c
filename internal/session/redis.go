package session

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore shares sessions across API replicas.
type RedisStore struct {
	rdb *redis.Client
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func (s *RedisStore) Set(ctx context.Context, kind Kind, clientKey string, value []byte, ttl time.Duration) error {
	return s.rdb.Set(ctx, storeKey(kind, clientKey), value, ttl).Err()
}

func (s *RedisStore) Get(ctx context.Context, kind Kind, clientKey string) ([]byte, error) {
	b, err := s.rdb.Get(ctx, storeKey(kind, clientKey)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	return b, err
}

func (s *RedisStore) Delete(ctx context.Context, kind Kind, clientKey string) error {
	return s.rdb.Del(ctx, storeKey(kind, clientKey)).Err()
}
