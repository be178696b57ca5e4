package registration

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"
)

// RedisStore keeps staging entries in Redis with native key expiry.
type RedisStore struct {
	client redis.UniversalClient
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore wraps an existing client. The caller owns the client and closes it.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

// NewRedisClient builds a client for addr and verifies it answers PING.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, oops.Code("REDIS_UNAVAILABLE").With("addr", addr).Wrap(err)
	}
	return client, nil
}

func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return oops.Code("STAGING_WRITE_FAILED").With("key", key).Wrap(err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, oops.Code("STAGING_READ_FAILED").With("key", key).Wrap(err)
	}
	return v, true, nil
}

// Delete relies on DEL returning the number of keys removed, which Redis computes atomically.
func (s *RedisStore) Delete(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Del(ctx, key).Result()
	if err != nil {
		return false, oops.Code("STAGING_DELETE_FAILED").With("key", key).Wrap(err)
	}
	return n > 0, nil
}
