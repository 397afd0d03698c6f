package refreshstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "collabflow:rt:"

// Redis is the production Store. Redemption uses GETDEL so lookup and
// delete are one atomic server-side operation. Mappings carry a TTL so
// abandoned tokens do not accumulate.
type Redis struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedis(rdb *redis.Client, ttl time.Duration) (*Redis, error) {
	if rdb == nil {
		return nil, errors.New("redis client is required")
	}
	if ttl <= 0 {
		return nil, errors.New("refresh token ttl must be positive")
	}
	return &Redis{rdb: rdb, ttl: ttl}, nil
}

func (s *Redis) GenerateAndStore(ctx context.Context, upstreamToken string) (string, error) {
	token, err := newToken()
	if err != nil {
		return "", err
	}

	if err := s.rdb.Set(ctx, keyPrefix+token, upstreamToken, s.ttl).Err(); err != nil {
		return "", fmt.Errorf("refresh token store failed: %w", err)
	}
	return token, nil
}

func (s *Redis) Redeem(ctx context.Context, token string) (string, error) {
	upstream, err := s.rdb.GetDel(ctx, keyPrefix+token).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("refresh token redeem failed: %w", err)
	}
	return upstream, nil
}

func (s *Redis) Revoke(ctx context.Context, token string) error {
	if err := s.rdb.Del(ctx, keyPrefix+token).Err(); err != nil {
		return fmt.Errorf("refresh token revoke failed: %w", err)
	}
	return nil
}
