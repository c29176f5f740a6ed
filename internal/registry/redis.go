package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dkosyrev/authgate/internal/apperrors"
)

const redisKeyPrefix = "authgate:refresh:"

// Rotation must be one round trip: EXISTS + DEL + SET as separate commands
// would let two concurrent renewals of the same token both win
const rotateScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
redis.call("DEL", KEYS[1])
redis.call("SET", KEYS[2], "1", "PX", ARGV[1])
return 1
`

var rotateLua = redis.NewScript(rotateScript)

// RedisRegistry keeps active refresh tokens as redis keys with TTL, so
// expiry based eviction comes from the server itself. Lets several service
// instances share one token set.
type RedisRegistry struct {
	client *redis.Client
	now    func() time.Time
}

func NewRedis(client *redis.Client) *RedisRegistry {
	return &RedisRegistry{
		client: client,
		now:    time.Now,
	}
}

func (r *RedisRegistry) key(token string) string {
	return redisKeyPrefix + token
}

func (r *RedisRegistry) Register(ctx context.Context, token string, expiresAt time.Time) error {
	ttl := expiresAt.Sub(r.now())
	if ttl <= 0 {
		return nil
	}

	err := r.client.Set(ctx, r.key(token), "1", ttl).Err()
	if err != nil {
		return fmt.Errorf("redis error: %w", err)
	}
	return nil
}

func (r *RedisRegistry) IsValid(ctx context.Context, token string) (bool, error) {
	n, err := r.client.Exists(ctx, r.key(token)).Result()
	if err != nil {
		return false, fmt.Errorf("redis error: %w", err)
	}
	return n == 1, nil
}

func (r *RedisRegistry) Revoke(ctx context.Context, token string) error {
	err := r.client.Del(ctx, r.key(token)).Err()
	if err != nil {
		return fmt.Errorf("redis error: %w", err)
	}
	return nil
}

func (r *RedisRegistry) Rotate(ctx context.Context, oldToken string, newToken string, newExpiresAt time.Time) error {
	// PX must be positive, redis rejects zero
	px := newExpiresAt.Sub(r.now()).Milliseconds()
	if px <= 0 {
		px = 1
	}

	rotated, err := rotateLua.Run(ctx, r.client,
		[]string{r.key(oldToken), r.key(newToken)},
		px,
	).Int64()
	if err != nil {
		return fmt.Errorf("redis error: %w", err)
	}

	if rotated == 0 {
		return apperrors.ErrRefreshTokenNotFound
	}
	return nil
}

func (r *RedisRegistry) Close() error {
	return r.client.Close()
}
