package cooldown

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// decrScript decrements only an existing positive counter, so an expired
// window is never recreated without a ttl.
var decrScript = redis.NewScript(`
local n = tonumber(redis.call('GET', KEYS[1]) or '0')
if n > 0 then
  return redis.call('DECR', KEYS[1])
end
return 0
`)

// RedisStore keeps counters in Redis so every server instance shares them.
type RedisStore struct {
	rdb *redis.Client
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func (r *RedisStore) SetNX(ctx context.Context, key string, ttl time.Duration) (bool, time.Duration, error) {
	ok, err := r.rdb.SetNX(ctx, key, 1, ttl).Result()
	if err != nil {
		return false, 0, err
	}
	if ok {
		return true, 0, nil
	}
	remaining, err := r.rdb.PTTL(ctx, key).Result()
	if err != nil {
		return false, 0, err
	}
	return false, max(remaining, 0), nil
}

func (r *RedisStore) Count(ctx context.Context, key string) (int64, time.Duration, error) {
	n, err := r.rdb.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, 0, nil
	}
	if err != nil {
		return 0, 0, err
	}
	ttl, err := r.rdb.PTTL(ctx, key).Result()
	if err != nil {
		return 0, 0, err
	}
	return n, max(ttl, 0), nil
}

// Incr starts the window on the first increment only.
func (r *RedisStore) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	pipe := r.rdb.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

func (r *RedisStore) Del(ctx context.Context, key string) error {
	return r.rdb.Del(ctx, key).Err()
}

func (r *RedisStore) Decr(ctx context.Context, key string) error {
	return decrScript.Run(ctx, r.rdb, []string{key}).Err()
}
