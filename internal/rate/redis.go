package rate

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCounter is a CounterStore backed by Redis. INCR and EXPIREAT run in
// one MULTI/EXEC so concurrent processes never observe a counter without
// its expiry.
type RedisCounter struct {
	client redis.UniversalClient
}

// NewRedisCounter wraps client.
func NewRedisCounter(client redis.UniversalClient) *RedisCounter {
	return &RedisCounter{client: client}
}

// IncrementWithExpiry implements CounterStore.
func (c *RedisCounter) IncrementWithExpiry(ctx context.Context, key string, expireAt time.Time) (int64, error) {
	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireAt(ctx, key, expireAt)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}
