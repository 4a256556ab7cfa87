package redisx

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// IdempotencyCache は冪等キー→注文IDの前段キャッシュ。
// 真実はDBのunique index。ここが落ちてもDB照会にフォールバックする。
type IdempotencyCache struct {
	rdb redis.Cmdable
}

func NewIdempotencyCache(rdb redis.Cmdable) *IdempotencyCache {
	return &IdempotencyCache{rdb: rdb}
}

func (c *IdempotencyCache) Get(ctx context.Context, userID int64, key string) (int64, bool, error) {
	v, err := c.rdb.Get(ctx, fmt.Sprintf(KeyIdemCheckout, userID, key)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("idempotency cache: bad value %q: %w", v, err)
	}
	return id, true, nil
}

func (c *IdempotencyCache) Put(ctx context.Context, userID int64, key string, orderID int64) error {
	return c.rdb.Set(ctx, fmt.Sprintf(KeyIdemCheckout, userID, key), orderID, TTLIdempotency).Err()
}
