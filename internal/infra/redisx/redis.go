package redisx

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// 冪等キャッシュ: idem:checkout:{user_id}:{key} -> order_id
	KeyIdemCheckout = "idem:checkout:%d:%s"

	// ユーザー単位のチェックアウトロック: lock:checkout:{user_id}
	KeyCheckoutLock = "lock:checkout:%s"
)

var (
	TTLIdempotency = 24 * time.Hour
	TTLLock        = 30 * time.Second
)

func New(ctx context.Context, addr string) (*redis.Client, error) {
	r := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
	if err := r.Ping(ctx).Err(); err != nil {
		_ = r.Close()
		return nil, err
	}
	return r, nil
}
