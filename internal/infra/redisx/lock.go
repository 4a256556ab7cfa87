package redisx

import (
	"context"
	"fmt"
	"sync"
	"time"

	"shopcheckout/internal/lock"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// 自分のトークンのときだけ消す
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// 自分のトークンのときだけ期限を延ばす
var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// Locker は SET NX PX による複数インスタンス間のロック。
type Locker struct {
	rdb      redis.Cmdable
	ttl      time.Duration
	interval time.Duration
}

func NewLocker(rdb redis.Cmdable) *Locker {
	return &Locker{rdb: rdb, ttl: TTLLock, interval: 25 * time.Millisecond}
}

func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	rdb := l.rdb
	k := fmt.Sprintf(KeyCheckoutLock, key)
	token := uuid.NewString()

	t := time.NewTicker(l.interval)
	defer t.Stop()

	for {
		got, err := rdb.SetNX(ctx, k, token, l.ttl).Result()
		if err != nil && ctx.Err() == nil {
			return nil, fmt.Errorf("redis lock %s: %w", key, err)
		}
		if got {
			stop := make(chan struct{})
			go l.keepAlive(k, token, stop)

			var once sync.Once
			return func() {
				once.Do(func() {
					close(stop)
					// 呼び出し元のctxが切れていても解放する
					c, cancel := context.WithTimeout(context.Background(), 2*time.Second)
					defer cancel()
					_ = unlockScript.Run(c, rdb, []string{k}, token).Err()
				})
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s: %w", lock.ErrTimeout, key, ctx.Err())
		case <-t.C:
		}
	}
}

// keepAlive は保持中ずっとTTLの1/3ごとに期限を延ばす。
// 他者に取られていたら（トークン不一致）やめる。
func (l *Locker) keepAlive(k, token string, stop <-chan struct{}) {
	t := time.NewTicker(l.ttl / 3)
	defer t.Stop()

	for {
		select {
		case <-stop:
			return
		case <-t.C:
			c, cancel := context.WithTimeout(context.Background(), l.ttl/3)
			n, err := extendScript.Run(c, l.rdb, []string{k}, token, l.ttl.Milliseconds()).Int64()
			cancel()
			if err == nil && n == 0 {
				return
			}
		}
	}
}

var _ lock.Locker = (*Locker)(nil)
