// Package lock はキー単位の排他を提供する。待ちはctxで打ち切れる。
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var ErrTimeout = errors.New("lock wait timed out")

// Locker はキー単位のロック。unlockは何度呼んでもよい。
type Locker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

type entry struct {
	ch   chan struct{}
	refs int
}

// KeyedMutex はプロセス内のキー単位ロック。
// 使われていないキーのentryは解放される。
type KeyedMutex[K comparable] struct {
	mu      sync.Mutex
	entries map[K]*entry
}

func NewKeyedMutex[K comparable]() *KeyedMutex[K] {
	return &KeyedMutex[K]{entries: make(map[K]*entry)}
}

func (k *KeyedMutex[K]) acquire(key K) *entry {
	k.mu.Lock()
	defer k.mu.Unlock()

	e, ok := k.entries[key]
	if !ok {
		e = &entry{ch: make(chan struct{}, 1)}
		k.entries[key] = e
	}
	e.refs++
	return e
}

func (k *KeyedMutex[K]) drop(key K, e *entry) {
	k.mu.Lock()
	defer k.mu.Unlock()

	e.refs--
	if e.refs == 0 {
		delete(k.entries, key)
	}
}

// LockKey はctxが終わるまで待つ。待ちきれなければErrTimeoutを包んで返す。
func (k *KeyedMutex[K]) LockKey(ctx context.Context, key K) (func(), error) {
	e := k.acquire(key)

	select {
	case e.ch <- struct{}{}:
	case <-ctx.Done():
		k.drop(key, e)
		return nil, fmt.Errorf("%w: %v: %w", ErrTimeout, key, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.ch
			k.drop(key, e)
		})
	}, nil
}

// Lock はLocker実装（文字列キー）
func (k *KeyedMutex[K]) Lock(ctx context.Context, key K) (func(), error) {
	return k.LockKey(ctx, key)
}

// 使用中のキー数（テスト用）
func (k *KeyedMutex[K]) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.entries)
}

// Local はプロセス内で完結するLocker。
func Local() Locker {
	return NewKeyedMutex[string]()
}
