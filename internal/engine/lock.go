package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrCycleInProgress — цикл уже выполняется другим экземпляром планировщика.
var ErrCycleInProgress = errors.New("evaluation cycle already in progress")

// Locker — распределенная блокировка цикла.
type Locker interface {
	// TryLock не ждет: ok=false, если лок занят. release снимает только свой лок.
	TryLock(ctx context.Context, key, owner string, ttl time.Duration) (release func(), ok bool, err error)
}

// Снимаем лок, только если он все еще наш (TTL мог истечь и лок взял другой).
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type RedisLocker struct {
	rdb *redis.Client
}

func NewRedisLocker(rdb *redis.Client) *RedisLocker {
	return &RedisLocker{rdb: rdb}
}

func (l *RedisLocker) TryLock(ctx context.Context, key, owner string, ttl time.Duration) (func(), bool, error) {
	ok, err := l.rdb.SetNX(ctx, key, owner, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("redis: failed to acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}
	release := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = releaseScript.Run(ctx, l.rdb, []string{key}, owner).Err()
	}
	return release, true, nil
}
