package lock

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

//go:embed lua/release.lua
var luaRelease string

// ErrLeaseLost is returned when a lease expired or was taken over before release.
var ErrLeaseLost = errors.New("lock: lease lost")

// RedisLocker implements Locker with SET NX PX leases that expire on their own if a holder dies.
type RedisLocker struct {
	rdb    redis.UniversalClient
	ttl    time.Duration
	prefix string
	scrRel *redis.Script
}

// NewRedisLocker builds a redis-backed locker; keys are namespaced under prefix.
func NewRedisLocker(rdb redis.UniversalClient, prefix string, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &RedisLocker{
		rdb:    rdb,
		ttl:    ttl,
		prefix: prefix,
		scrRel: redis.NewScript(luaRelease),
	}
}

func (l *RedisLocker) lockKey(key string) string {
	return fmt.Sprintf("%slock:{%s}", l.prefix, key)
}

// TryAcquire implements Locker.
func (l *RedisLocker) TryAcquire(ctx context.Context, key string) (Lease, bool, error) {
	token := uuid.NewString()
	fullKey := l.lockKey(key)
	ok, err := l.rdb.SetNX(ctx, fullKey, token, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("lock: acquire %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}
	return &redisLease{locker: l, key: fullKey, token: token}, true, nil
}

type redisLease struct {
	locker *RedisLocker
	key    string
	token  string
}

// Release deletes the key only while this lease still owns it.
func (l *redisLease) Release(ctx context.Context) error {
	n, err := l.locker.scrRel.Run(ctx, l.locker.rdb, []string{l.key}, l.token).Int64()
	if err != nil {
		return fmt.Errorf("lock: release %s: %w", l.key, err)
	}
	if n == 0 {
		return ErrLeaseLost
	}
	return nil
}
