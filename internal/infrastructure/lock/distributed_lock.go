package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// ============================================================================
// 分布式锁实现
// ============================================================================
//
// 多个服务实例共用一个数据库时，进程内的 LocalLocker 无法互斥，改用 Redis：
//
// 加锁：SET key value NX PX ttl
//   - NX: 只有 key 不存在时才设置（保证互斥）
//   - PX: 过期时间（持有者崩溃时锁自动释放）
//   - value: 持有者标识（释放时校验，防止误删别人的锁）
//
// 释放锁：Lua 脚本保证"检查+删除"的原子性
// ============================================================================

var (
	ErrLockFailed = errors.New("acquire distributed lock: retries exhausted")
)

var unlockScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	else
		return 0
	end
`)

// DistributedLock 单个 key 的分布式锁
type DistributedLock struct {
	client     *redis.Client
	key        string
	value      string
	expiration time.Duration
}

// NewDistributedLock 创建分布式锁
func NewDistributedLock(client *redis.Client, key, value string, expiration time.Duration) *DistributedLock {
	return &DistributedLock{
		client:     client,
		key:        key,
		value:      value,
		expiration: expiration,
	}
}

// TryLock 非阻塞获取
func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	return l.client.SetNX(ctx, l.key, l.value, l.expiration).Result()
}

// Lock 阻塞式获取锁（带重试）
func (l *DistributedLock) Lock(ctx context.Context, retryInterval time.Duration, maxRetries int) error {
	for i := 0; i < maxRetries; i++ {
		success, err := l.TryLock(ctx)
		if err != nil {
			return err
		}
		if success {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryInterval):
		}
	}
	return ErrLockFailed
}

// Unlock 只删除自己持有的锁；锁已过期被他人获取时不做任何事
func (l *DistributedLock) Unlock(ctx context.Context) error {
	return unlockScript.Run(ctx, l.client, []string{l.key}, l.value).Err()
}

// ============================================================================
// 按账户维度的 Locker 实现
// ============================================================================

// RedisLocker 每个账户一个 key：ledger:lock:account:<id>
type RedisLocker struct {
	client        *redis.Client
	ttl           time.Duration
	retryInterval time.Duration
	maxRetries    int
	onUnlockError func(key string, err error)
}

var _ Locker = (*RedisLocker)(nil)

func NewRedisLocker(client *redis.Client, ttl, retryInterval time.Duration, maxRetries int, onUnlockError func(key string, err error)) *RedisLocker {
	if onUnlockError == nil {
		onUnlockError = func(string, error) {}
	}
	return &RedisLocker{
		client:        client,
		ttl:           ttl,
		retryInterval: retryInterval,
		maxRetries:    maxRetries,
		onUnlockError: onUnlockError,
	}
}

func AccountLockKey(id int64) string {
	return fmt.Sprintf("ledger:lock:account:%d", id)
}

// Lock 按账户ID升序获取，同一次调用的所有 key 使用同一个持有者标识
func (l *RedisLocker) Lock(ctx context.Context, ids ...int64) (func(), error) {
	owner := uuid.NewString()
	ordered := orderedIDs(ids)
	unlocks := make([]func(), 0, len(ordered))

	for _, id := range ordered {
		dl := NewDistributedLock(l.client, AccountLockKey(id), owner, l.ttl)
		if err := dl.Lock(ctx, l.retryInterval, l.maxRetries); err != nil {
			releaseAll(unlocks)()
			return nil, fmt.Errorf("lock account %d: %w", id, err)
		}
		unlocks = append(unlocks, func() {
			// 释放不受请求取消影响
			if err := dl.Unlock(context.Background()); err != nil {
				l.onUnlockError(dl.key, err)
			}
		})
	}
	return releaseAll(unlocks), nil
}
