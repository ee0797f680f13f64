package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	redis "github.com/redis/go-redis/v9"

	"companion/pkg/logger"
)

// Locker 基于 redsync 的分布式锁，多实例部署时保证同一任务只有一个实例在执行
type Locker struct {
	rs     *redsync.Redsync
	prefix string
}

// NewLocker 创建分布式锁
func NewLocker(client *redis.Client, prefix string) *Locker {
	return &Locker{
		rs:     redsync.New(goredis.NewPool(client)),
		prefix: prefix,
	}
}

// TryLock 只尝试一次，锁被占用时返回错误。返回的 unlock 必须调用
func (l *Locker) TryLock(ctx context.Context, name string, expiry time.Duration) (func(), error) {
	mutex := l.rs.NewMutex(
		l.prefix+":lock:"+name,
		redsync.WithExpiry(expiry),
		redsync.WithTries(1),
	)
	if err := mutex.LockContext(ctx); err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", name, err)
	}

	return func() {
		if _, err := mutex.UnlockContext(context.WithoutCancel(ctx)); err != nil {
			logger.WarnString("Redis", "Unlock", fmt.Sprintf("%s: %v", name, err))
		}
	}, nil
}
