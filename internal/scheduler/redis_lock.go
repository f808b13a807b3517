package scheduler

import (
	"context"
	"time"

	rediskey "medsupply/pkg/redis"

	"github.com/google/uuid"
	rd "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// RedisTickLock 基于 SET NX PX 的跨实例锁，TTL 取扫描间隔，进程崩溃后自动过期。
type RedisTickLock struct {
	rdb rd.Cmdable
	key string
	ttl time.Duration
	log *logrus.Logger
}

func NewRedisTickLock(rdb rd.Cmdable, name string, ttl time.Duration, log *logrus.Logger) *RedisTickLock {
	return &RedisTickLock{rdb: rdb, key: rediskey.SchedulerLockKey(name), ttl: ttl, log: log}
}

func (l *RedisTickLock) TryLock(ctx context.Context) (func(), bool, error) {
	token := uuid.NewString()
	ok, err := rediskey.AcquireLock(ctx, l.rdb, l.key, token, l.ttl)
	if err != nil || !ok {
		return nil, false, err
	}
	release := func() {
		// 用独立 context：tick 的 context 可能已超时。
		relCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := rediskey.ReleaseLockIfMatch(relCtx, l.rdb, l.key, token); err != nil {
			l.log.WithError(err).Warn("scheduler lock release failed")
		}
	}
	return release, true, nil
}
