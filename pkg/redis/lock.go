package redis

import (
	"context"
	"time"

	rd "github.com/redis/go-redis/v9"
)

// luaReleaseLockIfMatch 仅当锁值等于持有者 token 时才删除，避免误删别人续上的锁。
const luaReleaseLockIfMatch = `
local lockKey = KEYS[1]
local token = ARGV[1]
if redis.call('GET', lockKey) == token then
  return redis.call('DEL', lockKey)
end
return 0
`

// AcquireLock SET NX PX 抢锁，ok=false 表示锁被他人持有。
func AcquireLock(ctx context.Context, rdb rd.Cmdable, key, token string, ttl time.Duration) (bool, error) {
	return rdb.SetNX(ctx, key, token, ttl).Result()
}

// ReleaseLockIfMatch 安全释放锁；released=false 表示锁已过期或被他人持有。
func ReleaseLockIfMatch(ctx context.Context, rdb rd.Cmdable, key, token string) (bool, error) {
	n, err := rdb.Eval(ctx, luaReleaseLockIfMatch, []string{key}, token).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
