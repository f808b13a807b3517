package middleware

import (
	"fmt"
	"net/http"
	"time"

	"medsupply/internal/metrics"
	rediskey "medsupply/pkg/redis"

	"github.com/gin-gonic/gin"
	rd "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// luaRateLimit：Redis 滑动窗口限流 Lua 脚本（原子操作）
// KEYS[1]=限流key，ARGV[1]=当前时间戳(ms)，ARGV[2]=窗口开始时间戳(ms)，ARGV[3]=窗口秒数，ARGV[4]=member，ARGV[5]=limit
// 返回：当前窗口内的请求数（超限返回 -1）
const luaRateLimit = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local windowStart = tonumber(ARGV[2])
local windowSec = tonumber(ARGV[3])
local member = ARGV[4]

-- 删除窗口外的旧记录
redis.call('ZREMRANGEBYSCORE', key, '0', windowStart)

local count = redis.call('ZCARD', key)

if count < tonumber(ARGV[5]) then
  redis.call('ZADD', key, now, member)
  redis.call('EXPIRE', key, windowSec)
  return count + 1
else
  return -1
end
`

// RedisRateLimit 下单限流：按登录账号计数，未登录时降级为 IP。
// Redis 出错时放行。
func RedisRateLimit(rdb rd.Cmdable, limit int, window time.Duration, log *logrus.Logger, m *metrics.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		subject := "ip:" + c.ClientIP()
		if u, ok := Principal(c); ok {
			subject = "user:" + u.ID
		}
		key := rediskey.OrderRateLimitKey(subject)

		now := time.Now()
		windowSec := int64(window.Seconds())
		if windowSec < 1 {
			windowSec = 1
		}
		windowStart := now.Add(-window).UnixMilli()
		member := fmt.Sprintf("%s-%d", subject, now.UnixNano())

		res, err := rdb.Eval(c.Request.Context(), luaRateLimit, []string{key},
			now.UnixMilli(), windowStart, windowSec, member, limit).Int()
		if err != nil {
			log.WithError(err).WithField("key", key).Warn("rate limit check failed, allowing request")
			c.Next()
			return
		}

		if res < 0 {
			m.RateLimited.Inc()
			abort(c, http.StatusTooManyRequests, "too many requests, please retry later")
			return
		}
		c.Next()
	}
}
