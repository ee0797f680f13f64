package middlewares

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cast"
	"golang.org/x/time/rate"

	"companion/pkg/app"
	"companion/pkg/limiter"
	"companion/pkg/logger"
	"companion/pkg/response"
)

// DefaultBurst 默认突发请求数量
const DefaultBurst = 100

// RateLimiter 限流中间件工厂，进程内存储必填，Redis 限流器可选
type RateLimiter struct {
	store *limiter.MemoryStore
	redis *limiter.RedisLimiter
	burst int
}

// NewRateLimiter 创建限流中间件工厂
func NewRateLimiter(store *limiter.MemoryStore, redis *limiter.RedisLimiter) *RateLimiter {
	return &RateLimiter{store: store, redis: redis, burst: DefaultBurst}
}

// LimitIP 全局限流中间件，针对 IP 进行限流
//
// 支持的限流格式:
// - 5 reqs/second:   "5-S"
// - 10 reqs/minute:  "10-M"
// - 1000 reqs/hour:  "1000-H"
// - 2000 reqs/day:   "2000-D"
func (l *RateLimiter) LimitIP(limit string) gin.HandlerFunc {
	return l.memoryHandler(limiter.GetKeyIP, limit)
}

// LimitPerRoute 针对单个路由的限流中间件，基于 IP + 路由路径。
// 配置了 Redis 时多实例共享计数，Redis 出错时降级为进程内限流
func (l *RateLimiter) LimitPerRoute(limit string) gin.HandlerFunc {
	fallback := l.memoryHandler(limiter.GetKeyRouteWithIP, limit)
	if l.redis == nil {
		return fallback
	}
	formatted := strings.ToUpper(limit)

	return func(c *gin.Context) {
		if app.IsTesting() {
			c.Next()
			return
		}

		result, err := l.redis.CheckRate(c, limiter.GetKeyRouteWithIP(c), formatted)
		if err != nil {
			logger.ErrorString("限流器", "Redis", err.Error())
			fallback(c)
			return
		}

		c.Header("X-RateLimit-Limit", cast.ToString(result.Limit))
		c.Header("X-RateLimit-Remaining", cast.ToString(result.Remaining))
		c.Header("X-RateLimit-Reset", cast.ToString(result.Reset))

		if result.Reached {
			response.Abort429(c)
			return
		}
		c.Next()
	}
}

// memoryHandler 进程内令牌桶限流
func (l *RateLimiter) memoryHandler(keyFunc func(*gin.Context) string, limit string) gin.HandlerFunc {
	r, err := limiter.ParseLimit(limit)
	if err != nil {
		logger.ErrorString("限流器", "配置错误", err.Error())
		return func(c *gin.Context) { c.Next() }
	}
	burst := l.burst
	if int64(burst) > r.Limit {
		burst = int(r.Limit)
	}

	return func(c *gin.Context) {
		// 测试环境不限流
		if app.IsTesting() {
			c.Next()
			return
		}

		lim := l.store.Get(keyFunc(c), rate.Limit(r.Rate), burst)
		if !lim.Allow() {
			response.Abort429(c)
			return
		}

		setRateLimitHeaders(c, lim)
		c.Next()
	}
}

// setRateLimitHeaders 设置限流相关的响应头
func setRateLimitHeaders(c *gin.Context, lim *rate.Limiter) {
	c.Header("X-RateLimit-Limit", cast.ToString(lim.Burst()))
	c.Header("X-RateLimit-Remaining", cast.ToString(int(lim.Tokens())))
	c.Header("X-RateLimit-Reset", cast.ToString(time.Now().Add(time.Second).Unix()))
}
