// Package limiter 处理限流逻辑
package limiter

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"
	limiterlib "github.com/ulule/limiter/v3"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
)

// Rate 定义限流速率
type Rate struct {
	Rate  float64 // 每秒请求数
	Limit int64   // 周期内请求数
}

// ParseLimit 解析限流配置字符串
// 支持的格式: "5-S"、"10-M"、"1000-H"、"2000-D"
func ParseLimit(limit string) (*Rate, error) {
	parts := strings.Split(limit, "-")
	if len(parts) != 2 {
		return nil, fmt.Errorf("invalid limit format: %s", limit)
	}

	value, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || value <= 0 {
		return nil, fmt.Errorf("invalid rate value: %s", parts[0])
	}

	// 根据时间单位转换为每秒的速率
	var seconds float64
	switch strings.ToUpper(parts[1]) {
	case "S":
		seconds = 1
	case "M":
		seconds = 60
	case "H":
		seconds = 3600
	case "D":
		seconds = 86400
	default:
		return nil, fmt.Errorf("invalid time unit: %s", parts[1])
	}

	return &Rate{Rate: float64(value) / seconds, Limit: value}, nil
}

// GetKeyIP 获取 Limitor 的 Key，IP
func GetKeyIP(c *gin.Context) string {
	return c.ClientIP()
}

// GetKeyRouteWithIP Limitor 的 Key，路由+IP，针对单个路由做限流
func GetKeyRouteWithIP(c *gin.Context) string {
	return routeToKeyString(c.FullPath()) + c.ClientIP()
}

// RedisLimiter 基于 Redis 的分布式限流，多实例共享计数
type RedisLimiter struct {
	store limiterlib.Store
}

// NewRedisLimiter 使用业务 Redis 实例创建限流器
func NewRedisLimiter(client *goredis.Client, prefix string) (*RedisLimiter, error) {
	store, err := sredis.NewStoreWithOptions(client, limiterlib.StoreOptions{
		// 为 limiter 设置前缀，保持 redis 里数据的整洁
		Prefix: prefix + ":limiter",
	})
	if err != nil {
		return nil, fmt.Errorf("create redis limiter store: %w", err)
	}
	return &RedisLimiter{store: store}, nil
}

// CheckRate 检测请求是否超额
func (l *RedisLimiter) CheckRate(c *gin.Context, key string, formatted string) (limiterlib.Context, error) {
	var context limiterlib.Context
	rate, err := limiterlib.NewRateFromFormatted(formatted)
	if err != nil {
		return context, err
	}

	limiterObj := limiterlib.New(l.store, rate)

	if c.GetBool("limiter-once") {
		// Peek() 取结果，不增加访问次数
		return limiterObj.Peek(c, key)
	}

	// 确保多个路由组里调用限流时，只增加一次访问次数
	c.Set("limiter-once", true)
	return limiterObj.Get(c, key)
}

// routeToKeyString 辅助方法，将 URL 中的 / 格式为 -
func routeToKeyString(routeName string) string {
	routeName = strings.ReplaceAll(routeName, "/", "-")
	routeName = strings.ReplaceAll(routeName, ":", "_")
	return routeName
}
