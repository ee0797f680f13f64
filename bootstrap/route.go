package bootstrap

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"companion/app/http/middlewares"
	"companion/pkg/database"
	"companion/pkg/metrics"
	"companion/pkg/redis"
	"companion/routes"
)

// SetupRoute 路由初始化
// 1. 注册全局中间件
// 2. 注册 API 路由与 /metrics
// 3. 配置 404 处理器
func SetupRoute(router *gin.Engine, deps routes.Dependencies, gatherer prometheus.Gatherer) {
	registerGlobalMiddleWare(router)

	routes.RegisterAPIRoutes(router, deps)

	router.GET("/metrics", gin.WrapH(metrics.Handler(gatherer)))
	router.GET("/healthz", healthz)

	setup404Handler(router)
}

// healthz 数据库必须可用，Redis 只报告状态
func healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if database.SQLDB == nil || database.SQLDB.PingContext(ctx) != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error", "database": "down"})
		return
	}

	redisStatus := "disabled"
	if client := redis.GetRedis(redis.MainDB); client != nil {
		redisStatus = "ok"
		if err := client.Ping(ctx); err != nil {
			redisStatus = "down"
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "database": "ok", "redis": redisStatus})
}

// registerGlobalMiddleWare 注册全局中间件
func registerGlobalMiddleWare(router *gin.Engine) {
	router.Use(
		middlewares.Logger(),
		middlewares.Recovery(),
	)
}

// setup404Handler 根据 Accept 头返回不同格式的 404 响应
func setup404Handler(router *gin.Engine) {
	router.NoRoute(func(c *gin.Context) {
		acceptString := c.Request.Header.Get("Accept")

		if strings.Contains(acceptString, "text/html") {
			c.String(http.StatusNotFound, "页面返回 404")
		} else {
			c.JSON(http.StatusNotFound, gin.H{
				"code":  -1,
				"error": "route not found",
			})
		}
	})
}
