package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"companion/bootstrap"
	btsConfig "companion/config"
	"companion/pkg/config"
	"companion/pkg/logger"
)

// 加载应用程序的基础配置
func init() {
	// 加载 config 目录下的配置信息
	btsConfig.Initialize()
}

// App 应用程序上下文，用于优雅关闭
type App struct {
	server   *http.Server
	services *bootstrap.Services
}

func main() {
	env, repairOnly := parseFlags()

	services, err := setupApplication(env)
	if err != nil {
		log.Fatalf("初始化应用程序失败: %v", err)
	}

	// 只执行一次对账修复后退出
	if repairOnly {
		os.Exit(runRepair(services))
	}

	app := &App{
		server: &http.Server{
			Addr:              ":" + config.Get("app.port"),
			Handler:           setupServer(services),
			ReadHeaderTimeout: 10 * time.Second,
		},
		services: services,
	}

	app.start()
}

// parseFlags 解析命令行参数
func parseFlags() (string, bool) {
	var env string
	var repair bool
	flag.StringVar(&env, "env", "", "加载 .env 文件，例如 --env=testing 将加载 .env.testing 文件")
	flag.BoolVar(&repair, "repair", false, "补发已支付但缺少积分流水的订单后退出")
	flag.Parse()
	return env, repair
}

// setupApplication 初始化应用程序所需的各种组件
func setupApplication(env string) (*bootstrap.Services, error) {
	config.InitConfig(env)

	bootstrap.SetupLogger()

	if err := bootstrap.SetupDB(); err != nil {
		return nil, fmt.Errorf("setup database: %w", err)
	}

	// Redis 不可用时降级运行
	if err := bootstrap.SetupRedis(); err != nil {
		logger.WarnString("Redis", "Setup", "Redis 连接失败，降级为单实例模式: "+err.Error())
	}

	return bootstrap.SetupServices()
}

// setupServer 配置并返回 Gin 服务器实例
func setupServer(services *bootstrap.Services) *gin.Engine {
	if config.GetBool("app.debug") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	bootstrap.SetupRoute(router, services.Routes, services.Registry)
	return router
}

func runRepair(services *bootstrap.Services) int {
	defer services.Stop()

	report, err := services.Auditor.Repair(context.Background())
	if err != nil {
		logger.ErrorString("Reconcile", "Repair", err.Error())
		return 1
	}
	logger.InfoJSON("Reconcile", "Repair", report)
	fmt.Printf("found=%d repaired=%d failed=%d\n", report.Found, len(report.Repaired), len(report.Failed))
	if len(report.Failed) > 0 {
		return 1
	}
	return 0
}

// start 启动服务器并处理优雅关闭
func (a *App) start() {
	ctx, cancel := context.WithCancel(context.Background())
	a.services.Start(ctx)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("服务器正在启动，监听端口 %s\n", a.server.Addr)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("服务器启动失败: %v", err)
		}
	}()

	<-quit
	log.Println("正在关闭服务器...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := a.server.Shutdown(shutdownCtx); err != nil {
		log.Printf("服务器关闭异常: %v", err)
	}

	// 停止接收请求后再停后台任务，已入队的通知留在 Redis 里
	cancel()
	a.services.Stop()

	log.Println("服务器已成功关闭")
}
