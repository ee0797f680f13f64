package bootstrap

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"companion/app/http/controllers/api/v1/payment"
	"companion/app/http/middlewares"
	"companion/app/repositories"
	"companion/app/services/billing"
	"companion/pkg/config"
	"companion/pkg/database"
	"companion/pkg/limiter"
	"companion/pkg/logger"
	"companion/pkg/metrics"
	"companion/pkg/queue"
	"companion/pkg/redis"
	"companion/routes"
)

// Services 运行期组件
type Services struct {
	Registry  *prometheus.Registry
	Routes    routes.Dependencies
	Auditor   *billing.Auditor
	RepairJob *billing.RepairJob
	Worker    *queue.Worker

	limiterStore *limiter.MemoryStore
}

// SetupServices 组装业务服务与控制器，必须在 SetupDB 之后调用。
// Redis 为可选依赖：未连接时限流退回进程内存，通知队列与对账锁不启用
func SetupServices() (*Services, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	paymentMetrics := metrics.NewPaymentMetrics(registry)
	queueMetrics := queue.NewQueueMetrics(paymentMetrics)

	providers, catalog, err := SetupPayment()
	if err != nil {
		return nil, err
	}

	var notifier billing.Notifier
	queueService, worker := SetupQueue(queueMetrics)
	if queueService != nil {
		notifier = queueService
	}

	db := database.DB
	orders := repositories.NewOrderRepository(db)
	credits := repositories.NewCreditRepository(db)

	checkout := billing.NewCheckoutService(providers, orders, repositories.NewUserRepository(db), catalog, paymentMetrics)
	reconciler := billing.NewReconciler(db, notifier, paymentMetrics)
	auditor := billing.NewAuditor(db, paymentMetrics, config.GetInt("reconcile.batch_size"))

	store := limiter.NewMemoryStore(10 * time.Minute)
	var redisLimiter *limiter.RedisLimiter
	if client := redis.GetRedis(redis.MainDB); client != nil {
		redisLimiter, err = limiter.NewRedisLimiter(client.Client, config.GetString("app.name"))
		if err != nil {
			logger.WarnString("Limiter", "Setup", "Redis 限流不可用，使用进程内限流: "+err.Error())
			redisLimiter = nil
		}
	}

	return &Services{
		Registry: registry,
		Routes: routes.Dependencies{
			Limiter:           middlewares.NewRateLimiter(store, redisLimiter),
			Payment:           payment.NewPaymentController(checkout),
			Webhook:           payment.NewWebhookController(providers, reconciler),
			Order:             payment.NewOrderController(orders, credits),
			Reconcile:         payment.NewReconcileController(auditor, queueMetrics),
			JWTSecret:         config.GetString("app.jwt_secret"),
			AdminToken:        config.GetString("app.admin_token"),
			APIRateLimit:      config.GetString("app.api_rate_limit"),
			CheckoutRateLimit: config.GetString("app.checkout_rate_limit"),
		},
		Auditor:      auditor,
		RepairJob:    SetupReconcile(auditor),
		Worker:       worker,
		limiterStore: store,
	}, nil
}

// Start 启动后台任务：通知工作器、对账任务、限流器清理
func (s *Services) Start(ctx context.Context) {
	if s.Worker != nil {
		s.Worker.Start(ctx)
	}
	go s.RepairJob.Run(ctx)
	go s.limiterStore.RunJanitor(ctx)
}

// Stop 等待工作器退出并关闭连接
func (s *Services) Stop() {
	if s.Worker != nil {
		s.Worker.Stop()
	}
	if redis.Manager != nil {
		redis.Manager.Close()
	}
	if err := database.Close(); err != nil {
		logger.ErrorString("数据库", "关闭", err.Error())
	}
}
