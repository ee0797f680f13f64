package routes

import (
	"github.com/gin-gonic/gin"

	"companion/app/http/controllers/api/v1/payment"
	"companion/app/http/middlewares"
)

// Dependencies 路由需要的控制器与中间件，由 bootstrap 组装
type Dependencies struct {
	Limiter    *middlewares.RateLimiter
	Payment    *payment.PaymentController
	Webhook    *payment.WebhookController
	Order      *payment.OrderController
	Reconcile  *payment.ReconcileController
	JWTSecret  string
	AdminToken string

	// 限流格式 "次数-周期"，周期为 S/M/H/D
	APIRateLimit      string
	CheckoutRateLimit string
}

// RegisterAPIRoutes 注册所有 API 路由
func RegisterAPIRoutes(r *gin.Engine, deps Dependencies) {
	v1 := r.Group("/v1")

	v1.Use(
		middlewares.Recovery(),
		middlewares.SecurityHeaders(),
		deps.Limiter.LimitIP(deps.APIRateLimit),
		middlewares.Cors(),
	)

	// 支付渠道回调，靠签名鉴权
	// POST /v1/webhooks/:provider
	v1.POST("/webhooks/:provider", deps.Webhook.Handle)

	authed := v1.Group("", middlewares.AuthJWT(deps.JWTSecret))
	{
		// 创建支付
		// POST /v1/checkout/:provider
		authed.POST("/checkout/:provider",
			deps.Limiter.LimitPerRoute(deps.CheckoutRateLimit),
			deps.Payment.Checkout,
		)

		authed.GET("/orders", deps.Order.Index)
		authed.GET("/orders/:order_no", deps.Order.Show)

		authed.GET("/credits/balance", deps.Order.Balance)
		authed.GET("/credits/transactions", deps.Order.Transactions)
		authed.POST("/credits/consume", deps.Order.Consume)
	}

	// 对账管理，未配置令牌时返回 404
	admin := v1.Group("/admin", middlewares.AdminToken(deps.AdminToken))
	{
		admin.GET("/reconciliation", deps.Reconcile.Show)
		admin.POST("/reconciliation/repair", deps.Reconcile.Repair)
	}
}
