package payment

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"companion/app/services/billing"
	"companion/pkg/logger"
	"companion/pkg/payment/types"
	"companion/pkg/response"
)

// maxWebhookBody 回调请求体上限
const maxWebhookBody = 1 << 20

// ProviderResolver 按名称获取已启用的支付渠道
type ProviderResolver interface {
	Get(provider types.Provider) (types.Service, error)
}

// WebhookController 支付回调
type WebhookController struct {
	providers  ProviderResolver
	reconciler *billing.Reconciler
}

// NewWebhookController 创建回调控制器
func NewWebhookController(providers ProviderResolver, reconciler *billing.Reconciler) *WebhookController {
	return &WebhookController{providers: providers, reconciler: reconciler}
}

// Handle 验签、解析并对账，应答格式由渠道决定
// POST /v1/webhooks/:provider
func (wc *WebhookController) Handle(c *gin.Context) {
	name := types.Provider(c.Param("provider"))
	svc, err := wc.providers.Get(name)
	if err != nil {
		logger.Error("Webhook", zap.String("provider", string(name)), zap.Error(err))
		response.Fail(c, http.StatusServiceUnavailable, "payment provider unavailable")
		return
	}

	// 验签必须基于原始字节
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		writeAck(c, svc, http.StatusBadRequest, false)
		return
	}

	n, err := svc.ParseWebhook(c.Request.Context(), body, c.Request.Header)
	if err != nil {
		switch {
		case errors.Is(err, types.ErrSignatureInvalid):
			logger.Warn("Webhook", zap.String("provider", string(name)), zap.String("ip", c.ClientIP()), zap.Error(err))
			writeAck(c, svc, http.StatusUnauthorized, false)
		case errors.Is(err, types.ErrMalformedPayload):
			logger.Warn("Webhook", zap.String("provider", string(name)), zap.Error(err))
			writeAck(c, svc, http.StatusBadRequest, false)
		default:
			logger.Error("Webhook", zap.String("provider", string(name)), zap.Error(err))
			writeAck(c, svc, http.StatusInternalServerError, false)
		}
		return
	}

	res, err := wc.reconciler.Apply(c.Request.Context(), n)
	if err != nil {
		switch {
		case errors.Is(err, billing.ErrOrderNotFound), errors.Is(err, billing.ErrAmountMismatch):
			// 渠道重试无法修复，应答成功避免无限重试，日志中保留排查线索
			logger.Warn("Webhook",
				zap.String("provider", string(name)),
				zap.String("order_no", n.OrderNo),
				zap.String("raw_status", n.RawStatus),
				zap.Error(err),
			)
			writeAck(c, svc, http.StatusOK, true)
		case errors.Is(err, types.ErrMalformedPayload):
			writeAck(c, svc, http.StatusBadRequest, false)
		default:
			logger.Error("Webhook", zap.String("provider", string(name)), zap.String("order_no", n.OrderNo), zap.Error(err))
			writeAck(c, svc, http.StatusInternalServerError, false)
		}
		return
	}

	logger.Info("Webhook",
		zap.String("provider", string(name)),
		zap.String("order_no", res.OrderNo),
		zap.String("raw_status", n.RawStatus),
		zap.String("outcome", string(res.Outcome)),
	)
	writeAck(c, svc, http.StatusOK, true)
}

// writeAck 写出渠道规定的应答体，HTTP 状态由处理结果决定
func writeAck(c *gin.Context, svc types.Service, status int, ok bool) {
	ack := svc.Acknowledge(ok)
	if status == http.StatusOK && ack.StatusCode != 0 {
		status = ack.StatusCode
	}
	response.Raw(c, status, ack.ContentType, ack.Body)
}
