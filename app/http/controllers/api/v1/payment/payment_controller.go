// Package payment 下单、支付回调与订单积分查询接口
package payment

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"companion/app/http/middlewares"
	"companion/app/requests"
	"companion/app/services/billing"
	"companion/pkg/logger"
	"companion/pkg/payment/types"
	"companion/pkg/response"
)

// PaymentController 下单接口
type PaymentController struct {
	checkout *billing.CheckoutService
}

// NewPaymentController 创建支付控制器
func NewPaymentController(checkout *billing.CheckoutService) *PaymentController {
	return &PaymentController{checkout: checkout}
}

// Checkout 创建订单并返回支付链接或 client_secret
// POST /v1/checkout/:provider
func (pc *PaymentController) Checkout(c *gin.Context) {
	provider := types.Provider(c.Param("provider"))

	req, err := requests.ValidateCheckout(c)
	if err != nil {
		response.Fail(c, http.StatusBadRequest, err.Error())
		return
	}

	result, err := pc.checkout.Checkout(c.Request.Context(), &billing.CheckoutRequest{
		Provider:    provider,
		UserID:      c.GetString(middlewares.ContextUserID),
		UserEmail:   c.GetString(middlewares.ContextUserEmail),
		ProductID:   req.ProductID,
		ProductName: req.ProductName,
		Amount:      req.Amount,
		Currency:    req.Currency,
		Credits:     req.Credits,
		Interval:    req.Interval,
		ValidMonths: req.ValidMonths,
		ReturnURL:   req.ReturnURL,
		CancelURL:   req.CancelURL,
	})
	if err != nil {
		status, msg := checkoutError(err)
		if status >= http.StatusInternalServerError {
			logger.Error("Checkout", zap.String("provider", string(provider)), zap.Error(err))
		}
		response.Fail(c, status, msg)
		return
	}

	response.JSON(c, result)
}

// checkoutError 错误到 HTTP 状态的映射，上游错误只返回通用信息
func checkoutError(err error) (int, string) {
	switch {
	case errors.Is(err, billing.ErrInvalidParams):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, billing.ErrUnauthenticated):
		return http.StatusUnauthorized, "unauthenticated"
	case errors.Is(err, billing.ErrConfiguration):
		return http.StatusServiceUnavailable, "payment provider unavailable"
	case errors.Is(err, billing.ErrUpstreamProvider):
		return http.StatusBadGateway, "payment provider error, please try again later"
	default:
		return http.StatusInternalServerError, "checkout failed"
	}
}
