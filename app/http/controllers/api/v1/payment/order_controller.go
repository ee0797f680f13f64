package payment

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cast"

	"companion/app/http/middlewares"
	"companion/app/repositories"
	"companion/app/requests"
	"companion/pkg/app"
	"companion/pkg/response"
)

// OrderController 订单与积分查询
type OrderController struct {
	orders  *repositories.OrderRepository
	credits *repositories.CreditRepository
	now     func() time.Time
}

// NewOrderController 创建订单查询控制器
func NewOrderController(orders *repositories.OrderRepository, credits *repositories.CreditRepository) *OrderController {
	return &OrderController{orders: orders, credits: credits, now: app.TimenowInTimezone}
}

// Show 查询订单状态，只能查看自己的订单
// GET /v1/orders/:order_no
func (oc *OrderController) Show(c *gin.Context) {
	o, err := oc.orders.GetByOrderNo(c.Request.Context(), c.Param("order_no"))
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			response.Abort404(c, "订单不存在")
			return
		}
		response.ServerError(c, err)
		return
	}
	if o.UserID != c.GetString(middlewares.ContextUserID) {
		response.Abort404(c, "订单不存在")
		return
	}
	response.Data(c, o)
}

// Index 当前用户的订单列表
// GET /v1/orders?page=1&per_page=20
func (oc *OrderController) Index(c *gin.Context) {
	page := cast.ToInt(c.DefaultQuery("page", "1"))
	perPage := cast.ToInt(c.DefaultQuery("per_page", "20"))

	list, total, err := oc.orders.ListByUserID(c.Request.Context(), c.GetString(middlewares.ContextUserID), page, perPage)
	if err != nil {
		response.ServerError(c, err)
		return
	}
	response.Data(c, gin.H{
		"orders": list,
		"total":  total,
		"page":   page,
	})
}

// Balance 当前有效积分
// GET /v1/credits/balance
func (oc *OrderController) Balance(c *gin.Context) {
	userID := c.GetString(middlewares.ContextUserID)
	balance, err := oc.credits.Balance(c.Request.Context(), userID, oc.now().UTC())
	if err != nil {
		response.ServerError(c, err)
		return
	}
	response.Data(c, gin.H{"user_id": userID, "balance": balance})
}

// Transactions 最近的积分流水
// GET /v1/credits/transactions
func (oc *OrderController) Transactions(c *gin.Context) {
	limit := transactionsLimit(c.Query("limit"))
	list, err := oc.credits.ListByUserID(c.Request.Context(), c.GetString(middlewares.ContextUserID), limit)
	if err != nil {
		response.ServerError(c, err)
		return
	}
	response.Data(c, list)
}

// Consume 消耗积分，余额不足时返回 402
// POST /v1/credits/consume
func (oc *OrderController) Consume(c *gin.Context) {
	req, err := requests.ValidateConsume(c)
	if err != nil {
		response.Fail(c, http.StatusBadRequest, err.Error())
		return
	}

	userID := c.GetString(middlewares.ContextUserID)
	now := oc.now().UTC()
	entry, err := oc.credits.Consume(c.Request.Context(), userID, req.Amount, now)
	if err != nil {
		if errors.Is(err, repositories.ErrInsufficientCredits) {
			response.Fail(c, http.StatusPaymentRequired, "insufficient credits")
			return
		}
		response.ServerError(c, err)
		return
	}

	balance, err := oc.credits.Balance(c.Request.Context(), userID, now)
	if err != nil {
		response.ServerError(c, err)
		return
	}
	response.Created(c, gin.H{"transaction": entry, "balance": balance})
}

const (
	defaultTransactionsLimit = 50
	maxTransactionsLimit     = 200
)

// transactionsLimit 非法或缺省时取默认值，上限 200
func transactionsLimit(raw string) int {
	limit := cast.ToInt(raw)
	if limit <= 0 {
		return defaultTransactionsLimit
	}
	if limit > maxTransactionsLimit {
		return maxTransactionsLimit
	}
	return limit
}
