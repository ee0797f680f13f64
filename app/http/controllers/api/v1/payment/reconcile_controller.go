package payment

import (
	"github.com/gin-gonic/gin"

	"companion/app/services/billing"
	"companion/pkg/queue"
	"companion/pkg/response"
)

// ReconcileController 对账管理接口
type ReconcileController struct {
	auditor *billing.Auditor
	queue   *queue.QueueMetrics
}

// NewReconcileController 创建对账管理控制器，queueMetrics 可以为空
func NewReconcileController(auditor *billing.Auditor, queueMetrics *queue.QueueMetrics) *ReconcileController {
	return &ReconcileController{auditor: auditor, queue: queueMetrics}
}

// Show 列出已支付但没有积分流水的订单
// GET /v1/admin/reconciliation
func (rc *ReconcileController) Show(c *gin.Context) {
	orders, err := rc.auditor.FindUncredited(c.Request.Context())
	if err != nil {
		response.ServerError(c, err)
		return
	}

	orderNos := make([]string, 0, len(orders))
	for _, o := range orders {
		orderNos = append(orderNos, o.OrderNo)
	}
	response.Data(c, gin.H{
		"uncredited": orderNos,
		"count":      len(orderNos),
		"queue":      rc.queue.Snapshot(),
	})
}

// Repair 补发缺失的积分流水
// POST /v1/admin/reconciliation/repair
func (rc *ReconcileController) Repair(c *gin.Context) {
	report, err := rc.auditor.Repair(c.Request.Context())
	if err != nil {
		response.ServerError(c, err)
		return
	}
	response.Data(c, report)
}
