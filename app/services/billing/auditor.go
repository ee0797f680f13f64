package billing

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"companion/app/models/order"
	"companion/app/repositories"
	"companion/pkg/logger"
	"companion/pkg/metrics"
)

// DefaultAuditBatch 单次对账最多处理的订单数
const DefaultAuditBatch = 200

// RepairReport 对账修复结果
type RepairReport struct {
	Found    int               `json:"found"`
	Repaired []string          `json:"repaired"`
	Skipped  []string          `json:"skipped"`
	Failed   map[string]string `json:"failed"`
}

// Auditor 查找已支付但没有积分流水的订单并补发
type Auditor struct {
	orders    *repositories.OrderRepository
	credits   *repositories.CreditRepository
	metrics   *metrics.PaymentMetrics
	batchSize int
}

// NewAuditor 创建对账器
func NewAuditor(db *gorm.DB, m *metrics.PaymentMetrics, batchSize int) *Auditor {
	if batchSize <= 0 {
		batchSize = DefaultAuditBatch
	}
	return &Auditor{
		orders:    repositories.NewOrderRepository(db),
		credits:   repositories.NewCreditRepository(db),
		metrics:   m,
		batchSize: batchSize,
	}
}

// FindUncredited 列出对账差异
func (a *Auditor) FindUncredited(ctx context.Context) ([]order.Order, error) {
	orders, err := a.orders.ListPaidWithoutCredit(ctx, a.batchSize)
	if err != nil {
		return nil, fmt.Errorf("list uncredited orders: %w", err)
	}
	a.metrics.SetUncredited(len(orders))
	return orders, nil
}

// Repair 为每个差异订单补写一条发放流水，唯一索引保证不会重复发放
func (a *Auditor) Repair(ctx context.Context) (*RepairReport, error) {
	orders, err := a.FindUncredited(ctx)
	if err != nil {
		return nil, err
	}

	report := &RepairReport{
		Found:    len(orders),
		Repaired: []string{},
		Skipped:  []string{},
		Failed:   map[string]string{},
	}
	for i := range orders {
		o := &orders[i]
		_, err := a.credits.Grant(ctx, o.UserID, o.OrderNo, o.Credits, o.ExpiredAt)
		switch {
		case err == nil:
			report.Repaired = append(report.Repaired, o.OrderNo)
			a.metrics.IncGrant()
			logger.Warn("Audit", zap.String("order_no", o.OrderNo), zap.Int64("credits", o.Credits), zap.String("action", "repaired"))
		case errors.Is(err, repositories.ErrAlreadyCredited):
			report.Skipped = append(report.Skipped, o.OrderNo)
		default:
			report.Failed[o.OrderNo] = err.Error()
			logger.Error("Audit", zap.String("order_no", o.OrderNo), zap.Error(err))
		}
	}

	if report.Found > 0 {
		logger.Info("Audit",
			zap.Int("found", report.Found),
			zap.Int("repaired", len(report.Repaired)),
			zap.Int("failed", len(report.Failed)),
		)
	}
	a.metrics.SetUncredited(len(report.Failed))
	return report, nil
}
