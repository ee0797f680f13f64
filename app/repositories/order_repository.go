package repositories

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"companion/app/models/order"
)

// OrderRepository 订单仓库
type OrderRepository struct {
	db *gorm.DB
}

// NewOrderRepository 创建仓库实例
func NewOrderRepository(db *gorm.DB) *OrderRepository {
	return &OrderRepository{
		db: db,
	}
}

// WithTx 返回绑定到事务的仓库
func (r *OrderRepository) WithTx(tx *gorm.DB) *OrderRepository {
	return &OrderRepository{db: tx}
}

// Create 创建订单，订单号重复时返回 ErrDuplicateOrderNo
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	if err := r.db.WithContext(ctx).Create(o).Error; err != nil {
		if isDuplicateKey(err) {
			return fmt.Errorf("%w: %s", ErrDuplicateOrderNo, o.OrderNo)
		}
		return err
	}
	return nil
}

// GetByOrderNo 根据订单号获取订单
func (r *OrderRepository) GetByOrderNo(ctx context.Context, orderNo string) (*order.Order, error) {
	return r.first(ctx, "order_no = ?", orderNo)
}

// GetByProviderSessionID 根据支付渠道会话 ID 获取订单
func (r *OrderRepository) GetByProviderSessionID(ctx context.Context, sessionID string) (*order.Order, error) {
	return r.first(ctx, "provider_session_id = ?", sessionID)
}

// GetByProviderTransactionID 根据支付渠道交易 ID 获取订单
func (r *OrderRepository) GetByProviderTransactionID(ctx context.Context, transactionID string) (*order.Order, error) {
	return r.first(ctx, "provider_transaction_id = ?", transactionID)
}

func (r *OrderRepository) first(ctx context.Context, query string, arg interface{}) (*order.Order, error) {
	var o order.Order
	if err := r.db.WithContext(ctx).Where(query, arg).First(&o).Error; err != nil {
		return nil, notFound(err)
	}
	return &o, nil
}

// UpdateSessionID 写入渠道会话 ID，并把 created 订单推进到 pending
func (r *OrderRepository) UpdateSessionID(ctx context.Context, orderNo, sessionID string) error {
	updates := map[string]interface{}{
		"updated_at": time.Now(),
	}
	if sessionID != "" {
		updates["provider_session_id"] = sessionID
	}
	res := r.db.WithContext(ctx).Model(&order.Order{}).
		Where("order_no = ?", orderNo).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}

	// 回调可能先于这里到达，只推进仍处于 created 的订单
	return r.db.WithContext(ctx).Model(&order.Order{}).
		Where("order_no = ? AND status = ?", orderNo, order.StatusCreated).
		Update("status", order.StatusPending).Error
}

// TransitionStatus 条件更新订单状态（CAS）：只有当前状态属于 from 时才会写入。
// 返回 applied=false 表示状态已被其他回调改变，调用方据此判断是否继续执行后续写入
func (r *OrderRepository) TransitionStatus(ctx context.Context, orderNo string, from []order.Status, to order.Status, fields map[string]interface{}) (bool, error) {
	if len(from) == 0 {
		return false, nil
	}

	updates := map[string]interface{}{
		"status":     to,
		"updated_at": time.Now(),
	}
	for k, v := range fields {
		updates[k] = v
	}

	res := r.db.WithContext(ctx).Model(&order.Order{}).
		Where("order_no = ? AND status IN ?", orderNo, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ListPaidWithoutCredit 查找已支付但没有积分流水的订单（对账差异）
func (r *OrderRepository) ListPaidWithoutCredit(ctx context.Context, limit int) ([]order.Order, error) {
	var orders []order.Order
	query := r.db.WithContext(ctx).
		Where("status = ? AND credits > 0", order.StatusPaid).
		Where("NOT EXISTS (SELECT 1 FROM credit_transactions ct WHERE ct.order_no = orders.order_no)").
		Order("id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&orders).Error; err != nil {
		return nil, err
	}
	return orders, nil
}

// ListByUserID 获取用户的订单列表
func (r *OrderRepository) ListByUserID(ctx context.Context, userID string, page, pageSize int) ([]order.Order, int64, error) {
	var orders []order.Order
	var total int64

	query := r.db.WithContext(ctx).Model(&order.Order{}).Where("user_id = ?", userID)

	// 获取总数
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	// 分页查询
	err := query.Order("id DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&orders).Error
	if err != nil {
		return nil, 0, err
	}

	return orders, total, nil
}
