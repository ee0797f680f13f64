package repositories

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"companion/app/models/notification"
)

// NotificationRepository 支付回调记录仓库
type NotificationRepository struct {
	db *gorm.DB
}

// NewNotificationRepository 创建仓库实例
func NewNotificationRepository(db *gorm.DB) *NotificationRepository {
	return &NotificationRepository{
		db: db,
	}
}

// Create 记录一条回调
func (r *NotificationRepository) Create(ctx context.Context, n *notification.Notification) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	return r.db.WithContext(ctx).Create(n).Error
}

// ListByOrderNo 获取订单的回调记录
func (r *NotificationRepository) ListByOrderNo(ctx context.Context, orderNo string) ([]notification.Notification, error) {
	var list []notification.Notification
	err := r.db.WithContext(ctx).
		Where("order_no = ?", orderNo).
		Order("created_at ASC").
		Find(&list).Error
	return list, err
}
