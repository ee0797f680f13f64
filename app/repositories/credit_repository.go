package repositories

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"companion/app/models/credit"
	"companion/app/models/user"
)

// CreditRepository 积分流水仓库，只追加
type CreditRepository struct {
	db *gorm.DB
}

// NewCreditRepository 创建仓库实例
func NewCreditRepository(db *gorm.DB) *CreditRepository {
	return &CreditRepository{
		db: db,
	}
}

// WithTx 返回绑定到事务的仓库
func (r *CreditRepository) WithTx(tx *gorm.DB) *CreditRepository {
	return &CreditRepository{db: tx}
}

// Grant 为订单发放积分，同一订单重复发放返回 ErrAlreadyCredited
func (r *CreditRepository) Grant(ctx context.Context, userID, orderNo string, amount int64, expiredAt *time.Time) (*credit.Transaction, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("grant amount must be positive, got %d", amount)
	}
	if expiredAt != nil {
		utc := expiredAt.UTC()
		expiredAt = &utc
	}
	no := orderNo
	tx := &credit.Transaction{
		UserID:    userID,
		Amount:    amount,
		OrderNo:   &no,
		ExpiredAt: expiredAt,
	}
	if err := r.db.WithContext(ctx).Create(tx).Error; err != nil {
		if isDuplicateKey(err) {
			return nil, fmt.Errorf("%w: %s", ErrAlreadyCredited, orderNo)
		}
		return nil, err
	}
	return tx, nil
}

// CountByOrderNo 统计订单对应的流水条数
func (r *CreditRepository) CountByOrderNo(ctx context.Context, orderNo string) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&credit.Transaction{}).
		Where("order_no = ?", orderNo).
		Count(&n).Error
	return n, err
}

// Balance 计算用户在 now 时刻的有效余额：未过期流水之和
func (r *CreditRepository) Balance(ctx context.Context, userID string, now time.Time) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).Model(&credit.Transaction{}).
		Select("COALESCE(SUM(amount), 0)").
		Where("user_id = ?", userID).
		Where("expired_at IS NULL OR expired_at > ?", now.UTC()).
		Scan(&total).Error
	return total, err
}

// Consume 扣减积分，余额不足时返回 ErrInsufficientCredits。
// 先锁住用户行再读余额，同一用户的扣减串行执行
func (r *CreditRepository) Consume(ctx context.Context, userID string, amount int64, now time.Time) (*credit.Transaction, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("consume amount must be positive, got %d", amount)
	}

	var entry *credit.Transaction
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&user.User{ID: userID}).Error; err != nil {
			return err
		}
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", userID).
			First(&user.User{}).Error; err != nil {
			return err
		}

		repo := r.WithTx(tx)
		balance, err := repo.Balance(ctx, userID, now)
		if err != nil {
			return err
		}
		if balance < amount {
			return ErrInsufficientCredits
		}
		entry = &credit.Transaction{
			UserID: userID,
			Amount: -amount,
		}
		return tx.Create(entry).Error
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// ListByUserID 获取用户流水
func (r *CreditRepository) ListByUserID(ctx context.Context, userID string, limit int) ([]credit.Transaction, error) {
	var list []credit.Transaction
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id DESC").
		Limit(limit).
		Find(&list).Error
	return list, err
}
