// Package credit 积分流水模型，只追加不修改
package credit

import (
	"time"
)

// Transaction 积分流水。Amount 为正表示发放，为负表示消耗
type Transaction struct {
	ID        uint64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    string     `gorm:"type:varchar(64);index;not null" json:"user_id"`
	Amount    int64      `gorm:"not null" json:"amount"`
	OrderNo   *string    `gorm:"type:varchar(32);uniqueIndex" json:"order_no,omitempty"` // 消耗流水为空；同一订单最多一条
	ExpiredAt *time.Time `gorm:"index" json:"expired_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// TableName 指定表名
func (Transaction) TableName() string {
	return "credit_transactions"
}

// IsGrant 是否为发放流水
func (t *Transaction) IsGrant() bool {
	return t.Amount > 0
}
