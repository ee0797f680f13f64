// Package order 存放订单 Model 相关逻辑
package order

import (
	"time"

	"companion/app/models"
)

// Order 订单模型，金额以最小货币单位（分）存储
type Order struct {
	models.BaseModel

	OrderNo               string        `gorm:"type:varchar(32);uniqueIndex;not null" json:"order_no"`
	UserID                string        `gorm:"type:varchar(64);index;not null" json:"user_id"`
	UserEmail             string        `gorm:"type:varchar(255)" json:"user_email"`
	Provider              string        `gorm:"type:varchar(32);index" json:"provider"`
	PaymentMethod         PaymentMethod `gorm:"type:varchar(16)" json:"payment_method"`
	Amount                int64         `gorm:"not null" json:"amount"`
	Currency              string        `gorm:"type:varchar(8);not null" json:"currency"`
	Credits               int64         `gorm:"not null;default:0" json:"credits"`
	Status                Status        `gorm:"type:varchar(20);index;not null" json:"status"`
	ProductID             string        `gorm:"type:varchar(64)" json:"product_id"`
	ProductName           string        `gorm:"type:varchar(255)" json:"product_name"`
	SubInterval           *string       `gorm:"type:varchar(8)" json:"sub_interval,omitempty"`
	ValidMonths           int           `gorm:"not null;default:0" json:"valid_months"`
	ExpiredAt             *time.Time    `json:"expired_at,omitempty"`
	ProviderSessionID     *string       `gorm:"type:varchar(255);index" json:"provider_session_id,omitempty"`
	ProviderTransactionID *string       `gorm:"type:varchar(255);index" json:"provider_transaction_id,omitempty"`
	PaidAt                *time.Time    `json:"paid_at,omitempty"`
	PaidDetail            JSON          `gorm:"type:text" json:"paid_detail,omitempty"`

	models.CommonTimestampsField
}

// TableName 指定表名
func (Order) TableName() string {
	return "orders"
}
