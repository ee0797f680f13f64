// Package notification 支付回调记录，用于审计和排查
package notification

import (
	"time"

	"companion/app/models/order"
)

// Result 回调处理结果
type Result string

const (
	ResultCredited     Result = "credited"
	ResultAlreadyPaid  Result = "already_paid"
	ResultFailed       Result = "failed"
	ResultIntermediate Result = "intermediate"
	ResultIgnored      Result = "ignored"
	ResultNoop         Result = "noop"
	ResultNotFound     Result = "order_not_found"
	ResultMismatch     Result = "amount_mismatch"
	ResultError        Result = "error"
)

// Notification 已验签的支付回调
type Notification struct {
	ID                    string       `gorm:"type:varchar(36);primaryKey" json:"id"`
	Provider              string       `gorm:"type:varchar(32);index;not null" json:"provider"`
	OrderNo               string       `gorm:"type:varchar(32);index" json:"order_no"`
	ProviderTransactionID string       `gorm:"type:varchar(255)" json:"provider_transaction_id"`
	RawStatus             string       `gorm:"type:varchar(64)" json:"raw_status"`
	Status                order.Status `gorm:"type:varchar(20)" json:"status"`
	Result                Result       `gorm:"type:varchar(32);index" json:"result"`
	Error                 string       `gorm:"type:text" json:"error,omitempty"`
	Payload               string       `gorm:"type:text" json:"payload"`
	CreatedAt             time.Time    `json:"created_at"`
}

// TableName 指定表名
func (Notification) TableName() string {
	return "payment_notifications"
}
