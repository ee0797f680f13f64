package migrations

import (
	"companion/app/models/credit"
	"companion/app/models/notification"
	"companion/app/models/order"
	"companion/app/models/user"
)

// RegisterTables 返回需要迁移的表的模型列表
func RegisterTables() []interface{} {
	return []interface{}{
		&user.User{},
		&order.Order{},
		&credit.Transaction{},
		&notification.Notification{},
	}
}
