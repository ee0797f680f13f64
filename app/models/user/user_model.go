// Package user 存放用户 Model 相关逻辑
package user

import (
	"companion/app/models"
)

// User 付费用户，身份由认证服务签发的令牌确定，这里只保留对账需要的字段
type User struct {
	ID       string `gorm:"primaryKey;type:varchar(64)" json:"id"`
	Email    string `gorm:"type:varchar(255);index" json:"email"`
	Nickname string `gorm:"type:varchar(50)" json:"nickname,omitempty"`

	models.CommonTimestampsField
}

// TableName 表名
func (User) TableName() string {
	return "users"
}
