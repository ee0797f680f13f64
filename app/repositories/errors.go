package repositories

import (
	"errors"
	"strings"

	"gorm.io/gorm"
)

var (
	// ErrDuplicateOrderNo 订单号已存在
	ErrDuplicateOrderNo = errors.New("duplicate order no")
	// ErrAlreadyCredited 订单已有积分流水
	ErrAlreadyCredited = errors.New("order already credited")
	// ErrInsufficientCredits 积分余额不足
	ErrInsufficientCredits = errors.New("insufficient credits")
	// ErrNotFound 记录不存在
	ErrNotFound = errors.New("record not found")
)

// isDuplicateKey 判断唯一索引冲突，兼容未开启 TranslateError 的连接
func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value") ||
		strings.Contains(msg, "SQLSTATE 23505")
}

// notFound 统一转换 gorm 的未找到错误
func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
