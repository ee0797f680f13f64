package repositories

import (
	"context"

	"gorm.io/gorm"
)

// Transactor 数据库事务执行器
type Transactor struct {
	db *gorm.DB
}

// NewTransactor 创建事务执行器
func NewTransactor(db *gorm.DB) *Transactor {
	return &Transactor{db: db}
}

// WithTx 在事务中执行 fn，fn 返回错误时回滚
func (t *Transactor) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return t.db.WithContext(ctx).Transaction(fn)
}
