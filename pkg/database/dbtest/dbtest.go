// Package dbtest 测试用的 SQLite 内存数据库
package dbtest

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"companion/pkg/database/migrations"
)

// New 每个测试独立的内存库，已完成迁移。
// 只保留一个连接，事务与并发请求在连接上串行执行
func New(t testing.TB) *gorm.DB {
	t.Helper()

	dsn := "file:companion_" + uuid.NewString() + "?mode=memory&cache=shared&_busy_timeout=5000"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(migrations.RegisterTables()...))
	return db
}
