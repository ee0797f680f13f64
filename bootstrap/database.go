package bootstrap

import (
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"companion/pkg/config"
	"companion/pkg/database"
	"companion/pkg/database/migrations"
	"companion/pkg/logger"
)

// SetupDB 初始化数据库和 ORM
func SetupDB() error {
	// 根据配置文件选择数据库类型
	var dbConfig gorm.Dialector
	switch connection := config.Get("database.connection"); connection {
	case "postgresql":
		dbConfig = setupPostgreSQL()
	case "sqlite":
		dbConfig = setupSQLite()
	default:
		return fmt.Errorf("unsupported database connection %q", connection)
	}

	// 连接数据库，并设置 GORM 的日志模式
	if err := database.Connect(dbConfig, logger.NewGormLogger()); err != nil {
		return err
	}

	setupDBPool()

	if err := database.AutoMigrate(migrations.RegisterTables()); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	logger.InfoString("数据库", "自动迁移", "数据表结构迁移成功")
	return nil
}

// setupPostgreSQL 配置 PostgreSQL 连接
func setupPostgreSQL() gorm.Dialector {
	dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable TimeZone=%s",
		config.Get("database.postgresql.host"),
		config.Get("database.postgresql.port"),
		config.Get("database.postgresql.username"),
		config.Get("database.postgresql.password"),
		config.Get("database.postgresql.database"),
		config.Get("app.timezone"),
	)
	return postgres.New(postgres.Config{
		DSN: dsn,
	})
}

// setupSQLite 配置 SQLite 连接
func setupSQLite() gorm.Dialector {
	return sqlite.Open(config.Get("database.sqlite.database"))
}

// setupDBPool 配置数据库连接池
func setupDBPool() {
	if config.Get("database.connection") == "sqlite" {
		// SQLite 单写者，事务内的条件更新需要串行
		database.SQLDB.SetMaxOpenConns(1)
		return
	}
	database.SQLDB.SetMaxOpenConns(config.GetInt("database.postgresql.max_open_connections"))
	database.SQLDB.SetMaxIdleConns(config.GetInt("database.postgresql.max_idle_connections"))
	database.SQLDB.SetConnMaxLifetime(time.Duration(config.GetInt("database.postgresql.max_life_seconds")) * time.Second)
}
