/*
	Package redis 提供 Redis 连接管理

	1. 连接池管理
	2. 按用途划分实例（业务库、队列库）
	3. 健康检查
*/
package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"

	"companion/pkg/logger"
)

// 关键配置常量
const (
	// DefaultPoolSize Redis 连接池大小
	DefaultPoolSize = 100
	// DefaultTimeout 默认操作超时时间
	DefaultTimeout = 5 * time.Second
	// DefaultMinIdleConns 最小空闲连接数
	DefaultMinIdleConns = 10
	// DefaultMaxRetries 最大重试次数
	DefaultMaxRetries = 3
	// DefaultIdleTimeout 空闲超时
	DefaultIdleTimeout = 5 * time.Minute
)

// RedisInstance Redis 实例类型
type RedisInstance string

const (
	MainDB  RedisInstance = "main"  // 业务实例（限流、分布式锁）
	QueueDB RedisInstance = "queue" // 队列实例
)

// RedisClient Redis 客户端封装
type RedisClient struct {
	Client *redis.Client
}

// RedisConfig Redis 配置结构
type RedisConfig struct {
	Address      string
	Username     string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	Timeout      time.Duration
}

// RedisManager 按用途管理多个 Redis 实例
type RedisManager struct {
	instances map[RedisInstance]*RedisClient
	mutex     sync.RWMutex
}

var (
	once    sync.Once
	Manager *RedisManager
)

/* 🔄 连接管理相关方法 */

// NewClient 创建新的 Redis 客户端并检查连通性
func NewClient(config RedisConfig) (*RedisClient, error) {
	if config.PoolSize <= 0 {
		config.PoolSize = DefaultPoolSize
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}

	rds := &RedisClient{
		Client: redis.NewClient(&redis.Options{
			Addr:         config.Address,
			Username:     config.Username,
			Password:     config.Password,
			DB:           config.DB,
			PoolSize:     config.PoolSize,
			MinIdleConns: config.MinIdleConns,

			// 连接池配置
			PoolTimeout:     config.Timeout,
			ConnMaxIdleTime: DefaultIdleTimeout,
			ConnMaxLifetime: 24 * time.Hour,

			// 读写超时
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,

			// 重试策略
			MaxRetries:      DefaultMaxRetries,
			MinRetryBackoff: 8 * time.Millisecond,
			MaxRetryBackoff: 512 * time.Millisecond,
		}),
	}

	if err := rds.Ping(context.Background()); err != nil {
		_ = rds.Client.Close()
		return nil, fmt.Errorf("redis %s db %d: %w", config.Address, config.DB, err)
	}
	return rds, nil
}

/* 🔍 健康检查方法 */

// Ping 测试 Redis 连接
func (rds *RedisClient) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()
	return rds.Client.Ping(ctx).Err()
}

// InitRedis 初始化 Redis 管理器，业务库与队列库分开
func InitRedis(address, username, password string, mainDB, queueDB int) error {
	var initErr error
	once.Do(func() {
		manager := &RedisManager{
			instances: make(map[RedisInstance]*RedisClient),
		}

		for instance, db := range map[RedisInstance]int{MainDB: mainDB, QueueDB: queueDB} {
			client, err := NewClient(RedisConfig{
				Address:      address,
				Username:     username,
				Password:     password,
				DB:           db,
				PoolSize:     DefaultPoolSize,
				MinIdleConns: DefaultMinIdleConns,
				Timeout:      DefaultTimeout,
			})
			if err != nil {
				initErr = err
				manager.Close()
				return
			}
			manager.instances[instance] = client
		}

		Manager = manager
		logger.InfoString("Redis", "Setup", fmt.Sprintf("连接成功 %s 业务库:%d 队列库:%d", address, mainDB, queueDB))
	})
	return initErr
}

// GetRedis 获取指定的 Redis 实例，未初始化时返回 nil
func GetRedis(instance RedisInstance) *RedisClient {
	if Manager == nil {
		return nil
	}
	Manager.mutex.RLock()
	defer Manager.mutex.RUnlock()
	return Manager.instances[instance]
}

// Close 关闭所有实例
func (m *RedisManager) Close() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	for name, client := range m.instances {
		if err := client.Client.Close(); err != nil {
			logger.ErrorString("Redis", "Close", fmt.Sprintf("%s: %v", name, err))
		}
	}
}
