package bootstrap

import (
	"time"

	"companion/app/services/billing"
	"companion/pkg/config"
	"companion/pkg/redis"
)

// SetupReconcile 创建后台对账任务，多实例时通过 Redis 锁互斥
func SetupReconcile(auditor *billing.Auditor) *billing.RepairJob {
	var locker billing.Locker
	if client := redis.GetRedis(redis.MainDB); client != nil {
		locker = redis.NewLocker(client.Client, config.GetString("app.name"))
	}

	return billing.NewRepairJob(
		auditor,
		locker,
		time.Duration(config.GetInt("reconcile.interval")) * time.Second,
		time.Duration(config.GetInt("reconcile.lock_expiry")) * time.Second,
	)
}
