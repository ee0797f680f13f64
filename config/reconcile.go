package config

import "companion/pkg/config"

func init() {
	config.Add("reconcile", func() map[string]interface{} {
		return map[string]interface{}{
			// 对账修复任务间隔（秒），0 表示不启动后台任务
			"interval": config.Env("RECONCILE_INTERVAL", 600),
			// 分布式锁过期时间（秒）
			"lock_expiry": config.Env("RECONCILE_LOCK_EXPIRY", 120),
			// 单次最多修复订单数
			"batch_size": config.Env("RECONCILE_BATCH_SIZE", 200),
		}
	})
}
