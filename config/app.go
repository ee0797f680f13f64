// Package config 站点配置信息
package config

import "companion/pkg/config"

func init() {
	config.Add("app", func() map[string]interface{} {
		return map[string]interface{}{

			// 应用名称
			"name": config.Env("APP_NAME", "Companion"),

			// 当前环境，用以区分多环境，一般为 local, stage, production, testing
			"env": config.Env("APP_ENV", "production"),

			// 是否进入调试模式
			"debug": config.Env("APP_DEBUG", false),

			// 应用服务端口
			"port": config.Env("APP_PORT", "3000"),

			// 对外访问地址，拼接支付回调与跳转链接
			"url": config.Env("APP_URL", "http://localhost:3000"),

			// 设置时区，日志记录里会使用到
			"timezone": config.Env("TIMEZONE", "Asia/Shanghai"),

			// 订单号生成器节点编号（0-1023），多实例部署时每个实例必须不同
			"node_id": config.Env("APP_NODE_ID", 1),

			// 用户身份令牌（HS256）签名密钥
			"jwt_secret": config.Env("JWT_SECRET", ""),

			// 管理接口令牌，为空时关闭管理接口
			"admin_token": config.Env("ADMIN_TOKEN", ""),

			// 限流格式为每小时请求数
			"api_rate_limit":      config.Env("API_RATE_LIMIT", "30000-H"),
			"checkout_rate_limit": config.Env("CHECKOUT_RATE_LIMIT", "60-H"),
		}
	})
}
