package config

import "companion/pkg/config"

func init() {
	config.Add("mail", func() map[string]interface{} {
		return map[string]interface{}{
			// 邮件服务 HTTP 接口，为空时只记录日志
			"api_url": config.Env("MAIL_API_URL", ""),
			"api_key": config.Env("MAIL_API_KEY", ""),
			"from":    config.Env("MAIL_FROM", "no-reply@example.com"),
			"timeout": config.Env("MAIL_TIMEOUT", 10),
		}
	})
}
