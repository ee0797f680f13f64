package middlewares

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"

	"companion/pkg/auth"
	"companion/pkg/response"
)

// 上下文中的调用方身份
const (
	ContextUserID    = "user_id"
	ContextUserEmail = "user_email"
)

// AuthJWT 校验 Bearer 令牌，通过后在上下文写入 user_id、user_email
func AuthJWT(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := auth.BearerToken(c.GetHeader("Authorization"))
		if token == "" || secret == "" {
			response.Fail(c, http.StatusUnauthorized, "unauthenticated")
			return
		}

		claims, err := auth.ParseToken(secret, token)
		if err != nil {
			response.Fail(c, http.StatusUnauthorized, "unauthenticated")
			return
		}

		c.Set(ContextUserID, claims.UserID())
		c.Set(ContextUserEmail, claims.Email)
		c.Next()
	}
}

// AdminToken 管理接口，校验 X-Admin-Token；未配置令牌时接口关闭
func AdminToken(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			response.Abort404(c)
			return
		}
		got := c.GetHeader("X-Admin-Token")
		if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			response.Abort403(c)
			return
		}
		c.Next()
	}
}
