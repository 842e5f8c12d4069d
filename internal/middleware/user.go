package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/kami1983/sl-runes-agent/internal/handler"
	"github.com/kami1983/sl-runes-agent/internal/service"
)

// IdentifyUser 按查询参数 uid 识别用户并刷新用户名; 写入失败不影响请求
func IdentifyUser(users *service.UserService) gin.HandlerFunc {
	return func(c *gin.Context) {
		external := c.Query("uid")
		if external == "" {
			c.Next()
			return
		}

		uid := users.ResolveUID(external)
		username := c.Query("username")
		_ = users.Touch(c.Request.Context(), uid, username)
		handler.SetUser(c, uid, username)
		c.Next()
	}
}

// RequireToken 要求 uid, username, token, timestamp 查询参数齐全, 不校验 token 内容
func RequireToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		_, hasToken := c.GetQuery("token")
		_, hasTimestamp := c.GetQuery("timestamp")
		if c.Query("uid") == "" || c.Query("username") == "" || !hasToken || !hasTimestamp {
			handler.Unauthorized(c, "Unauthorized user")
			return
		}
		c.Next()
	}
}
