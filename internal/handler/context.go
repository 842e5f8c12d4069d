package handler

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	ctxKeyUID      = "uid"
	ctxKeyUsername = "username"
)

// SetUser 写入当前请求的用户
func SetUser(c *gin.Context, uid int64, username string) {
	c.Set(ctxKeyUID, uid)
	c.Set(ctxKeyUsername, username)
}

// GetUID 当前请求的本地 uid, 未识别时为 0
func GetUID(c *gin.Context) int64 {
	if v, ok := c.Get(ctxKeyUID); ok {
		if uid, ok := v.(int64); ok {
			return uid
		}
	}
	return 0
}

// GetUsername 当前请求的用户名
func GetUsername(c *gin.Context) string {
	return c.GetString(ctxKeyUsername)
}

// parseEnvelopeID 红包编号, 接受数字或数字字符串
func parseEnvelopeID(raw json.Number) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw.String()), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// queryInt 读取整数查询参数, 缺失或非法时返回默认值
func queryInt(c *gin.Context, key string, def int) int {
	raw := c.Query(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}
