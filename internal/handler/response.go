package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/kami1983/sl-runes-agent/pkg/errors"
	"github.com/kami1983/sl-runes-agent/pkg/logger"
)

// CodeOK 成功时的响应码
const CodeOK = "OK"

// Response 统一响应结构
type Response struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Data    interface{}       `json:"data,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

// PagedResponse 分页响应
type PagedResponse struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
	Meta    PageMeta    `json:"meta"`
}

// PageMeta 分页元数据
type PageMeta struct {
	Page     int   `json:"page"`
	PageSize int   `json:"page_size"`
	Total    int64 `json:"total"`
}

// Success 成功响应
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    CodeOK,
		Message: "success",
		Data:    data,
	})
}

// SuccessPaged 分页成功响应
func SuccessPaged(c *gin.Context, data interface{}, page, pageSize int, total int64) {
	c.JSON(http.StatusOK, PagedResponse{
		Code:    CodeOK,
		Message: "success",
		Data:    data,
		Meta: PageMeta{
			Page:     page,
			PageSize: pageSize,
			Total:    total,
		},
	})
}

// Fail 业务错误转换为响应, 非业务错误按内部错误处理
func Fail(c *gin.Context, err error) {
	bizErr := errors.FromError(err)
	status := errors.ToHTTPStatus(bizErr)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.String("code", bizErr.Code),
			zap.Error(err))
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, Response{
		Code:    bizErr.Code,
		Message: bizErr.Message,
		Details: bizErr.Details,
	})
}

// BadRequest 请求参数错误
func BadRequest(c *gin.Context, message string) {
	Fail(c, errors.ErrInvalidRequest.WithMessage(message))
}

// Unauthorized 未授权
func Unauthorized(c *gin.Context, message string) {
	Fail(c, errors.ErrUnauthorized.WithMessage(message))
}

// NotFound 资源不存在
func NotFound(c *gin.Context, message string) {
	Fail(c, errors.ErrNotFound.WithMessage(message))
}
