// Package errors 带错误码的业务错误
package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"google.golang.org/grpc/codes"
)

// Error 业务错误, Details 携带给调用方渲染消息的参数
type Error struct {
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	HTTPStatus int               `json:"-"`
	GRPCCode   codes.Code        `json:"-"`
	Cause      error             `json:"-"`
	Details    map[string]string `json:"details,omitempty"`
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.Cause)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is 错误码相同即视为同一错误
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && e.Code == t.Code
}

// clone 复制一份, 预定义错误本身不被修改
func (e *Error) clone() *Error {
	c := *e
	if e.Details != nil {
		c.Details = make(map[string]string, len(e.Details)+1)
		for k, v := range e.Details {
			c.Details[k] = v
		}
	}
	return &c
}

// WithDetail 附加一个参数
func (e *Error) WithDetail(key, value string) *Error {
	c := e.clone()
	if c.Details == nil {
		c.Details = make(map[string]string, 1)
	}
	c.Details[key] = value
	return c
}

// WithDetailInt 附加一个整数参数
func (e *Error) WithDetailInt(key string, value int64) *Error {
	return e.WithDetail(key, strconv.FormatInt(value, 10))
}

// WithMessage 替换错误消息
func (e *Error) WithMessage(message string) *Error {
	c := e.clone()
	c.Message = message
	return c
}

// NewWithStatus 创建带 HTTP/gRPC 状态的错误
func NewWithStatus(code, message string, httpStatus int, grpcCode codes.Code) *Error {
	return &Error{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		GRPCCode:   grpcCode,
	}
}

// Wrap 以 err 为模板包装底层原因
func Wrap(err *Error, cause error) *Error {
	c := err.clone()
	c.Cause = cause
	return c
}

// FromError 取出链上的业务错误, 其他错误包装为内部错误
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var bizErr *Error
	if errors.As(err, &bizErr) {
		return bizErr
	}
	return Wrap(ErrInternal, err)
}

// ToHTTPStatus 业务错误对应的 HTTP 状态码, 未知错误为 500
func ToHTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	var bizErr *Error
	if errors.As(err, &bizErr) && bizErr.HTTPStatus != 0 {
		return bizErr.HTTPStatus
	}
	return http.StatusInternalServerError
}

// GetDetails 业务错误的参数, 非业务错误返回 nil
func GetDetails(err error) map[string]string {
	var bizErr *Error
	if errors.As(err, &bizErr) {
		return bizErr.Details
	}
	return nil
}

// 通用错误码
var (
	ErrInternal       = NewWithStatus("INTERNAL_ERROR", "内部错误", http.StatusInternalServerError, codes.Internal)
	ErrInvalidRequest = NewWithStatus("INVALID_REQUEST", "请求参数无效", http.StatusBadRequest, codes.InvalidArgument)
	ErrUnauthorized   = NewWithStatus("UNAUTHORIZED", "未授权", http.StatusUnauthorized, codes.Unauthenticated)
	ErrNotFound       = NewWithStatus("NOT_FOUND", "资源不存在", http.StatusNotFound, codes.NotFound)

	ErrDBTransaction = NewWithStatus("DB_TRANSACTION_ERROR", "数据库事务失败", http.StatusInternalServerError, codes.Internal)
)
