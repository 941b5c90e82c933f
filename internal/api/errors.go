package api

import (
	"errors"
	"net/http"

	"promoshot/internal/executor"
	"promoshot/internal/service"
	"promoshot/internal/storage"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// 错误码定义
const (
	// 通用错误码 (1xxx)
	ErrCodeInvalidRequest     = "ERR_INVALID_REQUEST"
	ErrCodeUnauthorized       = "ERR_UNAUTHORIZED"
	ErrCodeForbidden          = "ERR_FORBIDDEN"
	ErrCodeNotFound           = "ERR_NOT_FOUND"
	ErrCodeInternalError      = "ERR_INTERNAL_ERROR"
	ErrCodeServiceUnavailable = "ERR_SERVICE_UNAVAILABLE"

	// 认证错误码 (2xxx)
	ErrCodeInvalidCredentials = "ERR_INVALID_CREDENTIALS"
	ErrCodeEmailExists        = "ERR_EMAIL_EXISTS"
	ErrCodeUserDisabled       = "ERR_USER_DISABLED"
	ErrCodeSessionExpired     = "ERR_SESSION_EXPIRED"

	// 资源错误码 (3xxx)
	ErrCodeRequestNotFound  = "ERR_REQUEST_NOT_FOUND"
	ErrCodeUserNotFound     = "ERR_USER_NOT_FOUND"
	ErrCodeTemplateNotFound = "ERR_TEMPLATE_NOT_FOUND"
	ErrCodeWorkflowNotFound = "ERR_WORKFLOW_NOT_FOUND"
	ErrCodeProductNotFound  = "ERR_PRODUCT_NOT_FOUND"

	// 业务逻辑错误码 (4xxx)
	ErrCodeMissingField     = "ERR_MISSING_FIELD"
	ErrCodeCannotDeleteSelf = "ERR_CANNOT_DELETE_SELF"

	// 生成生命周期错误码 (5xxx)
	ErrCodeValidation        = "ERR_VALIDATION"
	ErrCodeDispatch          = "ERR_DISPATCH"
	ErrCodeExecutor          = "ERR_EXECUTOR"
	ErrCodeTimeout           = "ERR_TIMEOUT"
	ErrCodeMalformedResponse = "ERR_MALFORMED_RESPONSE"
	ErrCodeStorage           = "ERR_STORAGE"
	ErrCodeNotDispatched     = "ERR_NOT_DISPATCHED"
)

// APIError 统一的 API 错误响应结构
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ErrorResponse 返回统一格式的错误响应
func ErrorResponse(c *gin.Context, status int, code string, message string) {
	c.JSON(status, APIError{
		Code:    code,
		Message: message,
	})
}

// ErrorResponseWithDetails 返回带详情的错误响应
func ErrorResponseWithDetails(c *gin.Context, status int, code string, message string, details any) {
	c.JSON(status, APIError{
		Code:    code,
		Message: message,
		Details: details,
	})
}

// 常用错误响应快捷函数

// BadRequest 400 错误请求
func BadRequest(c *gin.Context, code string, message string) {
	ErrorResponse(c, http.StatusBadRequest, code, message)
}

// Unauthorized 401 未授权
func Unauthorized(c *gin.Context, message string) {
	ErrorResponse(c, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// Forbidden 403 禁止访问
func Forbidden(c *gin.Context, message string) {
	ErrorResponse(c, http.StatusForbidden, ErrCodeForbidden, message)
}

// NotFound 404 资源不存在
func NotFound(c *gin.Context, code string, message string) {
	ErrorResponse(c, http.StatusNotFound, code, message)
}

// InternalError 500 服务器内部错误
func InternalError(c *gin.Context, message string) {
	ErrorResponse(c, http.StatusInternalServerError, ErrCodeInternalError, message)
}

// ServiceUnavailable 503 服务不可用
func ServiceUnavailable(c *gin.Context, message string) {
	ErrorResponse(c, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, message)
}

// MissingField 缺少必填字段
func MissingField(c *gin.Context, field string) {
	ErrorResponseWithDetails(c, http.StatusBadRequest, ErrCodeMissingField, field+" is required", gin.H{"field": field})
}

// InvalidPayload 无效的请求体
func InvalidPayload(c *gin.Context) {
	ErrorResponse(c, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid request payload")
}

// errorCodeForKind 将生命周期错误类型映射为错误码和 HTTP 状态
func errorCodeForKind(kind service.ErrorKind) (int, string) {
	switch kind {
	case service.ErrorKindValidation:
		return http.StatusBadRequest, ErrCodeValidation
	case service.ErrorKindDispatch:
		return http.StatusBadGateway, ErrCodeDispatch
	case service.ErrorKindExecutor:
		return http.StatusBadGateway, ErrCodeExecutor
	case service.ErrorKindTimeout:
		return http.StatusGatewayTimeout, ErrCodeTimeout
	case service.ErrorKindMalformedResponse:
		return http.StatusBadGateway, ErrCodeMalformedResponse
	case service.ErrorKindStorage:
		return http.StatusInternalServerError, ErrCodeStorage
	default:
		return http.StatusInternalServerError, ErrCodeInternalError
	}
}

// GenerationFailure 根据错误类型返回统一错误响应
func GenerationFailure(c *gin.Context, err error) {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		NotFound(c, ErrCodeRequestNotFound, "generation request not found")
		return
	case errors.Is(err, executor.ErrNotConfigured):
		ServiceUnavailable(c, "executor not configured")
		return
	case errors.Is(err, storage.ErrUploadTooLarge):
		ErrorResponse(c, http.StatusRequestEntityTooLarge, ErrCodeStorage, err.Error())
		return
	case errors.Is(err, storage.ErrUnsupportedMediaType):
		ErrorResponse(c, http.StatusUnsupportedMediaType, ErrCodeStorage, err.Error())
		return
	case errors.Is(err, storage.ErrEmptyUpload):
		BadRequest(c, ErrCodeStorage, err.Error())
		return
	}

	var genErr *service.GenerationError
	if errors.As(err, &genErr) {
		status, code := errorCodeForKind(genErr.Kind)
		ErrorResponseWithDetails(c, status, code, genErr.Detail(), gin.H{"kind": genErr.Kind})
		return
	}
	InternalError(c, "internal error")
}
