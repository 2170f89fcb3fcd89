package util

import (
	"errors"
	"lingo_assess_backend/pkg/logger"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Response 统一响应结构
type Response struct {
	Code      int         `json:"code"`
	Message   string      `json:"message"`
	ErrorCode string      `json:"errorCode,omitempty"`
	Data      interface{} `json:"data,omitempty"`
}

// PageResponse 分页响应结构
type PageResponse struct {
	List  interface{} `json:"list"`
	Total int64       `json:"total"`
	Page  int         `json:"page"`
	Limit int         `json:"limit"`
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    http.StatusOK,
		Message: "success",
		Data:    data,
	})
}

func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Response{
		Code:    http.StatusCreated,
		Message: "created",
		Data:    data,
	})
}

func Error(c *gin.Context, code int, message string) {
	c.JSON(code, Response{
		Code:    code,
		Message: message,
	})
}

func ErrorWithData(c *gin.Context, code int, errorCode, message string, data interface{}) {
	c.JSON(code, Response{
		Code:      code,
		Message:   message,
		ErrorCode: errorCode,
		Data:      data,
	})
}

func Unauthorized(c *gin.Context) {
	Error(c, http.StatusUnauthorized, "Unauthorized")
}

func Forbidden(c *gin.Context) {
	Error(c, http.StatusForbidden, "Forbidden")
}

func BadRequest(c *gin.Context, message string) {
	Error(c, http.StatusBadRequest, message)
}

func NotFound(c *gin.Context) {
	Error(c, http.StatusNotFound, "Resource not found")
}

func InternalServerError(c *gin.Context) {
	Error(c, http.StatusInternalServerError, "Internal server error")
}

func LogInternalError(c *gin.Context, err error) {
	logger.Log.Error("Internal server error",
		zap.String("path", c.FullPath()),
		zap.Error(err),
	)
	InternalServerError(c)
}

// HandleError 将 service 层错误映射为 HTTP 响应
func HandleError(c *gin.Context, err error) {
	var vErr *ValidationError
	if errors.As(err, &vErr) {
		ErrorWithData(c, http.StatusBadRequest, "validation_failed", vErr.Error(), vErr)
		return
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		if appErr.Status >= http.StatusInternalServerError {
			LogInternalError(c, err)
			return
		}
		ErrorWithData(c, appErr.Status, appErr.Code, appErr.Error(), nil)
		return
	}

	switch {
	case errors.Is(err, ErrRecordNotFound), errors.Is(err, ErrUserNotFound), errors.Is(err, ErrMediaNotFound):
		NotFound(c)
	case errors.Is(err, ErrAlreadyEvaluated), errors.Is(err, ErrNotPendingReview), errors.Is(err, ErrSubmissionInProgress),
		errors.Is(err, ErrMediaAlreadyUsed):
		Error(c, http.StatusConflict, err.Error())
	case errors.Is(err, ErrInvalidSkill), errors.Is(err, ErrUnsupportedMedia):
		BadRequest(c, err.Error())
	case errors.Is(err, ErrMediaTooLarge):
		Error(c, http.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, ErrInvalidCredentials), errors.Is(err, ErrUserDisabled):
		Error(c, http.StatusUnauthorized, err.Error())
	case errors.Is(err, ErrEmailRegistered):
		Error(c, http.StatusConflict, err.Error())
	default:
		LogInternalError(c, err)
	}
}
