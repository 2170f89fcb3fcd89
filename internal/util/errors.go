package util

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	ErrUserNotFound         = errors.New("user not found")
	ErrEmailRegistered      = errors.New("email already registered")
	ErrInvalidCredentials   = errors.New("invalid credentials")
	ErrUserDisabled         = errors.New("user disabled")
	ErrRecordNotFound       = errors.New("assessment record not found")
	ErrDuplicateRecord      = errors.New("assessment record already exists for this cooldown window")
	ErrAlreadyEvaluated     = errors.New("assessment record already evaluated")
	ErrNotPendingReview     = errors.New("assessment record does not require review")
	ErrSubmissionInProgress = errors.New("another submission for this assessment is in progress")
	ErrInvalidSkill         = errors.New("invalid skill")
	ErrScorerUnavailable    = errors.New("scorer unavailable")
	ErrUnsupportedMedia     = errors.New("unsupported media type")
	ErrMediaTooLarge        = errors.New("media file too large")
	ErrMediaNotFound        = errors.New("media upload not found")
	ErrMediaAlreadyUsed     = errors.New("media upload already attached to a submission")
)

// AppError 携带 HTTP 状态码和错误码的业务错误
type AppError struct {
	Status  int
	Code    string
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Code
}

func (e *AppError) Unwrap() error { return e.Err }

func NewAppError(status int, code string, err error) *AppError {
	return &AppError{Status: status, Code: code, Err: err}
}

func ConflictError(code string, err error) *AppError {
	return NewAppError(http.StatusConflict, code, err)
}

type FieldError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// ValidationError 一次性返回所有缺失或非法字段
type ValidationError struct {
	Fields []FieldError `json:"fields"`
}

func (e *ValidationError) Add(field, reason string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Reason: reason})
}

func (e *ValidationError) HasErrors() bool {
	return len(e.Fields) > 0
}

// Err 没有字段错误时返回 nil
func (e *ValidationError) Err() error {
	if !e.HasErrors() {
		return nil
	}
	return e
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s: %s", f.Field, f.Reason))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}
