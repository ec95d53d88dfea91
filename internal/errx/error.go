package errx

import (
	"errors"
	"fmt"
	"net/http"
)

// Code classifies failures independently of their transport status.
type Code string

const (
	CodeInternal          Code = "internal"
	CodeEmptyInput        Code = "empty_input"
	CodeBridgeFailed      Code = "bridge_failed"
	CodeBadStatus         Code = "bad_status"
	CodeDecode            Code = "decode"
	CodeNotFound          Code = "not_found"
	CodeConflict          Code = "conflict"
	CodeInvalidAnnotation Code = "invalid_annotation"
	CodeCaptureActive     Code = "capture_active"
	CodeBusy              Code = "busy"
	CodeRedis             Code = "redis"
)

const (
	// SystemErrorMessage is a user-facing fallback when internal errors occur.
	SystemErrorMessage = "internal server error"
	// RedisErrorMessage describes Redis related failures.
	RedisErrorMessage = "redis operation failed"
)

// AppError wraps an underlying error with a code, an HTTP status and a safe message.
type AppError struct {
	Err     error
	Code    Code
	Status  int
	Message string
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

// Unwrap exposes the underlying error for errors.Is / errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError with the provided information.
func New(err error, code Code, status int, message string) *AppError {
	return &AppError{
		Err:     err,
		Code:    code,
		Status:  status,
		Message: message,
	}
}

// Wrap returns nil for a nil err, otherwise an AppError carrying it.
func Wrap(err error, code Code, status int, message string) error {
	if err == nil {
		return nil
	}
	return New(err, code, status, message)
}

// NotFound builds a 404 error with the given message.
func NotFound(message string) *AppError {
	return New(nil, CodeNotFound, http.StatusNotFound, message)
}

// Conflict builds a 409 error with the given message.
func Conflict(message string) *AppError {
	return New(nil, CodeConflict, http.StatusConflict, message)
}

// StatusOf returns the HTTP status carried by err, or 500.
func StatusOf(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.Status != 0 {
		return appErr.Status
	}
	return http.StatusInternalServerError
}

// CodeOf returns the code carried by err, or CodeInternal.
func CodeOf(err error) Code {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.Code != "" {
		return appErr.Code
	}
	return CodeInternal
}

// HasCode reports whether any AppError in the chain carries code.
func HasCode(err error, code Code) bool {
	for err != nil {
		var appErr *AppError
		if !errors.As(err, &appErr) {
			return false
		}
		if appErr.Code == code {
			return true
		}
		err = appErr.Err
	}
	return false
}
