package utils

import (
	"context"
	"errors"
	"fmt"
	"runtime"
)

// AppError represents an application error with context
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
	File    string `json:"file,omitempty"`
	Line    int    `json:"line,omitempty"`
	Cause   error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// NewAppError creates a new application error
func NewAppError(code, message string, details ...string) *AppError {
	_, file, line, _ := runtime.Caller(1)

	err := &AppError{
		Code:    code,
		Message: message,
		File:    file,
		Line:    line,
	}

	if len(details) > 0 {
		err.Details = details[0]
	}

	return err
}

// WrapError creates an application error that keeps cause in the error chain
func WrapError(code, message string, cause error) *AppError {
	_, file, line, _ := runtime.Caller(1)

	err := &AppError{
		Code:    code,
		Message: message,
		File:    file,
		Line:    line,
		Cause:   cause,
	}
	if cause != nil {
		err.Details = cause.Error()
	}
	return err
}

// Common error codes
const (
	ErrCodeConnection     = "CONNECTION_ERROR"
	ErrCodeDatabase       = "DATABASE_ERROR"
	ErrCodeValidation     = "VALIDATION_ERROR"
	ErrCodeNotFound       = "NOT_FOUND"
	ErrCodeInternal       = "INTERNAL_ERROR"
	ErrCodeBlockchain     = "BLOCKCHAIN_ERROR"
	ErrCodeConfiguration  = "CONFIGURATION_ERROR"
	ErrCodeProcessing     = "PROCESSING_ERROR"
	ErrCodeExternal       = "EXTERNAL_ERROR"
	ErrCodeRetryExhausted = "RETRY_EXHAUSTED"
)

// ErrorCode returns the code of the outermost AppError in err's chain, or "".
func ErrorCode(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// IsPermanent reports whether err must not be retried: malformed input or a
// missing record will not fix itself.
func IsPermanent(err error) bool {
	var appErr *AppError
	for err != nil && errors.As(err, &appErr) {
		switch appErr.Code {
		case ErrCodeValidation, ErrCodeNotFound, ErrCodeConfiguration:
			return true
		}
		err = appErr.Cause
	}
	return false
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	if err == nil || IsPermanent(err) {
		return false
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}
