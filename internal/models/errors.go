package models

import (
	"errors"
	"fmt"
)

type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeExternal   ErrorType = "external"
	ErrorTypeTimeout    ErrorType = "timeout"
	ErrorTypeInternal   ErrorType = "internal"
)

// AppError carries a stable code alongside a human message. Adapters convert
// transport failures into AppErrors (or error-flagged values) so that raw
// provider errors never cross the orchestrator boundary.
type AppError struct {
	Code     string                 `json:"code"`
	Message  string                 `json:"message"`
	Type     ErrorType              `json:"type"`
	Cause    error                  `json:"-"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func (e *AppError) WithCause(cause error) *AppError {
	clone := *e
	clone.Cause = cause
	return &clone
}

func (e *AppError) WithMetadata(key string, value interface{}) *AppError {
	clone := *e
	clone.Metadata = make(map[string]interface{}, len(e.Metadata)+1)
	for k, v := range e.Metadata {
		clone.Metadata[k] = v
	}
	clone.Metadata[key] = value
	return &clone
}

func NewValidationError(code, message string) *AppError {
	return &AppError{Code: code, Message: message, Type: ErrorTypeValidation}
}

func NewExternalError(code, message string) *AppError {
	return &AppError{Code: code, Message: message, Type: ErrorTypeExternal}
}

func NewTimeoutError(code, message string) *AppError {
	return &AppError{Code: code, Message: message, Type: ErrorTypeTimeout}
}

func NewInternalError(code, message string) *AppError {
	return &AppError{Code: code, Message: message, Type: ErrorTypeInternal}
}

func WrapExternalError(provider string, cause error) *AppError {
	return NewExternalError(provider+"_ERROR", "provider call failed").WithCause(cause)
}

// ErrClassificationParse is terminal for a request: without a parsed intent
// there is nothing to orchestrate, and retrying an LLM indefinitely is worse
// than apologizing.
var ErrClassificationParse = NewInternalError("CLASSIFICATION_PARSE_FAILED", "intent classification output was not valid JSON")

func IsClassificationParse(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == ErrClassificationParse.Code
	}
	return false
}
