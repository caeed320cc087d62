// Package errors provides error code definitions for the offline sync engine.
package errors

import "fmt"

// ErrorCode identifies a class of failure surfaced by the engine.
type ErrorCode string

const (
	// General errors
	ErrInternal   ErrorCode = "INTERNAL_ERROR"
	ErrInvalid    ErrorCode = "INVALID_INPUT"
	ErrNotFound   ErrorCode = "NOT_FOUND"
	ErrValidation ErrorCode = "VALIDATION_ERROR"

	// Store errors
	ErrStoreNotInitialized ErrorCode = "STORE_NOT_INITIALIZED"
	ErrDatabase            ErrorCode = "DATABASE_ERROR"

	// Sync errors
	ErrAlreadySyncing     ErrorCode = "ALREADY_SYNCING"
	ErrOffline            ErrorCode = "OFFLINE"
	ErrDeliveryFailed     ErrorCode = "DELIVERY_FAILED"
	ErrConflictManual     ErrorCode = "CONFLICT_MANUAL_RESOLUTION"
	ErrMaxRetriesExceeded ErrorCode = "MAX_RETRIES_EXCEEDED"
	ErrNotDeliverable     ErrorCode = "NOT_DELIVERABLE"
)

// AppError represents an application error with code and message.
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with an error code.
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Is checks if an error carries a specific code, unwrapping nested AppErrors.
func Is(err error, code ErrorCode) bool {
	for err != nil {
		appErr, ok := err.(*AppError)
		if !ok {
			return false
		}
		if appErr.Code == code {
			return true
		}
		err = appErr.Err
	}
	return false
}

// Code extracts the error code from an error, or ErrInternal if none.
func Code(err error) ErrorCode {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Code
	}
	return ErrInternal
}
