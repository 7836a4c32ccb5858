package filevalidator

import (
	"errors"
	"fmt"
)

// ValidationErrorType represents different types of validation errors
type ValidationErrorType string

const (
	ErrorTypeMIME      ValidationErrorType = "mime"
	ErrorTypeStructure ValidationErrorType = "structure"
	ErrorTypeImage     ValidationErrorType = "image"
	ErrorTypeMalicious ValidationErrorType = "malicious"
	ErrorTypeHash      ValidationErrorType = "hash"
	ErrorTypeRead      ValidationErrorType = "read"
)

// ValidationError represents a single failed check of the security pipeline.
// It implements the error interface and includes the error type for programmatic handling.
type ValidationError struct {
	// Type categorizes the failure (mime, structure, image, malicious, hash, read).
	Type ValidationErrorType

	// Message is the human-readable error description.
	Message string
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s validation error: %s", e.Type, e.Message)
}

// NewValidationError creates a new ValidationError
func NewValidationError(errType ValidationErrorType, message string) *ValidationError {
	return &ValidationError{
		Type:    errType,
		Message: message,
	}
}

// IsValidationError checks if an error is a ValidationError
func IsValidationError(err error) bool {
	var validationErr *ValidationError
	return errors.As(err, &validationErr)
}

// IsErrorOfType checks if an error is a ValidationError of the specified type
func IsErrorOfType(err error, errType ValidationErrorType) bool {
	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		return validationErr.Type == errType
	}
	return false
}

// GetErrorMessage returns the message of a ValidationError, or the plain
// error text for any other error.
func GetErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		return validationErr.Message
	}
	return err.Error()
}
