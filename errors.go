package uploadkit

import (
	"errors"
	"fmt"
)

// Admission errors. They are reported per file inside an *AdmissionError
// and no queue item is created for the file.
var (
	ErrFileTooLarge  = errors.New("file exceeds the size limit")
	ErrBatchTooLarge = errors.New("batch exceeds the size limit")
	ErrTooManyFiles  = errors.New("batch exceeds the file count limit")
	ErrRateLimited   = errors.New("upload quota exhausted")
	ErrPermission    = errors.New("file content is not readable")
	ErrDuplicate     = errors.New("file already in the queue")
	ErrEmptyBatch    = errors.New("no files to upload")
	ErrNotValidated  = errors.New("file has no security verdict")
)

// ErrValidationFailed is reported for files whose verdict carries errors.
// Unlike the admission errors, such files do get an item, in StatusRejected.
var ErrValidationFailed = errors.New("file failed security validation")

// ErrInvalidType is the validation failure for content whose sniffed type
// is not allowed. The extension plays no part in it.
var ErrInvalidType = fmt.Errorf("%w: file type not allowed", ErrValidationFailed)

// Queue control errors.
var (
	ErrNotFound          = errors.New("item not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrNotRetryable      = errors.New("item cannot be retried")
	ErrClosed            = errors.New("manager closed")
)

// AdmissionError records why a file was not queued
type AdmissionError struct {
	// Index is the position of the file in the Submit or Enqueue input.
	Index int
	// ItemID is set when the refusal still created an item, as it does
	// for files that failed validation.
	ItemID string
	Name   string
	// Reason is a human-readable detail, e.g. the verdict errors.
	Reason string
	Err    error
}

// Error implements the error interface
func (e *AdmissionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s: %v: %s", e.Name, e.Err, e.Reason)
	}
	return fmt.Sprintf("%s: %v", e.Name, e.Err)
}

// Unwrap returns the underlying error
func (e *AdmissionError) Unwrap() error {
	return e.Err
}

// TransitionError records a refused status change.
type TransitionError struct {
	ID   string
	From Status
	To   Status
}

// Error implements the error interface
func (e *TransitionError) Error() string {
	return fmt.Sprintf("item %s: %v: %s -> %s", e.ID, ErrInvalidTransition, e.From, e.To)
}

// Unwrap returns ErrInvalidTransition
func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// IsAdmissionError reports whether err is an admission refusal of any kind.
func IsAdmissionError(err error) bool {
	var ae *AdmissionError
	return errors.As(err, &ae)
}
