// Package domain defines core types, interfaces, and errors for the warehouse ETL.
package domain

import "fmt"

// TransientError indicates a source or target was temporarily unavailable.
// The external scheduler retries the run; no core state changes.
type TransientError struct {
	Message string
}

func (e *TransientError) Error() string { return e.Message }

// ValidationError indicates invalid input, either an operator request or a
// row that failed a data-quality expectation.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// InvariantViolationError indicates corrupted dimension state, e.g. two
// current versions for one natural key. It aborts the run without
// committing and points at a prior run's bug, not a data problem.
type InvariantViolationError struct {
	Message string
}

func (e *InvariantViolationError) Error() string { return e.Message }

// PartialBatchError indicates a single source file failed to parse. The
// file stays unconsumed and is retried on the next run; the rest of the
// batch proceeds.
type PartialBatchError struct {
	FileID  string
	Message string
}

func (e *PartialBatchError) Error() string {
	return fmt.Sprintf("file %q: %s", e.FileID, e.Message)
}

// NotFoundError indicates a resource was not found.
type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string { return e.Message }

// ErrTransient creates a TransientError with a formatted message.
func ErrTransient(format string, args ...interface{}) *TransientError {
	return &TransientError{Message: fmt.Sprintf(format, args...)}
}

// ErrValidation creates a ValidationError with a formatted message.
func ErrValidation(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// ErrInvariantViolation creates an InvariantViolationError with a formatted message.
func ErrInvariantViolation(format string, args ...interface{}) *InvariantViolationError {
	return &InvariantViolationError{Message: fmt.Sprintf(format, args...)}
}

// ErrPartialBatch creates a PartialBatchError for the given source file.
func ErrPartialBatch(fileID, format string, args ...interface{}) *PartialBatchError {
	return &PartialBatchError{FileID: fileID, Message: fmt.Sprintf(format, args...)}
}

// ErrNotFound creates a NotFoundError with a formatted message.
func ErrNotFound(format string, args ...interface{}) *NotFoundError {
	return &NotFoundError{Message: fmt.Sprintf(format, args...)}
}
