package store

import (
	"errors"
	"fmt"
)

var (
	ErrTaskNotFound = errors.New("task not found")
	ErrStoreClosed  = errors.New("store closed")
)

// ErrorKind separates failed writes from failed reads.
type ErrorKind string

const (
	KindWrite ErrorKind = "write"
	KindRead  ErrorKind = "read"
)

// Error is a failure reported by the remote store.
type Error struct {
	Kind   ErrorKind
	Op     string
	TaskID string
	Err    error
}

func (e *Error) Error() string {
	if e.TaskID != "" {
		return fmt.Sprintf("store %s %s %s: %v", e.Kind, e.Op, e.TaskID, e.Err)
	}
	return fmt.Sprintf("store %s %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// WriteError wraps err as a rejected write. A nil err stays nil.
func WriteError(op, taskID string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindWrite, Op: op, TaskID: taskID, Err: err}
}

// ReadError wraps err as a failed read or subscription delivery.
func ReadError(op, taskID string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindRead, Op: op, TaskID: taskID, Err: err}
}

// IsKind reports whether err is a store error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var storeErr *Error
	return errors.As(err, &storeErr) && storeErr.Kind == kind
}

// ValidationError is a required field that is missing or malformed. It is
// raised before the store is called.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

func IsValidation(err error) bool {
	var validationErr *ValidationError
	return errors.As(err, &validationErr)
}
