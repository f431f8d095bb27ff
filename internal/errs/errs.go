// Package errs defines the error taxonomy shared by every analyzer.
//
// Callers inspect errors with errors.As or the Is* helpers:
//
//	ValidationError  malformed analyzer input, rejected before storage access
//	NotFoundError    reference to a session or record that does not exist
//	NetworkDegraded  registry lookup failed or timed out; never a hard verdict
//	StorageError     embedded database write failure; retryable by the caller
package errs

import (
	"errors"
	"fmt"
)

// ValidationError reports a malformed argument.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid input: " + e.Reason
	}
	return fmt.Sprintf("invalid input %q: %s", e.Field, e.Reason)
}

// Validation builds a ValidationError for field.
func Validation(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// NotFoundError reports a missing session or record.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

// NotFound builds a NotFoundError.
func NotFound(kind, id string) error {
	return &NotFoundError{Kind: kind, ID: id}
}

// NetworkDegraded reports a registry lookup that failed or timed out.
type NetworkDegraded struct {
	Op  string
	Err error
}

func (e *NetworkDegraded) Error() string {
	return fmt.Sprintf("network degraded during %s: %v", e.Op, e.Err)
}

func (e *NetworkDegraded) Unwrap() error { return e.Err }

// Degraded wraps err as NetworkDegraded.
func Degraded(op string, err error) error {
	return &NetworkDegraded{Op: op, Err: err}
}

// StorageError reports a failed database operation.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Retryable reports whether the caller may retry. Storage failures are
// usually lock contention that outlived the busy timeout.
func (e *StorageError) Retryable() bool { return true }

// Storage wraps err as StorageError. A nil err yields nil.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	var nf *NotFoundError
	if errors.As(err, &nf) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var v *NotFoundError
	return errors.As(err, &v)
}

// IsDegraded reports whether err is a NetworkDegraded.
func IsDegraded(err error) bool {
	var v *NetworkDegraded
	return errors.As(err, &v)
}

// IsStorage reports whether err is a StorageError.
func IsStorage(err error) bool {
	var v *StorageError
	return errors.As(err, &v)
}
