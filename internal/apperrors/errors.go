// Package apperrors defines the error taxonomy shared by the client layer:
// validation, authorization, remote and dispatch failures, plus partial
// failures of multi-step writes.
package apperrors

import (
	"errors"
	"fmt"
)

// RemoteKind classifies a failed remote operation.
type RemoteKind string

const (
	KindNetwork  RemoteKind = "network"
	KindDenied   RemoteKind = "denied"
	KindNotFound RemoteKind = "not_found"
	KindConflict RemoteKind = "conflict"
)

// ValidationError reports rejected input. No remote call has been made.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Reason)
}

// Invalid builds a ValidationError.
func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// AuthError reports a missing identity or an insufficient role.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string {
	return "not authorized: " + e.Reason
}

// Unauthorized builds an AuthError.
func Unauthorized(reason string) error {
	return &AuthError{Reason: reason}
}

// RemoteError reports a failed call against the remote store.
type RemoteError struct {
	Kind RemoteKind
	// Op names the operation, e.g. "insert group_messages".
	Op  string
	Err error
}

func (e *RemoteError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *RemoteError) Unwrap() error { return e.Err }

// Remote builds a RemoteError.
func Remote(kind RemoteKind, op string, err error) error {
	return &RemoteError{Kind: kind, Op: op, Err: err}
}

// IsRemote reports whether err is a RemoteError of the given kind.
func IsRemote(err error, kind RemoteKind) bool {
	var re *RemoteError
	return errors.As(err, &re) && re.Kind == kind
}

// DispatchError reports a failed notification. It is logged, never surfaced.
type DispatchError struct {
	Err error
}

func (e *DispatchError) Error() string {
	return "notification dispatch failed: " + e.Err.Error()
}

func (e *DispatchError) Unwrap() error { return e.Err }

// PartialFailureError reports a multi-step write that failed after at least
// one step had already been applied. Nothing is rolled back.
type PartialFailureError struct {
	Operation string
	// Step is the 1-based step that failed.
	Step int
	// Completed describes what had been written before the failure.
	Completed string
	Err       error
}

func (e *PartialFailureError) Error() string {
	return fmt.Sprintf("%s failed at step %d after %s: %v", e.Operation, e.Step, e.Completed, e.Err)
}

func (e *PartialFailureError) Unwrap() error { return e.Err }
