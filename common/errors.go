package common

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors. Typed errors below match these with errors.Is.
var (
	// Data model errors.
	ErrConflict     = errors.New("key combination already in use")
	ErrPrecondition = errors.New("operation not allowed")
	ErrNotFound     = errors.New("not found")

	// Transport and storage errors.
	ErrBackendUnavailable = errors.New("backend unavailable")
	ErrAlreadyRunning     = errors.New("another instance is already running")

	// Configuration errors.
	ErrConfigLoad = errors.New("failed to load configuration")
	ErrConfigSave = errors.New("failed to save configuration")
)

// ConflictError reports that keys are already bound by another macro in
// the same memory bank.
type ConflictError struct {
	Bank int
	Keys []string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("keys %s already in use in bank M%d", strings.Join(e.Keys, "+"), e.Bank)
}

// Is reports whether target is ErrConflict.
func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// PreconditionError reports a structural mutation that is not allowed in
// the current state, such as deleting the Default profile.
type PreconditionError struct {
	Op     string
	Reason string
}

func (e *PreconditionError) Error() string {
	return e.Op + ": " + e.Reason
}

// Is reports whether target is ErrPrecondition.
func (e *PreconditionError) Is(target error) bool { return target == ErrPrecondition }

// NotFoundError indicates a macro, profile, device or screen that does
// not resolve.
type NotFoundError struct {
	Entity string
	Key    string
}

func (e *NotFoundError) Error() string {
	if e.Key == "" {
		return e.Entity + " not found"
	}
	return fmt.Sprintf("%s %s not found", e.Entity, e.Key)
}

// Is reports whether target is ErrNotFound.
func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// BackendUnavailableError wraps a failed ConfigStore or transport call.
type BackendUnavailableError struct {
	Op  string
	Err error
}

func (e *BackendUnavailableError) Error() string {
	if e.Err == nil {
		return e.Op + ": backend unavailable"
	}
	return e.Op + ": " + e.Err.Error()
}

// Is reports whether target is ErrBackendUnavailable.
func (e *BackendUnavailableError) Is(target error) bool { return target == ErrBackendUnavailable }

func (e *BackendUnavailableError) Unwrap() error { return e.Err }

// Unavailable wraps err as a BackendUnavailableError. It returns nil for a
// nil err.
func Unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	return &BackendUnavailableError{Op: op, Err: err}
}

// WrapError wraps an error with additional context.
func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return &wrappedError{
		msg: message,
		err: err,
	}
}

type wrappedError struct {
	msg string
	err error
}

func (e *wrappedError) Error() string {
	return e.msg + ": " + e.err.Error()
}

func (e *wrappedError) Unwrap() error {
	return e.err
}
