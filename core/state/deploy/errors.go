package deploy

import (
	"errors"
	"fmt"
)

type Code string

const (
	CodeStateConflict             Code = "StateConflict"
	CodeProcessSpawnFailure       Code = "ProcessSpawnFailure"
	CodeProcessExitFailure        Code = "ProcessExitFailure"
	CodePreflightFailed           Code = "PreflightFailed"
	CodeEndpointValidationFailure Code = "EndpointValidationFailure"
	CodeObserverDisconnected      Code = "ObserverDisconnected"
	CodeInvalidRequest            Code = "InvalidRequest"
	CodeNotFound                  Code = "NotFound"
)

var (
	ErrAlreadyRunning    = errors.New("AlreadyRunning")
	ErrNotRunning        = errors.New("NotRunning")
	ErrCommandInProgress = errors.New("CommandInProgress")
	ErrIllegalTransition = errors.New("IllegalTransition")
	// ErrStaleAttempt is returned when an asynchronous result belongs to an attempt that is
	// no longer current. Callers drop the result.
	ErrStaleAttempt = errors.New("StaleAttempt")
)

// Error carries a stable code for the control surface plus a human readable message.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func NewError(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

func (e *Error) Error() string {
	if e.Err != nil && e.Message == "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Conflict is a StateConflict error whose reason is one of the conflict sentinels.
func Conflict(reason error, format string, args ...any) *Error {
	return NewError(CodeStateConflict, fmt.Sprintf(format, args...), reason)
}

// CodeOf extracts the taxonomy code of err, or "" if err is not a *Error.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
