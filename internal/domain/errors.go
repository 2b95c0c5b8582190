package domain

import (
	"errors"
	"fmt"
)

// Error codes shared by every service. Handlers translate them to HTTP
// statuses; nothing else should branch on the message text.
const (
	EINVALID      = "invalid"
	EUNAUTHORIZED = "unauthorized"
	ENOTFOUND     = "not_found"
	ECONFLICT     = "conflict"    // job in the wrong state for the request
	EUNAVAILABLE  = "unavailable" // object store or backend down
	EINTERNAL     = "internal"
)

const internalMessage = "An internal error occurred. Please try again later."

// Error is a failure that carries a code for the caller and an op for the log.
type Error struct {
	Code    string
	Op      string // e.g. "queue.on_status"
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// asError returns the outermost *Error in err's chain.
func asError(err error) (*Error, bool) {
	var e *Error
	if err == nil || !errors.As(err, &e) {
		return nil, false
	}
	return e, true
}

// ErrorCode returns the code of err. Errors without one are EINTERNAL.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	if e, ok := asError(err); ok {
		return e.Code
	}
	return EINTERNAL
}

// ErrorMessage returns a message safe to show API clients.
func ErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	e, ok := asError(err)
	if !ok || e.Code == EINTERNAL {
		return internalMessage
	}
	return e.Message
}

// ErrorOp returns the op recorded on err, if any.
func ErrorOp(err error) string {
	if e, ok := asError(err); ok {
		return e.Op
	}
	return ""
}

// IsCode reports whether err carries code.
func IsCode(err error, code string) bool {
	return err != nil && ErrorCode(err) == code
}

func NotFound(op, resource, id string) *Error {
	return &Error{Code: ENOTFOUND, Op: op, Message: fmt.Sprintf("%s %q not found", resource, id)}
}

func Invalid(op, message string) *Error {
	return &Error{Code: EINVALID, Op: op, Message: message}
}

func Conflict(op, message string) *Error {
	return &Error{Code: ECONFLICT, Op: op, Message: message}
}

// Unavailable wraps a failure of a dependency the request cannot proceed without.
func Unavailable(err error, op, message string) *Error {
	return &Error{Code: EUNAVAILABLE, Op: op, Message: message, Err: err}
}

func Internal(err error, op, message string) *Error {
	return &Error{Code: EINTERNAL, Op: op, Message: message, Err: err}
}
