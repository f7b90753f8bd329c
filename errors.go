package aiocompl

import (
	"errors"
	"fmt"
	"strings"
	"syscall"
)

// Error represents a structured aiocompl error with context and errno
// mapping.
type Error struct {
	Op         string        // operation that failed (e.g. "Read", "CreateEndpoint")
	EndpointID uint64        // endpoint ID (0 if not applicable)
	Code       ErrorCode     // high-level error category
	Errno      syscall.Errno // kernel errno (0 if not applicable)
	Msg        string        // human-readable message
	Inner      error         // wrapped error
}

// Error implements the error interface
func (e *Error) Error() string {
	var parts []string

	if e.Op != "" {
		parts = append(parts, fmt.Sprintf("op=%s", e.Op))
	}

	if e.EndpointID != 0 {
		parts = append(parts, fmt.Sprintf("endpoint=%d", e.EndpointID))
	}

	if e.Errno != 0 {
		parts = append(parts, fmt.Sprintf("errno=%d", e.Errno))
	}

	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}

	if len(parts) > 0 {
		return fmt.Sprintf("aiocompl: %s (%s)", msg, strings.Join(parts, " "))
	}

	return fmt.Sprintf("aiocompl: %s", msg)
}

// Unwrap returns the wrapped error for errors.Is/As support
func (e *Error) Unwrap() error {
	return e.Inner
}

// Is provides errors.Is support for structured Error comparison by code.
func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}
	te, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == te.Code
}

// ErrorCode represents the high-level error categories from spec.md §7.
type ErrorCode string

const (
	CodeBadArg               ErrorCode = "bad argument"
	CodeBadState             ErrorCode = "bad state"
	CodeBusy                 ErrorCode = "busy"
	CodeEOF                  ErrorCode = "eof"
	CodeNotSupported         ErrorCode = "not supported"
	CodeNotImplemented       ErrorCode = "not implemented"
	CodeNotFound             ErrorCode = "not found"
	CodeInsufficientResources ErrorCode = "insufficient resources"
	CodeIOError              ErrorCode = "i/o error"
	CodeDiskFull             ErrorCode = "disk full"
	CodeFileTooBig           ErrorCode = "file too big"
	CodeTimeout              ErrorCode = "timeout"
)

// fatalCodes is the fatal I/O set (spec.md §4.F): these surface
// directly to the caller and never trigger endpoint migration to the
// Failsafe manager.
var fatalCodes = map[ErrorCode]bool{
	CodeIOError:    true,
	CodeDiskFull:   true,
	CodeFileTooBig: true,
}

// IsFatal reports whether err belongs to the fatal I/O set. Errors
// that aren't a structured *Error are treated as fatal, the same
// conservative default internal/manager.NewNormal uses when no
// IsFatal classifier is injected.
func IsFatal(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return fatalCodes[e.Code]
	}
	return true
}

// NewError creates a new structured error
func NewError(op string, code ErrorCode, msg string) *Error {
	return &Error{
		Op:   op,
		Code: code,
		Msg:  msg,
	}
}

// NewErrorWithErrno creates a new structured error with errno
func NewErrorWithErrno(op string, code ErrorCode, errno syscall.Errno) *Error {
	return &Error{
		Op:    op,
		Code:  code,
		Errno: errno,
		Msg:   errno.Error(),
	}
}

// NewEndpointError creates a new endpoint-scoped error
func NewEndpointError(op string, endpointID uint64, code ErrorCode, msg string) *Error {
	return &Error{
		Op:         op,
		EndpointID: endpointID,
		Code:       code,
		Msg:        msg,
	}
}

// WrapError wraps an existing error with aiocompl context
func WrapError(op string, inner error) *Error {
	if inner == nil {
		return nil
	}

	// If it's already a structured error, just update the operation
	if ae, ok := inner.(*Error); ok {
		return &Error{
			Op:         op,
			EndpointID: ae.EndpointID,
			Code:       ae.Code,
			Errno:      ae.Errno,
			Msg:        ae.Msg,
			Inner:      ae.Inner,
		}
	}

	code := CodeIOError
	if errno, ok := inner.(syscall.Errno); ok {
		code = mapErrnoToCode(errno)
		return &Error{
			Op:    op,
			Code:  code,
			Errno: errno,
			Msg:   errno.Error(),
			Inner: inner,
		}
	}

	return &Error{
		Op:    op,
		Code:  code,
		Msg:   inner.Error(),
		Inner: inner,
	}
}

// mapErrnoToCode maps syscall errno to aiocompl error codes
func mapErrnoToCode(errno syscall.Errno) ErrorCode {
	switch errno {
	case syscall.ENOENT:
		return CodeNotFound
	case syscall.EBUSY:
		return CodeBusy
	case syscall.EINVAL, syscall.E2BIG:
		return CodeBadArg
	case syscall.ENOSYS, syscall.EOPNOTSUPP:
		return CodeNotSupported
	case syscall.ENOMEM:
		return CodeInsufficientResources
	case syscall.ENOSPC:
		return CodeDiskFull
	case syscall.EFBIG:
		return CodeFileTooBig
	case syscall.ETIMEDOUT:
		return CodeTimeout
	default:
		return CodeIOError
	}
}

// IsCode checks if an error matches a specific error code
func IsCode(err error, code ErrorCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// IsErrno checks if an error matches a specific errno
func IsErrno(err error, errno syscall.Errno) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Errno == errno
	}
	return false
}
