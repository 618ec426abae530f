package tgtbs

import (
	"errors"
	"fmt"
	"strings"
	"syscall"

	"github.com/ehrlich-b/go-tgtbs/internal/pool"
)

// Error represents a structured backing-store error with context and errno mapping
type Error struct {
	Op     string        // Operation that failed (e.g., "OPEN", "SUBMIT")
	Device string        // Device name ("" if not applicable)
	Worker int           // Worker index (-1 if not applicable)
	Code   ErrorCode     // High-level error category
	Errno  syscall.Errno // System errno (0 if not applicable)
	Msg    string        // Human-readable message
	Inner  error         // Wrapped error
}

// Error implements the error interface
func (e *Error) Error() string {
	var parts []string

	if e.Op != "" {
		parts = append(parts, fmt.Sprintf("op=%s", e.Op))
	}
	if e.Device != "" {
		parts = append(parts, fmt.Sprintf("dev=%s", e.Device))
	}
	if e.Worker >= 0 {
		parts = append(parts, fmt.Sprintf("worker=%d", e.Worker))
	}
	if e.Errno != 0 {
		parts = append(parts, fmt.Sprintf("errno=%d", e.Errno))
	}

	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}

	if len(parts) > 0 {
		return fmt.Sprintf("tgtbs: %s (%s)", msg, strings.Join(parts, ", "))
	}
	return fmt.Sprintf("tgtbs: %s", msg)
}

// Unwrap returns the wrapped error for errors.Is/As support
func (e *Error) Unwrap() error {
	return e.Inner
}

// Is matches sentinel BSError values and other *Error values by code
func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}
	if be, ok := target.(BSError); ok {
		return e.Code == ErrorCode(be)
	}
	if te, ok := target.(*Error); ok {
		return e.Code == te.Code
	}
	return false
}

// ErrorCode represents high-level error categories
type ErrorCode string

const (
	ErrCodeNotImplemented     ErrorCode = "not implemented"
	ErrCodeTemplateNotFound   ErrorCode = "template not found"
	ErrCodeInvalidParameters  ErrorCode = "invalid parameters"
	ErrCodeSetupFailed        ErrorCode = "setup failed"
	ErrCodeNotRunning         ErrorCode = "pool not running"
	ErrCodeDeviceBusy         ErrorCode = "device busy"
	ErrCodePermissionDenied   ErrorCode = "permission denied"
	ErrCodeInsufficientMemory ErrorCode = "insufficient memory"
	ErrCodeIOError            ErrorCode = "I/O error"
	ErrCodeTimeout            ErrorCode = "timeout"
	ErrCodeNotFound           ErrorCode = "not found"
)

// BSError is a sentinel error comparable with errors.Is against *Error
type BSError string

func (e BSError) Error() string {
	return "tgtbs: " + string(e)
}

const (
	ErrNotImplemented     BSError = "not implemented"
	ErrTemplateNotFound   BSError = "template not found"
	ErrInvalidParameters  BSError = "invalid parameters"
	ErrSetupFailed        BSError = "setup failed"
	ErrNotRunning         BSError = "pool not running"
	ErrDeviceBusy         BSError = "device busy"
	ErrPermissionDenied   BSError = "permission denied"
	ErrInsufficientMemory BSError = "insufficient memory"
	ErrTimeout            BSError = "timeout"
)

// NewError creates a new structured error
func NewError(op string, code ErrorCode, msg string) *Error {
	return &Error{
		Op:     op,
		Worker: -1,
		Code:   code,
		Msg:    msg,
	}
}

// NewErrorWithErrno creates a new structured error with errno
func NewErrorWithErrno(op string, code ErrorCode, errno syscall.Errno) *Error {
	return &Error{
		Op:     op,
		Worker: -1,
		Code:   code,
		Errno:  errno,
		Msg:    errno.Error(),
	}
}

// NewDeviceError creates a new device-specific error
func NewDeviceError(op, device string, code ErrorCode, msg string) *Error {
	return &Error{
		Op:     op,
		Device: device,
		Worker: -1,
		Code:   code,
		Msg:    msg,
	}
}

// WrapError wraps an existing error with backing-store context
func WrapError(op string, inner error) *Error {
	if inner == nil {
		return nil
	}

	// If it's already a structured error, just update the operation
	var se *Error
	if errors.As(inner, &se) {
		return &Error{
			Op:     op,
			Device: se.Device,
			Worker: se.Worker,
			Code:   se.Code,
			Errno:  se.Errno,
			Msg:    se.Msg,
			Inner:  inner,
		}
	}

	if errors.Is(inner, pool.ErrPoolNotRunning) {
		return &Error{Op: op, Worker: -1, Code: ErrCodeNotRunning, Msg: inner.Error(), Inner: inner}
	}

	var errno syscall.Errno
	if errors.As(inner, &errno) {
		return &Error{
			Op:     op,
			Worker: -1,
			Code:   mapErrnoToCode(errno),
			Errno:  errno,
			Msg:    inner.Error(),
			Inner:  inner,
		}
	}

	return &Error{
		Op:     op,
		Worker: -1,
		Code:   ErrCodeIOError,
		Msg:    inner.Error(),
		Inner:  inner,
	}
}

// mapErrnoToCode maps syscall errno to error codes
func mapErrnoToCode(errno syscall.Errno) ErrorCode {
	switch errno {
	case syscall.ENOENT:
		return ErrCodeNotFound
	case syscall.EBUSY:
		return ErrCodeDeviceBusy
	case syscall.EINVAL, syscall.E2BIG:
		return ErrCodeInvalidParameters
	case syscall.ENOSYS, syscall.EOPNOTSUPP:
		return ErrCodeNotImplemented
	case syscall.EPERM, syscall.EACCES, syscall.EROFS:
		return ErrCodePermissionDenied
	case syscall.ENOMEM, syscall.ENOSPC:
		return ErrCodeInsufficientMemory
	case syscall.ETIMEDOUT:
		return ErrCodeTimeout
	default:
		return ErrCodeIOError
	}
}

// IsCode checks if an error matches a specific error code
func IsCode(err error, code ErrorCode) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Code == code
	}
	return false
}

// IsErrno checks if an error matches a specific errno
func IsErrno(err error, errno syscall.Errno) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Errno == errno
	}
	return false
}
