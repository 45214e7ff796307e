package objerrors

import (
	"errors"
	"syscall"

	"github.com/talostrading/objsrv/protocol"
)

var (
	ErrTimeout            = errors.New("operation timed out")
	ErrInvalidHandle      = errors.New("invalid handle")
	ErrAccessDenied       = errors.New("access denied")
	ErrObjectTypeMismatch = errors.New("object type mismatch")
	ErrNotFound           = errors.New("no such asynchronous operation")
	ErrInvalidParameter   = errors.New("invalid parameter")
	ErrNotInitialized     = errors.New("process has not sent init")
	ErrVersionMismatch    = errors.New("protocol version not supported")
	ErrNotATerminal       = errors.New("device is not a terminal")
	ErrDeviceRemoved      = errors.New("device removed")
	ErrNoSuchProcess      = errors.New("no such process")
	ErrClosed             = errors.New("closed")
)

// Status maps err onto the protocol's status domain. A nil error is StatusSuccess.
func Status(err error) protocol.Status {
	if err == nil {
		return protocol.StatusSuccess
	}

	var st protocol.Status
	if errors.As(err, &st) {
		return st
	}

	switch {
	case errors.Is(err, ErrTimeout):
		return protocol.StatusTimeout
	case errors.Is(err, ErrInvalidHandle):
		return protocol.StatusInvalidHandle
	case errors.Is(err, ErrAccessDenied):
		return protocol.StatusAccessDenied
	case errors.Is(err, ErrObjectTypeMismatch):
		return protocol.StatusObjectTypeMismatch
	case errors.Is(err, ErrNotFound):
		return protocol.StatusNotFound
	case errors.Is(err, ErrInvalidParameter):
		return protocol.StatusInvalidParameter
	case errors.Is(err, ErrNotInitialized):
		return protocol.StatusInvalidDeviceRequest
	case errors.Is(err, ErrVersionMismatch):
		return protocol.StatusRevisionMismatch
	case errors.Is(err, ErrNotATerminal):
		return protocol.StatusNoSuchDevice
	case errors.Is(err, ErrDeviceRemoved):
		return protocol.StatusDeviceRemoved
	case errors.Is(err, ErrNoSuchProcess):
		return protocol.StatusInvalidParameter
	case errors.Is(err, ErrClosed):
		return protocol.StatusPipeBroken
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		return ErrnoStatus(errno)
	}
	return protocol.StatusUnexpectedIOError
}

// ErrnoStatus translates a unix errno, following the server's errno translation table.
func ErrnoStatus(errno syscall.Errno) protocol.Status {
	switch errno {
	case syscall.EAGAIN:
		return protocol.StatusPending
	case syscall.EMFILE, syscall.ENFILE:
		return protocol.StatusTooManyOpenedFiles
	case syscall.ENOENT:
		return protocol.StatusObjectNameNotFound
	case syscall.EACCES, syscall.EPERM, syscall.EROFS:
		return protocol.StatusAccessDenied
	case syscall.EBUSY:
		return protocol.StatusSharingViolation
	case syscall.ENXIO, syscall.ENODEV:
		return protocol.StatusNoSuchDevice
	case syscall.ENOTTY:
		return protocol.StatusNoSuchDevice
	case syscall.ENOMEM:
		return protocol.StatusNoMemory
	case syscall.EPIPE:
		return protocol.StatusPipeBroken
	case syscall.EBADF:
		return protocol.StatusInvalidHandle
	case syscall.EINVAL:
		return protocol.StatusInvalidParameter
	default:
		return protocol.StatusUnexpectedIOError
	}
}
