package objerrors

import (
	"fmt"
	"os"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/talostrading/objsrv/protocol"
)

func TestStatusSentinels(t *testing.T) {
	assert.Equal(t, protocol.StatusSuccess, Status(nil))
	assert.Equal(t, protocol.StatusInvalidHandle, Status(ErrInvalidHandle))
	assert.Equal(t, protocol.StatusAccessDenied, Status(fmt.Errorf("handle 4: %w", ErrAccessDenied)))
	assert.Equal(t, protocol.StatusNotFound, Status(ErrNotFound))
	assert.Equal(t, protocol.StatusRevisionMismatch, Status(ErrVersionMismatch))
}

func TestStatusErrno(t *testing.T) {
	err := &os.PathError{Op: "open", Path: "/dev/ttyS9", Err: syscall.ENOENT}
	assert.Equal(t, protocol.StatusObjectNameNotFound, Status(err))
	assert.Equal(t, protocol.StatusTooManyOpenedFiles, Status(os.NewSyscallError("open", syscall.EMFILE)))
	assert.Equal(t, protocol.StatusUnexpectedIOError, Status(syscall.EIO))
}

func TestStatusPassthrough(t *testing.T) {
	assert.Equal(t, protocol.StatusDeviceRemoved, Status(protocol.StatusDeviceRemoved))
}
