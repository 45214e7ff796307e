//go:build linux

package internal

import (
	"encoding/binary"
	"os"

	"golang.org/x/sys/unix"
)

var _ Waker = &EventFd{}

type EventFd struct {
	fd  int
	buf [8]byte
}

func NewEventFd(nonBlocking bool) (*EventFd, error) {
	flags := unix.EFD_CLOEXEC
	if nonBlocking {
		flags |= unix.EFD_NONBLOCK
	}

	fd, err := unix.Eventfd(0, flags)
	if err != nil {
		return nil, os.NewSyscallError("eventfd", err)
	}
	return &EventFd{fd: fd}, nil
}

func (e *EventFd) Wake() error {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], 1)
	_, err := unix.Write(e.fd, b[:])
	if err == unix.EAGAIN {
		// The counter is saturated, so a wakeup is already pending.
		return nil
	}
	return err
}

func (e *EventFd) Drain() {
	for {
		if _, err := unix.Read(e.fd, e.buf[:]); err != nil {
			return
		}
	}
}

func (e *EventFd) Fd() int {
	return e.fd
}

func (e *EventFd) Close() error {
	return unix.Close(e.fd)
}
