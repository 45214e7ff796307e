//go:build linux

package internal

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

var ListenBacklog int = 128

// ListenUnix creates a nonblocking unix stream listener at path, replacing a stale socket
// file left behind by a previous server.
func ListenUnix(path string) (fd int, err error) {
	fd, err = unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, os.NewSyscallError("socket", err)
	}

	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		_ = unix.Close(fd)
		return -1, err
	}

	if err := unix.Bind(fd, &unix.SockaddrUnix{Name: path}); err != nil {
		_ = unix.Close(fd)
		return -1, os.NewSyscallError("bind", err)
	}

	if err := unix.Listen(fd, ListenBacklog); err != nil {
		_ = unix.Close(fd)
		return -1, os.NewSyscallError("listen", err)
	}

	return fd, nil
}

// Accept returns a nonblocking connection, or unix.EAGAIN when none is pending.
func Accept(fd int) (int, error) {
	nfd, _, err := unix.Accept4(fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		return -1, err
	}
	return nfd, nil
}

// PeerPid returns the process id of the peer of a unix socket connection.
func PeerPid(fd int) (int, error) {
	cred, err := unix.GetsockoptUcred(fd, unix.SOL_SOCKET, unix.SO_PEERCRED)
	if err != nil {
		return 0, os.NewSyscallError("getsockopt peercred", err)
	}
	return int(cred.Pid), nil
}
