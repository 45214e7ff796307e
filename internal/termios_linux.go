//go:build linux

package internal

import (
	"os"

	"golang.org/x/sys/unix"
)

// Queue selectors for Tcflush.
const (
	TCIFLUSH = unix.TCIFLUSH
	TCOFLUSH = unix.TCOFLUSH
)

func GetTermios(fd int) (*unix.Termios, error) {
	t, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return nil, os.NewSyscallError("tcgets", err)
	}
	return t, nil
}

func SetTermios(fd int, t *unix.Termios) error {
	if err := unix.IoctlSetTermios(fd, unix.TCSETS, t); err != nil {
		return os.NewSyscallError("tcsets", err)
	}
	return nil
}

// MakeRaw applies cfmakeraw(3) to t: no line discipline processing, 8-bit characters,
// reads return as soon as one byte is available.
func MakeRaw(t *unix.Termios) {
	t.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP |
		unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	t.Oflag &^= unix.OPOST
	t.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	t.Cflag &^= unix.CSIZE | unix.PARENB
	t.Cflag |= unix.CS8
	t.Cc[unix.VMIN] = 1
	t.Cc[unix.VTIME] = 0
}

func Tcflush(fd int, selector int) error {
	if err := unix.IoctlSetInt(fd, unix.TCFLSH, selector); err != nil {
		return os.NewSyscallError("tcflush", err)
	}
	return nil
}

// InQueue returns the number of bytes waiting to be read.
func InQueue(fd int) (int, error) {
	n, err := unix.IoctlGetInt(fd, unix.TIOCINQ)
	if err != nil {
		return 0, os.NewSyscallError("tiocinq", err)
	}
	return n, nil
}

// OutQueue returns the number of bytes not yet transmitted.
func OutQueue(fd int) (int, error) {
	n, err := unix.IoctlGetInt(fd, unix.TIOCOUTQ)
	if err != nil {
		return 0, os.NewSyscallError("tiocoutq", err)
	}
	return n, nil
}
