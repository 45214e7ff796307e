//go:build linux

package internal

import (
	"os"
	"strconv"

	"golang.org/x/sys/unix"
)

// OpenPty opens a nonblocking pseudo-terminal master and returns it together with the
// path of its slave side, which behaves like a serial line.
func OpenPty() (master int, slave string, err error) {
	master, err = unix.Open("/dev/ptmx", unix.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return -1, "", os.NewSyscallError("open ptmx", err)
	}

	if err = unix.IoctlSetPointerInt(master, unix.TIOCSPTLCK, 0); err != nil {
		_ = unix.Close(master)
		return -1, "", os.NewSyscallError("tiocsptlck", err)
	}

	n, err := unix.IoctlGetUint32(master, unix.TIOCGPTN)
	if err != nil {
		_ = unix.Close(master)
		return -1, "", os.NewSyscallError("tiocgptn", err)
	}

	return master, "/dev/pts/" + strconv.FormatUint(uint64(n), 10), nil
}
