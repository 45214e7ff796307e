//go:build linux

package internal

import "golang.org/x/sys/unix"

// CheckEvents polls fd once without blocking and returns which of events are ready,
// plus any error or hangup condition.
func CheckEvents(fd int, events uint32) uint32 {
	if fd < 0 {
		return PollErr
	}

	pfd := []unix.PollFd{{Fd: int32(fd), Events: int16(events)}}
	for {
		n, err := unix.Poll(pfd, 0)
		if err == unix.EINTR {
			continue
		}
		if err != nil || n <= 0 {
			return 0
		}
		return uint32(uint16(pfd[0].Revents))
	}
}
