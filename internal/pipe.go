//go:build linux

package internal

import (
	"os"

	"golang.org/x/sys/unix"
)

// Pipe is a nonblocking pipe, handy for driving a Poller in tests.
type Pipe struct {
	pipe [2]int
}

func NewPipe() (*Pipe, error) {
	p := &Pipe{}
	if err := unix.Pipe2(p.pipe[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return nil, os.NewSyscallError("pipe2", err)
	}
	return p, nil
}

func (p *Pipe) Write(b []byte) (int, error) {
	return unix.Write(p.pipe[1], b)
}

func (p *Pipe) Read(b []byte) (int, error) {
	return unix.Read(p.pipe[0], b)
}

func (p *Pipe) ReadFd() int {
	return p.pipe[0]
}

func (p *Pipe) WriteFd() int {
	return p.pipe[1]
}

func (p *Pipe) Close() error {
	if err := unix.Close(p.pipe[0]); err != nil {
		return err
	}
	return unix.Close(p.pipe[1])
}
