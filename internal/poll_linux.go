//go:build linux

package internal

import (
	"io"
	"os"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// Poller is a level-triggered epoll set. Every method except Post, Posted, Close and
// Closed must be called from the goroutine that calls Poll.
type Poller struct {
	// fd is the file descriptor returned by calling epoll_create1(0).
	fd int

	// events receives the ready set of one epoll_wait call.
	events []unix.EpollEvent

	// slots maps registered descriptors to their Slot. The epoll data carries the
	// descriptor and the generation the Slot was added with, so an event for a
	// descriptor closed and reused within one batch does not reach the new Slot.
	slots map[int]*Slot
	gen   uint32

	// waker is used to wake up the process when the client calls Post(...), thus
	// dispatching the provided handler. It is registered for reads.
	waker *EventFd

	// lck synchronizes access to the handlers slice, which can be appended to from
	// any goroutine.
	lck      sync.Mutex
	handlers []func()
	posted   int64

	closed uint32
}

func NewPoller() (*Poller, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, os.NewSyscallError("epoll_create1", err)
	}

	waker, err := NewEventFd(true)
	if err != nil {
		_ = unix.Close(fd)
		return nil, err
	}

	p := &Poller{
		fd:     fd,
		waker:  waker,
		events: make([]unix.EpollEvent, 128),
		slots:  make(map[int]*Slot),
	}

	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(waker.Fd())}
	if err := unix.EpollCtl(fd, unix.EPOLL_CTL_ADD, waker.Fd(), &ev); err != nil {
		waker.Close()
		_ = unix.Close(fd)
		return nil, os.NewSyscallError("epoll_ctl_add", err)
	}

	return p, nil
}

// Registered returns the number of slots with a non-empty interest set.
func (p *Poller) Registered() int {
	return len(p.slots)
}

// SetEvents replaces the interest set of slot. An empty set removes the descriptor from
// the epoll set but keeps the Slot usable for a later SetEvents.
func (p *Poller) SetEvents(slot *Slot, events uint32) error {
	if p.Closed() {
		return ErrClosed
	}
	if slot.Events == events {
		return nil
	}

	var err error
	switch {
	case events == 0:
		err = p.ctl(unix.EPOLL_CTL_DEL, slot, 0)
		delete(p.slots, slot.Fd)
	case slot.Events == 0:
		p.gen++
		if p.gen == 0 {
			p.gen = 1
		}
		slot.gen = p.gen
		err = p.ctl(unix.EPOLL_CTL_ADD, slot, events)
		if err == nil {
			p.slots[slot.Fd] = slot
		}
	default:
		err = p.ctl(unix.EPOLL_CTL_MOD, slot, events)
	}
	if err == nil {
		slot.Events = events
	}
	return err
}

// Del removes slot from the epoll set.
func (p *Poller) Del(slot *Slot) error {
	return p.SetEvents(slot, 0)
}

func (p *Poller) ctl(op int, slot *Slot, events uint32) error {
	ev := unix.EpollEvent{Events: events, Fd: int32(slot.Fd), Pad: int32(slot.gen)}
	if err := unix.EpollCtl(p.fd, op, slot.Fd, &ev); err != nil {
		switch op {
		case unix.EPOLL_CTL_ADD:
			return os.NewSyscallError("epoll_ctl_add", err)
		case unix.EPOLL_CTL_MOD:
			return os.NewSyscallError("epoll_ctl_mod", err)
		default:
			return os.NewSyscallError("epoll_ctl_del", err)
		}
	}
	return nil
}

// Poll waits at most timeoutMs (-1 forever) and dispatches every ready slot. It returns
// the number of dispatched slots, ErrTimeout if nothing happened before a finite
// timeout, or the raw errno (EINTR included) from epoll_wait.
func (p *Poller) Poll(timeoutMs int) (int, error) {
	if p.Closed() {
		return 0, ErrClosed
	}

	n, err := unix.EpollWait(p.fd, p.events, timeoutMs)
	if err != nil {
		return 0, err
	}

	if n == 0 && timeoutMs >= 0 {
		return 0, ErrTimeout
	}

	dispatched := 0
	for i := 0; i < n; i++ {
		ev := &p.events[i]
		fd := int(ev.Fd)

		if fd == p.waker.Fd() {
			p.dispatch()
			dispatched++
			continue
		}

		// A handler earlier in this batch may have unregistered the slot, or closed the
		// descriptor and registered its reused number again.
		slot, ok := p.slots[fd]
		if !ok || slot.gen != uint32(ev.Pad) {
			continue
		}
		slot.Handler(ev.Events)
		dispatched++
	}

	return dispatched, nil
}

func (p *Poller) dispatch() {
	p.waker.Drain()

	p.lck.Lock()
	handlers := p.handlers
	p.handlers = nil
	p.lck.Unlock()

	for _, handler := range handlers {
		handler()
		atomic.AddInt64(&p.posted, -1)
	}
}

// Post schedules handler to run on the polling goroutine during the next Poll. It is safe
// for concurrent use.
func (p *Poller) Post(handler func()) error {
	if p.Closed() {
		return ErrClosed
	}

	p.lck.Lock()
	p.handlers = append(p.handlers, handler)
	p.lck.Unlock()
	atomic.AddInt64(&p.posted, 1)

	return p.waker.Wake()
}

func (p *Poller) Posted() int {
	return int(atomic.LoadInt64(&p.posted))
}

func (p *Poller) Close() error {
	if !atomic.CompareAndSwapUint32(&p.closed, 0, 1) {
		return io.EOF
	}

	p.slots = nil
	p.waker.Close()
	return unix.Close(p.fd)
}

func (p *Poller) Closed() bool {
	return atomic.LoadUint32(&p.closed) == 1
}
