package objsrv

import (
	"fmt"
	"io"

	"golang.org/x/sys/unix"

	"github.com/talostrading/objsrv/internal"
	"github.com/talostrading/objsrv/objerrors"
	"github.com/talostrading/objsrv/protocol"
)

// FdOps is what a kind of pollable object plugs into its Fd.
type FdOps interface {
	// PollEvents returns the events the descriptor should be polled for.
	PollEvents() uint32

	// PollEvent handles events reported for the descriptor.
	PollEvent(events uint32)

	Flush() error

	// QueueAsync starts, or cancels when req.Status is not pending, an operation.
	QueueAsync(req AsyncRequest) error

	// Transfer moves data for the head of a queue once the descriptor is ready. It
	// returns StatusPending if the operation must keep waiting, or its final status.
	Transfer(a *Async) protocol.Status

	// Completed is called after a terminated operation left its queue.
	Completed(a *Async)
}

// AsyncRequest is a decoded queue_async request.
type AsyncRequest struct {
	Proc   *Process
	Thread uint32
	Token  uint64
	Type   protocol.AsyncType
	Status protocol.Status
	Count  uint32
	Data   []byte
}

// Fd is a nonblocking descriptor registered with the loop's poller, with the queues of
// operations waiting on it.
type Fd struct {
	loop *Loop
	raw  int
	slot internal.Slot
	ops  FdOps
	user Object

	readQ, writeQ, waitQ AsyncQueue

	signaled bool
	pollErr  bool
	closed   bool
}

// NewFd wraps raw, which must already be nonblocking. user is the object the descriptor
// belongs to; ops usually is that same object.
func NewFd(loop *Loop, raw int, user Object, ops FdOps) *Fd {
	fd := &Fd{
		loop: loop,
		raw:  raw,
		ops:  ops,
		user: user,
	}
	fd.slot.Fd = raw
	fd.slot.Handler = fd.onEvents
	fd.readQ = AsyncQueue{fd: fd, typ: protocol.AsyncRead}
	fd.writeQ = AsyncQueue{fd: fd, typ: protocol.AsyncWrite}
	fd.waitQ = AsyncQueue{fd: fd, typ: protocol.AsyncWait}
	return fd
}

func (fd *Fd) onEvents(events uint32) {
	fd.ops.PollEvent(events)
}

func (fd *Fd) RawFd() int {
	return fd.raw
}

func (fd *Fd) Loop() *Loop {
	return fd.loop
}

func (fd *Fd) User() Object {
	return fd.user
}

// Events returns the interest set currently registered with the poller.
func (fd *Fd) Events() uint32 {
	return fd.slot.Events
}

func (fd *Fd) ReadQueue() *AsyncQueue  { return &fd.readQ }
func (fd *Fd) WriteQueue() *AsyncQueue { return &fd.writeQ }
func (fd *Fd) WaitQueue() *AsyncQueue  { return &fd.waitQ }

// Queue returns the queue operations of type typ wait in, or nil.
func (fd *Fd) Queue(typ protocol.AsyncType) *AsyncQueue {
	switch typ {
	case protocol.AsyncRead:
		return &fd.readQ
	case protocol.AsyncWrite:
		return &fd.writeQ
	case protocol.AsyncWait:
		return &fd.waitQ
	default:
		return nil
	}
}

// Pending returns the number of operations in all queues.
func (fd *Fd) Pending() int {
	return fd.readQ.n + fd.writeQ.n + fd.waitQ.n
}

// Signaled reports whether an operation completed since the last one was queued.
func (fd *Fd) Signaled() bool {
	return fd.signaled
}

// DefaultPollEvents polls for input while a read waits and for output while a write does.
func (fd *Fd) DefaultPollEvents() uint32 {
	var events uint32
	if fd.readQ.Ready() {
		events |= internal.PollIn
	}
	if fd.writeQ.Ready() {
		events |= internal.PollOut
	}
	return events
}

// DefaultPollEvent wakes the queues the events concern. An error or hangup wakes both
// and stops polling the descriptor, which would otherwise report it forever.
func (fd *Fd) DefaultPollEvent(events uint32) {
	if events&(internal.PollIn|internal.PollErr|internal.PollHup) != 0 {
		fd.readQ.WakeUp(protocol.StatusAlerted)
	}
	if events&(internal.PollOut|internal.PollErr|internal.PollHup) != 0 {
		fd.writeQ.WakeUp(protocol.StatusAlerted)
	}

	if events&(internal.PollErr|internal.PollHup) != 0 {
		fd.pollErr = true
		fd.setEvents(0)
	} else {
		fd.UpdateEvents()
	}
}

// UpdateEvents registers the interest set the device currently asks for.
func (fd *Fd) UpdateEvents() {
	if fd.closed || fd.pollErr {
		return
	}
	fd.setEvents(fd.ops.PollEvents())
}

func (fd *Fd) setEvents(events uint32) {
	if fd.closed {
		return
	}
	if err := fd.loop.poller.SetEvents(&fd.slot, events); err != nil {
		fd.loop.logger.Printf("fd %d: cannot poll for %#x: %v", fd.raw, events, err)
	}
}

// Reselect is called after the queues changed. If the descriptor is already ready for
// what the device waits for, the events are handled now instead of on the next poll.
func (fd *Fd) Reselect() {
	if fd.closed || fd.pollErr {
		return
	}
	interest := fd.ops.PollEvents()
	if interest == 0 {
		fd.setEvents(0)
		return
	}
	if ready := internal.CheckEvents(fd.raw, interest); ready != 0 {
		fd.ops.PollEvent(ready)
		return
	}
	fd.setEvents(interest)
}

// Register finds the operation req names in the queue of its type, or creates one at the
// tail. An operation found in flight keeps what it already moved: a read may only change
// its count to no less than what it received, a write must repeat its count. The caller
// arms timers and calls Reselect.
func (fd *Fd) Register(req AsyncRequest) (*Async, error) {
	if fd.closed {
		return nil, objerrors.ErrClosed
	}
	q := fd.Queue(req.Type)
	if q == nil {
		return nil, fmt.Errorf("async type %d: %w", req.Type, objerrors.ErrInvalidParameter)
	}

	if a := q.find(req.Proc, req.Thread, req.Token); a != nil {
		switch {
		case req.Type == protocol.AsyncRead && req.Count < a.transferred:
			return nil, fmt.Errorf("%s: count below %d received bytes: %w", a, a.transferred, objerrors.ErrInvalidParameter)
		case req.Type == protocol.AsyncWrite && req.Count != a.count:
			return nil, fmt.Errorf("%s: write of %d bytes changed its count: %w", a, req.Count, objerrors.ErrInvalidParameter)
		}
		fd.loop.timeouts.Remove(a.interval)
		a.interval = nil
		a.count = req.Count
		fd.signaled = false
		return a, nil
	}

	id, a := fd.loop.asyncs.Alloc()
	a.id = id
	a.fd = fd
	a.proc = req.Proc
	a.thread = req.Thread
	a.token = req.Token
	a.typ = req.Type
	a.status = protocol.StatusPending
	a.count = req.Count
	switch req.Type {
	case protocol.AsyncRead:
		a.data = make([]byte, 0, req.Count)
	case protocol.AsyncWrite:
		a.data = append([]byte(nil), req.Data...)
	}
	req.Proc.asyncs[a] = struct{}{}

	q.insert(a)
	fd.signaled = false
	return a, nil
}

// Terminate finds the operation (proc, thread, token) in any queue and terminates it with
// status.
func (fd *Fd) Terminate(proc *Process, thread uint32, token uint64, status protocol.Status) error {
	for _, q := range []*AsyncQueue{&fd.readQ, &fd.writeQ, &fd.waitQ} {
		if a := q.find(proc, thread, token); a != nil {
			a.Terminate(status)
			return nil
		}
	}
	return fmt.Errorf("thread %04x token %#x: %w", thread, token, objerrors.ErrNotFound)
}

// Drain terminates every queued operation with status.
func (fd *Fd) Drain(status protocol.Status) {
	fd.readQ.WakeUp(status)
	fd.writeQ.WakeUp(status)
	fd.waitQ.WakeUp(status)
}

// Close unregisters the descriptor and closes it. The queues must be empty.
func (fd *Fd) Close() error {
	if fd.closed {
		return io.EOF
	}
	if n := fd.Pending(); n > 0 {
		panic(fmt.Errorf("fd %d closed with %d queued operations", fd.raw, n))
	}
	fd.setEvents(0)
	fd.closed = true
	return unix.Close(fd.raw)
}

func (fd *Fd) Closed() bool {
	return fd.closed
}

func (fd *Fd) dump(w io.Writer) {
	fmt.Fprintf(w, " fd=%d events=%#x read=%d write=%d wait=%d signaled=%t",
		fd.raw, fd.slot.Events, fd.readQ.n, fd.writeQ.n, fd.waitQ.n, fd.signaled)
}
