package objsrv

import (
	"fmt"
	"time"

	"github.com/talostrading/objsrv/protocol"
	"github.com/talostrading/objsrv/util"
)

// Async is one outstanding asynchronous operation on an Fd. Nodes are allocated from the
// loop's slab and linked into exactly one of the Fd's queues by ID while pending. A node
// is freed as soon as its completion has been delivered.
type Async struct {
	id     util.ID
	fd     *Fd
	proc   *Process
	thread uint32
	token  uint64
	typ    protocol.AsyncType

	status      protocol.Status
	count       uint32
	transferred uint32
	events      uint32

	// data is the payload: what has been read so far for reads, what remains to be
	// written for writes.
	data []byte

	timeout       *TimeoutUser
	timeoutStatus protocol.Status
	interval      *TimeoutUser

	queue      *AsyncQueue
	prev, next util.ID
	done       bool
}

func (a *Async) ID() util.ID                { return a.id }
func (a *Async) Process() *Process          { return a.proc }
func (a *Async) Thread() uint32             { return a.thread }
func (a *Async) Token() uint64              { return a.token }
func (a *Async) Type() protocol.AsyncType   { return a.typ }
func (a *Async) Status() protocol.Status    { return a.status }
func (a *Async) Count() uint32              { return a.count }
func (a *Async) Transferred() uint32        { return a.transferred }
func (a *Async) Events() uint32             { return a.events }
func (a *Async) Data() []byte               { return a.data }
func (a *Async) Queued() bool               { return a.queue != nil }
func (a *Async) TimeoutUser() *TimeoutUser  { return a.timeout }
func (a *Async) IntervalUser() *TimeoutUser { return a.interval }

// Remaining returns how many bytes the operation still has to move.
func (a *Async) Remaining() uint32 {
	if a.transferred >= a.count {
		return 0
	}
	return a.count - a.transferred
}

// Received appends read data to the operation.
func (a *Async) Received(b []byte) {
	a.data = append(a.data, b...)
	a.transferred += uint32(len(b))
}

// Sent drops the first n bytes of the write payload.
func (a *Async) Sent(n int) {
	a.data = a.data[n:]
	a.transferred += uint32(n)
}

func (a *Async) SetEvents(events uint32) {
	a.events = events
}

// SetTimeout arms the operation's deadline, replacing any previous one. When it expires
// the operation terminates with status. A negative d disarms it.
func (a *Async) SetTimeout(d time.Duration, status protocol.Status) {
	timeouts := a.fd.loop.timeouts
	timeouts.Remove(a.timeout)
	a.timeout = nil
	if d < 0 {
		return
	}
	a.timeoutStatus = status
	a.timeout = timeouts.AddAfter(d, func() {
		a.timeout = nil
		a.Terminate(a.timeoutStatus)
	})
}

// SetInterval arms, or re-arms, the inter-byte timer. When it expires the operation
// completes successfully with what it has.
func (a *Async) SetInterval(d time.Duration) {
	timeouts := a.fd.loop.timeouts
	timeouts.Remove(a.interval)
	a.interval = timeouts.AddAfter(d, func() {
		a.interval = nil
		a.Terminate(protocol.StatusSuccess)
	})
}

// Terminate completes the operation with status: the completion is delivered to the
// owning process, the node leaves its queue and is freed. Terminating a node twice is a
// no-op.
func (a *Async) Terminate(status protocol.Status) {
	if a.done {
		return
	}
	a.done = true
	a.status = status

	fd := a.fd
	loop := fd.loop
	loop.timeouts.Remove(a.timeout)
	loop.timeouts.Remove(a.interval)
	a.timeout, a.interval = nil, nil

	if a.queue != nil {
		a.queue.unlink(a)
	}
	delete(a.proc.asyncs, a)

	var data []byte
	if a.typ == protocol.AsyncRead {
		data = a.data
	}
	a.proc.complete(protocol.Completion{
		Thread:      a.thread,
		Type:        a.typ,
		Token:       a.token,
		Transferred: a.transferred,
		Events:      a.events,
	}, status, data)

	loop.asyncs.Free(a.id)
	loop.completed++

	fd.signaled = true
	WakeUp(fd.user)
	fd.ops.Completed(a)
	fd.UpdateEvents()

	Release(fd.user)
}

func (a *Async) String() string {
	return fmt.Sprintf("async(%s thread=%04x token=%#x %s %d/%d %s)",
		a.id, a.thread, a.token, a.typ, a.transferred, a.count, a.status)
}

// AsyncQueue is a FIFO of pending operations of one type on one Fd.
type AsyncQueue struct {
	fd         *Fd
	typ        protocol.AsyncType
	head, tail util.ID
	n          int
}

func (q *AsyncQueue) Type() protocol.AsyncType {
	return q.typ
}

func (q *AsyncQueue) Len() int {
	return q.n
}

func (q *AsyncQueue) Empty() bool {
	return q.n == 0
}

func (q *AsyncQueue) get(id util.ID) *Async {
	return q.fd.loop.asyncs.Get(id)
}

// Head returns the oldest operation, or nil.
func (q *AsyncQueue) Head() *Async {
	return q.get(q.head)
}

// Ready reports whether the head of the queue is waiting for the descriptor.
func (q *AsyncQueue) Ready() bool {
	a := q.Head()
	return a != nil && a.status == protocol.StatusPending
}

// Each calls fn for every queued operation, oldest first, until fn returns false.
func (q *AsyncQueue) Each(fn func(a *Async) bool) {
	for a := q.Head(); a != nil; a = q.get(a.next) {
		if !fn(a) {
			return
		}
	}
}

func (q *AsyncQueue) find(proc *Process, thread uint32, token uint64) *Async {
	var found *Async
	q.Each(func(a *Async) bool {
		if a.proc == proc && a.thread == thread && a.token == token {
			found = a
			return false
		}
		return true
	})
	return found
}

// insert links a at the tail. Queue membership holds a reference on the Fd's object.
func (q *AsyncQueue) insert(a *Async) {
	if a.queue != nil {
		panic(fmt.Errorf("%s is already queued", a))
	}

	a.queue = q
	a.prev = q.tail
	a.next = util.NilID
	if tail := q.get(q.tail); tail != nil {
		tail.next = a.id
	} else {
		q.head = a.id
	}
	q.tail = a.id
	q.n++

	Grab(q.fd.user)
}

func (q *AsyncQueue) unlink(a *Async) {
	if prev := q.get(a.prev); prev != nil {
		prev.next = a.next
	} else {
		q.head = a.next
	}
	if next := q.get(a.next); next != nil {
		next.prev = a.prev
	} else {
		q.tail = a.prev
	}
	a.queue = nil
	a.prev, a.next = util.NilID, util.NilID
	q.n--
}

// WakeUp advances the queue. With StatusAlerted the descriptor is ready: the head is
// offered to the device's Transfer and, each time it completes, so is the next one. Any
// other status terminates every queued operation with it.
func (q *AsyncQueue) WakeUp(status protocol.Status) {
	if status == protocol.StatusAlerted {
		for {
			a := q.Head()
			if a == nil || a.status != protocol.StatusPending {
				return
			}
			st := q.fd.ops.Transfer(a)
			if st == protocol.StatusPending {
				return
			}
			a.Terminate(st)
		}
	}

	for a := q.Head(); a != nil; a = q.Head() {
		a.Terminate(status)
	}
}
