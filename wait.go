package objsrv

import (
	"time"

	"github.com/talostrading/objsrv/protocol"
)

// Waiter is a process thread blocked until an object becomes signaled. It holds a
// reference on the object until it finishes.
type Waiter struct {
	loop    *Loop
	proc    *Process
	thread  uint32
	token   uint64
	obj     Object
	timeout *TimeoutUser
	done    bool
}

func (w *Waiter) Object() Object {
	return w.obj
}

func (w *Waiter) Done() bool {
	return w.done
}

// satisfy consumes the signal of objects like auto-reset events.
func satisfy(o Object) {
	if s, ok := o.(Satisfier); ok {
		s.Satisfied()
	}
}

// StartWait waits for obj on behalf of thread. A signaled object is satisfied at once
// and StatusSuccess is returned; a zero timeout returns StatusTimeout. Otherwise the wait
// is registered, StatusPending is returned and the outcome is later delivered as a
// completion tagged with thread and token. A negative timeout waits forever.
func (l *Loop) StartWait(
	proc *Process,
	obj Object,
	thread uint32,
	token uint64,
	timeout time.Duration,
) (protocol.Status, *Waiter) {
	if obj.Signaled() {
		satisfy(obj)
		return protocol.StatusSuccess, nil
	}
	if timeout == 0 {
		return protocol.StatusTimeout, nil
	}

	w := &Waiter{
		loop:   l,
		proc:   proc,
		thread: thread,
		token:  token,
		obj:    Grab(obj),
	}
	obj.AddWaiter(w)
	proc.waits[w] = struct{}{}
	if timeout > 0 {
		w.timeout = l.timeouts.AddAfter(timeout, func() {
			w.timeout = nil
			w.finish(protocol.StatusTimeout)
		})
	}
	return protocol.StatusPending, w
}

func (w *Waiter) finish(status protocol.Status) {
	if w.done {
		return
	}
	w.done = true

	w.loop.timeouts.Remove(w.timeout)
	w.timeout = nil
	w.obj.RemoveWaiter(w)
	delete(w.proc.waits, w)

	w.proc.complete(protocol.Completion{
		Thread: w.thread,
		Type:   protocol.AsyncSelect,
		Token:  w.token,
	}, status, nil)

	Release(w.obj)
}

// WakeUp releases the waiters of o, oldest first, for as long as o stays signaled.
func WakeUp(o Object) {
	hdr := o.Header()
	for len(hdr.waiters) > 0 && o.Signaled() {
		w := hdr.waiters[0]
		satisfy(o)
		w.finish(protocol.StatusSuccess)
	}
}
