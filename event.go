package objsrv

import (
	"fmt"
	"io"
)

// Event is a manual or auto-reset event. Setting an auto-reset event releases exactly
// one wait.
type Event struct {
	ObjectHeader
	noFd

	manualReset bool
	signaled    bool
}

var (
	_ Object    = &Event{}
	_ Satisfier = &Event{}
)

func NewEvent(manualReset, initialState bool) *Event {
	e := &Event{manualReset: manualReset, signaled: initialState}
	initObject(e)
	return e
}

func (e *Event) Kind() Kind {
	return KindEvent
}

func (e *Event) ManualReset() bool {
	return e.manualReset
}

func (e *Event) Set() {
	e.signaled = true
	WakeUp(e)
}

func (e *Event) Reset() {
	e.signaled = false
}

func (e *Event) Signaled() bool {
	return e.signaled
}

func (e *Event) Satisfied() {
	if !e.manualReset {
		e.signaled = false
	}
}

func (e *Event) Dump(w io.Writer, verbose bool) {
	fmt.Fprintf(w, "Event manual=%t signaled=%t", e.manualReset, e.signaled)
	if verbose {
		fmt.Fprintf(w, " refs=%d handles=%d waiters=%d", e.refs, e.handles, len(e.waiters))
	}
	fmt.Fprintln(w)
}

func (e *Event) Destroy() {}
