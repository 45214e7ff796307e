package objsrv

import (
	"fmt"
	"io"

	"github.com/talostrading/objsrv/objerrors"
	"github.com/talostrading/objsrv/protocol"
)

type Kind uint8

const (
	// KindAny matches every kind in handle lookups.
	KindAny Kind = iota
	KindSerial
	KindEvent
)

func (k Kind) String() string {
	switch k {
	case KindAny:
		return "any"
	case KindSerial:
		return "serial"
	case KindEvent:
		return "event"
	default:
		return fmt.Sprintf("kind_%d", uint8(k))
	}
}

// Mapping returns how generic access rights translate for objects of kind k.
func (k Kind) Mapping() protocol.GenericMapping {
	if k == KindEvent {
		return protocol.EventMapping
	}
	return protocol.FileMapping
}

// FileInfo is the Windows-shaped metadata returned by get_file_info. Device-like objects
// leave sizes and timestamps zero.
type FileInfo struct {
	Type           uint32
	Attributes     uint32
	Flags          uint32
	Size           uint64
	CreationTime   uint64
	LastAccessTime uint64
	LastWriteTime  uint64
}

// Object is the capability set shared by every server-side resource.
//
// Objects are reference counted with Grab and Release. Destroy is called by Release,
// exactly once, when the last reference goes away; it must not be called directly.
type Object interface {
	Kind() Kind
	Header() *ObjectHeader

	// Dump writes a human readable description, for diagnostics only.
	Dump(w io.Writer, verbose bool)

	AddWaiter(w *Waiter)
	RemoveWaiter(w *Waiter)
	Signaled() bool

	// Fd returns the pollable descriptor behind the object, or ErrObjectTypeMismatch.
	Fd() (*Fd, error)
	FileInfo() (FileInfo, error)

	Destroy()
}

// LastHandleCloser is implemented by objects that act when their last handle is closed,
// which may happen long before their last reference is released.
type LastHandleCloser interface {
	LastHandleClosed()
}

// Satisfier is implemented by objects whose signaled state is consumed by a satisfied
// wait, such as auto-reset events.
type Satisfier interface {
	Satisfied()
}

// ObjectHeader holds the bookkeeping common to all objects. Concrete objects embed it.
//
// All fields are owned by the event loop goroutine.
type ObjectHeader struct {
	refs      int
	handles   int
	destroyed bool
	waiters   []*Waiter
}

func (h *ObjectHeader) Header() *ObjectHeader {
	return h
}

func (h *ObjectHeader) AddWaiter(w *Waiter) {
	h.waiters = append(h.waiters, w)
}

func (h *ObjectHeader) RemoveWaiter(w *Waiter) {
	for i, cur := range h.waiters {
		if cur == w {
			h.waiters = append(h.waiters[:i], h.waiters[i+1:]...)
			return
		}
	}
}

func (h *ObjectHeader) Refs() int {
	return h.refs
}

func (h *ObjectHeader) Handles() int {
	return h.handles
}

func (h *ObjectHeader) Destroyed() bool {
	return h.destroyed
}

// initObject gives a freshly built object the creator's reference.
func initObject(o Object) {
	h := o.Header()
	h.refs = 1
	h.handles = 0
	h.destroyed = false
}

// Grab takes a reference on o.
func Grab(o Object) Object {
	h := o.Header()
	if h.destroyed {
		panic(fmt.Errorf("grab of destroyed %s object", o.Kind()))
	}
	h.refs++
	return o
}

// Release drops a reference on o and destroys it when none are left.
func Release(o Object) {
	h := o.Header()
	if h.destroyed || h.refs <= 0 {
		panic(fmt.Errorf("release of %s object with refcount %d", o.Kind(), h.refs))
	}
	h.refs--
	if h.refs == 0 {
		h.destroyed = true
		o.Destroy()
	}
}

// noFd provides the Fd and FileInfo capabilities of objects without a descriptor.
type noFd struct{}

func (noFd) Fd() (*Fd, error) {
	return nil, objerrors.ErrObjectTypeMismatch
}

func (noFd) FileInfo() (FileInfo, error) {
	return FileInfo{}, objerrors.ErrObjectTypeMismatch
}
