package objsrv

import (
	"fmt"
	"sort"

	"github.com/talostrading/objsrv/objerrors"
	"github.com/talostrading/objsrv/protocol"
)

type handleEntry struct {
	obj     Object
	access  protocol.Access
	inherit bool
}

// HandleTable maps one process's handles to objects. Every entry holds a reference on
// its object.
type HandleTable struct {
	entries map[protocol.Handle]*handleEntry
	free    []protocol.Handle
	next    protocol.Handle
}

func NewHandleTable() *HandleTable {
	return &HandleTable{
		entries: make(map[protocol.Handle]*handleEntry),
		next:    4,
	}
}

// Alloc creates a handle to o with the given, already mapped, access.
func (t *HandleTable) Alloc(o Object, access protocol.Access, inherit bool) protocol.Handle {
	var h protocol.Handle
	if n := len(t.free); n > 0 {
		h = t.free[n-1]
		t.free = t.free[:n-1]
	} else {
		h = t.next
		t.next += 4
	}

	Grab(o)
	o.Header().handles++
	t.entries[h] = &handleEntry{obj: o, access: access, inherit: inherit}
	return h
}

func (t *HandleTable) lookup(h protocol.Handle) (*handleEntry, error) {
	e, ok := t.entries[h]
	if !ok {
		return nil, fmt.Errorf("handle %#x: %w", uint32(h), objerrors.ErrInvalidHandle)
	}
	return e, nil
}

// Get resolves h to its object, checking that the handle grants access and, unless kind
// is KindAny, that the object has that kind. The returned object carries a reference
// the caller must Release.
func (t *HandleTable) Get(h protocol.Handle, access protocol.Access, kind Kind) (Object, error) {
	e, err := t.lookup(h)
	if err != nil {
		return nil, err
	}
	if kind != KindAny && e.obj.Kind() != kind {
		return nil, fmt.Errorf("handle %#x is a %s: %w", uint32(h), e.obj.Kind(), objerrors.ErrObjectTypeMismatch)
	}
	if e.access&access != access {
		return nil, fmt.Errorf("handle %#x grants %#x, need %#x: %w",
			uint32(h), uint32(e.access), uint32(access), objerrors.ErrAccessDenied)
	}
	return Grab(e.obj), nil
}

// Access returns the rights granted to h.
func (t *HandleTable) Access(h protocol.Handle) (protocol.Access, error) {
	e, err := t.lookup(h)
	if err != nil {
		return 0, err
	}
	return e.access, nil
}

func (t *HandleTable) Close(h protocol.Handle) error {
	e, err := t.lookup(h)
	if err != nil {
		return err
	}
	delete(t.entries, h)
	t.free = append(t.free, h)
	closeHandle(e.obj)
	return nil
}

// CloseAll closes every handle, in handle order.
func (t *HandleTable) CloseAll() {
	hs := make([]protocol.Handle, 0, len(t.entries))
	for h := range t.entries {
		hs = append(hs, h)
	}
	sort.Slice(hs, func(i, j int) bool { return hs[i] < hs[j] })

	for _, h := range hs {
		_ = t.Close(h)
	}
}

func (t *HandleTable) Len() int {
	return len(t.entries)
}

func closeHandle(o Object) {
	hdr := o.Header()
	hdr.handles--
	if hdr.handles == 0 {
		if c, ok := o.(LastHandleCloser); ok {
			c.LastHandleClosed()
		}
	}
	Release(o)
}

// DuplicateHandle copies handle h of src into dst. With DupSameAccess the new handle gets
// the source's rights; otherwise access is mapped for the object's kind and must not
// exceed them.
func DuplicateHandle(
	src *Process,
	h protocol.Handle,
	dst *Process,
	access protocol.Access,
	options uint32,
) (protocol.Handle, error) {
	e, err := src.handles.lookup(h)
	if err != nil {
		return protocol.InvalidHandle, err
	}

	if options&protocol.DupSameAccess != 0 {
		access = e.access
	} else {
		access = e.obj.Kind().Mapping().Map(access)
		if e.access&access != access {
			return protocol.InvalidHandle, fmt.Errorf("duplicate %#x with %#x: %w",
				uint32(h), uint32(access), objerrors.ErrAccessDenied)
		}
	}

	nh := dst.handles.Alloc(e.obj, access, false)
	if options&protocol.DupCloseSource != 0 {
		_ = src.handles.Close(h)
	}
	return nh, nil
}
