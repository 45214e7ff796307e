package util

import "fmt"

// ID names an entry of a Slab. Every Free bumps the entry's generation, so an ID kept
// past the Free of its entry resolves to nothing instead of to the entry's next tenant.
type ID struct {
	index uint32
	gen   uint32
}

// NilID never resolves.
var NilID ID

func (id ID) Valid() bool {
	return id.gen != 0
}

func (id ID) String() string {
	if !id.Valid() {
		return "nil"
	}
	return fmt.Sprintf("%d.%d", id.index, id.gen)
}

type slabEntry[T any] struct {
	gen uint32
	v   *T
}

// Slab is an arena of T indexed by generation-checked IDs.
type Slab[T any] struct {
	entries []slabEntry[T]
	free    []uint32
	n       int
}

func NewSlab[T any]() *Slab[T] {
	return &Slab[T]{}
}

// Alloc returns a zeroed T and its ID.
func (s *Slab[T]) Alloc() (ID, *T) {
	var ix uint32
	if n := len(s.free); n > 0 {
		ix = s.free[n-1]
		s.free = s.free[:n-1]
	} else {
		ix = uint32(len(s.entries))
		s.entries = append(s.entries, slabEntry[T]{})
	}

	e := &s.entries[ix]
	e.gen++
	if e.gen == 0 {
		e.gen = 1
	}
	e.v = new(T)
	s.n++

	return ID{index: ix, gen: e.gen}, e.v
}

// Get returns the value named by id, or nil if id is stale or invalid.
func (s *Slab[T]) Get(id ID) *T {
	if !id.Valid() || int(id.index) >= len(s.entries) {
		return nil
	}
	e := &s.entries[id.index]
	if e.gen != id.gen || e.v == nil {
		return nil
	}
	return e.v
}

// Free releases the entry named by id. It reports false for stale IDs.
func (s *Slab[T]) Free(id ID) bool {
	if s.Get(id) == nil {
		return false
	}
	e := &s.entries[id.index]
	e.v = nil
	e.gen++
	if e.gen == 0 {
		e.gen = 1
	}
	s.free = append(s.free, id.index)
	s.n--
	return true
}

// Len returns the number of live entries.
func (s *Slab[T]) Len() int {
	return s.n
}
