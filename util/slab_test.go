package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSlabAllocGet(t *testing.T) {
	s := NewSlab[int]()

	id, v := s.Alloc()
	*v = 42
	assert.True(t, id.Valid())
	assert.Equal(t, 1, s.Len())
	assert.Equal(t, 42, *s.Get(id))
}

func TestSlabStaleID(t *testing.T) {
	s := NewSlab[int]()

	id1, _ := s.Alloc()
	assert.True(t, s.Free(id1))
	assert.False(t, s.Free(id1))
	assert.Nil(t, s.Get(id1))

	// The entry is reused but the old ID stays dead.
	id2, v := s.Alloc()
	*v = 7
	assert.Equal(t, id1.index, id2.index)
	assert.NotEqual(t, id1, id2)
	assert.Nil(t, s.Get(id1))
	assert.Equal(t, 7, *s.Get(id2))
	assert.Equal(t, 1, s.Len())
}

func TestSlabNilID(t *testing.T) {
	s := NewSlab[int]()
	assert.Nil(t, s.Get(NilID))
	assert.False(t, NilID.Valid())
	assert.Equal(t, "nil", NilID.String())
}

func TestSlabPointerStability(t *testing.T) {
	s := NewSlab[int]()

	id, v := s.Alloc()
	*v = 1
	for i := 0; i < 1024; i++ {
		s.Alloc()
	}
	assert.Same(t, v, s.Get(id))
}
