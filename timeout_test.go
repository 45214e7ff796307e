package objsrv

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimeoutsExpireInDeadlineOrder(t *testing.T) {
	clock := newFakeClock()
	timeouts := NewTimeouts(clock.Now)

	var order []int
	timeouts.AddAfter(30*time.Millisecond, func() { order = append(order, 3) })
	timeouts.AddAfter(10*time.Millisecond, func() { order = append(order, 1) })
	timeouts.AddAfter(20*time.Millisecond, func() { order = append(order, 2) })
	assert.Equal(t, 3, timeouts.Len())

	d, ok := timeouts.Next()
	require.True(t, ok)
	assert.Equal(t, 10*time.Millisecond, d)

	assert.Equal(t, 0, timeouts.Expire())

	clock.Advance(25 * time.Millisecond)
	assert.Equal(t, 2, timeouts.Expire())
	assert.Equal(t, []int{1, 2}, order)

	d, ok = timeouts.Next()
	require.True(t, ok)
	assert.Equal(t, 5*time.Millisecond, d)

	clock.Advance(time.Hour)
	d, ok = timeouts.Next()
	require.True(t, ok)
	assert.Zero(t, d)

	assert.Equal(t, 1, timeouts.Expire())
	assert.Equal(t, []int{1, 2, 3}, order)

	_, ok = timeouts.Next()
	assert.False(t, ok)
}

func TestTimeoutsTiesRunInInsertionOrder(t *testing.T) {
	clock := newFakeClock()
	timeouts := NewTimeouts(clock.Now)

	var order []int
	for i := 0; i < 5; i++ {
		i := i
		timeouts.AddAfter(time.Millisecond, func() { order = append(order, i) })
	}
	clock.Advance(time.Millisecond)
	assert.Equal(t, 5, timeouts.Expire())
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestTimeoutsRemove(t *testing.T) {
	clock := newFakeClock()
	timeouts := NewTimeouts(clock.Now)

	fired := false
	u := timeouts.AddAfter(time.Millisecond, func() { fired = true })
	assert.True(t, u.Scheduled())

	timeouts.Remove(u)
	timeouts.Remove(u)
	timeouts.Remove(nil)
	assert.False(t, u.Scheduled())
	assert.Equal(t, 0, timeouts.Len())

	clock.Advance(time.Second)
	assert.Equal(t, 0, timeouts.Expire())
	assert.False(t, fired)
}

func TestTimeoutsCallbackRemovesExpiredSibling(t *testing.T) {
	clock := newFakeClock()
	timeouts := NewTimeouts(clock.Now)

	var second *TimeoutUser
	ran := 0
	timeouts.AddAfter(time.Millisecond, func() {
		ran++
		timeouts.Remove(second)
	})
	second = timeouts.AddAfter(time.Millisecond, func() { ran++ })

	clock.Advance(time.Millisecond)
	assert.Equal(t, 1, timeouts.Expire())
	assert.Equal(t, 1, ran)
}

func TestTimeoutsCallbackAddsTimeout(t *testing.T) {
	clock := newFakeClock()
	timeouts := NewTimeouts(clock.Now)

	rearmed := false
	timeouts.AddAfter(time.Millisecond, func() {
		timeouts.AddAfter(time.Millisecond, func() { rearmed = true })
	})

	clock.Advance(time.Millisecond)
	assert.Equal(t, 1, timeouts.Expire())
	assert.False(t, rearmed)
	assert.Equal(t, 1, timeouts.Len())

	clock.Advance(time.Millisecond)
	assert.Equal(t, 1, timeouts.Expire())
	assert.True(t, rearmed)
}

func TestTimeoutsFiredUserIsNotScheduled(t *testing.T) {
	clock := newFakeClock()
	timeouts := NewTimeouts(clock.Now)

	u := timeouts.Add(clock.Now(), func() {})
	assert.Equal(t, clock.Now(), u.When())
	assert.Equal(t, 1, timeouts.Expire())
	assert.False(t, u.Scheduled())

	// Removing a fired user is harmless.
	timeouts.Remove(u)
	assert.Equal(t, 0, timeouts.Len())
}
