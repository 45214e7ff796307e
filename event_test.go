package objsrv

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talostrading/objsrv/objerrors"
	"github.com/talostrading/objsrv/protocol"
)

func TestWaitOnSignaledEvent(t *testing.T) {
	loop, _ := newTestLoop(t)
	p, rec := newTestProcess(1)

	ev := NewEvent(false, true)
	defer Release(ev)

	status, w := loop.StartWait(p, ev, 1, 1, -1)
	assert.Equal(t, protocol.StatusSuccess, status)
	assert.Nil(t, w)
	assert.False(t, ev.Signaled(), "auto-reset event is consumed")

	status, _ = loop.StartWait(p, ev, 1, 2, 0)
	assert.Equal(t, protocol.StatusTimeout, status)
	assert.Empty(t, rec.got)
}

func TestAutoResetEventReleasesOneWaiter(t *testing.T) {
	loop, _ := newTestLoop(t)
	p, rec := newTestProcess(1)

	ev := NewEvent(false, false)
	defer Release(ev)

	for token := uint64(1); token <= 2; token++ {
		status, w := loop.StartWait(p, ev, 1, token, -1)
		require.Equal(t, protocol.StatusPending, status)
		require.NotNil(t, w)
	}
	assert.Equal(t, 3, ev.Refs())

	ev.Set()
	require.Len(t, rec.got, 1)
	assert.Equal(t, uint64(1), rec.got[0].Token)
	assert.Equal(t, protocol.AsyncSelect, rec.got[0].Type)
	assert.Equal(t, protocol.StatusSuccess, rec.got[0].Status)
	assert.False(t, ev.Signaled())

	ev.Set()
	assert.Equal(t, []uint64{1, 2}, rec.tokens())
	assert.Equal(t, 1, ev.Refs())
}

func TestManualResetEventReleasesAllWaiters(t *testing.T) {
	loop, _ := newTestLoop(t)
	p, rec := newTestProcess(1)

	ev := NewEvent(true, false)
	defer Release(ev)

	for token := uint64(1); token <= 3; token++ {
		loop.StartWait(p, ev, 1, token, -1)
	}
	ev.Set()
	assert.Equal(t, []uint64{1, 2, 3}, rec.tokens())
	assert.True(t, ev.Signaled())

	ev.Reset()
	assert.False(t, ev.Signaled())
}

func TestWaitTimeout(t *testing.T) {
	loop, clock := newTestLoop(t)
	p, rec := newTestProcess(1)

	ev := NewEvent(true, false)
	defer Release(ev)

	status, w := loop.StartWait(p, ev, 3, 9, 30*time.Millisecond)
	require.Equal(t, protocol.StatusPending, status)

	clock.Advance(30 * time.Millisecond)
	require.NoError(t, loop.PollOne())
	require.Len(t, rec.got, 1)
	assert.Equal(t, protocol.StatusTimeout, rec.got[0].Status)
	assert.Equal(t, uint32(3), rec.got[0].Thread)
	assert.True(t, w.Done())

	// A late signal finds nobody waiting.
	ev.Set()
	assert.Len(t, rec.got, 1)
	assert.Equal(t, 1, ev.Refs())
}

func TestWaitOutlivesHandle(t *testing.T) {
	loop, _ := newTestLoop(t)
	p, rec := newTestProcess(1)

	ev := NewEvent(true, false)
	h := p.Handles().Alloc(ev, protocol.EventMapping.Map(protocol.GenericAll), false)
	Release(ev)

	loop.StartWait(p, ev, 1, 1, -1)
	require.NoError(t, p.Handles().Close(h))
	assert.False(t, ev.Destroyed())

	ev.Set()
	require.Len(t, rec.got, 1)
	assert.True(t, ev.Destroyed())
}

func TestProcessTerminateAbandonsWaits(t *testing.T) {
	loop, _ := newTestLoop(t)
	p, rec := newTestProcess(1)

	ev := NewEvent(true, false)
	defer Release(ev)

	loop.StartWait(p, ev, 1, 1, time.Second)
	p.Terminate()
	assert.Empty(t, rec.got)
	assert.Equal(t, 1, ev.Refs())
	assert.Equal(t, 0, loop.Timeouts().Len())
	assert.True(t, p.Dead())
}

func TestEventHasNoFd(t *testing.T) {
	ev := NewEvent(false, false)
	defer Release(ev)

	_, err := ev.Fd()
	assert.ErrorIs(t, err, objerrors.ErrObjectTypeMismatch)
	_, err = ev.FileInfo()
	assert.ErrorIs(t, err, objerrors.ErrObjectTypeMismatch)
}
