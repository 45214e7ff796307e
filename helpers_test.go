package objsrv

import (
	"io"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/talostrading/objsrv/protocol"
)

type fakeClock struct {
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

var discard = log.New(io.Discard, "", 0)

func newTestLoop(t *testing.T) (*Loop, *fakeClock) {
	clock := newFakeClock()
	loop, err := newLoop(clock.Now, discard)
	require.NoError(t, err)
	t.Cleanup(func() { loop.Close() })
	return loop, clock
}

type recorded struct {
	protocol.Completion
	Status protocol.Status
	Data   []byte
}

type recorder struct {
	got []recorded
}

func (r *recorder) Complete(c protocol.Completion, status protocol.Status, data []byte) {
	r.got = append(r.got, recorded{
		Completion: c,
		Status:     status,
		Data:       append([]byte(nil), data...),
	})
}

func (r *recorder) tokens() []uint64 {
	tokens := make([]uint64, 0, len(r.got))
	for _, c := range r.got {
		tokens = append(tokens, c.Token)
	}
	return tokens
}

func newTestProcess(id uint32) (*Process, *recorder) {
	rec := &recorder{}
	p := NewProcess(id, rec)
	p.initialized = true
	return p, rec
}

// runUntil iterates the loop until cond holds. Timeouts only fire if the test advances
// the clock.
func runUntil(t *testing.T, loop *Loop, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		require.True(t, time.Now().Before(deadline), "condition not met in time")
		_ = loop.RunOneFor(10 * time.Millisecond)
	}
}
