package objsrv

import (
	"container/heap"
	"time"
)

// Clock returns the current time. The loop uses time.Now; tests substitute a fake.
type Clock func() time.Time

// TimeoutUser is one scheduled callback.
type TimeoutUser struct {
	when      time.Time
	seq       uint64
	cb        func()
	index     int
	cancelled bool
}

func (u *TimeoutUser) When() time.Time {
	return u.when
}

// Scheduled reports whether the callback is still due to run.
func (u *TimeoutUser) Scheduled() bool {
	return u != nil && u.index >= 0 && !u.cancelled
}

type timeoutHeap []*TimeoutUser

func (h timeoutHeap) Len() int { return len(h) }

func (h timeoutHeap) Less(i, j int) bool {
	if h[i].when.Equal(h[j].when) {
		return h[i].seq < h[j].seq
	}
	return h[i].when.Before(h[j].when)
}

func (h timeoutHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timeoutHeap) Push(x any) {
	u := x.(*TimeoutUser)
	u.index = len(*h)
	*h = append(*h, u)
}

func (h *timeoutHeap) Pop() any {
	old := *h
	n := len(old)
	u := old[n-1]
	old[n-1] = nil
	u.index = -1
	*h = old[:n-1]
	return u
}

// Timeouts associates absolute deadlines with callbacks. Callbacks with equal deadlines
// run in the order they were added.
type Timeouts struct {
	now Clock
	h   timeoutHeap
	seq uint64
}

func NewTimeouts(now Clock) *Timeouts {
	if now == nil {
		now = time.Now
	}
	return &Timeouts{now: now}
}

func (t *Timeouts) Now() time.Time {
	return t.now()
}

func (t *Timeouts) Add(when time.Time, cb func()) *TimeoutUser {
	t.seq++
	u := &TimeoutUser{when: when, seq: t.seq, cb: cb}
	heap.Push(&t.h, u)
	return u
}

func (t *Timeouts) AddAfter(d time.Duration, cb func()) *TimeoutUser {
	return t.Add(t.now().Add(d), cb)
}

// Remove unschedules u. Removing a nil, fired or already removed user is a no-op.
func (t *Timeouts) Remove(u *TimeoutUser) {
	if u == nil || u.cancelled {
		return
	}
	u.cancelled = true
	if u.index >= 0 {
		heap.Remove(&t.h, u.index)
	}
}

func (t *Timeouts) Len() int {
	return len(t.h)
}

// Next returns the time left until the earliest deadline, zero if it already passed,
// and false if nothing is scheduled.
func (t *Timeouts) Next() (time.Duration, bool) {
	if len(t.h) == 0 {
		return 0, false
	}
	d := t.h[0].when.Sub(t.now())
	if d < 0 {
		d = 0
	}
	return d, true
}

// Expire runs every callback whose deadline has passed and returns how many ran. The
// expired set is taken before any callback runs, so a callback may add new timeouts or
// remove expired ones that have not run yet.
func (t *Timeouts) Expire() int {
	now := t.now()

	var expired []*TimeoutUser
	for len(t.h) > 0 && !t.h[0].when.After(now) {
		expired = append(expired, heap.Pop(&t.h).(*TimeoutUser))
	}

	ran := 0
	for _, u := range expired {
		if u.cancelled {
			continue
		}
		u.cancelled = true
		u.cb()
		ran++
	}
	return ran
}
