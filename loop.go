package objsrv

import (
	"io"
	"log"
	"os"
	"runtime"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/talostrading/objsrv/internal"
	"github.com/talostrading/objsrv/objerrors"
	"github.com/talostrading/objsrv/util"
)

// Loop is the single-threaded event loop every object belongs to. All methods but Post,
// Stop and Close must be called from the goroutine running the loop.
type Loop struct {
	poller   *internal.Poller
	timeouts *Timeouts
	asyncs   *util.Slab[Async]
	logger   *log.Logger

	// completed counts the asynchronous operations that terminated.
	completed uint64

	stopped uint32
	closed  uint32
}

func NewLoop() (*Loop, error) {
	return newLoop(time.Now, nil)
}

func newLoop(now Clock, logger *log.Logger) (*Loop, error) {
	poller, err := internal.NewPoller()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.New(os.Stderr, "objsrv: ", log.LstdFlags|log.Lmicroseconds)
	}

	return &Loop{
		poller:   poller,
		timeouts: NewTimeouts(now),
		asyncs:   util.NewSlab[Async](),
		logger:   logger,
	}, nil
}

func MustLoop() *Loop {
	l, err := NewLoop()
	if err != nil {
		panic(err)
	}
	return l
}

func (l *Loop) Timeouts() *Timeouts {
	return l.timeouts
}

func (l *Loop) Logger() *log.Logger {
	return l.logger
}

func (l *Loop) SetLogger(logger *log.Logger) {
	l.logger = logger
}

// Pending returns the number of queued asynchronous operations.
func (l *Loop) Pending() int {
	return l.asyncs.Len()
}

// Completed returns the number of asynchronous operations that terminated so far.
func (l *Loop) Completed() uint64 {
	return l.completed
}

// Registered returns the number of descriptors being polled.
func (l *Loop) Registered() int {
	return l.poller.Registered()
}

// Run runs the loop until Stop is called or polling fails.
func (l *Loop) Run() error {
	for atomic.LoadUint32(&l.stopped) == 0 {
		if err := l.RunOne(); err != nil && err != objerrors.ErrTimeout {
			return err
		}
	}
	return nil
}

// RunOne runs one iteration, blocking until a descriptor is ready or the earliest
// timeout expires.
func (l *Loop) RunOne() error {
	return l.run(-1)
}

// RunOneFor is RunOne bounded by d.
func (l *Loop) RunOneFor(d time.Duration) error {
	return l.run(internal.DurationToPollTimeout(int64(d)))
}

// PollOne runs one iteration without blocking. It returns ErrTimeout if there was
// nothing to do.
func (l *Loop) PollOne() error {
	return l.run(0)
}

// run waits for the descriptors at most until the next deadline, handles the ready ones
// and then expires the timeouts, so data arriving together with a deadline wins.
func (l *Loop) run(timeoutMs int) error {
	if d, ok := l.timeouts.Next(); ok {
		ms := internal.DurationToPollTimeout(int64(d))
		if timeoutMs < 0 || ms < timeoutMs {
			timeoutMs = ms
		}
	}

	n, err := l.poller.Poll(timeoutMs)
	expired := l.timeouts.Expire()

	switch {
	case err == nil:
		return nil
	case err == internal.ErrTimeout:
		if n+expired > 0 {
			return nil
		}
		return objerrors.ErrTimeout
	case err == syscall.EINTR:
		if expired > 0 {
			return nil
		}
		if timeoutMs >= 0 {
			return objerrors.ErrTimeout
		}
		runtime.Gosched()
		return nil
	case err == internal.ErrClosed:
		return objerrors.ErrClosed
	default:
		return os.NewSyscallError("epoll_wait", err)
	}
}

// Post schedules fn to run on the loop goroutine. It is safe for concurrent use.
func (l *Loop) Post(fn func()) error {
	if err := l.poller.Post(fn); err != nil {
		return objerrors.ErrClosed
	}
	return nil
}

// Stop makes Run return after the current iteration. It is safe for concurrent use.
func (l *Loop) Stop() {
	atomic.StoreUint32(&l.stopped, 1)
	_ = l.poller.Post(func() {})
}

func (l *Loop) Close() error {
	if !atomic.CompareAndSwapUint32(&l.closed, 0, 1) {
		return io.EOF
	}
	return l.poller.Close()
}

func (l *Loop) Closed() bool {
	return atomic.LoadUint32(&l.closed) == 1
}
