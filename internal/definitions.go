package internal

// Poll event bits. On linux the epoll bits share the poll(2) values, so the same
// vocabulary is used for interest sets, epoll results and zero-timeout probes.
const (
	PollIn  uint32 = 0x001
	PollPri uint32 = 0x002
	PollOut uint32 = 0x004
	PollErr uint32 = 0x008
	PollHup uint32 = 0x010
)

// Handler is invoked by the Poller with the events observed on a Slot.
type Handler func(events uint32)

// Slot is the Poller's view of one file descriptor.
type Slot struct {
	Fd int // Set by the owner at construction time.

	// Events is the interest set currently registered with the Poller. Zero means the
	// descriptor is not in the epoll set.
	Events uint32

	Handler Handler

	// gen is stamped by the Poller each time the descriptor is added.
	gen uint32
}

type Waker interface {
	Fd() int
	Wake() error
	Drain()
	Close() error
}
