package objsrv

import "github.com/talostrading/objsrv/protocol"

// Sink receives the completions addressed to a process.
type Sink interface {
	Complete(c protocol.Completion, status protocol.Status, data []byte)
}

// Process is the server-side state of one client connection: its handle table, its
// outstanding waits and the sink completions are delivered to.
type Process struct {
	id          uint32
	handles     *HandleTable
	sink        Sink
	initialized bool
	waits       map[*Waiter]struct{}
	asyncs      map[*Async]struct{}
	dead        bool
}

func NewProcess(id uint32, sink Sink) *Process {
	return &Process{
		id:      id,
		handles: NewHandleTable(),
		sink:    sink,
		waits:   make(map[*Waiter]struct{}),
		asyncs:  make(map[*Async]struct{}),
	}
}

func (p *Process) ID() uint32 {
	return p.id
}

func (p *Process) Handles() *HandleTable {
	return p.handles
}

func (p *Process) Initialized() bool {
	return p.initialized
}

func (p *Process) Dead() bool {
	return p.dead
}

func (p *Process) complete(c protocol.Completion, status protocol.Status, data []byte) {
	if p.dead || p.sink == nil {
		return
	}
	p.sink.Complete(c, status, data)
}

// Pending returns the number of asynchronous operations the process has queued.
func (p *Process) Pending() int {
	return len(p.asyncs)
}

// Terminate tears the process down: its waits and queued operations are cancelled and
// every handle is closed. Nothing is delivered to the sink afterwards.
func (p *Process) Terminate() {
	if p.dead {
		return
	}
	p.dead = true

	for w := range p.waits {
		w.finish(protocol.StatusCancelled)
	}
	for a := range p.asyncs {
		a.Terminate(protocol.StatusCancelled)
	}
	p.handles.CloseAll()
}
