package objsrv

import (
	"errors"

	"github.com/eapache/queue"
	"github.com/valyala/bytebufferpool"
	"golang.org/x/sys/unix"

	"github.com/talostrading/objsrv/internal"
	"github.com/talostrading/objsrv/protocol"
)

const connReadSize = 4096

// clientConn is the server end of one client connection. It owns the Process the
// connection stands for and delivers its replies and completions in order.
type clientConn struct {
	srv  *Server
	raw  int
	slot internal.Slot
	proc *Process
	pid  int // peer pid, from SO_PEERCRED

	in []byte

	// out holds the encoded messages not yet written, oldest first. outOff bytes of the
	// head are already on the wire.
	out    *queue.Queue
	outOff int

	// held keeps the completions produced while a request is dispatched, so that they
	// follow its reply.
	dispatching bool
	held        []*bytebufferpool.ByteBuffer

	closed bool
}

var _ Sink = &clientConn{}

func newClientConn(srv *Server, raw int, id uint32) *clientConn {
	c := &clientConn{
		srv: srv,
		raw: raw,
		in:  make([]byte, 0, connReadSize),
		out: queue.New(),
	}
	c.proc = NewProcess(id, c)
	c.slot.Fd = raw
	c.slot.Handler = c.onEvents
	if pid, err := internal.PeerPid(raw); err == nil {
		c.pid = pid
	}
	return c
}

func (c *clientConn) Process() *Process {
	return c.proc
}

func (c *clientConn) onEvents(events uint32) {
	if events&(internal.PollIn|internal.PollErr|internal.PollHup) != 0 {
		alive := c.fill()
		c.parse()
		if !alive {
			c.close()
			return
		}
	}
	if c.closed {
		return
	}
	if events&internal.PollOut != 0 {
		c.flush()
	}
	c.updateEvents()
}

// fill reads everything available. It returns false once the peer is gone.
func (c *clientConn) fill() bool {
	for {
		if len(c.in) == cap(c.in) {
			grown := make([]byte, len(c.in), 2*cap(c.in))
			copy(grown, c.in)
			c.in = grown
		}
		n, err := unix.Read(c.raw, c.in[len(c.in):cap(c.in)])
		switch {
		case err == unix.EINTR:
			continue
		case err == unix.EAGAIN:
			return true
		case err != nil:
			c.srv.logger.Printf("%04x: read: %v", c.proc.ID(), err)
			return false
		case n == 0:
			return false
		}
		c.in = c.in[:len(c.in)+n]
	}
}

func (c *clientConn) parse() {
	off := 0
	for !c.closed {
		hdr, err := protocol.ParseRequestHeader(c.in[off:])
		if errors.Is(err, protocol.ErrNeedMore) {
			break
		}
		if err != nil {
			c.srv.logger.Printf("%04x: dropping connection: %v (opcode %s size %d)",
				c.proc.ID(), err, hdr.Opcode, hdr.Size)
			c.close()
			return
		}

		end := off + protocol.RequestHeaderLen + int(hdr.Size)
		if end > len(c.in) {
			break
		}
		payload := c.in[off+protocol.RequestHeaderLen : end]
		off = end

		c.dispatching = true
		reply := c.srv.dispatch(c, hdr.Opcode, payload)
		c.dispatching = false

		c.push(reply)
		held := c.held
		c.held = nil
		for _, b := range held {
			c.push(b)
		}
	}

	if c.closed {
		return
	}
	n := copy(c.in, c.in[off:])
	c.in = c.in[:n]
}

// Complete queues a completion for the process.
func (c *clientConn) Complete(cpl protocol.Completion, status protocol.Status, data []byte) {
	if c.closed {
		return
	}
	b := protocol.EncodeReply(protocol.KindCompletion, status, &cpl, data)
	if c.dispatching {
		c.held = append(c.held, b)
		return
	}
	c.push(b)
	c.updateEvents()
}

func (c *clientConn) push(b *bytebufferpool.ByteBuffer) {
	if c.closed {
		protocol.Release(b)
		return
	}
	c.out.Add(b)
	if c.out.Length() == 1 {
		c.flush()
	}
}

// flush writes queued messages until the socket would block.
func (c *clientConn) flush() {
	for c.out.Length() > 0 {
		b := c.out.Peek().(*bytebufferpool.ByteBuffer)
		n, err := unix.Write(c.raw, b.B[c.outOff:])
		switch {
		case err == unix.EINTR:
			continue
		case err == unix.EAGAIN:
			return
		case err != nil:
			// Completions may be pushed from another connection's handler, so the
			// teardown runs on its own.
			c.srv.logger.Printf("%04x: write: %v", c.proc.ID(), err)
			c.closeLater()
			return
		}

		c.outOff += n
		if c.outOff == len(b.B) {
			c.out.Remove()
			protocol.Release(b)
			c.outOff = 0
		}
	}
}

func (c *clientConn) updateEvents() {
	if c.closed {
		return
	}
	events := internal.PollIn
	if c.out.Length() > 0 {
		events |= internal.PollOut
	}
	if err := c.srv.loop.poller.SetEvents(&c.slot, events); err != nil {
		c.srv.logger.Printf("%04x: cannot poll connection: %v", c.proc.ID(), err)
	}
}

func (c *clientConn) closeLater() {
	if err := c.srv.loop.Post(c.close); err != nil {
		c.close()
	}
}

// close drops the connection and tears its process down.
func (c *clientConn) close() {
	if c.closed {
		return
	}
	c.closed = true

	_ = c.srv.loop.poller.Del(&c.slot)
	_ = unix.Close(c.raw)

	for c.out.Length() > 0 {
		protocol.Release(c.out.Remove().(*bytebufferpool.ByteBuffer))
	}
	for _, b := range c.held {
		protocol.Release(b)
	}
	c.held = nil

	c.srv.removeConn(c)
	c.proc.Terminate()
}
