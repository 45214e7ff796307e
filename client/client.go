// Package client speaks the object server protocol over its unix socket. Requests are
// synchronous; completions of asynchronous operations are queued and read with
// NextCompletion.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"

	"github.com/eapache/queue"

	"github.com/talostrading/objsrv/objerrors"
	"github.com/talostrading/objsrv/protocol"
)

// Completion is the terminal outcome of an asynchronous operation or a wait.
type Completion struct {
	protocol.Completion
	Status protocol.Status
	Data   []byte
}

type reply struct {
	status  protocol.Status
	payload []byte
}

type Client struct {
	conn net.Conn
	pid  uint32

	// mu serializes requests: one in flight at a time, so replies arrive in order.
	mu      sync.Mutex
	replies chan reply

	cmu         sync.Mutex
	completions *queue.Queue
	notify      chan struct{}

	done    chan struct{}
	readErr error
	once    sync.Once
}

// Dial connects to the server at path and sends init with the given protocol version.
func Dial(path string, version string) (*Client, error) {
	conn, err := net.Dial("unix", path)
	if err != nil {
		return nil, err
	}

	c := &Client{
		conn:        conn,
		replies:     make(chan reply, 1),
		completions: queue.New(),
		notify:      make(chan struct{}, 1),
		done:        make(chan struct{}),
	}
	go c.read()

	status, payload, err := c.call(protocol.OpInit, &protocol.InitRequest{ClientPid: uint32(os.Getpid())}, []byte(version))
	if err == nil && status.IsError() {
		err = status
	}
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("init: %w", err)
	}

	var r protocol.InitReply
	if _, err := protocol.DecodeBody(payload, &r); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("init reply: %w", err)
	}
	c.pid = r.ProcessID
	return c, nil
}

// ProcessID is the id the server gave this client.
func (c *Client) ProcessID() uint32 {
	return c.pid
}

func (c *Client) read() {
	defer close(c.done)

	var hdr [protocol.ReplyHeaderLen]byte
	for {
		if _, err := io.ReadFull(c.conn, hdr[:]); err != nil {
			c.readErr = err
			return
		}
		h, _ := protocol.ParseReplyHeader(hdr[:])
		payload := make([]byte, h.Size)
		if _, err := io.ReadFull(c.conn, payload); err != nil {
			c.readErr = err
			return
		}

		switch h.Kind {
		case protocol.KindReply:
			c.replies <- reply{status: h.Status, payload: payload}
		case protocol.KindCompletion:
			var cpl Completion
			tail, err := protocol.DecodeBody(payload, &cpl.Completion)
			if err != nil {
				c.readErr = err
				return
			}
			cpl.Status = h.Status
			cpl.Data = tail

			c.cmu.Lock()
			c.completions.Add(cpl)
			c.cmu.Unlock()
			select {
			case c.notify <- struct{}{}:
			default:
			}
		default:
			c.readErr = fmt.Errorf("unexpected message kind %d", h.Kind)
			return
		}
	}
}

func (c *Client) call(op protocol.Opcode, body any, tail []byte) (protocol.Status, []byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	b := protocol.EncodeRequest(op, body, tail)
	_, err := c.conn.Write(b.B)
	protocol.Release(b)
	if err != nil {
		return 0, nil, err
	}

	select {
	case r := <-c.replies:
		return r.status, r.payload, nil
	case <-c.done:
		return 0, nil, c.closedErr()
	}
}

// do sends a request and turns error statuses into errors.
func (c *Client) do(op protocol.Opcode, body any, tail []byte, out any) (protocol.Status, []byte, error) {
	status, payload, err := c.call(op, body, tail)
	if err != nil {
		return 0, nil, err
	}
	if status.IsError() {
		return status, nil, status
	}
	if out != nil {
		if payload, err = protocol.DecodeBody(payload, out); err != nil {
			return status, nil, err
		}
	}
	return status, payload, nil
}

func (c *Client) closedErr() error {
	if c.readErr == nil || errors.Is(c.readErr, io.EOF) || errors.Is(c.readErr, net.ErrClosed) {
		return objerrors.ErrClosed
	}
	return c.readErr
}

// NextCompletion returns the oldest undelivered completion, waiting for one if needed.
func (c *Client) NextCompletion(ctx context.Context) (Completion, error) {
	for {
		c.cmu.Lock()
		if c.completions.Length() > 0 {
			cpl := c.completions.Remove().(Completion)
			c.cmu.Unlock()
			return cpl, nil
		}
		c.cmu.Unlock()

		select {
		case <-c.notify:
		case <-c.done:
			c.cmu.Lock()
			n := c.completions.Length()
			c.cmu.Unlock()
			if n == 0 {
				return Completion{}, c.closedErr()
			}
		case <-ctx.Done():
			return Completion{}, ctx.Err()
		}
	}
}

// PendingCompletions returns how many completions were received but not yet returned.
func (c *Client) PendingCompletions() int {
	c.cmu.Lock()
	defer c.cmu.Unlock()
	return c.completions.Length()
}

func (c *Client) Close() error {
	var err error
	c.once.Do(func() {
		err = c.conn.Close()
		<-c.done
	})
	return err
}
