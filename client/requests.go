package client

import (
	"time"

	"github.com/talostrading/objsrv/protocol"
)

func (c *Client) CreateSerial(path string, access protocol.Access, attributes uint32) (protocol.Handle, error) {
	var r protocol.HandleReply
	_, _, err := c.do(protocol.OpCreateSerial, &protocol.CreateSerialRequest{
		Access:     access,
		Attributes: attributes,
	}, []byte(path), &r)
	return r.Handle, err
}

func (c *Client) CreateEvent(manualReset, initialState bool) (protocol.Handle, error) {
	req := &protocol.CreateEventRequest{Access: protocol.GenericAll}
	if manualReset {
		req.ManualReset = 1
	}
	if initialState {
		req.InitialState = 1
	}

	var r protocol.HandleReply
	_, _, err := c.do(protocol.OpCreateEvent, req, nil, &r)
	return r.Handle, err
}

func (c *Client) SetEvent(h protocol.Handle) error {
	_, _, err := c.do(protocol.OpSetEvent, &protocol.HandleRequest{Handle: h}, nil, nil)
	return err
}

func (c *Client) ResetEvent(h protocol.Handle) error {
	_, _, err := c.do(protocol.OpResetEvent, &protocol.HandleRequest{Handle: h}, nil, nil)
	return err
}

func (c *Client) CloseHandle(h protocol.Handle) error {
	_, _, err := c.do(protocol.OpCloseHandle, &protocol.HandleRequest{Handle: h}, nil, nil)
	return err
}

// DupHandle duplicates h into the process dst, 0 meaning this one.
func (c *Client) DupHandle(h protocol.Handle, dst uint32, access protocol.Access, options uint32) (protocol.Handle, error) {
	var r protocol.HandleReply
	_, _, err := c.do(protocol.OpDupHandle, &protocol.DupHandleRequest{
		Handle:     h,
		DstProcess: dst,
		Access:     access,
		Options:    options,
	}, nil, &r)
	return r.Handle, err
}

func (c *Client) FileInfo(h protocol.Handle) (info protocol.FileInfoReply, err error) {
	_, _, err = c.do(protocol.OpGetFileInfo, &protocol.HandleRequest{Handle: h}, nil, &info)
	return info, err
}

func (c *Client) SerialInfo(h protocol.Handle) (info protocol.SerialInfo, err error) {
	_, _, err = c.do(protocol.OpGetSerialInfo, &protocol.HandleRequest{Handle: h}, nil, &info)
	return info, err
}

func (c *Client) SetSerialInfo(h protocol.Handle, flags uint32, info protocol.SerialInfo) error {
	_, _, err := c.do(protocol.OpSetSerialInfo, &protocol.SetSerialInfoRequest{
		Handle: h,
		Flags:  flags,
		Info:   info,
	}, nil, nil)
	return err
}

func (c *Client) queueAsync(req *protocol.QueueAsyncRequest, data []byte) (protocol.Status, error) {
	status, _, err := c.do(protocol.OpQueueAsync, req, data, nil)
	return status, err
}

// Read queues a read of count bytes. The data arrives with the completion.
func (c *Client) Read(h protocol.Handle, thread uint32, token uint64, count uint32) (protocol.Status, error) {
	return c.queueAsync(&protocol.QueueAsyncRequest{
		Handle: h,
		Type:   protocol.AsyncRead,
		Status: protocol.StatusPending,
		Thread: thread,
		Token:  token,
		Count:  count,
	}, nil)
}

func (c *Client) Write(h protocol.Handle, thread uint32, token uint64, data []byte) (protocol.Status, error) {
	return c.queueAsync(&protocol.QueueAsyncRequest{
		Handle: h,
		Type:   protocol.AsyncWrite,
		Status: protocol.StatusPending,
		Thread: thread,
		Token:  token,
		Count:  uint32(len(data)),
	}, data)
}

// WaitCommEvent waits for one of the events in the device's event mask.
func (c *Client) WaitCommEvent(h protocol.Handle, thread uint32, token uint64) (protocol.Status, error) {
	return c.queueAsync(&protocol.QueueAsyncRequest{
		Handle: h,
		Type:   protocol.AsyncWait,
		Status: protocol.StatusPending,
		Thread: thread,
		Token:  token,
	}, nil)
}

// Cancel terminates the operation (thread, token) with StatusCancelled.
func (c *Client) Cancel(h protocol.Handle, typ protocol.AsyncType, thread uint32, token uint64) error {
	_, err := c.queueAsync(&protocol.QueueAsyncRequest{
		Handle: h,
		Type:   typ,
		Status: protocol.StatusCancelled,
		Thread: thread,
		Token:  token,
	}, nil)
	return err
}

func (c *Client) Flush(h protocol.Handle) error {
	_, _, err := c.do(protocol.OpFlush, &protocol.HandleRequest{Handle: h}, nil, nil)
	return err
}

// Wait waits for h to become signaled. StatusSuccess and StatusTimeout are immediate
// outcomes; with StatusPending the outcome arrives as a completion. A negative timeout
// waits forever.
func (c *Client) Wait(h protocol.Handle, thread uint32, token uint64, timeout time.Duration) (protocol.Status, error) {
	ms := protocol.InfiniteTimeout
	if timeout >= 0 {
		ms = int32(timeout / time.Millisecond)
	}
	status, _, err := c.do(protocol.OpWait, &protocol.WaitRequest{
		Handle:    h,
		Thread:    thread,
		Token:     token,
		TimeoutMs: ms,
	}, nil, nil)
	return status, err
}

func (c *Client) Dump(h protocol.Handle) (string, error) {
	_, tail, err := c.do(protocol.OpDump, &protocol.HandleRequest{Handle: h}, nil, nil)
	return string(tail), err
}
