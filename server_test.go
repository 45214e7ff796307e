package objsrv

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/talostrading/objsrv/client"
	"github.com/talostrading/objsrv/internal"
	"github.com/talostrading/objsrv/objopts"
	"github.com/talostrading/objsrv/protocol"
)

func newTestServer(t *testing.T, opts ...objopts.Option) *Server {
	path := filepath.Join(t.TempDir(), "s.sock")
	opts = append([]objopts.Option{
		objopts.SocketPath(path),
		objopts.Logger(discard),
		objopts.Debug(true),
	}, opts...)

	srv, err := NewServer(opts...)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- srv.Run() }()

	t.Cleanup(func() {
		srv.Shutdown()
		require.NoError(t, <-done)
		require.NoError(t, srv.Close())
	})
	return srv
}

// onLoop runs fn on the server's loop goroutine and returns its result.
func onLoop[T any](t *testing.T, srv *Server, fn func() T) T {
	t.Helper()
	ch := make(chan T, 1)
	require.NoError(t, srv.Loop().Post(func() { ch <- fn() }))
	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not run the posted function")
		panic("unreachable")
	}
}

func dial(t *testing.T, srv *Server) *client.Client {
	c, err := client.Dial(srv.Path(), protocol.Version)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func nextCompletion(t *testing.T, c *client.Client) client.Completion {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	cpl, err := c.NextCompletion(ctx)
	require.NoError(t, err)
	return cpl
}

func openPty(t *testing.T) (master int, path string) {
	master, path, err := internal.OpenPty()
	require.NoError(t, err)
	t.Cleanup(func() { unix.Close(master) })
	return master, path
}

func TestServerInitVersion(t *testing.T) {
	srv := newTestServer(t)

	c := dial(t, srv)
	assert.NotZero(t, c.ProcessID())

	_, err := client.Dial(srv.Path(), "2.0.0")
	assert.ErrorIs(t, err, protocol.StatusRevisionMismatch)

	_, err = client.Dial(srv.Path(), "not a version")
	assert.ErrorIs(t, err, protocol.StatusRevisionMismatch)

	assert.Equal(t, 1, onLoop(t, srv, srv.Processes))
}

func TestServerVersionConstraintOption(t *testing.T) {
	srv := newTestServer(t, objopts.VersionConstraint(">= 2.0.0"))

	_, err := client.Dial(srv.Path(), "1.2.0")
	assert.ErrorIs(t, err, protocol.StatusRevisionMismatch)

	c, err := client.Dial(srv.Path(), "2.1.0")
	require.NoError(t, err)
	c.Close()
}

func TestServerEventWait(t *testing.T) {
	srv := newTestServer(t)
	c := dial(t, srv)

	h, err := c.CreateEvent(false, false)
	require.NoError(t, err)

	status, err := c.Wait(h, 1, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, protocol.StatusTimeout, status)

	status, err = c.Wait(h, 1, 11, -1)
	require.NoError(t, err)
	assert.Equal(t, protocol.StatusPending, status)

	require.NoError(t, c.SetEvent(h))
	cpl := nextCompletion(t, c)
	assert.Equal(t, uint64(11), cpl.Token)
	assert.Equal(t, protocol.AsyncSelect, cpl.Type)
	assert.Equal(t, protocol.StatusSuccess, cpl.Status)

	status, err = c.Wait(h, 1, 12, 20*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, protocol.StatusPending, status)
	cpl = nextCompletion(t, c)
	assert.Equal(t, uint64(12), cpl.Token)
	assert.Equal(t, protocol.StatusTimeout, cpl.Status)

	require.NoError(t, c.CloseHandle(h))
	assert.ErrorIs(t, c.SetEvent(h), protocol.StatusInvalidHandle)
}

func TestServerSerialReadWrite(t *testing.T) {
	srv := newTestServer(t)
	c := dial(t, srv)
	master, path := openPty(t)

	h, err := c.CreateSerial(path, protocol.GenericRead|protocol.GenericWrite, protocol.FileFlagOverlapped)
	require.NoError(t, err)

	info, err := c.FileInfo(h)
	require.NoError(t, err)
	assert.Equal(t, protocol.FdFlagOverlapped, info.Flags)
	assert.Equal(t, protocol.FileTypeChar, info.Type)

	status, err := c.Read(h, 7, 1, 4)
	require.NoError(t, err)
	assert.Equal(t, protocol.StatusPending, status)

	_, err = unix.Write(master, []byte("ping"))
	require.NoError(t, err)

	cpl := nextCompletion(t, c)
	assert.Equal(t, protocol.StatusSuccess, cpl.Status)
	assert.Equal(t, uint32(7), cpl.Thread)
	assert.Equal(t, "ping", string(cpl.Data))

	status, err = c.Write(h, 7, 2, []byte("pong"))
	require.NoError(t, err)
	assert.Equal(t, protocol.StatusPending, status)
	cpl = nextCompletion(t, c)
	assert.Equal(t, protocol.StatusSuccess, cpl.Status)
	assert.Equal(t, uint32(4), cpl.Transferred)

	b := make([]byte, 8)
	require.Eventually(t, func() bool {
		return internal.CheckEvents(master, internal.PollIn)&internal.PollIn != 0
	}, time.Second, time.Millisecond)
	n, err := unix.Read(master, b)
	require.NoError(t, err)
	assert.Equal(t, "pong", string(b[:n]))

	require.NoError(t, c.Flush(h))

	dump, err := c.Dump(h)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(dump, "Serial device "+path), dump)
}

func TestServerSerialInfoAndCancel(t *testing.T) {
	srv := newTestServer(t)
	c := dial(t, srv)
	_, path := openPty(t)

	h, err := c.CreateSerial(path, protocol.GenericRead|protocol.GenericWrite, 0)
	require.NoError(t, err)

	want := protocol.SerialInfo{ReadConst: 100, ReadMult: 10, EventMask: protocol.EvRxChar}
	require.NoError(t, c.SetSerialInfo(h, protocol.SerialInfoTimeouts|protocol.SerialInfoEventMask, want))
	got, err := c.SerialInfo(h)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	for token := uint64(1); token <= 2; token++ {
		status, err := c.WaitCommEvent(h, 1, token)
		require.NoError(t, err)
		assert.Equal(t, protocol.StatusPending, status)
	}

	require.NoError(t, c.Cancel(h, protocol.AsyncWait, 1, 2))
	cpl := nextCompletion(t, c)
	assert.Equal(t, uint64(2), cpl.Token)
	assert.Equal(t, protocol.StatusCancelled, cpl.Status)

	err = c.Cancel(h, protocol.AsyncWait, 1, 2)
	assert.ErrorIs(t, err, protocol.StatusNotFound)

	require.NoError(t, c.SetSerialInfo(h, protocol.SerialInfoEventMask, protocol.SerialInfo{}))
	cpl = nextCompletion(t, c)
	assert.Equal(t, uint64(1), cpl.Token)
	assert.Equal(t, protocol.StatusSuccess, cpl.Status)
}

func TestServerAccessChecks(t *testing.T) {
	srv := newTestServer(t)
	c := dial(t, srv)
	_, path := openPty(t)

	h, err := c.CreateSerial(path, protocol.GenericRead, 0)
	require.NoError(t, err)

	_, err = c.Write(h, 1, 1, []byte("x"))
	assert.ErrorIs(t, err, protocol.StatusAccessDenied)
	assert.ErrorIs(t, c.Flush(h), protocol.StatusAccessDenied)
	assert.ErrorIs(t, c.SetSerialInfo(h, protocol.SerialInfoCommError, protocol.SerialInfo{}), protocol.StatusAccessDenied)

	ev, err := c.CreateEvent(true, false)
	require.NoError(t, err)
	assert.ErrorIs(t, c.Flush(ev), protocol.StatusObjectTypeMismatch)
	_, err = c.SerialInfo(ev)
	assert.ErrorIs(t, err, protocol.StatusObjectTypeMismatch)

	_, err = c.CreateSerial(filepath.Join(t.TempDir(), "nope"), protocol.GenericRead, 0)
	assert.ErrorIs(t, err, protocol.StatusObjectNameNotFound)
}

func TestServerDuplicateAcrossProcesses(t *testing.T) {
	srv := newTestServer(t)
	a := dial(t, srv)
	b := dial(t, srv)

	h, err := a.CreateEvent(false, false)
	require.NoError(t, err)

	bh, err := a.DupHandle(h, b.ProcessID(), 0, protocol.DupSameAccess)
	require.NoError(t, err)

	status, err := b.Wait(bh, 2, 5, -1)
	require.NoError(t, err)
	assert.Equal(t, protocol.StatusPending, status)

	require.NoError(t, a.SetEvent(h))
	cpl := nextCompletion(t, b)
	assert.Equal(t, uint64(5), cpl.Token)
	assert.Equal(t, protocol.StatusSuccess, cpl.Status)

	_, err = a.DupHandle(h, 0xdead, 0, protocol.DupSameAccess)
	assert.ErrorIs(t, err, protocol.StatusInvalidParameter)
}

func TestServerDisconnectDestroysObjects(t *testing.T) {
	srv := newTestServer(t)
	c := dial(t, srv)
	_, path := openPty(t)

	h, err := c.CreateSerial(path, protocol.GenericRead|protocol.GenericWrite, 0)
	require.NoError(t, err)
	_, err = c.Read(h, 1, 1, 10)
	require.NoError(t, err)

	assert.Equal(t, 1, onLoop(t, srv, func() int { return len(srv.serials) }))
	assert.Equal(t, 1, onLoop(t, srv, srv.loop.Pending))

	require.NoError(t, c.Close())
	deadline := time.Now().Add(5 * time.Second)
	for onLoop(t, srv, func() int { return len(srv.serials) + srv.loop.Pending() + srv.Processes() }) > 0 {
		require.True(t, time.Now().Before(deadline), "process was not torn down")
		time.Sleep(10 * time.Millisecond)
	}
}

func TestServerStats(t *testing.T) {
	srv := newTestServer(t)
	c := dial(t, srv)

	_, err := c.CreateEvent(false, false)
	require.NoError(t, err)

	count := onLoop(t, srv, func() int64 { return srv.Stats().Count(protocol.OpCreateEvent.String()) })
	assert.Equal(t, int64(1), count)
}

// rawConn speaks the wire protocol directly.
type rawConn struct {
	t    *testing.T
	conn net.Conn
}

func dialRaw(t *testing.T, srv *Server) *rawConn {
	conn, err := net.Dial("unix", srv.Path())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))
	return &rawConn{t: t, conn: conn}
}

func (r *rawConn) send(op protocol.Opcode, body any, tail []byte) {
	b := protocol.EncodeRequest(op, body, tail)
	defer protocol.Release(b)
	_, err := r.conn.Write(b.B)
	require.NoError(r.t, err)
}

func (r *rawConn) recv() (protocol.ReplyHeader, []byte) {
	var hdr [protocol.ReplyHeaderLen]byte
	_, err := io.ReadFull(r.conn, hdr[:])
	require.NoError(r.t, err)
	h, err := protocol.ParseReplyHeader(hdr[:])
	require.NoError(r.t, err)
	payload := make([]byte, h.Size)
	_, err = io.ReadFull(r.conn, payload)
	require.NoError(r.t, err)
	return h, payload
}

func (r *rawConn) init() {
	r.send(protocol.OpInit, &protocol.InitRequest{}, []byte(protocol.Version))
	h, payload := r.recv()
	require.Equal(r.t, protocol.StatusSuccess, h.Status)

	var reply protocol.InitReply
	tail, err := protocol.DecodeBody(payload, &reply)
	require.NoError(r.t, err)
	require.Equal(r.t, protocol.Version, string(tail))
}

func TestServerRequiresInit(t *testing.T) {
	srv := newTestServer(t)
	r := dialRaw(t, srv)

	r.send(protocol.OpCreateEvent, &protocol.CreateEventRequest{}, nil)
	h, _ := r.recv()
	assert.Equal(t, protocol.KindReply, h.Kind)
	assert.Equal(t, protocol.StatusInvalidDeviceRequest, h.Status)

	r.init()
	r.send(protocol.OpInit, &protocol.InitRequest{}, []byte(protocol.Version))
	h, _ = r.recv()
	assert.Equal(t, protocol.StatusInvalidParameter, h.Status)
}

func TestServerMalformedRequests(t *testing.T) {
	srv := newTestServer(t)
	r := dialRaw(t, srv)
	r.init()

	r.send(protocol.MaxOpcode+3, nil, nil)
	h, _ := r.recv()
	assert.Equal(t, protocol.StatusInvalidParameter, h.Status)

	r.send(protocol.OpDupHandle, nil, []byte{1, 2})
	h, _ = r.recv()
	assert.Equal(t, protocol.StatusInvalidParameter, h.Status)

	// Still in sync.
	r.send(protocol.OpCreateEvent, &protocol.CreateEventRequest{Access: protocol.GenericAll}, nil)
	h, _ = r.recv()
	assert.Equal(t, protocol.StatusSuccess, h.Status)

	var hdr [protocol.RequestHeaderLen]byte
	binary.LittleEndian.PutUint32(hdr[0:], uint32(protocol.OpCreateEvent))
	binary.LittleEndian.PutUint32(hdr[4:], protocol.MaxRequestSize+1)
	_, err := r.conn.Write(hdr[:])
	require.NoError(t, err)

	_, err = r.conn.Read(make([]byte, 1))
	assert.True(t, errors.Is(err, io.EOF) || errors.Is(err, unix.ECONNRESET), "got %v", err)
}

func TestServerReplyPrecedesCompletion(t *testing.T) {
	srv := newTestServer(t)
	r := dialRaw(t, srv)
	r.init()

	master, path := openPty(t)
	r.send(protocol.OpCreateSerial, &protocol.CreateSerialRequest{Access: protocol.GenericRead}, []byte(path))
	h, payload := r.recv()
	require.Equal(t, protocol.StatusSuccess, h.Status)
	var serial protocol.HandleReply
	_, err := protocol.DecodeBody(payload, &serial)
	require.NoError(t, err)

	_, err = unix.Write(master, []byte("hi"))
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)

	// The data is already there, so the read completes while it is being queued.
	r.send(protocol.OpQueueAsync, &protocol.QueueAsyncRequest{
		Handle: serial.Handle,
		Type:   protocol.AsyncRead,
		Status: protocol.StatusPending,
		Thread: 1,
		Token:  42,
		Count:  2,
	}, nil)

	h, _ = r.recv()
	assert.Equal(t, protocol.KindReply, h.Kind)
	assert.Equal(t, protocol.StatusPending, h.Status)

	h, payload = r.recv()
	assert.Equal(t, protocol.KindCompletion, h.Kind)
	assert.Equal(t, protocol.StatusSuccess, h.Status)
	var cpl protocol.Completion
	data, err := protocol.DecodeBody(payload, &cpl)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), cpl.Token)
	assert.Equal(t, "hi", string(data))
}
