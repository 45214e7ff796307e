package objsrv

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/valyala/bytebufferpool"

	"github.com/talostrading/objsrv/objerrors"
	"github.com/talostrading/objsrv/protocol"
)

// requestHandler serves one decoded request. It returns the reply body and tail, or an
// error which becomes the reply status. A protocol.Status may be returned as the error to
// reply with it directly, StatusPending included.
type requestHandler func(s *Server, c *clientConn, req any, tail []byte) (reply any, replyTail []byte, err error)

var handlers = [protocol.MaxOpcode]requestHandler{
	protocol.OpInit:          handleInit,
	protocol.OpCreateSerial:  handleCreateSerial,
	protocol.OpCreateEvent:   handleCreateEvent,
	protocol.OpSetEvent:      handleSetEvent,
	protocol.OpResetEvent:    handleResetEvent,
	protocol.OpCloseHandle:   handleCloseHandle,
	protocol.OpDupHandle:     handleDupHandle,
	protocol.OpGetFileInfo:   handleGetFileInfo,
	protocol.OpGetSerialInfo: handleGetSerialInfo,
	protocol.OpSetSerialInfo: handleSetSerialInfo,
	protocol.OpQueueAsync:    handleQueueAsync,
	protocol.OpFlush:         handleFlush,
	protocol.OpWait:          handleWait,
	protocol.OpDump:          handleDump,
}

// dispatch serves one request and returns its encoded reply.
func (s *Server) dispatch(c *clientConn, op protocol.Opcode, payload []byte) *bytebufferpool.ByteBuffer {
	start := time.Now()

	var (
		reply     any
		replyTail []byte
	)
	req, err := protocol.NewRequestBody(op)
	if err == nil {
		var tail []byte
		if tail, err = protocol.DecodeBody(payload, req); err == nil {
			if op != protocol.OpInit && !c.proc.Initialized() {
				err = objerrors.ErrNotInitialized
			} else {
				reply, replyTail, err = handlers[op](s, c, req, tail)
			}
		}
	}
	if errors.Is(err, protocol.ErrUnknownOpcode) || errors.Is(err, protocol.ErrShortBody) {
		err = fmt.Errorf("%w: %v", objerrors.ErrInvalidParameter, err)
	}

	status := objerrors.Status(err)
	if status.IsError() {
		reply, replyTail = nil, nil
	}

	if s.debug {
		if err != nil && !isStatus(err) {
			s.logger.Printf("%04x: %s(%+v) = %s (%v)", c.proc.ID(), op, req, status, err)
		} else {
			s.logger.Printf("%04x: %s(%+v) = %s", c.proc.ID(), op, req, status)
		}
	}

	b := protocol.EncodeReply(protocol.KindReply, status, reply, replyTail)
	s.stats.Record(op.String(), time.Since(start))
	return b
}

func isStatus(err error) bool {
	_, ok := err.(protocol.Status)
	return ok
}

func handleInit(s *Server, c *clientConn, req any, tail []byte) (any, []byte, error) {
	r := req.(*protocol.InitRequest)
	if c.proc.Initialized() {
		return nil, nil, fmt.Errorf("process %04x is already initialized: %w", c.proc.ID(), objerrors.ErrInvalidParameter)
	}

	v, err := semver.NewVersion(string(tail))
	if err != nil {
		return nil, nil, fmt.Errorf("client version %q: %w", tail, objerrors.ErrVersionMismatch)
	}
	if ok, errs := s.constraint.Validate(v); !ok {
		return nil, nil, fmt.Errorf("client version %s: %v: %w", v, errs, objerrors.ErrVersionMismatch)
	}

	c.proc.initialized = true
	if c.pid == 0 {
		c.pid = int(r.ClientPid)
	}
	return &protocol.InitReply{ProcessID: c.proc.ID()}, []byte(protocol.Version), nil
}

func handleCreateSerial(s *Server, c *clientConn, req any, tail []byte) (any, []byte, error) {
	r := req.(*protocol.CreateSerialRequest)
	if len(tail) == 0 {
		return nil, nil, fmt.Errorf("empty device path: %w", objerrors.ErrInvalidParameter)
	}

	access := protocol.FileMapping.Map(r.Access)
	serial, err := CreateSerial(s.loop, string(tail), access, r.Attributes, s.serialConfig())
	if err != nil {
		return nil, nil, err
	}
	h := c.proc.handles.Alloc(serial, access, r.Inherit != 0)
	Release(serial)

	s.addSerial(serial)
	return &protocol.HandleReply{Handle: h}, nil, nil
}

func handleCreateEvent(s *Server, c *clientConn, req any, _ []byte) (any, []byte, error) {
	r := req.(*protocol.CreateEventRequest)

	ev := NewEvent(r.ManualReset != 0, r.InitialState != 0)
	h := c.proc.handles.Alloc(ev, protocol.EventMapping.Map(r.Access), r.Inherit != 0)
	Release(ev)

	return &protocol.HandleReply{Handle: h}, nil, nil
}

func handleSetEvent(s *Server, c *clientConn, req any, _ []byte) (any, []byte, error) {
	obj, err := c.proc.handles.Get(req.(*protocol.HandleRequest).Handle, protocol.EventModifyState, KindEvent)
	if err != nil {
		return nil, nil, err
	}
	defer Release(obj)

	obj.(*Event).Set()
	return nil, nil, nil
}

func handleResetEvent(s *Server, c *clientConn, req any, _ []byte) (any, []byte, error) {
	obj, err := c.proc.handles.Get(req.(*protocol.HandleRequest).Handle, protocol.EventModifyState, KindEvent)
	if err != nil {
		return nil, nil, err
	}
	defer Release(obj)

	obj.(*Event).Reset()
	return nil, nil, nil
}

func handleCloseHandle(s *Server, c *clientConn, req any, _ []byte) (any, []byte, error) {
	return nil, nil, c.proc.handles.Close(req.(*protocol.HandleRequest).Handle)
}

func handleDupHandle(s *Server, c *clientConn, req any, _ []byte) (any, []byte, error) {
	r := req.(*protocol.DupHandleRequest)

	dst := c.proc
	if r.DstProcess != 0 && r.DstProcess != c.proc.ID() {
		var ok bool
		if dst, ok = s.procs[r.DstProcess]; !ok || !dst.Initialized() {
			return nil, nil, fmt.Errorf("process %04x: %w", r.DstProcess, objerrors.ErrNoSuchProcess)
		}
	}

	h, err := DuplicateHandle(c.proc, r.Handle, dst, r.Access, r.Options)
	if err != nil {
		return nil, nil, err
	}
	return &protocol.HandleReply{Handle: h}, nil, nil
}

func handleGetFileInfo(s *Server, c *clientConn, req any, _ []byte) (any, []byte, error) {
	obj, err := c.proc.handles.Get(req.(*protocol.HandleRequest).Handle, 0, KindAny)
	if err != nil {
		return nil, nil, err
	}
	defer Release(obj)

	info, err := obj.FileInfo()
	if err != nil {
		return nil, nil, err
	}
	return &protocol.FileInfoReply{
		Type:           info.Type,
		Attributes:     info.Attributes,
		Flags:          info.Flags,
		Size:           info.Size,
		CreationTime:   info.CreationTime,
		LastAccessTime: info.LastAccessTime,
		LastWriteTime:  info.LastWriteTime,
	}, nil, nil
}

func handleGetSerialInfo(s *Server, c *clientConn, req any, _ []byte) (any, []byte, error) {
	obj, err := c.proc.handles.Get(req.(*protocol.HandleRequest).Handle, 0, KindSerial)
	if err != nil {
		return nil, nil, err
	}
	defer Release(obj)

	info := obj.(*Serial).Info()
	return &info, nil, nil
}

func handleSetSerialInfo(s *Server, c *clientConn, req any, _ []byte) (any, []byte, error) {
	r := req.(*protocol.SetSerialInfoRequest)
	obj, err := c.proc.handles.Get(r.Handle, protocol.FileWriteAttributes, KindSerial)
	if err != nil {
		return nil, nil, err
	}
	defer Release(obj)

	obj.(*Serial).SetInfo(r.Flags, r.Info)
	return nil, nil, nil
}

func asyncAccess(typ protocol.AsyncType, status protocol.Status) protocol.Access {
	if status != protocol.StatusPending {
		return 0
	}
	if typ == protocol.AsyncWrite {
		return protocol.FileWriteData
	}
	return protocol.FileReadData
}

func handleQueueAsync(s *Server, c *clientConn, req any, tail []byte) (any, []byte, error) {
	r := req.(*protocol.QueueAsyncRequest)

	typ := r.Type
	switch typ {
	case protocol.AsyncRead, protocol.AsyncWait:
	case protocol.AsyncWrite:
		if r.Status == protocol.StatusPending && int(r.Count) != len(tail) {
			return nil, nil, fmt.Errorf("write of %d bytes carries %d: %w", r.Count, len(tail), objerrors.ErrInvalidParameter)
		}
	default:
		return nil, nil, fmt.Errorf("async type %d: %w", r.Type, objerrors.ErrInvalidParameter)
	}

	status := r.Status
	obj, err := c.proc.handles.Get(r.Handle, asyncAccess(typ, status), KindAny)
	if err != nil {
		return nil, nil, err
	}
	defer Release(obj)

	fd, err := obj.Fd()
	if err != nil {
		return nil, nil, err
	}
	err = fd.ops.QueueAsync(AsyncRequest{
		Proc:   c.proc,
		Thread: r.Thread,
		Token:  r.Token,
		Type:   typ,
		Status: status,
		Count:  r.Count,
		Data:   tail,
	})
	if err != nil {
		return nil, nil, err
	}
	if status == protocol.StatusPending {
		return nil, nil, protocol.StatusPending
	}
	return nil, nil, nil
}

func handleFlush(s *Server, c *clientConn, req any, _ []byte) (any, []byte, error) {
	obj, err := c.proc.handles.Get(req.(*protocol.HandleRequest).Handle, protocol.FileWriteData, KindAny)
	if err != nil {
		return nil, nil, err
	}
	defer Release(obj)

	fd, err := obj.Fd()
	if err != nil {
		return nil, nil, err
	}
	return nil, nil, fd.ops.Flush()
}

func handleWait(s *Server, c *clientConn, req any, _ []byte) (any, []byte, error) {
	r := req.(*protocol.WaitRequest)
	obj, err := c.proc.handles.Get(r.Handle, protocol.Synchronize, KindAny)
	if err != nil {
		return nil, nil, err
	}
	defer Release(obj)

	timeout := time.Duration(-1)
	if r.TimeoutMs >= 0 {
		timeout = time.Duration(r.TimeoutMs) * time.Millisecond
	}
	status, _ := s.loop.StartWait(c.proc, obj, r.Thread, r.Token, timeout)
	if status == protocol.StatusSuccess {
		return nil, nil, nil
	}
	return nil, nil, status
}

func handleDump(s *Server, c *clientConn, req any, _ []byte) (any, []byte, error) {
	obj, err := c.proc.handles.Get(req.(*protocol.HandleRequest).Handle, 0, KindAny)
	if err != nil {
		return nil, nil, err
	}
	defer Release(obj)

	var b bytes.Buffer
	obj.Dump(&b, true)
	return nil, b.Bytes(), nil
}
