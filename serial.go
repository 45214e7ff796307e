package objsrv

import (
	"fmt"
	"io"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"github.com/talostrading/objsrv/internal"
	"github.com/talostrading/objsrv/objerrors"
	"github.com/talostrading/objsrv/protocol"
)

// CommTimeouts are the Windows COMMTIMEOUTS of a serial device, in milliseconds.
type CommTimeouts struct {
	ReadInterval uint32
	ReadConst    uint32
	ReadMult     uint32
	WriteConst   uint32
	WriteMult    uint32
}

// Immediate reports the "return at once with whatever is available" read mode.
func (t CommTimeouts) Immediate() bool {
	return t.ReadInterval == protocol.MaxDword && t.ReadMult == 0 && t.ReadConst == 0
}

// AnyByte reports the mode where a read completes as soon as one byte arrived, or times
// out after ReadConst.
func (t CommTimeouts) AnyByte() bool {
	return t.ReadInterval == protocol.MaxDword &&
		t.ReadMult == protocol.MaxDword &&
		t.ReadConst > 0 && t.ReadConst < protocol.MaxDword
}

// Interval returns the longest gap allowed between two received bytes, if any.
func (t CommTimeouts) Interval() (time.Duration, bool) {
	if t.ReadInterval == 0 || t.ReadInterval == protocol.MaxDword {
		return 0, false
	}
	return time.Duration(t.ReadInterval) * time.Millisecond, true
}

// ReadTimeout returns the total deadline of an n byte read. False means none.
func (t CommTimeouts) ReadTimeout(n uint32) (time.Duration, bool) {
	switch {
	case t.Immediate():
		return 0, true
	case t.AnyByte():
		return time.Duration(t.ReadConst) * time.Millisecond, true
	}
	return totalTimeout(t.ReadConst, t.ReadMult, n)
}

// WriteTimeout returns the total deadline of an n byte write. False means none.
func (t CommTimeouts) WriteTimeout(n uint32) (time.Duration, bool) {
	return totalTimeout(t.WriteConst, t.WriteMult, n)
}

func totalTimeout(c, m, n uint32) (time.Duration, bool) {
	ms := uint64(c) + uint64(m)*uint64(n)
	if ms == 0 {
		return 0, false
	}
	return time.Duration(ms) * time.Millisecond, true
}

// LineStatusFunc reports modem and line events (EV_CTS, EV_BREAK, ...) observed on a
// serial descriptor since the last call. It is consulted when a wait is queued and
// whenever input wakes the waits. Without one, a wait must ask for EV_RXCHAR or
// EV_TXEMPTY.
type LineStatusFunc func(fd int) uint32

// SerialConfig holds the server-wide settings applied to every serial device.
type SerialConfig struct {
	// RetainTermios keeps the raw line settings when the device is destroyed instead of
	// restoring the ones it was opened with.
	RetainTermios bool

	LineStatus LineStatusFunc

	// OnDestroy is called once the device is destroyed.
	OnDestroy func(s *Serial)
}

// tcflush is swapped out by tests to observe which queue is flushed.
var tcflush = internal.Tcflush

// Serial is a terminal device opened in raw mode.
type Serial struct {
	ObjectHeader

	fd         *Fd
	path       string
	overlapped bool

	timeouts  CommTimeouts
	eventMask uint32
	commError uint32

	original *unix.Termios
	cfg      SerialConfig
	removed  bool

	buf []byte
}

var (
	_ Object           = &Serial{}
	_ FdOps            = &Serial{}
	_ LastHandleCloser = &Serial{}
)

func openFlags(access protocol.Access) int {
	read := access&(protocol.FileReadData|protocol.GenericRead) != 0
	write := access&(protocol.FileWriteData|protocol.GenericWrite) != 0
	switch {
	case read && !write:
		return unix.O_RDONLY
	case write && !read:
		return unix.O_WRONLY
	default:
		return unix.O_RDWR
	}
}

// CreateSerial opens the terminal at path and switches it to raw mode.
func CreateSerial(
	loop *Loop,
	path string,
	access protocol.Access,
	attributes uint32,
	cfg SerialConfig,
) (*Serial, error) {
	raw, err := unix.Open(path, openFlags(access)|unix.O_NONBLOCK|unix.O_NOCTTY|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, os.NewSyscallError("open", err))
	}

	t, err := internal.GetTermios(raw)
	if err != nil {
		_ = unix.Close(raw)
		return nil, fmt.Errorf("%s: %w", path, objerrors.ErrNotATerminal)
	}
	original := *t

	internal.MakeRaw(t)
	if err := internal.SetTermios(raw, t); err != nil {
		_ = unix.Close(raw)
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	s := &Serial{
		path:       path,
		overlapped: attributes&protocol.FileFlagOverlapped != 0,
		original:   &original,
		cfg:        cfg,
	}
	initObject(s)
	s.fd = NewFd(loop, raw, s, s)
	return s, nil
}

func (s *Serial) Kind() Kind {
	return KindSerial
}

func (s *Serial) Path() string {
	return s.path
}

func (s *Serial) Dump(w io.Writer, verbose bool) {
	fmt.Fprintf(w, "Serial device %s", s.path)
	s.fd.dump(w)
	if verbose {
		t := s.timeouts
		fmt.Fprintf(w, " timeouts=%d/%d/%d/%d/%d mask=%#x",
			t.ReadInterval, t.ReadConst, t.ReadMult, t.WriteConst, t.WriteMult, s.eventMask)
		if !s.fd.Closed() {
			if n, err := internal.InQueue(s.fd.raw); err == nil {
				fmt.Fprintf(w, " inq=%d", n)
			}
			if n, err := internal.OutQueue(s.fd.raw); err == nil {
				fmt.Fprintf(w, " outq=%d", n)
			}
		}
	}
	fmt.Fprintln(w)
}

func (s *Serial) Signaled() bool {
	return s.fd.Signaled()
}

func (s *Serial) Fd() (*Fd, error) {
	return s.fd, nil
}

func (s *Serial) FileInfo() (FileInfo, error) {
	info := FileInfo{
		Type:       protocol.FileTypeChar,
		Attributes: protocol.FileAttributeDevice,
	}
	if s.overlapped {
		info.Flags |= protocol.FdFlagOverlapped
	} else if !s.timeouts.Immediate() {
		info.Flags |= protocol.FdFlagTimeout
	}
	return info, nil
}

func (s *Serial) Timeouts() CommTimeouts {
	return s.timeouts
}

func (s *Serial) EventMask() uint32 {
	return s.eventMask
}

func (s *Serial) Info() protocol.SerialInfo {
	info := protocol.SerialInfo{
		ReadInterval: s.timeouts.ReadInterval,
		ReadConst:    s.timeouts.ReadConst,
		ReadMult:     s.timeouts.ReadMult,
		WriteConst:   s.timeouts.WriteConst,
		WriteMult:    s.timeouts.WriteMult,
		EventMask:    s.eventMask,
		CommError:    s.commError,
	}
	if !s.fd.writeQ.Empty() {
		info.PendingWrite = 1
	}
	return info
}

// SetInfo updates the fields of info selected by flags. Clearing the event mask
// completes every pending wait successfully.
func (s *Serial) SetInfo(flags uint32, info protocol.SerialInfo) {
	if flags&protocol.SerialInfoTimeouts != 0 {
		s.timeouts = CommTimeouts{
			ReadInterval: info.ReadInterval,
			ReadConst:    info.ReadConst,
			ReadMult:     info.ReadMult,
			WriteConst:   info.WriteConst,
			WriteMult:    info.WriteMult,
		}
	}
	if flags&protocol.SerialInfoCommError != 0 {
		s.commError = info.CommError
	}
	if flags&protocol.SerialInfoEventMask != 0 {
		s.eventMask = info.EventMask
		if s.eventMask == 0 {
			s.fd.waitQ.WakeUp(protocol.StatusSuccess)
		}
		s.fd.Reselect()
	}
}

func (s *Serial) PollEvents() uint32 {
	events := s.fd.DefaultPollEvents()
	if s.fd.waitQ.Ready() && s.eventMask&protocol.EvRxChar != 0 {
		events |= internal.PollIn
	}
	return events
}

// PollEvent lets waits observe new input before reads consume it.
func (s *Serial) PollEvent(events uint32) {
	if events&internal.PollIn != 0 {
		s.fd.waitQ.WakeUp(protocol.StatusAlerted)
	}
	if events&(internal.PollErr|internal.PollHup) != 0 {
		s.fd.waitQ.WakeUp(protocol.StatusPipeBroken)
	}
	s.fd.DefaultPollEvent(events)
}

// Flush discards output not yet transmitted. Input is left alone.
func (s *Serial) Flush() error {
	return tcflush(s.fd.raw, internal.TCOFLUSH)
}

func (s *Serial) QueueAsync(req AsyncRequest) error {
	if req.Status != protocol.StatusPending {
		return s.fd.Terminate(req.Proc, req.Thread, req.Token, req.Status)
	}
	if s.removed {
		return objerrors.ErrDeviceRemoved
	}
	if req.Type == protocol.AsyncWait {
		if s.eventMask == 0 {
			return fmt.Errorf("wait with an empty event mask: %w", objerrors.ErrInvalidParameter)
		}
		if s.cfg.LineStatus == nil && s.eventMask&(protocol.EvRxChar|protocol.EvTxEmpty) == 0 {
			return fmt.Errorf("no line status source for event mask %#x: %w", s.eventMask, objerrors.ErrInvalidParameter)
		}
	}

	a, err := s.fd.Register(req)
	if err != nil {
		return err
	}

	switch req.Type {
	case protocol.AsyncRead:
		if s.timeouts.Immediate() {
			a.SetTimeout(0, protocol.StatusSuccess)
		} else if d, ok := s.timeouts.ReadTimeout(req.Count); ok {
			a.SetTimeout(d, protocol.StatusTimeout)
		} else {
			a.SetTimeout(-1, 0)
		}
	case protocol.AsyncWrite:
		if d, ok := s.timeouts.WriteTimeout(req.Count); ok {
			a.SetTimeout(d, protocol.StatusTimeout)
		} else {
			a.SetTimeout(-1, 0)
		}
	default:
		a.SetTimeout(-1, 0)
		if s.cfg.LineStatus != nil {
			s.fd.waitQ.WakeUp(protocol.StatusAlerted)
		}
	}

	s.fd.Reselect()
	return nil
}

func (s *Serial) Transfer(a *Async) protocol.Status {
	switch a.Type() {
	case protocol.AsyncRead:
		return s.transferRead(a)
	case protocol.AsyncWrite:
		return s.transferWrite(a)
	default:
		return s.transferWait(a)
	}
}

func (s *Serial) transferRead(a *Async) protocol.Status {
	got := 0
	if want := a.Remaining(); want > 0 {
		if cap(s.buf) < int(want) {
			s.buf = make([]byte, want)
		}
		n, err := unix.Read(s.fd.raw, s.buf[:want])
		switch {
		case err == unix.EAGAIN || err == unix.EINTR:
		case err != nil:
			return objerrors.Status(os.NewSyscallError("read", err))
		case n > 0:
			a.Received(s.buf[:n])
			got = n
		}
	}

	switch {
	case a.Remaining() == 0:
		return protocol.StatusSuccess
	case s.timeouts.Immediate():
		return protocol.StatusSuccess
	case s.timeouts.AnyByte() && a.Transferred() > 0:
		return protocol.StatusSuccess
	}

	if d, ok := s.timeouts.Interval(); ok && got > 0 {
		a.SetInterval(d)
	}
	return protocol.StatusPending
}

func (s *Serial) transferWrite(a *Async) protocol.Status {
	if len(a.Data()) > 0 {
		n, err := unix.Write(s.fd.raw, a.Data())
		switch {
		case err == unix.EAGAIN || err == unix.EINTR:
			return protocol.StatusPending
		case err != nil:
			return objerrors.Status(os.NewSyscallError("write", err))
		}
		a.Sent(n)
	}
	if len(a.Data()) > 0 {
		return protocol.StatusPending
	}
	return protocol.StatusSuccess
}

func (s *Serial) transferWait(a *Async) protocol.Status {
	var observed uint32
	if internal.CheckEvents(s.fd.raw, internal.PollIn)&internal.PollIn != 0 {
		observed |= protocol.EvRxChar
	}
	if s.cfg.LineStatus != nil {
		observed |= s.cfg.LineStatus(s.fd.raw)
	}

	observed &= s.eventMask
	if observed == 0 {
		return protocol.StatusPending
	}
	a.SetEvents(observed)
	return protocol.StatusSuccess
}

// Completed reports EV_TXEMPTY to the waits once the last queued write went out.
func (s *Serial) Completed(a *Async) {
	if a.Type() != protocol.AsyncWrite || a.Status() != protocol.StatusSuccess {
		return
	}
	if !s.fd.writeQ.Empty() || s.eventMask&protocol.EvTxEmpty == 0 {
		return
	}
	for w := s.fd.waitQ.Head(); w != nil; w = s.fd.waitQ.Head() {
		w.SetEvents(protocol.EvTxEmpty)
		w.Terminate(protocol.StatusSuccess)
	}
}

// LastHandleClosed cancels everything still queued. The device is destroyed once the
// cancelled operations released it.
func (s *Serial) LastHandleClosed() {
	s.fd.Drain(protocol.StatusCancelled)
}

// DeviceRemoved fails every queued operation and every later one.
func (s *Serial) DeviceRemoved() {
	if s.removed {
		return
	}
	s.removed = true
	s.fd.Drain(protocol.StatusDeviceRemoved)
}

func (s *Serial) Removed() bool {
	return s.removed
}

func (s *Serial) Destroy() {
	if !s.cfg.RetainTermios && !s.removed && s.original != nil {
		if err := internal.SetTermios(s.fd.raw, s.original); err != nil {
			s.fd.loop.logger.Printf("%s: cannot restore line settings: %v", s.path, err)
		}
	}
	_ = s.fd.Close()
	if s.cfg.OnDestroy != nil {
		s.cfg.OnDestroy(s)
	}
}
