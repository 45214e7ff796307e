package objsrv

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"

	"github.com/Masterminds/semver/v3"
	"golang.org/x/sys/unix"

	"github.com/talostrading/objsrv/internal"
	"github.com/talostrading/objsrv/objopts"
	"github.com/talostrading/objsrv/util"
)

const DefaultVersionConstraint = "^1.0.0"

// DefaultSocketPath returns the socket path used when none is configured.
func DefaultSocketPath() string {
	return filepath.Join(os.TempDir(), fmt.Sprintf("objsrv-%d", os.Getuid()), "socket")
}

// Server accepts client connections on a unix socket and serves their requests on a
// single Loop.
type Server struct {
	loop   *Loop
	logger *log.Logger
	debug  bool

	path     string
	listener int
	slot     internal.Slot

	constraint *semver.Constraints
	retain     bool

	conns   map[*clientConn]struct{}
	procs   map[uint32]*Process
	nextPid uint32

	serials map[*Serial]struct{}
	watcher *DeviceWatcher

	stats  *util.Latency
	statsW io.Writer

	closed bool
}

func NewServer(opts ...objopts.Option) (*Server, error) {
	loop, err := NewLoop()
	if err != nil {
		return nil, err
	}
	s, err := newServer(loop, opts...)
	if err != nil {
		_ = loop.Close()
		return nil, err
	}
	return s, nil
}

func newServer(loop *Loop, opts ...objopts.Option) (*Server, error) {
	s := &Server{
		loop:    loop,
		logger:  loop.logger,
		path:    DefaultSocketPath(),
		conns:   make(map[*clientConn]struct{}),
		procs:   make(map[uint32]*Process),
		serials: make(map[*Serial]struct{}),
		stats:   util.NewLatency(),
		statsW:  os.Stderr,
	}

	constraint := DefaultVersionConstraint
	watch := false
	for _, opt := range opts {
		switch opt.Type() {
		case objopts.TypeSocketPath:
			s.path = opt.Value().(string)
		case objopts.TypeLogger:
			s.logger = opt.Value().(*log.Logger)
			loop.SetLogger(s.logger)
		case objopts.TypeDebug:
			s.debug = opt.Value().(bool)
		case objopts.TypeVersionConstraint:
			constraint = opt.Value().(string)
		case objopts.TypeRetainTermios:
			s.retain = opt.Value().(bool)
		case objopts.TypeWatchDevices:
			watch = opt.Value().(bool)
		case objopts.TypeStatsWriter:
			s.statsW = opt.Value().(io.Writer)
		}
	}

	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return nil, fmt.Errorf("version constraint %q: %w", constraint, err)
	}
	s.constraint = c

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return nil, err
	}
	s.listener, err = internal.ListenUnix(s.path)
	if err != nil {
		return nil, err
	}
	s.slot.Fd = s.listener
	s.slot.Handler = s.onAccept
	if err := loop.poller.SetEvents(&s.slot, internal.PollIn); err != nil {
		_ = unix.Close(s.listener)
		return nil, err
	}

	if watch {
		s.watcher, err = NewDeviceWatcher(loop, s.devicesRemoved)
		if err != nil {
			_ = loop.poller.Del(&s.slot)
			_ = unix.Close(s.listener)
			return nil, err
		}
	}

	return s, nil
}

func (s *Server) Loop() *Loop {
	return s.loop
}

// Path returns the path of the listening socket.
func (s *Server) Path() string {
	return s.path
}

func (s *Server) Stats() *util.Latency {
	return s.stats
}

func (s *Server) onAccept(uint32) {
	for {
		raw, err := internal.Accept(s.listener)
		if err != nil {
			if err != unix.EAGAIN && err != unix.EINTR && err != unix.ECONNABORTED {
				s.logger.Printf("accept: %v", err)
			}
			return
		}

		s.nextPid++
		c := newClientConn(s, raw, s.nextPid)
		s.conns[c] = struct{}{}
		s.procs[c.proc.ID()] = c.proc
		c.updateEvents()

		if s.debug {
			s.logger.Printf("%04x: connected, peer pid %d", c.proc.ID(), c.pid)
		}
	}
}

func (s *Server) removeConn(c *clientConn) {
	delete(s.conns, c)
	delete(s.procs, c.proc.ID())
	if s.debug {
		s.logger.Printf("%04x: disconnected", c.proc.ID())
	}
}

// Processes returns the number of connected clients.
func (s *Server) Processes() int {
	return len(s.procs)
}

func (s *Server) serialConfig() SerialConfig {
	return SerialConfig{
		RetainTermios: s.retain,
		OnDestroy:     s.removeSerial,
	}
}

func (s *Server) addSerial(serial *Serial) {
	s.serials[serial] = struct{}{}
	if s.watcher != nil {
		if err := s.watcher.Add(serial.Path()); err != nil {
			s.logger.Printf("%s: not watching for removal: %v", serial.Path(), err)
		}
	}
}

func (s *Server) removeSerial(serial *Serial) {
	delete(s.serials, serial)
	if s.watcher != nil {
		s.watcher.Remove(serial.Path())
	}
}

// devicesRemoved fails the serial devices opened from path.
func (s *Server) devicesRemoved(path string) {
	var removed []*Serial
	for serial := range s.serials {
		if serial.Path() == path {
			removed = append(removed, serial)
		}
	}
	for _, serial := range removed {
		s.logger.Printf("%s: device removed", path)
		serial.DeviceRemoved()
	}
}

// Run serves clients until Shutdown is called.
func (s *Server) Run() error {
	return s.loop.Run()
}

// Shutdown makes Run return. It is safe for concurrent use.
func (s *Server) Shutdown() {
	s.loop.Stop()
}

// ReportStats writes the request latency table on the loop goroutine. It is safe for
// concurrent use.
func (s *Server) ReportStats() error {
	return s.loop.Post(func() {
		if err := s.stats.Report(s.statsW); err != nil {
			s.logger.Printf("stats: %v", err)
		}
	})
}

// Close disconnects every client, which destroys the objects they held, and releases the
// listener. It must not be called while Run is executing.
func (s *Server) Close() error {
	if s.closed {
		return io.EOF
	}
	s.closed = true

	conns := make([]*clientConn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	sort.Slice(conns, func(i, j int) bool { return conns[i].proc.ID() < conns[j].proc.ID() })
	for _, c := range conns {
		c.close()
	}

	var errs []error
	if s.watcher != nil {
		errs = append(errs, s.watcher.Close())
	}
	_ = s.loop.poller.Del(&s.slot)
	errs = append(errs, unix.Close(s.listener))
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		errs = append(errs, err)
	}
	errs = append(errs, s.loop.Close())
	return errors.Join(errs...)
}
